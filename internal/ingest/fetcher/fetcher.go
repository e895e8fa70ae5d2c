// Package fetcher fans out over the feed catalogue and streams parsed
// entries into the pipeline.
//
// Concurrency is bounded twice: a global worker limit and a per-host
// in-flight limit, so high global concurrency never hammers a single
// publisher. Feeds are never retried within a cycle; the next scheduled
// run is the retry.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/araddon/dateparse"
	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/osintops/threatpipe/internal/core/domain"
	"github.com/osintops/threatpipe/internal/platform/config"
	"github.com/osintops/threatpipe/internal/platform/observability"
	"github.com/osintops/threatpipe/internal/process/filter"
)

const (
	entryChanBuffer = 64
	hoursPerDay     = 24

	statusOK    = "ok"
	statusError = "error"
)

var errHTTPStatus = errors.New("unexpected HTTP status")

// Config tunes the fan-out.
type Config struct {
	MaxConcurrency     int
	PerHostConcurrency int
	FetchTimeout       time.Duration
	CutoffDays         int
	UserAgent          string
}

// Fetcher performs the concurrent feed fan-out.
type Fetcher struct {
	cfg    Config
	client *http.Client
	logger *zerolog.Logger

	mu       sync.Mutex
	hostSems map[string]*semaphore.Weighted
}

// New creates a fetcher. The HTTP client timeout covers connect and read.
func New(cfg Config, logger *zerolog.Logger) *Fetcher {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 16
	}

	if cfg.PerHostConcurrency <= 0 {
		cfg.PerHostConcurrency = 2
	}

	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 25 * time.Second
	}

	return &Fetcher{
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.FetchTimeout},
		logger:   logger,
		hostSems: make(map[string]*semaphore.Weighted),
	}
}

// FetchAll fans out over the catalogue and returns a stream of entries.
// The channel closes when every feed finished or the context is cancelled.
// A failed feed is logged and skipped; one bad entry never poisons its feed.
func (f *Fetcher) FetchAll(ctx context.Context, catalogue []config.Feed) <-chan *domain.Entry {
	out := make(chan *domain.Entry, entryChanBuffer)

	go func() {
		defer close(out)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(f.cfg.MaxConcurrency)

		for _, feed := range catalogue {
			g.Go(func() error {
				f.fetchFeed(gctx, feed, out)
				return nil // feed failures are isolated, never group-fatal
			})
		}

		_ = g.Wait()
	}()

	return out
}

func (f *Fetcher) fetchFeed(ctx context.Context, feed config.Feed, out chan<- *domain.Entry) {
	host := hostOf(feed.URL)

	sem := f.hostSemaphore(host)
	if err := sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer sem.Release(1)

	started := time.Now()

	parsed, err := f.fetchAndParse(ctx, feed.URL)
	if err != nil {
		observability.FeedsFetched.WithLabelValues(statusError).Inc()
		f.logger.Warn().
			Err(err).
			Str("url", feed.URL).
			Dur("latency", time.Since(started)).
			Msg("fetcher: feed skipped")

		return
	}

	observability.FeedsFetched.WithLabelValues(statusOK).Inc()

	feedTags := feedLevelTags(parsed)
	cutoff := time.Now().UTC().Add(-time.Duration(f.cfg.CutoffDays) * hoursPerDay * time.Hour)

	for _, item := range parsed.Items {
		entry, ok := f.buildEntry(item, feed, feedTags, cutoff)
		if !ok {
			continue
		}

		select {
		case out <- entry:
		case <-ctx.Done():
			return
		}
	}
}

func (f *Fetcher) fetchAndParse(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/feed+json, application/xml, text/xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("%w: %d", errHTTPStatus, resp.StatusCode)
	}

	// gofeed auto-detects RSS, Atom and JSON Feed.
	parsed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	return parsed, nil
}

// buildEntry converts one feed item into a pipeline entry. Returns ok=false
// for non-compliant or stale items.
func (f *Fetcher) buildEntry(item *gofeed.Item, feed config.Feed, feedTags []string, cutoff time.Time) (*domain.Entry, bool) {
	if item == nil || strings.TrimSpace(item.Title) == "" || strings.TrimSpace(item.Link) == "" {
		observability.DropsTotal.WithLabelValues(observability.DropReasonParse).Inc()
		return nil, false
	}

	published, ok := publishedAt(item)
	if !ok {
		observability.DropsTotal.WithLabelValues(observability.DropReasonParse).Inc()
		f.logger.Debug().Str("url", feed.URL).Str("title", item.Title).Msg("fetcher: unparseable timestamp")

		return nil, false
	}

	if published.Before(cutoff) {
		observability.DropsTotal.WithLabelValues(observability.DropReasonStale).Inc()
		return nil, false
	}

	title := strings.TrimSpace(item.Title)
	link := strings.TrimSpace(item.Link)
	summary := strings.TrimSpace(item.Description)

	tags := make([]string, 0, len(feedTags)+len(item.Categories))
	tags = append(tags, feedTags...)
	tags = append(tags, item.Categories...)

	sourceTag := feed.SourceTag
	if sourceTag == "" {
		sourceTag = hostOf(feed.URL)
	}

	entry := &domain.Entry{
		Title:       title,
		Link:        link,
		Summary:     summary,
		Published:   published.UTC(),
		SourceURL:   feed.URL,
		SourceTag:   sourceTag,
		FeedTags:    tags,
		TextBlob:    filter.TextBlob(title, summary),
		UUID:        domain.EntryUUID(title, link),
		ContentHash: domain.EntryContentHash(title, link),
	}

	observability.EntriesIngested.WithLabelValues(sourceTag).Inc()

	return entry, true
}

// publishedAt extracts the item timestamp, retrying gofeed's unparsed
// string with dateparse before giving up.
func publishedAt(item *gofeed.Item) (time.Time, bool) {
	switch {
	case item.PublishedParsed != nil:
		return *item.PublishedParsed, true
	case item.UpdatedParsed != nil:
		return *item.UpdatedParsed, true
	case item.Published != "":
		ts, err := dateparse.ParseAny(item.Published)
		if err != nil {
			return time.Time{}, false
		}

		return ts, true
	default:
		return time.Time{}, false
	}
}

// feedLevelTags collects feed-wide categories, which carry the optional
// "country:<name>" location hints.
func feedLevelTags(parsed *gofeed.Feed) []string {
	if parsed == nil || len(parsed.Categories) == 0 {
		return nil
	}

	tags := make([]string, 0, len(parsed.Categories))
	for _, c := range parsed.Categories {
		if c = strings.TrimSpace(c); c != "" {
			tags = append(tags, c)
		}
	}

	return tags
}

func (f *Fetcher) hostSemaphore(host string) *semaphore.Weighted {
	f.mu.Lock()
	defer f.mu.Unlock()

	sem, ok := f.hostSems[host]
	if !ok {
		sem = semaphore.NewWeighted(int64(f.cfg.PerHostConcurrency))
		f.hostSems[host] = sem
	}

	return sem
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}

	return u.Host
}
