package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osintops/threatpipe/internal/core/domain"
	"github.com/osintops/threatpipe/internal/platform/config"
	"github.com/osintops/threatpipe/internal/process/dedup"
	"github.com/osintops/threatpipe/internal/process/filter"
	"github.com/osintops/threatpipe/internal/process/location/batchqueue"
)

type fakeFetcher struct {
	entries []*domain.Entry
}

func (f *fakeFetcher) FetchAll(_ context.Context, _ []config.Feed) <-chan *domain.Entry {
	out := make(chan *domain.Entry, len(f.entries))

	for _, e := range f.entries {
		out <- e
	}
	close(out)

	return out
}

// keywordMatcher matches any blob containing "attack".
type keywordMatcher struct{}

func (keywordMatcher) Match(textBlob string) *domain.KeywordMatch {
	if !strings.Contains(textBlob, "attack") {
		return nil
	}

	return &domain.KeywordMatch{Keyword: "attack", MatchType: domain.MatchBase}
}

// stubResolver locates entries whose blob names a country, defers the rest.
type stubResolver struct{}

func (stubResolver) Resolve(_ context.Context, e *domain.Entry) bool {
	if !strings.Contains(e.TextBlob, "nigeria") {
		return true
	}

	e.Location = &domain.Location{
		Country:    "Nigeria",
		Method:     domain.MethodLegacyPrecise,
		Confidence: domain.ConfidenceHigh,
	}

	return false
}

type stubBatch struct {
	err   error
	calls int
}

func (b *stubBatch) ResolveBatch(_ context.Context, items []*batchqueue.Item) error {
	b.calls++

	if b.err != nil {
		return b.err
	}

	for _, it := range items {
		it.Entry.Location = &domain.Location{
			Country:    "Somalia",
			Method:     domain.MethodLLMBatch,
			Confidence: domain.ConfidenceMedium,
		}
	}

	return nil
}

type stubEnricher struct {
	err error
}

func (s *stubEnricher) Enrich(_ context.Context, e *domain.Entry) (*domain.EnrichedAlert, error) {
	if s.err != nil {
		return nil, s.err
	}

	return &domain.EnrichedAlert{
		RawItem:     domain.RawItemFromEntry(e),
		ThreatLabel: domain.LabelMedium,
		Score:       50,
		Confidence:  0.5,
	}, nil
}

type memStore struct {
	mu     sync.Mutex
	raw    []domain.RawItem
	alerts []*domain.EnrichedAlert
	swept  int
}

func (m *memStore) SaveRawItems(_ context.Context, items []domain.RawItem) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.raw = append(m.raw, items...)

	return len(items), nil
}

func (m *memStore) SaveAlert(_ context.Context, alert *domain.EnrichedAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.alerts = append(m.alerts, alert)

	return nil
}

func (m *memStore) DeleteRawItemsOlderThan(context.Context, int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.swept++

	return 0, nil
}

func (m *memStore) DeleteAlertsOlderThan(context.Context, int) (int64, error) {
	return 0, nil
}

func entry(title, summary string) *domain.Entry {
	link := "https://example.org/" + strings.ReplaceAll(title, " ", "-")

	return &domain.Entry{
		Title:       title,
		Link:        link,
		Summary:     summary,
		TextBlob:    filter.TextBlob(title, summary),
		UUID:        domain.EntryUUID(title, link),
		ContentHash: domain.EntryContentHash(title, link),
	}
}

func newTestPipeline(fetcher Fetcher, batch BatchResolver, enricher Enricher, store Store) *Pipeline {
	logger := zerolog.Nop()

	return New(
		Config{
			Interval:      time.Hour,
			FilterStrict:  true,
			RetentionDays: 30,
			Batch: batchqueue.Config{
				SizeThreshold: 10,
				AgeThreshold:  time.Hour,
				RetryCap:      2,
			},
		},
		fetcher,
		keywordMatcher{},
		stubResolver{},
		batch,
		enricher,
		dedup.New(nil, 0.92, &logger),
		store,
		&logger,
	)
}

func TestRunCycleEndToEnd(t *testing.T) {
	fetcher := &fakeFetcher{entries: []*domain.Entry{
		entry("Attack in Nigeria", "Convoy ambushed near the border."),
		entry("Quarterly earnings beat expectations", "Markets rallied."),
	}}
	store := &memStore{}

	p := newTestPipeline(fetcher, &stubBatch{}, &stubEnricher{}, store)
	p.RunCycle(context.Background())

	require.Len(t, store.raw, 2, "filter misses are kept as raw items too")
	assert.Equal(t, "Attack in Nigeria", store.raw[0].Title)
	assert.Equal(t, domain.MethodLegacyPrecise, store.raw[0].LocationMethod)
	assert.Equal(t, []string{"attack"}, store.raw[0].Tags)

	assert.Equal(t, "Quarterly earnings beat expectations", store.raw[1].Title)
	assert.Empty(t, store.raw[1].Tags, "miss carries no tags")
	assert.Equal(t, domain.MethodUnknown, store.raw[1].LocationMethod)

	require.Len(t, store.alerts, 1)
	assert.Equal(t, domain.LabelMedium, store.alerts[0].ThreatLabel)
	assert.Equal(t, 1, store.swept, "retention sweep runs once per cycle")
}

func TestRunCycleSuppressesInCycleDuplicates(t *testing.T) {
	dup := entry("Attack repeated", "Same wire story, two feeds.")
	other := entry("Attack repeated", "Same wire story, two feeds.")

	fetcher := &fakeFetcher{entries: []*domain.Entry{dup, other}}
	store := &memStore{}

	p := newTestPipeline(fetcher, &stubBatch{}, &stubEnricher{}, store)
	p.RunCycle(context.Background())

	assert.Len(t, store.raw, 1, "two identical entries produce one stored row")
	assert.Len(t, store.alerts, 1)
}

func TestRunCycleDeferredEntriesResolveViaBatch(t *testing.T) {
	fetcher := &fakeFetcher{entries: []*domain.Entry{
		entry("Attack on patrol", "No place named in the text."),
	}}
	store := &memStore{}
	batch := &stubBatch{}

	p := newTestPipeline(fetcher, batch, &stubEnricher{}, store)
	p.RunCycle(context.Background())

	assert.Equal(t, 1, batch.calls, "cycle-end drain flushes the deferred entry")
	require.Len(t, store.raw, 1)
	assert.Equal(t, domain.MethodLLMBatch, store.raw[0].LocationMethod)
	assert.Len(t, store.alerts, 1)
}

func TestRunCycleBatchFailureFinalizesUnknown(t *testing.T) {
	fetcher := &fakeFetcher{entries: []*domain.Entry{
		entry("Attack somewhere", "Location never extractable."),
	}}
	store := &memStore{}
	batch := &stubBatch{err: errors.New("all providers down")}

	p := newTestPipeline(fetcher, batch, &stubEnricher{}, store)
	p.RunCycle(context.Background())

	require.Len(t, store.raw, 1, "given-up entry still persists as a raw item")
	assert.Equal(t, domain.MethodUnknown, store.raw[0].LocationMethod)
	assert.Empty(t, store.alerts, "unknown location never becomes an alert")
}

// hintResolver defers every entry with a stashed country candidate, the
// way a feed-tagged multi-location story defers.
type hintResolver struct{}

func (hintResolver) Resolve(_ context.Context, e *domain.Entry) bool {
	e.LocationHint = &domain.Location{
		Country:    "Nigeria",
		Region:     "West Africa",
		Method:     domain.MethodFeedTag,
		Confidence: domain.ConfidenceHigh,
	}

	return true
}

func TestRunCycleBatchFailureFallsBackToStashedCountry(t *testing.T) {
	logger := zerolog.Nop()
	fetcher := &fakeFetcher{entries: []*domain.Entry{
		entry("Attack wave across several states", "Country known from the feed tag."),
	}}
	store := &memStore{}
	batch := &stubBatch{err: errors.New("all providers down")}

	p := New(
		Config{Interval: time.Hour, FilterStrict: true, Batch: batchqueue.Config{SizeThreshold: 10, AgeThreshold: time.Hour, RetryCap: 2}},
		fetcher, keywordMatcher{}, hintResolver{}, batch,
		&stubEnricher{}, dedup.New(nil, 0.92, &logger), store, &logger,
	)
	p.RunCycle(context.Background())

	require.Len(t, store.raw, 1)
	assert.Equal(t, domain.MethodCentroid, store.raw[0].LocationMethod)
	assert.Equal(t, "Nigeria", store.raw[0].Country)
	assert.Len(t, store.alerts, 1, "centroid fallback keeps the entry enrichable")
}

func TestRunCycleEnrichmentFailureKeepsRawItem(t *testing.T) {
	fetcher := &fakeFetcher{entries: []*domain.Entry{
		entry("Attack in Nigeria", "Convoy ambushed."),
	}}
	store := &memStore{}

	p := newTestPipeline(fetcher, &stubBatch{}, &stubEnricher{err: errors.New("llm down")}, store)
	p.RunCycle(context.Background())

	assert.Len(t, store.raw, 1)
	assert.Empty(t, store.alerts)
}

func TestRunStopsOnCancelAndDrains(t *testing.T) {
	fetcher := &fakeFetcher{entries: []*domain.Entry{
		entry("Attack in Nigeria", "Convoy ambushed."),
	}}
	store := &memStore{}

	p := newTestPipeline(fetcher, &stubBatch{}, &stubEnricher{}, store)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()

		return len(store.alerts) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline did not stop after cancellation")
	}
}

func TestSemanticDuplicateSuppressed(t *testing.T) {
	logger := zerolog.Nop()
	fetcher := &fakeFetcher{entries: []*domain.Entry{
		entry("Attack in Nigeria", "Convoy ambushed."),
	}}
	store := &memStore{}

	p := New(
		Config{Interval: time.Hour, FilterStrict: true, Batch: batchqueue.Config{SizeThreshold: 10, AgeThreshold: time.Hour, RetryCap: 2}},
		fetcher, keywordMatcher{}, stubResolver{}, &stubBatch{},
		&embeddingEnricher{}, dedup.New(alwaysSimilar{}, 0.92, &logger), store, &logger,
	)
	p.RunCycle(context.Background())

	assert.Len(t, store.raw, 1)
	assert.Empty(t, store.alerts, "semantic duplicate is stored raw but not alerted")
}

// embeddingEnricher sets an embedding so the semantic layer engages.
type embeddingEnricher struct{}

func (embeddingEnricher) Enrich(_ context.Context, e *domain.Entry) (*domain.EnrichedAlert, error) {
	e.Embedding = []float32{0.1, 0.2}

	return &domain.EnrichedAlert{
		RawItem:     domain.RawItemFromEntry(e),
		ThreatLabel: domain.LabelLow,
		Embedding:   e.Embedding,
	}, nil
}

type alwaysSimilar struct{}

func (alwaysSimilar) FindSimilarAlert(context.Context, string, []float32, float64) (string, error) {
	return "existing-uuid", nil
}
