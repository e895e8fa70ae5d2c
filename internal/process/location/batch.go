package location

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/osintops/threatpipe/internal/core/domain"
	"github.com/osintops/threatpipe/internal/core/llm"
	"github.com/osintops/threatpipe/internal/platform/observability"
	"github.com/osintops/threatpipe/internal/process/location/batchqueue"
)

const batchSystemPrompt = `You are a geographic entity extractor for security incident reports.
For every numbered item, identify the single most relevant event location.
Respond with ONLY a JSON array, one object per item you can locate:
[{"index": 0, "city": "...", "country": "...", "region": "...", "confidence": "high|medium|low"}]
Omit items you cannot locate. Use English names. city may be empty when only a country is clear.`

// BatchResolver resolves deferred entries in one LLM call per batch. It
// plugs into the batch queue as its flush function.
type BatchResolver struct {
	router   llm.Router
	resolver *Resolver
	budget   time.Duration
	logger   *zerolog.Logger
}

// NewBatchResolver builds the LLM-backed stage. resolver supplies the
// coordinate fill (cache, geocoder, centroid) for extracted places.
func NewBatchResolver(router llm.Router, resolver *Resolver, budget time.Duration, logger *zerolog.Logger) *BatchResolver {
	return &BatchResolver{
		router:   router,
		resolver: resolver,
		budget:   budget,
		logger:   logger,
	}
}

// batchHit is one element of the model's reply array.
type batchHit struct {
	Index      int    `json:"index"`
	City       string `json:"city"`
	Country    string `json:"country"`
	Region     string `json:"region"`
	Confidence string `json:"confidence"`
}

// ResolveBatch satisfies batchqueue.FlushFunc. An error leaves every item
// unresolved and re-queued by the caller; on success every item ends up
// with a location, unknown included.
func (b *BatchResolver) ResolveBatch(ctx context.Context, items []*batchqueue.Item) error {
	callCtx, cancel := context.WithTimeout(ctx, b.budget)
	defer cancel()

	reply, err := b.router.Complete(callCtx, llm.TaskLocateBatch, llm.Request{
		System:    batchSystemPrompt,
		User:      batchPrompt(items),
		MaxTokens: 1024,
	})
	if err != nil {
		return fmt.Errorf("location batch: %w", err)
	}

	var hits []batchHit
	if err := json.Unmarshal([]byte(llm.ExtractJSON(reply.Content)), &hits); err != nil {
		return fmt.Errorf("location batch: parse reply: %w", err)
	}

	byIndex := make(map[int]batchHit, len(hits))
	for _, hit := range hits {
		byIndex[hit.Index] = hit
	}

	deadline := time.Now().Add(b.budget)

	for i, it := range items {
		hit, ok := byIndex[i]
		if !ok || hit.Country == "" {
			if !FinalizeCountryFallback(it.Entry) {
				FinalizeUnknown(it.Entry)
			}

			continue
		}

		b.apply(ctx, deadline, it.Entry, hit)
	}

	b.logger.Debug().
		Int("entries", len(items)).
		Int("located", len(hits)).
		Str("provider", reply.Provider).
		Msg("location: batch resolved")

	return nil
}

// apply turns one reply element into the entry's location. A country-only
// hit with low confidence degrades to the centroid method.
func (b *BatchResolver) apply(ctx context.Context, deadline time.Time, e *domain.Entry, hit batchHit) {
	loc := &domain.Location{
		City:       strings.TrimSpace(hit.City),
		Country:    CanonicalCountry(hit.Country),
		Region:     strings.TrimSpace(hit.Region),
		Method:     domain.MethodLLMBatch,
		Confidence: parseConfidence(hit.Confidence),
	}

	if loc.Region == "" {
		if info, ok := lookupCountry(loc.Country); ok {
			loc.Region = info.Region
		}
	}

	if loc.City == "" && loc.Confidence == domain.ConfidenceLow {
		loc.Method = domain.MethodCentroid
	}

	b.resolver.FillCoordinates(ctx, deadline, loc)
	e.Location = loc
	observability.LocationResolved.WithLabelValues(string(loc.Method)).Inc()
}

func parseConfidence(s string) domain.LocationConfidence {
	switch domain.LocationConfidence(strings.ToLower(strings.TrimSpace(s))) {
	case domain.ConfidenceHigh:
		return domain.ConfidenceHigh
	case domain.ConfidenceLow:
		return domain.ConfidenceLow
	default:
		return domain.ConfidenceMedium
	}
}

// batchPrompt renders the numbered item list the system prompt refers to.
func batchPrompt(items []*batchqueue.Item) string {
	var sb strings.Builder

	for i, it := range items {
		summary := it.Entry.Summary
		if len(summary) > 400 {
			summary = summary[:400]
		}

		fmt.Fprintf(&sb, "%d. %s\n%s\n\n", i, it.Entry.Title, summary)
	}

	return sb.String()
}
