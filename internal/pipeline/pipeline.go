// Package pipeline runs the ingestion cycle: fetch, filter, locate,
// dedup, enrich, store. One cycle runs at a time; the batch queue's age
// timer is the only concurrent mutator between cycles.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/osintops/threatpipe/internal/core/domain"
	"github.com/osintops/threatpipe/internal/platform/config"
	"github.com/osintops/threatpipe/internal/platform/observability"
	"github.com/osintops/threatpipe/internal/process/enrich"
	"github.com/osintops/threatpipe/internal/process/location"
	"github.com/osintops/threatpipe/internal/process/location/batchqueue"
)

// Fetcher streams parsed entries from the feed catalogue.
type Fetcher interface {
	FetchAll(ctx context.Context, feeds []config.Feed) <-chan *domain.Entry
}

// Matcher is the content filter.
type Matcher interface {
	Match(textBlob string) *domain.KeywordMatch
}

// Resolver is the deterministic location cascade. deferred=true sends the
// entry to the batch queue.
type Resolver interface {
	Resolve(ctx context.Context, e *domain.Entry) (deferred bool)
}

// BatchResolver resolves a deferred batch in one LLM call.
type BatchResolver interface {
	ResolveBatch(ctx context.Context, items []*batchqueue.Item) error
}

// Enricher scores and classifies a located entry.
type Enricher interface {
	Enrich(ctx context.Context, e *domain.Entry) (*domain.EnrichedAlert, error)
}

// Deduper suppresses exact and semantic duplicates.
type Deduper interface {
	ResetCycle()
	SeenInCycle(e *domain.Entry) bool
	SemanticDuplicate(ctx context.Context, e *domain.Entry) (bool, error)
}

// Store is the persistence surface the pipeline needs.
type Store interface {
	SaveRawItems(ctx context.Context, items []domain.RawItem) (int, error)
	SaveAlert(ctx context.Context, alert *domain.EnrichedAlert) error
	DeleteRawItemsOlderThan(ctx context.Context, days int) (int64, error)
	DeleteAlertsOlderThan(ctx context.Context, days int) (int64, error)
}

// Config tunes the orchestrator.
type Config struct {
	Feeds         []config.Feed
	Interval      time.Duration
	FilterStrict  bool
	RetentionDays int
	Batch         batchqueue.Config
	// FinalDrainTimeout bounds the shutdown flush of the batch queue.
	FinalDrainTimeout time.Duration
}

// Pipeline wires the stages together.
type Pipeline struct {
	cfg      Config
	fetcher  Fetcher
	matcher  Matcher
	resolver Resolver
	batch    BatchResolver
	enricher Enricher
	dedup    Deduper
	store    Store
	queue    *batchqueue.Queue
	logger   *zerolog.Logger
}

// New builds a pipeline and its batch queue.
func New(
	cfg Config,
	fetcher Fetcher,
	matcher Matcher,
	resolver Resolver,
	batch BatchResolver,
	enricher Enricher,
	dedup Deduper,
	store Store,
	logger *zerolog.Logger,
) *Pipeline {
	if cfg.FinalDrainTimeout <= 0 {
		cfg.FinalDrainTimeout = time.Minute
	}

	p := &Pipeline{
		cfg:      cfg,
		fetcher:  fetcher,
		matcher:  matcher,
		resolver: resolver,
		batch:    batch,
		enricher: enricher,
		dedup:    dedup,
		store:    store,
		logger:   logger,
	}

	p.queue = batchqueue.New(cfg.Batch, p.flushBatch, p.giveUpBatch, logger)

	return p
}

// Run executes cycles on the configured interval until ctx is cancelled.
// The first cycle starts immediately. On shutdown the batch queue drains
// once more so deferred entries are finalized, not lost.
func (p *Pipeline) Run(ctx context.Context) {
	go p.queue.Run(ctx)

	p.RunCycle(ctx)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.finalDrain(ctx)
			return
		case <-ticker.C:
			p.RunCycle(ctx)
		}
	}
}

// RunCycle runs one full fetch-to-store pass.
func (p *Pipeline) RunCycle(ctx context.Context) {
	started := time.Now()
	cycleID := uuid.NewString()

	p.dedup.ResetCycle()

	var seen, matched int

	for e := range p.fetcher.FetchAll(ctx, p.cfg.Feeds) {
		seen++

		if p.processEntry(ctx, e) {
			matched++
		}
	}

	// Deferred entries from this cycle finish now; the next cycle starts
	// with an empty queue.
	p.queue.FlushFinal(ctx)

	p.sweepRetention(ctx)

	elapsed := time.Since(started)
	observability.CycleDuration.Observe(elapsed.Seconds())
	p.logger.Info().
		Str("cycle_id", cycleID).
		Int("entries", seen).
		Int("matched", matched).
		Dur("elapsed", elapsed).
		Msg("pipeline: cycle complete")
}

// processEntry takes one entry through filter, dedup and location.
// Reports whether the entry passed the content filter.
func (p *Pipeline) processEntry(ctx context.Context, e *domain.Entry) bool {
	match := p.matcher.Match(e.TextBlob)
	if match == nil && p.cfg.FilterStrict {
		// Misses are still kept as raw items with empty tags; they just
		// never reach location resolution or enrichment.
		observability.DropsTotal.WithLabelValues(observability.DropReasonFilterMiss).Inc()

		if !p.dedup.SeenInCycle(e) {
			p.saveRaw(ctx, e)
		}

		return false
	}

	e.KWMatch = match

	if p.dedup.SeenInCycle(e) {
		return true
	}

	if deferred := p.resolver.Resolve(ctx, e); deferred {
		p.queue.Enqueue(ctx, e)
		return true
	}

	p.finishEntry(ctx, e)

	return true
}

// finishEntry persists the raw item and, when the entry is located well
// enough, enriches and stores the alert. Called for directly resolved
// entries, for batch-resolved entries and for give-ups alike.
func (p *Pipeline) finishEntry(ctx context.Context, e *domain.Entry) {
	p.saveRaw(ctx, e)

	if e.Location == nil || !e.Location.Method.Tier1() {
		observability.DropsTotal.WithLabelValues(observability.DropReasonMissingLocation).Inc()
		return
	}

	alert, err := p.enricher.Enrich(ctx, e)
	if err != nil {
		if !errors.Is(err, enrich.ErrMissingLocation) {
			p.logger.Warn().Err(err).Str("uuid", e.UUID).Msg("pipeline: enrichment failed")
		}

		return
	}

	if dup, err := p.dedup.SemanticDuplicate(ctx, e); err == nil && dup {
		observability.AlertsRejected.WithLabelValues(observability.RejectSemanticDup).Inc()
		return
	}

	if err := p.store.SaveAlert(ctx, alert); err != nil {
		p.logger.Error().Err(err).Str("uuid", e.UUID).Msg("pipeline: alert save failed")
	}
}

func (p *Pipeline) saveRaw(ctx context.Context, e *domain.Entry) {
	if _, err := p.store.SaveRawItems(ctx, []domain.RawItem{domain.RawItemFromEntry(e)}); err != nil {
		p.logger.Error().Err(err).Str("uuid", e.UUID).Msg("pipeline: raw item save failed")
	}
}

// flushBatch is the batch queue's flush callback: resolve the batch, then
// run every item through the tail of the pipeline.
func (p *Pipeline) flushBatch(ctx context.Context, items []*batchqueue.Item) error {
	if err := p.batch.ResolveBatch(ctx, items); err != nil {
		return err
	}

	for _, it := range items {
		p.finishEntry(ctx, it.Entry)
	}

	return nil
}

// giveUpBatch finalizes an entry that exhausted its batch retries. A
// deterministic country candidate stashed at defer time downgrades to the
// centroid method; without one the entry ends unknown. Either way it still
// persists as a raw item.
func (p *Pipeline) giveUpBatch(it *batchqueue.Item) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if !location.FinalizeCountryFallback(it.Entry) {
		location.FinalizeUnknown(it.Entry)
	}

	p.finishEntry(ctx, it.Entry)
}

// finalDrain flushes the queue after cancellation. The fresh deadline
// detaches from the cancelled ctx so in-flight work can complete.
func (p *Pipeline) finalDrain(ctx context.Context) {
	if p.queue.Len() == 0 {
		return
	}

	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.FinalDrainTimeout)
	defer cancel()

	p.queue.FlushFinal(drainCtx)
}

func (p *Pipeline) sweepRetention(ctx context.Context) {
	if p.cfg.RetentionDays <= 0 {
		return
	}

	rawDeleted, err := p.store.DeleteRawItemsOlderThan(ctx, p.cfg.RetentionDays)
	if err != nil {
		p.logger.Error().Err(err).Msg("pipeline: raw item retention sweep failed")
	}

	alertsDeleted, err := p.store.DeleteAlertsOlderThan(ctx, p.cfg.RetentionDays)
	if err != nil {
		p.logger.Error().Err(err).Msg("pipeline: alert retention sweep failed")
	}

	if rawDeleted > 0 || alertsDeleted > 0 {
		p.logger.Info().
			Int64("raw_items", rawDeleted).
			Int64("alerts", alertsDeleted).
			Msg("pipeline: retention sweep removed rows")
	}
}
