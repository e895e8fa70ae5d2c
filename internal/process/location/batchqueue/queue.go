// Package batchqueue buffers entries whose location needs the LLM batch
// stage and flushes them on either a size or an age trigger.
//
// State machine: empty → pending on first enqueue (timer armed),
// pending → flushing on trigger, flushing → empty on success,
// flushing → pending on failure with each entry's retry count incremented.
// Entries whose retry count reaches the cap are handed to the give-up
// callback, never silently lost.
package batchqueue

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/osintops/threatpipe/internal/core/domain"
	"github.com/osintops/threatpipe/internal/platform/observability"
)

const defaultTickInterval = time.Second

// Trigger labels why a flush ran.
const (
	TriggerSize  = "size"
	TriggerTime  = "time"
	TriggerFinal = "final"
)

// Item is one queued entry with its flush retry count.
type Item struct {
	Entry      *domain.Entry
	Retries    int
	EnqueuedAt time.Time
}

// FlushFunc resolves a batch of deferred entries in one LLM request.
// An error re-queues the batch (bounded by the retry cap).
type FlushFunc func(ctx context.Context, items []*Item) error

// GiveUpFunc receives entries that exhausted their retries; callers
// finalize them with a fallback or unknown location and keep going.
type GiveUpFunc func(item *Item)

// Config tunes the queue.
type Config struct {
	SizeThreshold int
	AgeThreshold  time.Duration
	RetryCap      int
	TimerEnabled  bool
}

// Queue is the thread-safe flush buffer. All mutation happens under one
// lock; reads during mutation are not permitted.
type Queue struct {
	cfg    Config
	flush  FlushFunc
	giveUp GiveUpFunc
	logger *zerolog.Logger

	tickInterval time.Duration

	mu      sync.Mutex
	buf     []*Item
	firstAt time.Time
}

// New creates a queue. flush must not be nil; giveUp may be nil.
func New(cfg Config, flush FlushFunc, giveUp GiveUpFunc, logger *zerolog.Logger) *Queue {
	if cfg.SizeThreshold <= 0 {
		cfg.SizeThreshold = 10
	}

	if cfg.AgeThreshold <= 0 {
		cfg.AgeThreshold = 30 * time.Second
	}

	return &Queue{
		cfg:          cfg,
		flush:        flush,
		giveUp:       giveUp,
		logger:       logger,
		tickInterval: defaultTickInterval,
	}
}

// Enqueue appends an entry, arming the age timer on the empty → pending
// transition. When the size threshold is reached the flush runs before
// Enqueue returns. Reports whether a flush was triggered.
func (q *Queue) Enqueue(ctx context.Context, e *domain.Entry) bool {
	q.mu.Lock()

	if len(q.buf) == 0 {
		q.firstAt = time.Now()
	}

	q.buf = append(q.buf, &Item{Entry: e, EnqueuedAt: time.Now()})
	size := len(q.buf)
	observability.BatchQueueDepth.Set(float64(size))
	q.mu.Unlock()

	if size >= q.cfg.SizeThreshold {
		q.flushNow(ctx, TriggerSize)
		return true
	}

	return false
}

// Run drives the age trigger. It wakes at most once per tick interval and
// flushes when the oldest entry's age crosses the threshold. Returns when
// ctx is cancelled; the caller is responsible for the final drain.
func (q *Queue) Run(ctx context.Context) {
	if !q.cfg.TimerEnabled {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(q.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if q.ageExceeded() {
				q.flushNow(ctx, TriggerTime)
			}
		}
	}
}

func (q *Queue) ageExceeded() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.buf) > 0 && time.Since(q.firstAt) >= q.cfg.AgeThreshold
}

// Drain atomically extracts and clears the buffer.
func (q *Queue) Drain() []*Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.buf
	q.buf = nil
	observability.BatchQueueDepth.Set(0)

	return items
}

// Len returns the current occupancy.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.buf)
}

// FlushFinal drains and flushes whatever remains. It runs under the
// orchestrator's deferred cleanup so the next cycle always starts empty;
// entries that still fail here are given up rather than re-queued.
func (q *Queue) FlushFinal(ctx context.Context) {
	items := q.Drain()
	if len(items) == 0 {
		return
	}

	if err := q.flush(ctx, items); err != nil {
		observability.BatchFlushes.WithLabelValues(TriggerFinal, "error").Inc()
		q.logger.Warn().Err(err).Int("entries", len(items)).Msg("batchqueue: final flush failed, giving up queued entries")

		q.abandon(items)

		return
	}

	observability.BatchFlushes.WithLabelValues(TriggerFinal, "ok").Inc()
}

// flushNow drains the buffer and invokes the flush callback, re-queuing on
// failure with incremented retry counts.
func (q *Queue) flushNow(ctx context.Context, trigger string) {
	items := q.Drain()
	if len(items) == 0 {
		return
	}

	if err := q.flush(ctx, items); err != nil {
		observability.BatchFlushes.WithLabelValues(trigger, "error").Inc()
		q.logger.Warn().
			Err(err).
			Str("trigger", trigger).
			Int("entries", len(items)).
			Msg("batchqueue: flush failed")

		q.requeue(items)

		return
	}

	observability.BatchFlushes.WithLabelValues(trigger, "ok").Inc()
}

// requeue puts failed items back, dropping those that hit the retry cap.
func (q *Queue) requeue(items []*Item) {
	var keep []*Item

	for _, it := range items {
		it.Retries++

		if it.Retries >= q.cfg.RetryCap {
			observability.DropsTotal.WithLabelValues(observability.DropReasonBatchRetry).Inc()
			q.logger.Warn().
				Str("uuid", it.Entry.UUID).
				Int("retries", it.Retries).
				Msg("batchqueue: retry cap reached, dropping entry from batch")

			if q.giveUp != nil {
				q.giveUp(it)
			}

			continue
		}

		keep = append(keep, it)
	}

	if len(keep) == 0 {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.buf) == 0 {
		q.firstAt = time.Now()
	}

	q.buf = append(q.buf, keep...)
	observability.BatchQueueDepth.Set(float64(len(q.buf)))
}

func (q *Queue) abandon(items []*Item) {
	if q.giveUp == nil {
		return
	}

	for _, it := range items {
		q.giveUp(it)
	}
}
