package llm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/osintops/threatpipe/internal/platform/breaker"
	"github.com/osintops/threatpipe/internal/platform/observability"
	"github.com/osintops/threatpipe/internal/platform/ratelimit"
)

// registry manages the provider chain. Providers are tried in priority
// order; each call acquires the provider's token bucket first, then runs
// under its circuit breaker. Tables are fixed after wiring, so reads are
// lock-free apart from registration.
type registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	order     []string
	breakers  map[string]*breaker.Breaker
	limiters  map[string]*ratelimit.Limiter
	logger    *zerolog.Logger
}

func newRegistry(logger *zerolog.Logger) *registry {
	return &registry{
		providers: make(map[string]Provider),
		breakers:  make(map[string]*breaker.Breaker),
		limiters:  make(map[string]*ratelimit.Limiter),
		logger:    logger,
	}
}

func (r *registry) register(p Provider, guard guardConfig, tokensPerMinute int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := p.Name()
	r.providers[name] = p
	r.order = append(r.order, name)
	r.breakers[name] = breaker.New(name, guard.breaker, r.logger)
	r.limiters[name] = newLimiter(name, tokensPerMinute, guard.waitCap)

	sort.SliceStable(r.order, func(i, j int) bool {
		return r.providers[r.order[i]].Priority() > r.providers[r.order[j]].Priority()
	})

	observability.LLMProviderAvailable.WithLabelValues(name).Set(1)

	r.logger.Info().
		Str("provider", name).
		Str("model", p.Model()).
		Int("priority", p.Priority()).
		Msg("llm: registered provider")
}

func (r *registry) providerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.providers)
}

// Complete walks the chain until one provider answers. Open circuits and
// exhausted token buckets skip to the next provider without blocking the
// pipeline.
func (r *registry) Complete(ctx context.Context, task Task, req Request) (Reply, error) {
	r.mu.RLock()
	order := append([]string(nil), r.order...)
	r.mu.RUnlock()

	if len(order) == 0 {
		return Reply{}, ErrNoProvidersAvailable
	}

	var errs []error

	for _, name := range order {
		reply, err := r.callProvider(ctx, name, task, req)
		if err == nil {
			return reply, nil
		}

		if ctx.Err() != nil {
			return Reply{}, fmt.Errorf("llm %s: %w", task, ctx.Err())
		}

		errs = append(errs, fmt.Errorf("%s: %w", name, err))
		r.logger.Warn().Err(err).Str("provider", name).Str("task", string(task)).Msg("llm: provider failed, trying next")
	}

	return Reply{}, fmt.Errorf("%w: %w", ErrAllProvidersFailed, errors.Join(errs...))
}

func (r *registry) callProvider(ctx context.Context, name string, task Task, req Request) (Reply, error) {
	r.mu.RLock()
	p := r.providers[name]
	brk := r.breakers[name]
	lim := r.limiters[name]
	r.mu.RUnlock()

	// Rate limiter is the outer wrapper. A wait-cap timeout counts as a
	// transient failure for the breaker.
	if err := lim.Acquire(ctx); err != nil {
		if errors.Is(err, ratelimit.ErrRateLimitExceeded) {
			brk.Record(err)
		}

		return Reply{}, err
	}

	var content string

	started := time.Now()

	err := brk.Do(ctx, func(callCtx context.Context) error {
		out, callErr := p.Complete(callCtx, req)
		if callErr != nil {
			return callErr
		}

		if out == "" {
			return ErrEmptyResponse
		}

		content = out

		return nil
	})

	observability.LLMRequestDuration.WithLabelValues(name, string(task)).Observe(time.Since(started).Seconds())

	if err != nil {
		return Reply{}, err
	}

	return Reply{Content: content, Provider: name, Model: p.Model()}, nil
}

// Embed routes to the first provider in the chain that supports
// embeddings, under the same guards.
func (r *registry) Embed(ctx context.Context, text string) ([]float32, error) {
	r.mu.RLock()
	order := append([]string(nil), r.order...)
	r.mu.RUnlock()

	var errs []error

	for _, name := range order {
		r.mu.RLock()
		p := r.providers[name]
		brk := r.breakers[name]
		lim := r.limiters[name]
		r.mu.RUnlock()

		if err := lim.Acquire(ctx); err != nil {
			if errors.Is(err, ratelimit.ErrRateLimitExceeded) {
				brk.Record(err)
			}

			errs = append(errs, fmt.Errorf("%s: %w", name, err))

			continue
		}

		var (
			vec         []float32
			unsupported bool
		)

		started := time.Now()

		// Lacking embedding support is not a provider failure; the breaker
		// is shared with the completion path and must not trip on it.
		err := brk.Do(ctx, func(callCtx context.Context) error {
			vecs, embErr := p.Embed(callCtx, []string{text})
			if errors.Is(embErr, ErrEmbeddingsUnsupported) {
				unsupported = true
				return nil
			}

			if embErr != nil {
				return embErr
			}

			if len(vecs) == 0 {
				return ErrEmptyResponse
			}

			vec = vecs[0]

			return nil
		})

		observability.LLMRequestDuration.WithLabelValues(name, string(TaskEmbed)).Observe(time.Since(started).Seconds())

		if err == nil {
			if unsupported {
				continue
			}

			return vec, nil
		}

		if ctx.Err() != nil {
			return nil, fmt.Errorf("llm embed: %w", ctx.Err())
		}

		errs = append(errs, fmt.Errorf("%s: %w", name, err))
	}

	return nil, fmt.Errorf("%w: %w", ErrAllProvidersFailed, errors.Join(errs...))
}

// ProviderStatuses reports the chain for the health endpoint.
func (r *registry) ProviderStatuses() []ProviderStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	statuses := make([]ProviderStatus, 0, len(r.order))

	for _, name := range r.order {
		p := r.providers[name]
		statuses = append(statuses, ProviderStatus{
			Name:     name,
			Model:    p.Model(),
			Priority: p.Priority(),
			Circuit:  r.breakers[name].State().String(),
		})
	}

	return statuses
}
