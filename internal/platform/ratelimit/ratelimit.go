// Package ratelimit provides the per-service token buckets that every
// outbound LLM and geocoding call acquires from before the circuit breaker
// is consulted.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/osintops/threatpipe/internal/platform/observability"
)

// ErrRateLimitExceeded is returned when no token arrives within the wait
// cap. Callers treat it like a transient failure for the circuit breaker.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

const secondsPerMinute = 60

// Limiter is a token bucket for one external service. Safe for concurrent
// use; one instance per service process-wide.
type Limiter struct {
	name    string
	limiter *rate.Limiter
	waitCap time.Duration
}

// PerMinute builds a limiter refilling tokensPerMinute/60 tokens per second
// with a burst of one second's worth (minimum 1).
func PerMinute(name string, tokensPerMinute int, waitCap time.Duration) *Limiter {
	perSecond := float64(tokensPerMinute) / secondsPerMinute

	burst := tokensPerMinute / secondsPerMinute
	if burst < 1 {
		burst = 1
	}

	return &Limiter{
		name:    name,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		waitCap: waitCap,
	}
}

// Acquire blocks for a token up to the wait cap. Context cancellation is
// honored; cap expiry maps to ErrRateLimitExceeded.
func (l *Limiter) Acquire(ctx context.Context) error {
	waitCtx := ctx

	var cancel context.CancelFunc
	if l.waitCap > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, l.waitCap)
		defer cancel()
	}

	if err := l.limiter.Wait(waitCtx); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("rate limiter %s: %w", l.name, ctx.Err())
		}

		observability.RateLimitTimeouts.WithLabelValues(l.name).Inc()

		return fmt.Errorf("%w: %s waited %s", ErrRateLimitExceeded, l.name, l.waitCap)
	}

	return nil
}

// Allow reports whether a token is immediately available, without waiting.
func (l *Limiter) Allow() bool { return l.limiter.Allow() }

// Name returns the service name.
func (l *Limiter) Name() string { return l.name }
