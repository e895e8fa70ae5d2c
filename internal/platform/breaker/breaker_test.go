package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func newTestBreaker(t *testing.T) (*Breaker, *time.Time) {
	t.Helper()

	logger := zerolog.Nop()
	b := New("test", DefaultConfig(), &logger)

	now := time.Unix(1_700_000_000, 0)
	b.now = func() time.Time { return now }

	return b, &now
}

func fail(context.Context) error { return errBoom }

func ok(context.Context) error { return nil }

func TestTripsAfterConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(t)
	ctx := context.Background()

	require.ErrorIs(t, b.Do(ctx, fail), errBoom)
	assert.Equal(t, StateClosed, b.State())

	require.ErrorIs(t, b.Do(ctx, fail), errBoom)
	assert.Equal(t, StateOpen, b.State())
}

func TestOpenFailsFastWithRetryAfter(t *testing.T) {
	b, _ := newTestBreaker(t)
	ctx := context.Background()

	_ = b.Do(ctx, fail)
	_ = b.Do(ctx, fail)

	calls := 0
	err := b.Do(ctx, func(context.Context) error {
		calls++
		return nil
	})

	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.Zero(t, calls, "no outbound traffic while open")

	var openErr *OpenError
	require.ErrorAs(t, err, &openErr)
	assert.Positive(t, openErr.RetryAfter)
}

func TestHalfOpenProbeClosesOnSuccess(t *testing.T) {
	b, now := newTestBreaker(t)
	ctx := context.Background()

	_ = b.Do(ctx, fail)
	_ = b.Do(ctx, fail)
	require.Equal(t, StateOpen, b.State())

	*now = now.Add(10 * time.Minute)
	require.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, b.Do(ctx, ok))
	assert.Equal(t, StateClosed, b.State())
}

func TestHalfOpenProbeReopensOnFailure(t *testing.T) {
	b, now := newTestBreaker(t)
	ctx := context.Background()

	_ = b.Do(ctx, fail)
	_ = b.Do(ctx, fail)

	firstOpenFor := b.openFor
	*now = now.Add(10 * time.Minute)

	require.ErrorIs(t, b.Do(ctx, fail), errBoom)
	assert.Equal(t, StateOpen, b.State())
	// Backoff extends with each consecutive failure (modulo jitter bounds).
	assert.Greater(t, float64(b.openFor), float64(firstOpenFor)*0.8)
}

func TestFailureRateTrip(t *testing.T) {
	logger := zerolog.Nop()
	cfg := DefaultConfig()
	cfg.MaxConsecutiveFailures = 100 // isolate the rate path

	b := New("rate", cfg, &logger)
	ctx := context.Background()

	_ = b.Do(ctx, ok)
	_ = b.Do(ctx, fail)
	require.Equal(t, StateClosed, b.State())

	// 2 failures / 3 calls = 0.66 >= 0.6 over the volume threshold.
	_ = b.Do(ctx, fail)
	assert.Equal(t, StateOpen, b.State())
}

func TestCallTimeoutCountsAsFailure(t *testing.T) {
	logger := zerolog.Nop()
	cfg := DefaultConfig()
	cfg.CallTimeout = 10 * time.Millisecond

	b := New("slow", cfg, &logger)
	ctx := context.Background()

	slow := func(callCtx context.Context) error {
		select {
		case <-callCtx.Done():
			return callCtx.Err()
		case <-time.After(time.Second):
			return nil
		}
	}

	require.ErrorIs(t, b.Do(ctx, slow), context.DeadlineExceeded)
	require.ErrorIs(t, b.Do(ctx, slow), context.DeadlineExceeded)
	assert.Equal(t, StateOpen, b.State())
}

func TestRecoveryDelayBounds(t *testing.T) {
	b, _ := newTestBreaker(t)

	b.consecutiveFailures = 20 // would exceed max without clamping
	delay := b.recoveryDelay()

	assert.LessOrEqual(t, float64(delay), float64(b.cfg.MaxDelay)*1.2)
	assert.GreaterOrEqual(t, float64(delay), float64(b.cfg.MaxDelay)*0.8)
}
