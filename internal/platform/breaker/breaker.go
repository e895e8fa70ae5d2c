// Package breaker implements the circuit breaker guarding every external
// LLM and geocoding call.
//
// States: closed (traffic passes), open (fail fast), half-open (single
// probe). The open duration grows exponentially with consecutive failures,
// with jitter, so a struggling provider is not hammered on a fixed beat.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/osintops/threatpipe/internal/platform/observability"
)

// State is the circuit state.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// ErrCircuitOpen is the sentinel matched with errors.Is.
var ErrCircuitOpen = errors.New("circuit open")

// OpenError carries the retry-after hint for callers that fail fast.
type OpenError struct {
	Service    string
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit open for %s, retry after %s", e.Service, e.RetryAfter.Round(time.Second))
}

func (e *OpenError) Unwrap() error { return ErrCircuitOpen }

// Config tunes a breaker instance.
type Config struct {
	// FailureThreshold is the failure rate over the call window that trips
	// the circuit, once RequestVolumeThreshold calls were observed.
	FailureThreshold float64
	// MaxConsecutiveFailures trips the circuit regardless of rate.
	MaxConsecutiveFailures int
	// RequestVolumeThreshold is the minimum window size for rate tripping.
	RequestVolumeThreshold int
	// CallTimeout bounds every guarded call even when closed.
	CallTimeout time.Duration
	// Backoff parameters for the open duration:
	// min(BaseDelay * Multiplier^consecutiveFailures, MaxDelay), ±20% jitter.
	BaseDelay  time.Duration
	Multiplier float64
	MaxDelay   time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:       0.6,
		MaxConsecutiveFailures: 2,
		RequestVolumeThreshold: 3,
		CallTimeout:            30 * time.Second,
		BaseDelay:              time.Second,
		Multiplier:             2,
		MaxDelay:               300 * time.Second,
	}
}

const (
	windowSize    = 10
	jitterFactor  = 0.2
	stateGaugeMap = "closed=0 half-open=1 open=2"
)

// Breaker is one circuit, a process-wide singleton per external service.
type Breaker struct {
	name string
	cfg  Config

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	window              []bool // true = failure, newest last
	openedAt            time.Time
	openFor             time.Duration
	probeInFlight       bool
	now                 func() time.Time
	rng                 *rand.Rand

	logger *zerolog.Logger
}

// New creates a breaker for the named service.
func New(name string, cfg Config, logger *zerolog.Logger) *Breaker {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}

	if cfg.Multiplier <= 1 {
		cfg.Multiplier = 2
	}

	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 300 * time.Second
	}

	b := &Breaker{
		name:   name,
		cfg:    cfg,
		now:    time.Now,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec // jitter only
		logger: logger,
	}
	b.publishState(StateClosed)

	return b
}

// Do runs fn through the circuit. When open it fails fast with *OpenError;
// otherwise fn runs under the configured hard timeout. A timeout counts as
// a failure.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.before(); err != nil {
		return err
	}

	callCtx := ctx

	var cancel context.CancelFunc
	if b.cfg.CallTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, b.cfg.CallTimeout)
		defer cancel()
	}

	err := fn(callCtx)
	b.after(err)

	return err
}

// before decides whether the call may proceed and claims the half-open
// probe slot.
func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		remaining := b.openFor - b.now().Sub(b.openedAt)
		if remaining > 0 {
			return &OpenError{Service: b.name, RetryAfter: remaining}
		}

		b.transition(StateHalfOpen)
		b.probeInFlight = true

		return nil
	default: // half-open
		if b.probeInFlight {
			return &OpenError{Service: b.name, RetryAfter: b.cfg.BaseDelay}
		}

		b.probeInFlight = true

		return nil
	}
}

func (b *Breaker) after(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probeInFlight = false

	if err == nil {
		b.onSuccess()
		return
	}

	b.onFailure()
}

func (b *Breaker) onSuccess() {
	b.consecutiveFailures = 0
	b.pushResult(false)

	if b.state != StateClosed {
		b.logger.Info().Str("service", b.name).Msg("breaker: circuit closed after successful probe")
		b.transition(StateClosed)
		b.window = nil
	}
}

func (b *Breaker) onFailure() {
	b.consecutiveFailures++
	b.pushResult(true)

	if b.state == StateHalfOpen {
		b.trip("half-open probe failed")
		return
	}

	if b.consecutiveFailures >= b.cfg.MaxConsecutiveFailures {
		b.trip("consecutive failures")
		return
	}

	if total := len(b.window); total >= b.cfg.RequestVolumeThreshold {
		failures := 0

		for _, failed := range b.window {
			if failed {
				failures++
			}
		}

		if rate := float64(failures) / float64(total); rate >= b.cfg.FailureThreshold {
			b.trip(fmt.Sprintf("failure rate %.2f over %d calls", rate, total))
		}
	}
}

// trip opens the circuit with an exponentially backed-off recovery delay.
func (b *Breaker) trip(cause string) {
	b.openedAt = b.now()
	b.openFor = b.recoveryDelay()
	b.transition(StateOpen)

	b.logger.Warn().
		Str("service", b.name).
		Str("cause", cause).
		Int("consecutive_failures", b.consecutiveFailures).
		Dur("open_for", b.openFor).
		Msg("breaker: circuit opened")
}

func (b *Breaker) recoveryDelay() time.Duration {
	exp := float64(b.cfg.BaseDelay) * math.Pow(b.cfg.Multiplier, float64(b.consecutiveFailures))
	delay := time.Duration(math.Min(exp, float64(b.cfg.MaxDelay)))

	// ±20% jitter
	jitter := 1 + jitterFactor*(2*b.rng.Float64()-1)

	return time.Duration(float64(delay) * jitter)
}

func (b *Breaker) pushResult(failed bool) {
	b.window = append(b.window, failed)
	if len(b.window) > windowSize {
		b.window = b.window[len(b.window)-windowSize:]
	}
}

func (b *Breaker) transition(s State) {
	b.state = s
	b.publishState(s)
}

func (b *Breaker) publishState(s State) {
	observability.CircuitState.WithLabelValues(b.name).Set(float64(s))
}

// Record feeds an out-of-band result into the failure accounting, without
// passing through the open/half-open gate. Used for rate-limit wait
// timeouts, which count as transient failures.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.onSuccess()
		return
	}

	b.onFailure()
}

// State returns the current state, advancing open → half-open when the
// recovery delay has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.openFor {
		return StateHalfOpen
	}

	return b.state
}

// Name returns the guarded service name.
func (b *Breaker) Name() string { return b.name }
