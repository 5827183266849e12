package dispatch

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrBreakerOpen is the skip reason used when a model's breaker rejects a
// dispatch attempt.
var ErrBreakerOpen = errors.New("circuit breaker is open")

// BreakerState represents the current operating mode of a [Breaker].
type BreakerState int

const (
	// BreakerClosed is the normal operating state — all calls are allowed.
	BreakerClosed BreakerState = iota

	// BreakerOpen indicates the breaker has tripped due to consecutive
	// failures. Calls are rejected until the reset timeout elapses.
	BreakerOpen

	// BreakerHalfOpen is the probe state entered after the reset timeout.
	// A limited number of calls are allowed through; if they succeed the
	// breaker closes, otherwise it re-opens.
	BreakerHalfOpen
)

// String returns the human-readable name of the state.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds tuning knobs for a [Breaker].
type BreakerConfig struct {
	// Name is a human-readable label used in log messages.
	Name string

	// MaxFailures is the number of consecutive failures in the closed state
	// before the breaker opens. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before transitioning to
	// half-open. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the maximum number of probe calls allowed in the
	// half-open state before the breaker decides whether to close or re-open.
	// Default: 3.
	HalfOpenMax int
}

// Breaker implements the three-state circuit breaker pattern with an
// Allow/RecordSuccess/RecordFailure surface, so the caller can run the
// protected operation itself between the gate check and the outcome report.
// It is safe for concurrent use from multiple goroutines.
type Breaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int

	// now is replaceable for tests.
	now func() time.Time

	mu              sync.Mutex
	state           BreakerState
	consecutiveFail int
	lastFailure     time.Time
	halfOpenCalls   int
	halfOpenFails   int
}

// NewBreaker creates a [Breaker] with the supplied configuration. Zero-value
// config fields are replaced with sensible defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	return &Breaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		halfOpenMax:  cfg.HalfOpenMax,
		now:          time.Now,
		state:        BreakerClosed,
	}
}

// Allow reports whether a call may proceed. In the open state it returns
// false until the reset timeout elapses, at which point it transitions to
// half-open and admits a limited probe budget. Each admitted half-open call
// consumes one probe slot.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.lastFailure) < b.resetTimeout {
			return false
		}
		b.state = BreakerHalfOpen
		b.halfOpenCalls = 0
		b.halfOpenFails = 0
		slog.Info("circuit breaker transitioning to half-open", "name", b.name)
		fallthrough

	case BreakerHalfOpen:
		if b.halfOpenCalls >= b.halfOpenMax {
			return false
		}
		b.halfOpenCalls++
	}
	return true
}

// RecordSuccess reports a successful call admitted by Allow.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerHalfOpen {
		successes := b.halfOpenCalls - b.halfOpenFails
		if successes >= b.halfOpenMax {
			b.state = BreakerClosed
			b.consecutiveFail = 0
			b.halfOpenCalls = 0
			b.halfOpenFails = 0
			slog.Info("circuit breaker closed after successful probes", "name", b.name)
		}
		return
	}
	b.consecutiveFail = 0
}

// RecordFailure reports a failed call admitted by Allow.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = b.now()

	if b.state == BreakerHalfOpen {
		b.halfOpenFails++
		// Any failure in half-open immediately re-opens.
		b.state = BreakerOpen
		b.consecutiveFail = b.maxFailures
		slog.Warn("circuit breaker re-opened from half-open", "name", b.name)
		return
	}

	b.consecutiveFail++
	if b.consecutiveFail >= b.maxFailures {
		b.state = BreakerOpen
		slog.Warn("circuit breaker opened",
			"name", b.name,
			"consecutive_failures", b.consecutiveFail)
	}
}

// State returns the current [BreakerState]. If the breaker is open and the
// reset timeout has elapsed, the returned state is [BreakerHalfOpen] (the
// actual transition happens on the next Allow call).
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerOpen && b.now().Sub(b.lastFailure) >= b.resetTimeout {
		return BreakerHalfOpen
	}
	return b.state
}

// Reset manually forces the breaker back to [BreakerClosed], clearing all
// failure counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = BreakerClosed
	b.consecutiveFail = 0
	b.halfOpenCalls = 0
	b.halfOpenFails = 0
	slog.Info("circuit breaker manually reset", "name", b.name)
}
