// Package dispatch routes tasks to AI providers with quota gating and
// single-step fallback.
//
// Each dispatch consults the usage ledger before touching the primary model;
// a primary that is at capacity, breaker-tripped, or failing is bypassed in
// favour of the configured fallback. Exactly one fallback attempt is made so
// dispatch latency stays bounded.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/auricle-audio/auricle/internal/ledger"
	"github.com/auricle-audio/auricle/pkg/provider/ai"
	"github.com/auricle-audio/auricle/pkg/types"
)

// Typed errors surfaced to callers. Wrapped values carry per-attempt detail;
// match with errors.Is.
var (
	// ErrRateLimitExceeded is returned when every candidate model was rejected
	// for quota or breaker reasons, without any provider-level failure.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrProviderError is returned when at least one candidate was actually
	// invoked and failed.
	ErrProviderError = errors.New("provider error")

	// ErrNoActiveSession is returned for operations that require an open
	// duplex session when none is established.
	ErrNoActiveSession = errors.New("no active session")

	// ErrUnknownProvider is returned when a preference names a provider that
	// was never registered.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrAudioCaptureFailed reports an upstream capture failure. The core
	// never retries it; collaborators that own capture wrap their errors in
	// this sentinel so callers match one taxonomy.
	ErrAudioCaptureFailed = errors.New("audio capture failed")
)

// Task carries one dispatchable request. Exactly one payload field is
// consulted, selected by Kind.
type Task struct {
	// Kind selects the provider capability used to serve the task.
	Kind types.TaskKind

	// Text is the payload for TaskText.
	Text ai.TextRequest

	// Image is the payload for TaskVision.
	Image ai.ImageRequest

	// Audio is the payload for TaskAudio.
	Audio ai.AudioRequest
}

// Result is a successful dispatch: a fresh, finite, forward-only chunk stream
// plus the model that is serving it. Streams are not restartable; each
// dispatch produces a new one.
type Result struct {
	// Stream emits the normalized response chunks. The producer closes it.
	Stream <-chan ai.Chunk

	// Ref identifies the model that accepted the task. May be the fallback.
	Ref types.ModelRef
}

// Dispatcher routes tasks across registered providers. Safe for concurrent
// use.
type Dispatcher struct {
	ledger *ledger.Ledger

	mu        sync.RWMutex
	providers map[string]ai.Provider
	breakers  map[string]*Breaker
}

// Option is a functional option for Dispatcher.
type Option func(*Dispatcher)

// New creates a Dispatcher gated by the given ledger.
func New(l *ledger.Ledger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		ledger:    l,
		providers: make(map[string]ai.Provider),
		breakers:  make(map[string]*Breaker),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Register adds a provider under the given name. Registering the same name
// twice replaces the earlier provider and resets its breaker.
func (d *Dispatcher) Register(name string, p ai.Provider) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.providers[name] = p
	// A replacement instance must not inherit the failure history of the one
	// it replaces.
	for key := range d.breakers {
		if strings.HasPrefix(key, name+"/") {
			delete(d.breakers, key)
		}
	}
}

// Providers returns the names of all registered providers.
func (d *Dispatcher) Providers() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.providers))
	for name := range d.providers {
		names = append(names, name)
	}
	return names
}

// Dispatch routes task to pref.Primary, falling back once to pref.Fallback.
//
// A model is skipped without being invoked when its provider is unregistered,
// lacks the capability for task.Kind, its circuit breaker is open, or the
// ledger reports it at capacity. When every candidate is skipped for
// quota/breaker reasons the returned error matches ErrRateLimitExceeded;
// any actual invocation failure yields ErrProviderError instead.
func (d *Dispatcher) Dispatch(ctx context.Context, task Task, pref types.DispatchPreference) (*Result, error) {
	if pref.Primary.IsZero() {
		return nil, fmt.Errorf("%w: preference has no primary", ErrProviderError)
	}

	candidates := []types.ModelRef{pref.Primary}
	if !pref.Fallback.IsZero() {
		candidates = append(candidates, pref.Fallback)
	}

	var (
		attemptErrs []error
		sawFailure  bool
	)
	for _, ref := range candidates {
		res, err, invoked := d.try(ctx, task, ref)
		if err == nil {
			return res, nil
		}
		if invoked {
			sawFailure = true
		}
		attemptErrs = append(attemptErrs, fmt.Errorf("%s: %w", ref, err))
		slog.Warn("dispatch: candidate unusable",
			"task", task.Kind.String(),
			"model", ref.String(),
			"invoked", invoked,
			"error", err)
	}

	kind := ErrRateLimitExceeded
	if sawFailure {
		kind = ErrProviderError
	}
	return nil, fmt.Errorf("%w: %w", kind, errors.Join(attemptErrs...))
}

// try attempts a single candidate. invoked reports whether the provider was
// actually called (as opposed to skipped by a pre-flight check).
func (d *Dispatcher) try(ctx context.Context, task Task, ref types.ModelRef) (_ *Result, _ error, invoked bool) {
	d.mu.RLock()
	p, ok := d.providers[ref.Provider]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, ref.Provider), false
	}
	if !ai.Supports(p, task.Kind) {
		return nil, fmt.Errorf("provider %q does not support %s tasks", ref.Provider, task.Kind), false
	}

	br := d.breaker(ref)
	if !br.Allow() {
		return nil, fmt.Errorf("model %s: %w", ref, ErrBreakerOpen), false
	}

	if !d.ledger.CanUse(ctx, ref) {
		return nil, fmt.Errorf("model %s is at capacity", ref), false
	}

	stream, err := d.invoke(ctx, p, task, ref)
	if err != nil {
		br.RecordFailure()
		return nil, err, true
	}
	br.RecordSuccess()

	if err := d.ledger.RecordUsage(ctx, ref, 0, task.Audio.Segment.Duration.Seconds()); err != nil {
		slog.Error("dispatch: record usage", "model", ref.String(), "error", err)
	}

	return &Result{Stream: stream, Ref: ref}, nil, true
}

// invoke calls the provider method matching the task kind. The candidate's
// model is bound into the request so the model charged against quota is the
// model the provider serves, even when a fallback shares its primary's
// provider under a different model name.
func (d *Dispatcher) invoke(ctx context.Context, p ai.Provider, task Task, ref types.ModelRef) (<-chan ai.Chunk, error) {
	switch task.Kind {
	case types.TaskText:
		req := task.Text
		req.Model = ref.Model
		return p.GenerateText(ctx, req)
	case types.TaskVision:
		req := task.Image
		req.Model = ref.Model
		return p.AnalyzeImage(ctx, req)
	case types.TaskAudio:
		req := task.Audio
		req.Model = ref.Model
		return p.TranscribeAudio(ctx, req)
	default:
		return nil, fmt.Errorf("unknown task kind %d", task.Kind)
	}
}

// breaker returns the circuit breaker for ref, creating it on first use.
func (d *Dispatcher) breaker(ref types.ModelRef) *Breaker {
	key := ref.String()

	d.mu.RLock()
	br, ok := d.breakers[key]
	d.mu.RUnlock()
	if ok {
		return br
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if br, ok := d.breakers[key]; ok {
		return br
	}
	br = NewBreaker(BreakerConfig{Name: key})
	d.breakers[key] = br
	return br
}
