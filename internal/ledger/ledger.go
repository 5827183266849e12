// Package ledger tracks per-model API usage against configured quota
// ceilings so the dispatcher can degrade to a fallback *before* a provider
// starts rejecting calls.
//
// Counters are kept per (provider, model) key under a single-writer
// discipline and reset lazily: the daily window rolls over at the next UTC
// midnight, the hourly window on a rolling 60-minute basis measured from the
// last reset rather than wall-clock hour boundaries, so the ledger can be
// read at arbitrary times without drift. Records are write-through persisted
// to an optional durable Store and survive restarts.
//
// All methods are safe for concurrent use.
package ledger

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/auricle-audio/auricle/pkg/types"
)

// DefaultSafetyMargin is the fraction of a quota ceiling at which a model is
// reported as unusable. Degrading at 90% keeps the visible failure mode
// "switched to fallback" instead of "provider returned 429".
const DefaultSafetyMargin = 0.9

// Record holds the usage counters for one (provider, model) pair within the
// current reset windows. Counts are monotonically non-decreasing within a
// window and reset to zero exactly once per window crossing.
type Record struct {
	RequestCount       int
	TokenCount         int64
	AudioSeconds       float64
	HourlyAudioSeconds float64
	DailyResetAt       time.Time
	HourlyResetAt      time.Time
}

// Ledger answers "is this model still under its proactive safety threshold?"
// and accumulates usage after confirmed successful calls.
type Ledger struct {
	store  Store
	limits map[string]types.ModelLimits
	margin float64
	now    func() time.Time

	mu      sync.Mutex
	records map[string]*Record
	loaded  map[string]bool
}

// Option is a functional option for configuring a Ledger.
type Option func(*Ledger)

// WithSafetyMargin overrides the default 90% proactive threshold.
func WithSafetyMargin(margin float64) Option {
	return func(l *Ledger) { l.margin = margin }
}

// WithClock replaces the time source. Used by tests to cross reset
// boundaries without sleeping.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates a Ledger. store may be nil for purely in-memory operation.
// limits maps ModelRef.String() keys to their quota ceilings; models absent
// from the map are treated as unlimited.
func New(store Store, limits map[string]types.ModelLimits, opts ...Option) *Ledger {
	l := &Ledger{
		store:   store,
		limits:  limits,
		margin:  DefaultSafetyMargin,
		now:     time.Now,
		records: make(map[string]*Record),
		loaded:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CanUse reports whether ref is still under the proactive safety threshold
// on every configured limit. Counters whose reset boundary has passed are
// zeroed first. Models without configured limits are always usable.
func (l *Ledger) CanUse(ctx context.Context, ref types.ModelRef) bool {
	limits, ok := l.limits[ref.String()]
	if !ok {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	rec := l.recordLocked(ctx, ref)
	l.applyResetsLocked(rec)

	if over(float64(rec.RequestCount), float64(limits.RequestsPerDay), l.margin) {
		l.logAtCapacity(ref, "requests_per_day", float64(rec.RequestCount))
		return false
	}
	if over(rec.AudioSeconds, limits.AudioSecondsPerDay, l.margin) {
		l.logAtCapacity(ref, "audio_seconds_per_day", rec.AudioSeconds)
		return false
	}
	if over(rec.HourlyAudioSeconds, limits.AudioSecondsPerHour, l.margin) {
		l.logAtCapacity(ref, "audio_seconds_per_hour", rec.HourlyAudioSeconds)
		return false
	}
	return true
}

// RecordUsage increments ref's counters and persists the record. It must be
// called only after a confirmed successful provider call, never
// speculatively.
func (l *Ledger) RecordUsage(ctx context.Context, ref types.ModelRef, tokens int, audioSeconds float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec := l.recordLocked(ctx, ref)
	l.applyResetsLocked(rec)

	rec.RequestCount++
	rec.TokenCount += int64(tokens)
	rec.AudioSeconds += audioSeconds
	rec.HourlyAudioSeconds += audioSeconds

	if l.store == nil {
		return nil
	}
	if err := l.store.Save(ctx, ref.String(), *rec); err != nil {
		// The in-memory counters stay authoritative for this process; a
		// failed write only risks under-counting after a restart.
		slog.Warn("ledger: persist failed", "model", ref.String(), "err", err)
		return err
	}
	return nil
}

// Usage returns a copy of the current (lazily reset) record for ref.
func (l *Ledger) Usage(ctx context.Context, ref types.ModelRef) Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec := l.recordLocked(ctx, ref)
	l.applyResetsLocked(rec)
	return *rec
}

// recordLocked returns the live record for ref, loading it from the durable
// store on first touch. Must be called with l.mu held.
func (l *Ledger) recordLocked(ctx context.Context, ref types.ModelRef) *Record {
	key := ref.String()
	if rec, ok := l.records[key]; ok {
		return rec
	}

	rec := &Record{}
	if l.store != nil && !l.loaded[key] {
		stored, found, err := l.store.Load(ctx, key)
		switch {
		case err != nil:
			slog.Warn("ledger: load failed, starting from zero", "model", key, "err", err)
		case found:
			*rec = stored
		}
	}
	l.loaded[key] = true

	now := l.now()
	if rec.DailyResetAt.IsZero() {
		rec.DailyResetAt = nextUTCMidnight(now)
	}
	if rec.HourlyResetAt.IsZero() {
		rec.HourlyResetAt = now.Add(time.Hour)
	}
	l.records[key] = rec
	return rec
}

// applyResetsLocked zeroes counters whose window boundary has passed.
// Must be called with l.mu held.
func (l *Ledger) applyResetsLocked(rec *Record) {
	now := l.now()
	if !now.Before(rec.DailyResetAt) {
		rec.RequestCount = 0
		rec.TokenCount = 0
		rec.AudioSeconds = 0
		rec.DailyResetAt = nextUTCMidnight(now)
	}
	if !now.Before(rec.HourlyResetAt) {
		rec.HourlyAudioSeconds = 0
		rec.HourlyResetAt = now.Add(time.Hour)
	}
}

func (l *Ledger) logAtCapacity(ref types.ModelRef, limit string, used float64) {
	slog.Info("ledger: model at proactive capacity",
		"model", ref.String(),
		"limit", limit,
		"used", used,
		"margin", l.margin,
	)
}

// over reports whether used has reached the safety margin of a ceiling.
// A zero ceiling means the dimension is unlimited.
func over(used, ceiling, margin float64) bool {
	if ceiling <= 0 {
		return false
	}
	return used >= margin*ceiling
}

// nextUTCMidnight returns the first UTC midnight strictly after now.
func nextUTCMidnight(now time.Time) time.Time {
	utc := now.UTC()
	return time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
}
