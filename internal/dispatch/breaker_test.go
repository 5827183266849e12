package dispatch

import (
	"testing"
	"time"
)

// newTestBreaker returns a breaker with a controllable clock.
func newTestBreaker(cfg BreakerConfig) (*Breaker, *time.Time) {
	b := NewBreaker(cfg)
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }
	return b, &now
}

func TestBreaker_OpensAfterMaxFailures(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{Name: "test", MaxFailures: 3})

	for i := 0; i < 3; i++ {
		if !b.Allow() {
			t.Fatalf("Allow() = false on call %d while closed", i)
		}
		b.RecordFailure()
	}

	if got := b.State(); got != BreakerOpen {
		t.Fatalf("State() = %v, want open", got)
	}
	if b.Allow() {
		t.Error("Allow() = true while open")
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{Name: "test", MaxFailures: 3})

	b.Allow()
	b.RecordFailure()
	b.Allow()
	b.RecordFailure()
	b.Allow()
	b.RecordSuccess()

	// Two more failures must not trip a breaker whose count was reset.
	b.Allow()
	b.RecordFailure()
	b.Allow()
	b.RecordFailure()

	if got := b.State(); got != BreakerClosed {
		t.Errorf("State() = %v, want closed", got)
	}
}

func TestBreaker_HalfOpenProbeAndClose(t *testing.T) {
	b, now := newTestBreaker(BreakerConfig{
		Name:         "test",
		MaxFailures:  1,
		ResetTimeout: 30 * time.Second,
		HalfOpenMax:  2,
	})

	b.Allow()
	b.RecordFailure()
	if b.Allow() {
		t.Fatal("Allow() = true immediately after opening")
	}

	*now = now.Add(31 * time.Second)

	// Probe budget: exactly HalfOpenMax calls admitted.
	for i := 0; i < 2; i++ {
		if !b.Allow() {
			t.Fatalf("Allow() = false on probe %d", i)
		}
		b.RecordSuccess()
	}
	if got := b.State(); got != BreakerClosed {
		t.Errorf("State() = %v after successful probes, want closed", got)
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, now := newTestBreaker(BreakerConfig{
		Name:         "test",
		MaxFailures:  1,
		ResetTimeout: 30 * time.Second,
	})

	b.Allow()
	b.RecordFailure()
	*now = now.Add(31 * time.Second)

	if !b.Allow() {
		t.Fatal("Allow() = false for half-open probe")
	}
	b.RecordFailure()

	if got := b.State(); got != BreakerOpen {
		t.Errorf("State() = %v after failed probe, want open", got)
	}
	if b.Allow() {
		t.Error("Allow() = true immediately after re-opening")
	}
}

func TestBreaker_ManualReset(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{Name: "test", MaxFailures: 1})

	b.Allow()
	b.RecordFailure()
	b.Reset()

	if got := b.State(); got != BreakerClosed {
		t.Errorf("State() = %v after Reset, want closed", got)
	}
	if !b.Allow() {
		t.Error("Allow() = false after Reset")
	}
}
