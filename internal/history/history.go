// Package history maintains the in-memory conversation record for a session.
//
// Turns are kept in chronological order for the lifetime of the process and
// double as the replay source after a duplex-session reconnect: the
// continuity manager primes a fresh session with the most recent turns so the
// model regains context.
package history

import (
	"sync"
	"time"

	"github.com/auricle-audio/auricle/pkg/types"
)

// DefaultPrimingTurns is how many recent turns are replayed into a
// re-established session.
const DefaultPrimingTurns = 20

// Buffer holds an ordered conversation history with optional size and age
// bounds. A maxSize of zero disables size eviction; a maxAge of zero disables
// age eviction.
//
// All methods are safe for concurrent use.
type Buffer struct {
	mu      sync.RWMutex
	turns   []types.ConversationTurn
	maxSize int
	maxAge  time.Duration

	// now is replaceable for tests.
	now func() time.Time
}

// New creates a buffer that retains at most maxSize turns and evicts turns
// older than maxAge. Zero disables the respective bound.
func New(maxSize int, maxAge time.Duration) *Buffer {
	return &Buffer{
		turns:   make([]types.ConversationTurn, 0, max(maxSize, 16)),
		maxSize: maxSize,
		maxAge:  maxAge,
		now:     time.Now,
	}
}

// Add appends a completed turn and evicts turns that exceed the configured
// bounds. A zero Timestamp is stamped with the current time.
func (b *Buffer) Add(turn types.ConversationTurn) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if turn.Timestamp.IsZero() {
		turn.Timestamp = b.now()
	}
	b.turns = append(b.turns, turn)
	b.evict()
}

// Recent returns up to n of the most recent turns in chronological order
// (oldest first). n <= 0 returns nil.
func (b *Buffer) Recent(n int) []types.ConversationTurn {
	if n <= 0 {
		return nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	start := len(b.turns) - n
	if start < 0 {
		start = 0
	}
	out := make([]types.ConversationTurn, len(b.turns)-start)
	copy(out, b.turns[start:])
	return out
}

// All returns every retained turn in chronological order.
func (b *Buffer) All() []types.ConversationTurn {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]types.ConversationTurn, len(b.turns))
	copy(out, b.turns)
	return out
}

// Len returns the number of retained turns.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.turns)
}

// Clear removes all turns.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.turns = b.turns[:0]
}

// evict removes turns that are too old or exceed maxSize.
// Must be called with b.mu held.
//
// Surviving turns are copied to a fresh backing array to prevent the evicted
// ones from pinning memory for the lifetime of the session.
func (b *Buffer) evict() {
	keep := b.turns

	if b.maxAge > 0 {
		cutoff := b.now().Add(-b.maxAge)
		start := 0
		for start < len(keep) && keep[start].Timestamp.Before(cutoff) {
			start++
		}
		keep = keep[start:]
	}

	if b.maxSize > 0 && len(keep) > b.maxSize {
		keep = keep[len(keep)-b.maxSize:]
	}

	if len(keep) < len(b.turns) {
		fresh := make([]types.ConversationTurn, len(keep), cap(b.turns))
		copy(fresh, keep)
		b.turns = fresh
	}
}
