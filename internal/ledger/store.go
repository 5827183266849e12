package ledger

import (
	"context"
	"sync"
)

// Store is the durable persistence contract for usage records: a key-value
// store with atomic read-modify-write per key. The Ledger serialises writers
// per key itself, so implementations only need per-call atomicity.
type Store interface {
	// Load returns the stored record for key. found is false when the key
	// has never been saved.
	Load(ctx context.Context, key string) (rec Record, found bool, err error)

	// Save writes rec under key, replacing any previous value.
	Save(ctx context.Context, key string, rec Record) error

	// Ping verifies the store is reachable. Used by readiness checks.
	Ping(ctx context.Context) error
}

// MemoryStore is an in-process Store for tests and DSN-less deployments.
// Counters do not survive a restart. Safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// Compile-time assertion that MemoryStore satisfies Store.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// Load implements Store.
func (s *MemoryStore) Load(_ context.Context, key string) (Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key]
	return rec, ok, nil
}

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, key string, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = rec
	return nil
}

// Ping implements Store. Always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }
