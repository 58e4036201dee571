package state

import (
	"context"
	"sync"

	"bridgeRelay/internal/model"
)

// Store persists the pipeline checkpoint and the dedup ledger.
type Store interface {
	// LoadCheckpoint returns the last processed block height. ok is false
	// when no checkpoint has been saved yet.
	LoadCheckpoint(ctx context.Context) (height uint64, ok bool, err error)
	SaveCheckpoint(ctx context.Context, height uint64) error

	// HasSubmitted reports whether the identity was already delivered to
	// the sink (or permanently rejected by it).
	HasSubmitted(ctx context.Context, id model.EventIdentity) (bool, error)
	RecordSubmitted(ctx context.Context, id model.EventIdentity) error

	Close() error
}

// MemoryStore keeps checkpoint and ledger in process memory only. A restart
// loses both; use it for tests or when the sink is idempotent on its own.
type MemoryStore struct {
	mu         sync.Mutex
	checkpoint uint64
	hasCP      bool
	submitted  map[model.EventIdentity]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{submitted: make(map[model.EventIdentity]struct{})}
}

func (s *MemoryStore) LoadCheckpoint(_ context.Context) (uint64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkpoint, s.hasCP, nil
}

func (s *MemoryStore) SaveCheckpoint(_ context.Context, height uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoint = height
	s.hasCP = true
	return nil
}

func (s *MemoryStore) HasSubmitted(_ context.Context, id model.EventIdentity) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.submitted[id]
	return ok, nil
}

func (s *MemoryStore) RecordSubmitted(_ context.Context, id model.EventIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitted[id] = struct{}{}
	return nil
}

func (s *MemoryStore) Close() error { return nil }
