package cache

import (
	"context"
	"sync"

	"labsync/pkg/types"
)

// MemoryStore keeps snapshots in process memory. Nothing survives a restart.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]types.CacheRecord
	saves   int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]types.CacheRecord)}
}

func (s *MemoryStore) Load(ctx context.Context) (map[string]types.CacheRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyRecords(s.entries), nil
}

func (s *MemoryStore) Save(ctx context.Context, entries map[string]types.CacheRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = copyRecords(entries)
	s.saves++
	return nil
}

// Saves reports how many snapshots have been written
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func (s *MemoryStore) Close() error { return nil }

func copyRecords(in map[string]types.CacheRecord) map[string]types.CacheRecord {
	out := make(map[string]types.CacheRecord, len(in))
	for k, rec := range in {
		out[k] = types.CacheRecord{Payload: rec.Payload.Clone(), CreatedAt: rec.CreatedAt}
	}
	return out
}
