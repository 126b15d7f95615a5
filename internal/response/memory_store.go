package response

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store for demo/test use.
type MemoryStore struct {
	mu      sync.RWMutex
	records []*ActionRecord
}

// NewMemoryStore creates an in-memory audit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Record(ctx context.Context, rec *ActionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := *rec
	s.records = append(s.records, &r)
	return nil
}

func (s *MemoryStore) ListRecent(ctx context.Context, limit int) ([]*ActionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.records)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]*ActionRecord, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		r := *s.records[i]
		out = append(out, &r)
	}
	return out, nil
}
