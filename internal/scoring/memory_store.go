package scoring

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory score store for tests and demo mode.
type MemoryStore struct {
	mu     sync.Mutex
	byCorr map[string]*Score
}

// NewMemoryStore creates an empty in-memory score store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byCorr: make(map[string]*Score)}
}

func (s *MemoryStore) Upsert(_ context.Context, score *Score) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *score
	s.byCorr[score.CorrelationID] = &cp
	return nil
}

func (s *MemoryStore) GetByOrderID(_ context.Context, orderID string) (*Score, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found *Score
	for _, sc := range s.byCorr {
		if sc.OrderID != orderID {
			continue
		}
		if found == nil || sc.ScoredAt.After(found.ScoredAt) {
			found = sc
		}
	}
	if found == nil {
		return nil, ErrScoreNotFound
	}
	cp := *found
	return &cp, nil
}
