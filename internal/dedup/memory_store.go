package dedup

import (
	"context"
	"sync"
	"time"
)

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

type seenEntry struct {
	Topic     string
	EventType string
	SeenAt    time.Time
}

// MemoryStore implements Store in memory for demo mode and tests.
type MemoryStore struct {
	mu   sync.Mutex
	seen map[string]seenEntry
}

// NewMemoryStore creates an in-memory dedup registry.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seen: make(map[string]seenEntry)}
}

// RegisterIfNew records the event id under the store mutex.
func (m *MemoryStore) RegisterIfNew(_ context.Context, eventID, topic, eventType string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.seen[eventID]; ok {
		return false, nil
	}
	m.seen[eventID] = seenEntry{Topic: topic, EventType: eventType, SeenAt: time.Now()}
	return true, nil
}

// Len reports how many distinct event ids have been registered.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen)
}
