package eventlog

import (
	"context"
	"sync"
)

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// MemoryStore implements Store in memory for demo mode and tests.
type MemoryStore struct {
	mu     sync.Mutex
	events []*RawEvent
	nextID int64
}

// NewMemoryStore creates an in-memory event log.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1}
}

// Append records the event, assigning a sequential id.
func (m *MemoryStore) Append(_ context.Context, ev *RawEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *ev
	copied.ID = m.nextID
	m.nextID++
	m.events = append(m.events, &copied)
	ev.ID = copied.ID
	return nil
}

// Recent walks the log backwards applying the query filters.
func (m *MemoryStore) Recent(_ context.Context, q Query) ([]*RawEvent, error) {
	q = q.normalize()

	m.mu.Lock()
	defer m.mu.Unlock()

	var result []*RawEvent
	for i := len(m.events) - 1; i >= 0 && len(result) < q.Limit; i-- {
		ev := m.events[i]
		if q.Topic != "" && ev.Topic != q.Topic {
			continue
		}
		if !q.Since.IsZero() && ev.ReceivedAt.Before(q.Since) {
			continue
		}
		copied := *ev
		result = append(result, &copied)
	}
	return result, nil
}
