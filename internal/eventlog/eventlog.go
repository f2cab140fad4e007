// Package eventlog is the append-only record of every accepted raw event.
package eventlog

import (
	"context"
	"encoding/json"
	"time"
)

// RawEvent is one accepted (non-duplicate) broker message.
type RawEvent struct {
	ID            int64           `json:"id"`
	EventID       string          `json:"eventId"`
	Topic         string          `json:"topic"`
	EventType     string          `json:"type"`
	CorrelationID string          `json:"correlationId"`
	Payload       json.RawMessage `json:"payload"`
	ReceivedAt    time.Time       `json:"receivedAt"`
}

// Query filters the recent-events listing.
type Query struct {
	Limit int       // capped at MaxLimit, defaults to DefaultLimit
	Topic string    // optional exact topic match
	Since time.Time // optional lower bound on received_at
}

const (
	MaxLimit     = 200
	DefaultLimit = 50
)

// normalize clamps the limit into the allowed range.
func (q Query) normalize() Query {
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}
	if q.Limit > MaxLimit {
		q.Limit = MaxLimit
	}
	return q
}

// Store persists accepted events and serves recency queries.
type Store interface {
	// Append records an accepted event. Rows are never updated or deleted.
	Append(ctx context.Context, ev *RawEvent) error
	// Recent returns events ordered newest first.
	Recent(ctx context.Context, q Query) ([]*RawEvent, error)
}
