// Package dedup provides the durable event-id deduplication registry.
//
// At-least-once delivery means every event may arrive more than once; the
// registry is the single source of truth for "have I accepted this event id
// before". Registration must be atomic so that duplicate detection holds even
// with concurrent ingestion workers — no in-memory check is trusted in the
// Postgres deployment.
package dedup

import "context"

// Store registers event ids exactly once.
type Store interface {
	// RegisterIfNew atomically records the event id and reports whether this
	// call was the first to do so. A false return means a duplicate delivery.
	RegisterIfNew(ctx context.Context, eventID, topic, eventType string) (bool, error)
}
