package eventlog

import (
	"context"
	"database/sql"
	"fmt"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed event log.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Append inserts one accepted event into raw_events.
func (p *PostgresStore) Append(ctx context.Context, ev *RawEvent) error {
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO raw_events (event_id, topic, event_type, correlation_id, payload, received_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, ev.EventID, ev.Topic, ev.EventType, ev.CorrelationID, []byte(ev.Payload), ev.ReceivedAt).Scan(&ev.ID)
	if err != nil {
		return fmt.Errorf("append raw event: %w", err)
	}
	return nil
}

// Recent returns accepted events newest first, honoring the query filters.
func (p *PostgresStore) Recent(ctx context.Context, q Query) ([]*RawEvent, error) {
	q = q.normalize()

	where := ""
	args := []interface{}{}
	if q.Topic != "" {
		args = append(args, q.Topic)
		where = fmt.Sprintf("WHERE topic = $%d", len(args))
	}
	if !q.Since.IsZero() {
		args = append(args, q.Since)
		if where == "" {
			where = fmt.Sprintf("WHERE received_at >= $%d", len(args))
		} else {
			where += fmt.Sprintf(" AND received_at >= $%d", len(args))
		}
	}
	args = append(args, q.Limit)

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, event_id, topic, event_type, correlation_id, payload, received_at
		FROM raw_events
		%s
		ORDER BY received_at DESC
		LIMIT $%d
	`, where, len(args)), args...)
	if err != nil {
		return nil, fmt.Errorf("query recent events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*RawEvent
	for rows.Next() {
		var ev RawEvent
		var payload []byte
		if err := rows.Scan(&ev.ID, &ev.EventID, &ev.Topic, &ev.EventType, &ev.CorrelationID, &payload, &ev.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scan raw event: %w", err)
		}
		ev.Payload = payload
		result = append(result, &ev)
	}
	return result, rows.Err()
}
