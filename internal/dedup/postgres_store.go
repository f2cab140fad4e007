package dedup

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

// NewPostgresStore creates a new PostgreSQL-backed dedup registry.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// RegisterIfNew inserts the event id, ignoring conflicts on the primary key.
// Zero rows affected means the id was already registered.
func (p *PostgresStore) RegisterIfNew(ctx context.Context, eventID, topic, eventType string) (bool, error) {
	result, err := p.db.ExecContext(ctx, `
		INSERT INTO seen_events (event_id, topic, event_type)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_id) DO NOTHING
	`, eventID, topic, eventType)
	if err != nil {
		return false, fmt.Errorf("register event: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return rows > 0, nil
}
