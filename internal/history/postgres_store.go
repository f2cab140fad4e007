package history

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore keeps customer identifier history in the customer_ips and
// customer_devices tables. Unique indexes on (customer_id, value) give
// Record its insert-if-absent semantics.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a Postgres-backed history store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) KnownFor(ctx context.Context, customerID string) (*Known, error) {
	known := &Known{}

	ips, err := s.collect(ctx,
		`SELECT ip_address FROM customer_ips WHERE customer_id = $1`, customerID)
	if err != nil {
		return nil, fmt.Errorf("known ips: %w", err)
	}
	known.IPs = ips

	devices, err := s.collect(ctx,
		`SELECT device_fingerprint FROM customer_devices WHERE customer_id = $1`, customerID)
	if err != nil {
		return nil, fmt.Errorf("known devices: %w", err)
	}
	known.Devices = devices

	return known, nil
}

func (s *PostgresStore) Record(ctx context.Context, obs Observation) error {
	if obs.IPAddress != "" {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO customer_ips (customer_id, ip_address)
			VALUES ($1, $2)
			ON CONFLICT (customer_id, ip_address) DO NOTHING`,
			obs.CustomerID, obs.IPAddress,
		)
		if err != nil {
			return fmt.Errorf("record ip: %w", err)
		}
	}
	if obs.DeviceFP != "" {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO customer_devices (customer_id, device_fingerprint)
			VALUES ($1, $2)
			ON CONFLICT (customer_id, device_fingerprint) DO NOTHING`,
			obs.CustomerID, obs.DeviceFP,
		)
		if err != nil {
			return fmt.Errorf("record device: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) collect(ctx context.Context, query, customerID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
