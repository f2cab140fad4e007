package scoring

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresStore persists scores in the risk_scores table, one row per
// correlation id.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a Postgres-backed score store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Upsert(ctx context.Context, score *Score) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO risk_scores (
			correlation_id, order_id, merchant_id, customer_id, total_score,
			sig_ip_velocity, sig_device_reuse, sig_email_domain,
			sig_bin_mismatch, sig_chargeback_history,
			risk_level, scored_at, expires_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (correlation_id) DO UPDATE SET
			total_score            = EXCLUDED.total_score,
			sig_ip_velocity        = EXCLUDED.sig_ip_velocity,
			sig_device_reuse       = EXCLUDED.sig_device_reuse,
			sig_email_domain       = EXCLUDED.sig_email_domain,
			sig_bin_mismatch       = EXCLUDED.sig_bin_mismatch,
			sig_chargeback_history = EXCLUDED.sig_chargeback_history,
			risk_level             = EXCLUDED.risk_level,
			scored_at              = EXCLUDED.scored_at,
			expires_at             = EXCLUDED.expires_at`,
		score.CorrelationID, score.OrderID, score.MerchantID, score.CustomerID,
		score.TotalScore,
		score.IPVelocity, score.DeviceReuse, score.EmailDomain,
		score.BINMismatch, score.ChargebackHistory,
		score.RiskLevel, score.ScoredAt, score.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("upsert score: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetByOrderID(ctx context.Context, orderID string) (*Score, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT correlation_id, order_id, merchant_id, COALESCE(customer_id, ''),
		       total_score,
		       sig_ip_velocity, sig_device_reuse, sig_email_domain,
		       sig_bin_mismatch, sig_chargeback_history,
		       risk_level, scored_at, expires_at
		FROM risk_scores
		WHERE order_id = $1
		ORDER BY scored_at DESC
		LIMIT 1`,
		orderID,
	)

	var sc Score
	err := row.Scan(
		&sc.CorrelationID, &sc.OrderID, &sc.MerchantID, &sc.CustomerID,
		&sc.TotalScore,
		&sc.IPVelocity, &sc.DeviceReuse, &sc.EmailDomain,
		&sc.BINMismatch, &sc.ChargebackHistory,
		&sc.RiskLevel, &sc.ScoredAt, &sc.ExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrScoreNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan score: %w", err)
	}
	return &sc, nil
}
