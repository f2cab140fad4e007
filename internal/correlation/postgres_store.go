package correlation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PostgresStore persists bundles in the correlations table. Leg upserts use
// INSERT ... ON CONFLICT DO UPDATE touching only that leg's columns, which
// keeps the merge commutative under any arrival order.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a Postgres-backed bundle store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) UpsertOrderLeg(ctx context.Context, correlationID string, leg OrderLeg) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO correlations (
			correlation_id, order_id, merchant_id, customer_id,
			order_payload, order_received_at
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (correlation_id) DO UPDATE SET
			order_id          = EXCLUDED.order_id,
			merchant_id       = EXCLUDED.merchant_id,
			customer_id       = EXCLUDED.customer_id,
			order_payload     = EXCLUDED.order_payload,
			order_received_at = EXCLUDED.order_received_at,
			updated_at        = NOW()`,
		correlationID, leg.OrderID, leg.MerchantID, leg.CustomerID,
		[]byte(leg.Payload), leg.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert order leg: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpsertPaymentLeg(ctx context.Context, correlationID string, leg PaymentLeg) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO correlations (
			correlation_id, payment_id, bin_country,
			payment_payload, payment_received_at
		) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (correlation_id) DO UPDATE SET
			payment_id          = EXCLUDED.payment_id,
			bin_country         = EXCLUDED.bin_country,
			payment_payload     = EXCLUDED.payment_payload,
			payment_received_at = EXCLUDED.payment_received_at,
			updated_at          = NOW()`,
		correlationID, leg.PaymentID, leg.BinCountry,
		[]byte(leg.Payload), leg.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert payment leg: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpsertDisputeLeg(ctx context.Context, correlationID string, leg DisputeLeg) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO correlations (
			correlation_id, dispute_id, dispute_reason_code,
			dispute_payload, dispute_received_at
		) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (correlation_id) DO UPDATE SET
			dispute_id          = EXCLUDED.dispute_id,
			dispute_reason_code = EXCLUDED.dispute_reason_code,
			dispute_payload     = EXCLUDED.dispute_payload,
			dispute_received_at = EXCLUDED.dispute_received_at,
			updated_at          = NOW()`,
		correlationID, leg.DisputeID, leg.ReasonCode,
		[]byte(leg.Payload), leg.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert dispute leg: %w", err)
	}
	return nil
}

const bundleColumns = `
	correlation_id,
	COALESCE(order_id, ''), COALESCE(merchant_id, ''), COALESCE(customer_id, ''),
	order_payload, order_received_at,
	COALESCE(payment_id, ''), COALESCE(bin_country, ''),
	payment_payload, payment_received_at,
	COALESCE(dispute_id, ''), COALESCE(dispute_reason_code, ''),
	dispute_payload, dispute_received_at,
	scored_at, created_at, updated_at`

func (s *PostgresStore) Get(ctx context.Context, correlationID string) (*Bundle, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+bundleColumns+` FROM correlations WHERE correlation_id = $1`,
		correlationID,
	)
	return scanBundle(row)
}

func (s *PostgresStore) GetByOrderID(ctx context.Context, orderID string) (*Bundle, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+bundleColumns+` FROM correlations
		 WHERE order_id = $1 ORDER BY updated_at DESC LIMIT 1`,
		orderID,
	)
	return scanBundle(row)
}

func (s *PostgresStore) GetOwned(ctx context.Context, orderID, merchantID string) (*Bundle, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+bundleColumns+` FROM correlations
		 WHERE order_id = $1 AND merchant_id = $2
		 ORDER BY updated_at DESC LIMIT 1`,
		orderID, merchantID,
	)
	return scanBundle(row)
}

func (s *PostgresStore) ClaimForScoring(ctx context.Context, correlationID string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE correlations
		SET scored_at = $2, updated_at = NOW()
		WHERE correlation_id = $1
		  AND scored_at IS NULL
		  AND order_payload IS NOT NULL
		  AND payment_payload IS NOT NULL
		  AND dispute_payload IS NOT NULL`,
		correlationID, at,
	)
	if err != nil {
		return false, fmt.Errorf("claim scoring: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim scoring rows: %w", err)
	}
	return n > 0, nil
}

func scanBundle(row *sql.Row) (*Bundle, error) {
	var (
		b                           Bundle
		orderPayload                []byte
		paymentPayload              []byte
		disputePayload              []byte
		orderAt, payAt, dispAt, scr sql.NullTime
	)
	err := row.Scan(
		&b.CorrelationID,
		&b.OrderID, &b.MerchantID, &b.CustomerID, &orderPayload, &orderAt,
		&b.PaymentID, &b.BinCountry, &paymentPayload, &payAt,
		&b.DisputeID, &b.DisputeReasonCode, &disputePayload, &dispAt,
		&scr, &b.CreatedAt, &b.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBundleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan bundle: %w", err)
	}
	b.OrderPayload = json.RawMessage(orderPayload)
	b.PaymentPayload = json.RawMessage(paymentPayload)
	b.DisputePayload = json.RawMessage(disputePayload)
	if orderAt.Valid {
		b.OrderReceivedAt = orderAt.Time
	}
	if payAt.Valid {
		b.PaymentReceivedAt = payAt.Time
	}
	if dispAt.Valid {
		b.DisputeReceivedAt = dispAt.Time
	}
	if scr.Valid {
		b.ScoredAt = scr.Time
	}
	return &b, nil
}
