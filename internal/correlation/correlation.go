// Package correlation joins the three event legs of a transaction into a
// single bundle keyed by correlation id, regardless of arrival order.
//
// Each leg writes only its own columns, so the merge is commutative: the same
// three events produce an identical bundle in any of the six arrival
// permutations. Completeness (all three payloads present) triggers scoring
// exactly once via an atomic claim on scored_at — the conditional update
// closes the check-then-act race that a plain read-back would leave open
// between concurrent handlers completing the same bundle.
package correlation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chargeflow/risk-engine/internal/events"
	"github.com/chargeflow/risk-engine/internal/metrics"
	"github.com/chargeflow/risk-engine/internal/traces"
)

// ErrBundleNotFound is returned when no bundle exists for a correlation id
// or order id.
var ErrBundleNotFound = errors.New("correlation bundle not found")

// Bundle is the partial-to-complete record of one correlated transaction.
// Leg fields are zero until that leg arrives.
type Bundle struct {
	CorrelationID string

	// Order leg
	OrderID         string
	MerchantID      string
	CustomerID      string
	OrderPayload    json.RawMessage
	OrderReceivedAt time.Time

	// Payment leg
	PaymentID         string
	BinCountry        string
	PaymentPayload    json.RawMessage
	PaymentReceivedAt time.Time

	// Dispute leg
	DisputeID         string
	DisputeReasonCode string
	DisputePayload    json.RawMessage
	DisputeReceivedAt time.Time

	ScoredAt  time.Time // zero until scoring is claimed
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Complete reports whether all three leg payloads are present.
func (b *Bundle) Complete() bool {
	return len(b.OrderPayload) > 0 && len(b.PaymentPayload) > 0 && len(b.DisputePayload) > 0
}

// Scored reports whether scoring has been claimed for this bundle.
func (b *Bundle) Scored() bool {
	return !b.ScoredAt.IsZero()
}

// MissingLegs names the legs that have not arrived yet.
func (b *Bundle) MissingLegs() []string {
	missing := []string{}
	if len(b.OrderPayload) == 0 {
		missing = append(missing, "order")
	}
	if len(b.PaymentPayload) == 0 {
		missing = append(missing, "payment")
	}
	if len(b.DisputePayload) == 0 {
		missing = append(missing, "dispute")
	}
	return missing
}

// OrderLeg carries the order columns of a bundle upsert.
type OrderLeg struct {
	OrderID    string
	MerchantID string
	CustomerID string
	Payload    json.RawMessage
	ReceivedAt time.Time
}

// PaymentLeg carries the payment columns of a bundle upsert.
type PaymentLeg struct {
	PaymentID  string
	BinCountry string
	Payload    json.RawMessage
	ReceivedAt time.Time
}

// DisputeLeg carries the dispute columns of a bundle upsert.
type DisputeLeg struct {
	DisputeID  string
	ReasonCode string
	Payload    json.RawMessage
	ReceivedAt time.Time
}

// Store persists correlation bundles.
type Store interface {
	// The three leg upserts insert the bundle row if absent, otherwise update
	// only that leg's columns plus updated_at. Legs never overwrite each other.
	UpsertOrderLeg(ctx context.Context, correlationID string, leg OrderLeg) error
	UpsertPaymentLeg(ctx context.Context, correlationID string, leg PaymentLeg) error
	UpsertDisputeLeg(ctx context.Context, correlationID string, leg DisputeLeg) error

	// Get returns the bundle for a correlation id, or ErrBundleNotFound.
	Get(ctx context.Context, correlationID string) (*Bundle, error)
	// GetByOrderID returns the most recent bundle carrying the given order id,
	// or ErrBundleNotFound.
	GetByOrderID(ctx context.Context, orderID string) (*Bundle, error)
	// GetOwned returns the bundle only if it carries the given order id AND
	// merchant id, or ErrBundleNotFound.
	GetOwned(ctx context.Context, orderID, merchantID string) (*Bundle, error)

	// ClaimForScoring sets scored_at iff it is currently null and all three
	// payloads are present. It reports whether this caller won the claim.
	ClaimForScoring(ctx context.Context, correlationID string, at time.Time) (bool, error)
}

// Scorer computes and persists the risk score for a complete bundle.
// Implemented by scoring.Scorer; declared here so the dependency points
// outward.
type Scorer interface {
	Score(ctx context.Context, correlationID string) error
}

// Correlator merges validated events into bundles and triggers scoring when
// a bundle becomes complete.
type Correlator struct {
	store  Store
	scorer Scorer
	logger *slog.Logger
}

// New creates a Correlator.
func New(store Store, scorer Scorer, logger *slog.Logger) *Correlator {
	return &Correlator{store: store, scorer: scorer, logger: logger}
}

// Ingest merges one validated event into its bundle, then attempts the
// scoring claim. The merge switches over the closed event sum; each arm
// writes only its own leg.
func (c *Correlator) Ingest(ctx context.Context, ev *events.Event, receivedAt time.Time) error {
	ctx, span := traces.StartSpan(ctx, "correlate",
		traces.CorrelationID(ev.CorrelationID),
		traces.EventType(string(ev.Type)),
	)
	defer span.End()

	var err error
	switch {
	case ev.Order != nil:
		err = c.store.UpsertOrderLeg(ctx, ev.CorrelationID, OrderLeg{
			OrderID:    ev.Order.OrderID,
			MerchantID: ev.Order.MerchantID,
			CustomerID: ev.Order.CustomerID,
			Payload:    ev.Raw,
			ReceivedAt: receivedAt,
		})
	case ev.Payment != nil:
		err = c.store.UpsertPaymentLeg(ctx, ev.CorrelationID, PaymentLeg{
			PaymentID:  ev.Payment.PaymentID,
			BinCountry: ev.Payment.BinCountry,
			Payload:    ev.Raw,
			ReceivedAt: receivedAt,
		})
	case ev.Dispute != nil:
		// The dispute event carries no dedicated dispute id, so the envelope
		// id is the dispute identity.
		err = c.store.UpsertDisputeLeg(ctx, ev.CorrelationID, DisputeLeg{
			DisputeID:  ev.ID,
			ReasonCode: ev.Dispute.ReasonCode,
			Payload:    ev.Raw,
			ReceivedAt: receivedAt,
		})
	default:
		return fmt.Errorf("event %s has no payload leg", ev.ID)
	}
	if err != nil {
		return fmt.Errorf("merge %s leg: %w", ev.Type, err)
	}

	claimed, err := c.store.ClaimForScoring(ctx, ev.CorrelationID, time.Now())
	if err != nil {
		return fmt.Errorf("claim scoring: %w", err)
	}
	if !claimed {
		return nil
	}

	metrics.BundlesCompleted.Inc()
	c.logger.Info("bundle complete, scoring claimed", "correlation_id", ev.CorrelationID)

	if err := c.scorer.Score(ctx, ev.CorrelationID); err != nil {
		return fmt.Errorf("score %s: %w", ev.CorrelationID, err)
	}
	return nil
}
