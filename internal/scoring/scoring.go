// Package scoring turns a complete correlation bundle into a five-signal
// risk score. The signal heuristics themselves live behind SignalProvider;
// this package owns the orchestration: load context, clamp, persist, record
// history, broadcast.
package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chargeflow/risk-engine/internal/correlation"
	"github.com/chargeflow/risk-engine/internal/events"
	"github.com/chargeflow/risk-engine/internal/history"
	"github.com/chargeflow/risk-engine/internal/metrics"
	"github.com/chargeflow/risk-engine/internal/traces"
)

// Risk levels, ordered by severity.
const (
	LevelLow      = "LOW"
	LevelMedium   = "MEDIUM"
	LevelHigh     = "HIGH"
	LevelCritical = "CRITICAL"
)

// Each signal contributes at most MaxSignal points.
const MaxSignal = 20

// DefaultTTL bounds how long a computed score stays servable.
const DefaultTTL = 24 * time.Hour

// ErrScoreNotFound is returned when no score exists for an order.
var ErrScoreNotFound = errors.New("risk score not found")

// SignalProvider computes the five individual risk signals. Each result is
// expected in [0,MaxSignal]; the scorer clamps out-of-range values rather
// than failing the bundle.
type SignalProvider interface {
	IPVelocity(ip string, knownIPs []string) int
	DeviceReuse(fingerprint string, knownDevices []string) int
	EmailDomainReputation(email string) int
	BINCountryMismatch(binCountry, billingCountry string) int
	ChargebackHistory(merchantID, customerID string) int
}

// Score is one scored transaction.
type Score struct {
	CorrelationID string
	OrderID       string
	MerchantID    string
	CustomerID    string

	TotalScore        int
	IPVelocity        int
	DeviceReuse       int
	EmailDomain       int
	BINMismatch       int
	ChargebackHistory int

	RiskLevel string
	ScoredAt  time.Time
	ExpiresAt time.Time
}

// Expired reports whether the score's TTL has passed at the given instant.
func (s *Score) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Store persists risk scores.
type Store interface {
	// Upsert writes the score, replacing any existing score for the same
	// correlation id. Re-scoring is idempotent.
	Upsert(ctx context.Context, score *Score) error
	// GetByOrderID returns the score for an order, or ErrScoreNotFound.
	// Expired scores are still returned; callers decide how to present them.
	GetByOrderID(ctx context.Context, orderID string) (*Score, error)
}

// Publisher receives score.computed broadcasts.
type Publisher interface {
	Publish(event string, data any)
}

// Scorer orchestrates signal computation for complete bundles. It implements
// correlation.Scorer.
type Scorer struct {
	bundles   correlation.Store
	scores    Store
	history   history.Store
	signals   SignalProvider
	publisher Publisher
	ttl       time.Duration
	logger    *slog.Logger
}

// New creates a Scorer. A non-positive ttl falls back to DefaultTTL.
func New(bundles correlation.Store, scores Store, hist history.Store, signals SignalProvider, publisher Publisher, ttl time.Duration, logger *slog.Logger) *Scorer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Scorer{
		bundles:   bundles,
		scores:    scores,
		history:   hist,
		signals:   signals,
		publisher: publisher,
		ttl:       ttl,
		logger:    logger,
	}
}

// Score computes and persists the risk score for a claimed bundle, then
// records the order's identifiers into customer history and broadcasts the
// result. A missing bundle is a no-op.
func (s *Scorer) Score(ctx context.Context, correlationID string) error {
	ctx, span := traces.StartSpan(ctx, "score", traces.CorrelationID(correlationID))
	defer span.End()

	bundle, err := s.bundles.Get(ctx, correlationID)
	if err != nil {
		if errors.Is(err, correlation.ErrBundleNotFound) {
			return nil
		}
		return fmt.Errorf("load bundle: %w", err)
	}

	order, payment, err := bundlePayloads(bundle)
	if err != nil {
		return fmt.Errorf("bundle %s: %w", correlationID, err)
	}

	known, err := s.history.KnownFor(ctx, bundle.CustomerID)
	if err != nil {
		return fmt.Errorf("customer history: %w", err)
	}

	ipVelocity := clampSignal(s.signals.IPVelocity(order.IPAddress, known.IPs))
	deviceReuse := clampSignal(s.signals.DeviceReuse(order.DeviceFingerprint, known.Devices))
	emailDomain := clampSignal(s.signals.EmailDomainReputation(order.Email))
	binMismatch := clampSignal(s.signals.BINCountryMismatch(payment.BinCountry, order.BillingCountry))
	chargeback := clampSignal(s.signals.ChargebackHistory(bundle.MerchantID, bundle.CustomerID))

	total := ipVelocity + deviceReuse + emailDomain + binMismatch + chargeback
	if total > 100 {
		total = 100
	}

	now := time.Now().UTC()
	score := &Score{
		CorrelationID:     correlationID,
		OrderID:           bundle.OrderID,
		MerchantID:        bundle.MerchantID,
		CustomerID:        bundle.CustomerID,
		TotalScore:        total,
		IPVelocity:        ipVelocity,
		DeviceReuse:       deviceReuse,
		EmailDomain:       emailDomain,
		BINMismatch:       binMismatch,
		ChargebackHistory: chargeback,
		RiskLevel:         riskLevel(total),
		ScoredAt:          now,
		ExpiresAt:         now.Add(s.ttl),
	}

	if err := s.scores.Upsert(ctx, score); err != nil {
		return fmt.Errorf("persist score: %w", err)
	}

	if err := s.history.Record(ctx, history.Observation{
		CustomerID: bundle.CustomerID,
		IPAddress:  order.IPAddress,
		DeviceFP:   order.DeviceFingerprint,
	}); err != nil {
		return fmt.Errorf("record history: %w", err)
	}

	metrics.ScoresComputed.WithLabelValues(score.RiskLevel).Inc()
	s.logger.Info("score computed",
		"order_id", score.OrderID,
		"correlation_id", correlationID,
		"total_score", score.TotalScore,
		"risk_level", score.RiskLevel,
	)

	if s.publisher != nil {
		s.publisher.Publish("score.computed", scoreComputedPayload(score, bundle))
	}
	return nil
}

func riskLevel(total int) string {
	switch {
	case total >= 80:
		return LevelCritical
	case total >= 60:
		return LevelHigh
	case total >= 30:
		return LevelMedium
	default:
		return LevelLow
	}
}

func clampSignal(v int) int {
	if v < 0 {
		return 0
	}
	if v > MaxSignal {
		return MaxSignal
	}
	return v
}

// bundlePayloads extracts the typed order and payment data from the stored
// raw envelopes.
func bundlePayloads(b *correlation.Bundle) (*events.OrderData, *events.PaymentData, error) {
	var orderEnv struct {
		Data events.OrderData `json:"data"`
	}
	if err := json.Unmarshal(b.OrderPayload, &orderEnv); err != nil {
		return nil, nil, fmt.Errorf("decode order payload: %w", err)
	}
	var paymentEnv struct {
		Data events.PaymentData `json:"data"`
	}
	if err := json.Unmarshal(b.PaymentPayload, &paymentEnv); err != nil {
		return nil, nil, fmt.Errorf("decode payment payload: %w", err)
	}
	return &orderEnv.Data, &paymentEnv.Data, nil
}

func scoreComputedPayload(s *Score, b *correlation.Bundle) map[string]any {
	return map[string]any{
		"correlationId": s.CorrelationID,
		"orderId":       s.OrderID,
		"merchantId":    s.MerchantID,
		"customerId":    s.CustomerID,
		"totalScore":    s.TotalScore,
		"riskLevel":     s.RiskLevel,
		"signals": map[string]int{
			"ipVelocity":        s.IPVelocity,
			"deviceReuse":       s.DeviceReuse,
			"emailDomain":       s.EmailDomain,
			"binMismatch":       s.BINMismatch,
			"chargebackHistory": s.ChargebackHistory,
		},
		"scoredAt":  s.ScoredAt.Format(time.RFC3339Nano),
		"expiresAt": s.ExpiresAt.Format(time.RFC3339Nano),
		"flow": map[string]any{
			"orderReceivedAt":   b.OrderReceivedAt,
			"paymentReceivedAt": b.PaymentReceivedAt,
			"disputeReceivedAt": b.DisputeReceivedAt,
		},
	}
}
