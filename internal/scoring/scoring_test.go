package scoring

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chargeflow/risk-engine/internal/correlation"
	"github.com/chargeflow/risk-engine/internal/history"
)

// fixedSignals returns preset values regardless of input.
type fixedSignals struct {
	ip, device, email, bin, chargeback int
}

func (f fixedSignals) IPVelocity(string, []string) int          { return f.ip }
func (f fixedSignals) DeviceReuse(string, []string) int         { return f.device }
func (f fixedSignals) EmailDomainReputation(string) int         { return f.email }
func (f fixedSignals) BINCountryMismatch(string, string) int    { return f.bin }
func (f fixedSignals) ChargebackHistory(string, string) int     { return f.chargeback }

type capturingPublisher struct {
	mu     sync.Mutex
	events []string
	data   []any
}

func (p *capturingPublisher) Publish(event string, data any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	p.data = append(p.data, data)
}

func seedBundle(t *testing.T, bundles correlation.Store, corrID string) {
	t.Helper()
	ctx := context.Background()
	orderPayload := json.RawMessage(`{"id":"evt-o","data":{
		"order_id":"ord_1","merchant_id":"mer_1","customer_id":"cus_1",
		"amt":99.5,"currency":"USD","email":"alice@example.com",
		"billing_country":"US","ip_address":"10.0.0.1",
		"device_fingerprint":"fp-abc"}}`)
	paymentPayload := json.RawMessage(`{"id":"evt-p","data":{
		"orderId":"ord_1","paymentId":"pay_1","amount":99.5,
		"currency":"USD","binCountry":"BR"}}`)
	disputePayload := json.RawMessage(`{"id":"evt-d","data":{
		"order_id":"ord_1","reason_code":"FRAUD","amt":99.5}}`)

	require.NoError(t, bundles.UpsertOrderLeg(ctx, corrID, correlation.OrderLeg{
		OrderID: "ord_1", MerchantID: "mer_1", CustomerID: "cus_1",
		Payload: orderPayload, ReceivedAt: time.Now(),
	}))
	require.NoError(t, bundles.UpsertPaymentLeg(ctx, corrID, correlation.PaymentLeg{
		PaymentID: "pay_1", BinCountry: "BR",
		Payload: paymentPayload, ReceivedAt: time.Now(),
	}))
	require.NoError(t, bundles.UpsertDisputeLeg(ctx, corrID, correlation.DisputeLeg{
		DisputeID: "evt-d", ReasonCode: "FRAUD",
		Payload: disputePayload, ReceivedAt: time.Now(),
	}))
}

func newTestScorer(bundles correlation.Store, scores Store, hist history.Store, sig SignalProvider, pub Publisher) *Scorer {
	return New(bundles, scores, hist, sig, pub, time.Hour, slog.Default())
}

func TestScoreComputesAndPersists(t *testing.T) {
	bundles := correlation.NewMemoryStore()
	scores := NewMemoryStore()
	hist := history.NewMemoryStore()
	pub := &capturingPublisher{}
	seedBundle(t, bundles, "corr-1")

	sc := newTestScorer(bundles, scores, hist, fixedSignals{ip: 10, device: 5, email: 3, bin: 15, chargeback: 7}, pub)
	require.NoError(t, sc.Score(context.Background(), "corr-1"))

	got, err := scores.GetByOrderID(context.Background(), "ord_1")
	require.NoError(t, err)
	assert.Equal(t, 40, got.TotalScore)
	assert.Equal(t, LevelMedium, got.RiskLevel)
	assert.Equal(t, "corr-1", got.CorrelationID)
	assert.Equal(t, "mer_1", got.MerchantID)
	assert.True(t, got.ExpiresAt.After(got.ScoredAt))
	assert.False(t, got.Expired(time.Now()))

	// history grew from the order's identifiers
	known, err := hist.KnownFor(context.Background(), "cus_1")
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.1"}, known.IPs)
	assert.Equal(t, []string{"fp-abc"}, known.Devices)

	require.Equal(t, []string{"score.computed"}, pub.events)
	payload, ok := pub.data[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ord_1", payload["orderId"])
	assert.Equal(t, 40, payload["totalScore"])
}

func TestRiskLevelThresholds(t *testing.T) {
	cases := []struct {
		total int
		level string
	}{
		{0, LevelLow},
		{29, LevelLow},
		{30, LevelMedium},
		{59, LevelMedium},
		{60, LevelHigh},
		{79, LevelHigh},
		{80, LevelCritical},
		{100, LevelCritical},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.level, riskLevel(tc.total), "total=%d", tc.total)
	}
}

func TestSignalsClampedToRange(t *testing.T) {
	bundles := correlation.NewMemoryStore()
	scores := NewMemoryStore()
	seedBundle(t, bundles, "corr-clamp")

	sc := newTestScorer(bundles, scores, history.NewMemoryStore(),
		fixedSignals{ip: 500, device: -3, email: 20, bin: 20, chargeback: 20}, nil)
	require.NoError(t, sc.Score(context.Background(), "corr-clamp"))

	got, err := scores.GetByOrderID(context.Background(), "ord_1")
	require.NoError(t, err)
	assert.Equal(t, MaxSignal, got.IPVelocity)
	assert.Equal(t, 0, got.DeviceReuse)
	assert.Equal(t, 80, got.TotalScore)
	assert.Equal(t, LevelCritical, got.RiskLevel)
}

func TestRescoreIsIdempotent(t *testing.T) {
	bundles := correlation.NewMemoryStore()
	scores := NewMemoryStore()
	hist := history.NewMemoryStore()
	seedBundle(t, bundles, "corr-twice")

	sc := newTestScorer(bundles, scores, hist, fixedSignals{ip: 4}, nil)
	require.NoError(t, sc.Score(context.Background(), "corr-twice"))
	require.NoError(t, sc.Score(context.Background(), "corr-twice"))

	got, err := scores.GetByOrderID(context.Background(), "ord_1")
	require.NoError(t, err)
	assert.Equal(t, 4, got.TotalScore)

	known, _ := hist.KnownFor(context.Background(), "cus_1")
	assert.Len(t, known.IPs, 1)
}

func TestScoreMissingBundleIsNoop(t *testing.T) {
	sc := newTestScorer(correlation.NewMemoryStore(), NewMemoryStore(),
		history.NewMemoryStore(), fixedSignals{}, nil)
	assert.NoError(t, sc.Score(context.Background(), "corr-missing"))
}

func TestScoreExpiry(t *testing.T) {
	s := &Score{ExpiresAt: time.Now().Add(-time.Minute)}
	assert.True(t, s.Expired(time.Now()))
}
