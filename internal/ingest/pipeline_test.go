package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chargeflow/risk-engine/internal/correlation"
	"github.com/chargeflow/risk-engine/internal/dedup"
	"github.com/chargeflow/risk-engine/internal/eventlog"
	"github.com/chargeflow/risk-engine/internal/events"
	"github.com/chargeflow/risk-engine/internal/history"
	"github.com/chargeflow/risk-engine/internal/scoring"
	"github.com/chargeflow/risk-engine/internal/signals"
)

type memPublisher struct {
	mu     sync.Mutex
	byName map[string]int
}

func (p *memPublisher) Publish(event string, _ any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.byName == nil {
		p.byName = make(map[string]int)
	}
	p.byName[event]++
}

func (p *memPublisher) count(event string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.byName[event]
}

type fixture struct {
	pipeline *Pipeline
	dedup    *dedup.MemoryStore
	log      *eventlog.MemoryStore
	bundles  *correlation.MemoryStore
	scores   *scoring.MemoryStore
	pub      *memPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.Default()
	dd := dedup.NewMemoryStore()
	log := eventlog.NewMemoryStore()
	bundles := correlation.NewMemoryStore()
	scores := scoring.NewMemoryStore()
	pub := &memPublisher{}

	scorer := scoring.New(bundles, scores, history.NewMemoryStore(),
		signals.NewProvider(), pub, time.Hour, logger)
	corr := correlation.New(bundles, scorer, logger)

	topicTypes := map[string]events.Type{
		"orders.v1":   events.TypeOrderCreated,
		"payments.v1": events.TypePaymentAuthorized,
		"disputes.v1": events.TypeDisputeOpened,
	}
	return &fixture{
		pipeline: NewPipeline(topicTypes, dd, log, corr, pub, logger),
		dedup:    dd,
		log:      log,
		bundles:  bundles,
		scores:   scores,
		pub:      pub,
	}
}

func orderMsg(corrID string) []byte {
	return []byte(fmt.Sprintf(`{
		"id":"evt-order-%s","source":"checkout","type":"order.created",
		"specversion":"1.0","time":"2026-08-30T10:00:00Z","correlationId":"%s",
		"data":{"order_id":"ord_1","merchant_id":"mer_1","customer_id":"cus_1",
		"amt":120.5,"currency":"USD","email":"alice@example.com",
		"billing_country":"US","ip_address":"10.0.0.1","device_fingerprint":"fp-a"}}`,
		corrID, corrID))
}

func paymentMsg(corrID string) []byte {
	return []byte(fmt.Sprintf(`{
		"id":"evt-payment-%s","source":"psp","type":"payment.authorized",
		"specversion":"1.0","time":"2026-08-30T10:00:01Z","correlationId":"%s",
		"data":{"orderId":"ord_1","paymentId":"pay_1","amount":120.5,
		"currency":"USD","binCountry":"US","createdAt":"2026-08-30T10:00:01Z"}}`,
		corrID, corrID))
}

func disputeMsg(corrID string) []byte {
	return []byte(fmt.Sprintf(`{
		"id":"evt-dispute-%s","source":"issuer","type":"dispute.opened",
		"specversion":"1.0","time":"2026-08-30T10:00:02Z","correlationId":"%s",
		"data":{"order_id":"ord_1","reason_code":"FRAUD","amt":120.5,
		"openedAt":"2026-08-30T10:00:02Z"}}`,
		corrID, corrID))
}

func TestPipelineFullFlowAllOrders(t *testing.T) {
	type msg struct {
		topic string
		body  func(string) []byte
	}
	order := msg{"orders.v1", orderMsg}
	payment := msg{"payments.v1", paymentMsg}
	dispute := msg{"disputes.v1", disputeMsg}

	perms := [][]msg{
		{order, payment, dispute},
		{order, dispute, payment},
		{payment, order, dispute},
		{payment, dispute, order},
		{dispute, order, payment},
		{dispute, payment, order},
	}
	for i, perm := range perms {
		t.Run(fmt.Sprintf("perm_%d", i), func(t *testing.T) {
			f := newFixture(t)
			corrID := fmt.Sprintf("corr-%d", i)
			for _, m := range perm {
				require.NoError(t, f.pipeline.Handle(context.Background(), m.topic, m.body(corrID)))
			}

			score, err := f.scores.GetByOrderID(context.Background(), "ord_1")
			require.NoError(t, err)
			assert.Equal(t, corrID, score.CorrelationID)

			assert.Equal(t, 3, f.pub.count("event.received"))
			assert.Equal(t, 1, f.pub.count("score.computed"))
			assert.Zero(t, f.pub.count("event.duplicate"))

			logged, err := f.log.Recent(context.Background(), eventlog.Query{Limit: 10})
			require.NoError(t, err)
			assert.Len(t, logged, 3)
		})
	}
}

func TestPipelineDuplicateDelivery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.pipeline.Handle(ctx, "orders.v1", orderMsg("corr-dup")))
	require.NoError(t, f.pipeline.Handle(ctx, "orders.v1", orderMsg("corr-dup")))

	assert.Equal(t, 1, f.pub.count("event.received"))
	assert.Equal(t, 1, f.pub.count("event.duplicate"))

	logged, err := f.log.Recent(ctx, eventlog.Query{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, logged, 1, "duplicates must not reach the event log")
}

func TestPipelineReplayAfterCompletionDoesNotRescore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.pipeline.Handle(ctx, "orders.v1", orderMsg("corr-r")))
	require.NoError(t, f.pipeline.Handle(ctx, "payments.v1", paymentMsg("corr-r")))
	require.NoError(t, f.pipeline.Handle(ctx, "disputes.v1", disputeMsg("corr-r")))
	require.NoError(t, f.pipeline.Handle(ctx, "disputes.v1", disputeMsg("corr-r")))

	assert.Equal(t, 1, f.pub.count("score.computed"))
}

func TestPipelineDropsMalformedJSON(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.pipeline.Handle(context.Background(), "orders.v1", []byte("{not json")))

	assert.Zero(t, f.pub.count("event.received"))
	logged, _ := f.log.Recent(context.Background(), eventlog.Query{Limit: 10})
	assert.Empty(t, logged)
}

func TestPipelineDropsSchemaViolations(t *testing.T) {
	f := newFixture(t)
	// missing data.amt and email
	bad := []byte(`{
		"id":"evt-bad","source":"checkout","type":"order.created",
		"specversion":"1.0","time":"2026-08-30T10:00:00Z","correlationId":"corr-bad",
		"data":{"order_id":"ord_1","merchant_id":"mer_1","customer_id":"cus_1"}}`)
	require.NoError(t, f.pipeline.Handle(context.Background(), "orders.v1", bad))

	assert.Zero(t, f.pub.count("event.received"))

	// rejected events are never recorded as seen, so a corrected resend with
	// the same id passes
	fixed := []byte(`{
		"id":"evt-bad","source":"checkout","type":"order.created",
		"specversion":"1.0","time":"2026-08-30T10:00:00Z","correlationId":"corr-bad",
		"data":{"order_id":"ord_1","merchant_id":"mer_1","customer_id":"cus_1",
		"amt":10,"currency":"USD","email":"a@b.co","billing_country":"US",
		"ip_address":"10.0.0.1","device_fingerprint":"fp-a"}}`)
	require.NoError(t, f.pipeline.Handle(context.Background(), "orders.v1", fixed))
	assert.Equal(t, 1, f.pub.count("event.received"))
}

func TestPipelineIgnoresUnknownTopic(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.pipeline.Handle(context.Background(), "refunds.v1", orderMsg("corr-x")))
	assert.Zero(t, f.pub.count("event.received"))
}
