package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chargeflow/risk-engine/internal/config"
	"github.com/chargeflow/risk-engine/internal/correlation"
	"github.com/chargeflow/risk-engine/internal/eventlog"
	"github.com/chargeflow/risk-engine/internal/kafkastats"
	"github.com/chargeflow/risk-engine/internal/scoring"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig() *config.Config {
	return &config.Config{
		Port:          "0",
		Env:           "development",
		LogLevel:      "error",
		KafkaBrokers:  []string{"localhost:9092"},
		TopicOrders:   "orders.v1",
		TopicPayments: "payments.v1",
		TopicDisputes: "disputes.v1",
		ConsumerGroup: "risk-engine-consumer",
		ScoreTTL:      time.Hour,
	}
}

type stubStats struct {
	stats *kafkastats.Stats
	err   error
}

func (s stubStats) Fetch(context.Context) (*kafkastats.Stats, error) {
	return s.stats, s.err
}

func newTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	opts = append([]Option{
		WithLogger(slog.Default()),
		WithStatsFetcher(stubStats{stats: &kafkastats.Stats{FetchedAt: time.Now()}}),
	}, opts...)
	srv, err := New(testConfig(), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return srv
}

func doGet(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	return body
}

func seedScore(t *testing.T, srv *Server, corrID string, expiresAt time.Time) {
	t.Helper()
	ctx := context.Background()
	if err := srv.bundles.UpsertOrderLeg(ctx, corrID, correlation.OrderLeg{
		OrderID: "ord_1", MerchantID: "mer_1", CustomerID: "cus_1",
		Payload: []byte(`{"data":{}}`), ReceivedAt: time.Now(),
	}); err != nil {
		t.Fatal(err)
	}
	if err := srv.bundles.UpsertDisputeLeg(ctx, corrID, correlation.DisputeLeg{
		DisputeID: "evt-d", ReasonCode: "FRAUD",
		Payload: []byte(`{"data":{}}`), ReceivedAt: time.Now(),
	}); err != nil {
		t.Fatal(err)
	}
	if err := srv.scores.Upsert(ctx, &scoring.Score{
		CorrelationID: corrID, OrderID: "ord_1", MerchantID: "mer_1", CustomerID: "cus_1",
		TotalScore: 65, RiskLevel: scoring.LevelHigh,
		ScoredAt: time.Now(), ExpiresAt: expiresAt,
	}); err != nil {
		t.Fatal(err)
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)
	w := doGet(t, srv, "/health")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["status"] != "ok" {
		t.Errorf("status field = %v", body["status"])
	}
	if _, ok := body["uptime"].(float64); !ok {
		t.Errorf("uptime missing: %v", body)
	}
}

func TestScoreNotFound(t *testing.T) {
	srv := newTestServer(t)
	w := doGet(t, srv, "/scores/ord_missing")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
	if body := decodeBody(t, w); body["status"] != "not_found" {
		t.Errorf("body = %v", body)
	}
}

func TestScorePending(t *testing.T) {
	srv := newTestServer(t)
	err := srv.bundles.UpsertOrderLeg(context.Background(), "corr-p", correlation.OrderLeg{
		OrderID: "ord_p", MerchantID: "mer_1",
		Payload: []byte(`{"data":{}}`), ReceivedAt: time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}

	w := doGet(t, srv, "/scores/ord_p")
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["status"] != "pending" {
		t.Errorf("status field = %v", body["status"])
	}
	missing, _ := body["missingEvents"].([]any)
	if len(missing) != 2 {
		t.Errorf("missingEvents = %v, want payment and dispute", missing)
	}
}

func TestScoreFound(t *testing.T) {
	srv := newTestServer(t)
	seedScore(t, srv, "corr-f", time.Now().Add(time.Hour))

	w := doGet(t, srv, "/scores/ord_1")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["status"] != "found" {
		t.Fatalf("body = %v", body)
	}
	data := body["data"].(map[string]any)
	if data["riskLevel"] != "HIGH" || data["totalScore"] != float64(65) {
		t.Errorf("data = %v", data)
	}
	if data["hasDispute"] != true || data["disputeReason"] != "FRAUD" {
		t.Errorf("dispute fields = %v / %v", data["hasDispute"], data["disputeReason"])
	}
	signals := data["signals"].(map[string]any)
	for _, key := range []string{"ipVelocity", "deviceReuse", "emailDomain", "binMismatch", "chargebackHistory"} {
		if _, ok := signals[key]; !ok {
			t.Errorf("missing signal %s", key)
		}
	}
}

func TestScoreExpired(t *testing.T) {
	srv := newTestServer(t)
	seedScore(t, srv, "corr-e", time.Now().Add(-time.Minute))

	w := doGet(t, srv, "/scores/ord_1")
	if w.Code != http.StatusGone {
		t.Fatalf("status = %d", w.Code)
	}
	if body := decodeBody(t, w); body["status"] != "expired" {
		t.Errorf("body = %v", body)
	}
}

func TestScoreByMerchant(t *testing.T) {
	srv := newTestServer(t)
	seedScore(t, srv, "corr-m", time.Now().Add(time.Hour))

	w := doGet(t, srv, "/scores?merchant=mer_1&order=ord_1")
	if w.Code != http.StatusOK {
		t.Fatalf("owner lookup status = %d", w.Code)
	}

	w = doGet(t, srv, "/scores?merchant=mer_other&order=ord_1")
	if w.Code != http.StatusNotFound {
		t.Fatalf("foreign merchant status = %d, want 404", w.Code)
	}

	w = doGet(t, srv, "/scores?merchant=mer_1")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing order param status = %d, want 400", w.Code)
	}
}

func TestEventsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	for _, id := range []string{"evt-1", "evt-2"} {
		entry := &eventlog.RawEvent{
			EventID:       id,
			Topic:         "orders.v1",
			EventType:     "order.created",
			CorrelationID: "corr-" + id,
			Payload:       []byte(`{}`),
			ReceivedAt:    time.Now(),
		}
		if err := srv.eventLog.Append(ctx, entry); err != nil {
			t.Fatal(err)
		}
	}

	w := doGet(t, srv, "/events")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["count"] != float64(2) {
		t.Errorf("count = %v", body["count"])
	}

	w = doGet(t, srv, "/events?topic=payments.v1")
	if body := decodeBody(t, w); body["count"] != float64(0) {
		t.Errorf("filtered count = %v", body["count"])
	}

	w = doGet(t, srv, "/events?limit=abc")
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", w.Code)
	}
}

func TestKafkaStatsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	w := doGet(t, srv, "/kafka/stats")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	failing := newTestServer(t, WithStatsFetcher(stubStats{err: errors.New("brokers down")}))
	w = doGet(t, failing, "/kafka/stats")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("failing fetcher status = %d, want 503", w.Code)
	}
}

func TestDBTablesWithoutDatabase(t *testing.T) {
	srv := newTestServer(t)
	w := doGet(t, srv, "/db/tables")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 in memory mode", w.Code)
	}
}

func TestCORSHeaders(t *testing.T) {
	srv := newTestServer(t)
	w := doGet(t, srv, "/health")
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("allow-origin = %q", got)
	}

	req := httptest.NewRequest(http.MethodOptions, "/scores/ord_1", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d", rec.Code)
	}
}
