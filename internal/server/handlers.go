package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chargeflow/risk-engine/internal/correlation"
	"github.com/chargeflow/risk-engine/internal/eventlog"
	"github.com/chargeflow/risk-engine/internal/logging"
	"github.com/chargeflow/risk-engine/internal/scoring"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"uptime":    time.Since(s.startedAt).Seconds(),
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// handleScoreByOrder serves GET /scores/:orderId.
func (s *Server) handleScoreByOrder(c *gin.Context) {
	s.respondScore(c, c.Param("orderId"))
}

// handleScoreByMerchant serves GET /scores?merchant=&order=. The merchant
// must own the order; an order that exists under another merchant reads as
// not found rather than leaking its existence.
func (s *Server) handleScoreByMerchant(c *gin.Context) {
	merchant := c.Query("merchant")
	order := c.Query("order")
	if merchant == "" || order == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Both 'merchant' and 'order' query parameters are required",
		})
		return
	}

	_, err := s.bundles.GetOwned(c.Request.Context(), order, merchant)
	if errors.Is(err, correlation.ErrBundleNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"status": "not_found",
			"error":  "No order " + order + " found for merchant " + merchant,
		})
		return
	}
	if err != nil {
		s.internalError(c, "ownership lookup failed", err)
		return
	}
	s.respondScore(c, order)
}

// respondScore implements the four-way score contract: 200 found, 202
// pending with the missing legs, 404 unknown order, 410 expired.
func (s *Server) respondScore(c *gin.Context, orderID string) {
	ctx := c.Request.Context()

	score, err := s.scores.GetByOrderID(ctx, orderID)
	switch {
	case err == nil:
		if score.Expired(time.Now()) {
			c.JSON(http.StatusGone, gin.H{
				"status":    "expired",
				"error":     "Score for " + orderID + " has expired",
				"expiredAt": score.ExpiresAt,
			})
			return
		}
		bundle, err := s.bundles.Get(ctx, score.CorrelationID)
		if err != nil && !errors.Is(err, correlation.ErrBundleNotFound) {
			s.internalError(c, "bundle lookup failed", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status": "found",
			"data":   scoreResponse(score, bundle),
		})

	case errors.Is(err, scoring.ErrScoreNotFound):
		bundle, err := s.bundles.GetByOrderID(ctx, orderID)
		if errors.Is(err, correlation.ErrBundleNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"status": "not_found",
				"error":  "No score found for order " + orderID,
			})
			return
		}
		if err != nil {
			s.internalError(c, "bundle lookup failed", err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{
			"status":        "pending",
			"message":       "Order found but scoring is not complete yet",
			"receivedAt":    bundle.CreatedAt,
			"missingEvents": bundle.MissingLegs(),
		})

	default:
		s.internalError(c, "score lookup failed", err)
	}
}

func scoreResponse(score *scoring.Score, bundle *correlation.Bundle) gin.H {
	resp := gin.H{
		"correlationId": score.CorrelationID,
		"orderId":       score.OrderID,
		"merchantId":    score.MerchantID,
		"customerId":    score.CustomerID,
		"totalScore":    score.TotalScore,
		"riskLevel":     score.RiskLevel,
		"signals": gin.H{
			"ipVelocity":        score.IPVelocity,
			"deviceReuse":       score.DeviceReuse,
			"emailDomain":       score.EmailDomain,
			"binMismatch":       score.BINMismatch,
			"chargebackHistory": score.ChargebackHistory,
		},
		"hasDispute":    false,
		"disputeReason": nil,
		"scoredAt":      score.ScoredAt,
		"expiresAt":     score.ExpiresAt,
	}
	if bundle != nil && bundle.DisputeID != "" {
		resp["hasDispute"] = true
		resp["disputeReason"] = bundle.DisputeReasonCode
	}
	return resp
}

// handleEvents serves GET /events?limit=&topic=&since= from the durable
// event log, newest first.
func (s *Server) handleEvents(c *gin.Context) {
	q := eventlog.Query{Topic: c.Query("topic")}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
			return
		}
		q.Limit = n
	}
	if raw := c.Query("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be an RFC 3339 timestamp"})
			return
		}
		q.Since = since
	}

	rows, err := s.eventLog.Recent(c.Request.Context(), q)
	if err != nil {
		s.internalError(c, "event log query failed", err)
		return
	}

	data := make([]gin.H, 0, len(rows))
	for _, r := range rows {
		data = append(data, gin.H{
			"id":            r.ID,
			"eventId":       r.EventID,
			"topic":         r.Topic,
			"type":          r.EventType,
			"correlationId": r.CorrelationID,
			"receivedAt":    r.ReceivedAt,
			"payload":       r.Payload,
		})
	}
	c.JSON(http.StatusOK, gin.H{"count": len(data), "data": data})
}

// handleKafkaStats serves GET /kafka/stats from the snapshot cache.
func (s *Server) handleKafkaStats(c *gin.Context) {
	stats, err := s.stats.Get(c.Request.Context())
	if err != nil {
		logging.L(c.Request.Context()).Error("kafka stats fetch failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Failed to fetch Kafka stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// tableQueries returns the most recent rows of each schema table, payloads
// reduced to presence booleans.
var tableQueries = map[string]string{
	"seen_events": `
		SELECT event_id, topic, event_type, received_at
		FROM seen_events ORDER BY received_at DESC LIMIT 20`,
	"raw_events": `
		SELECT id, event_id, topic, event_type, correlation_id, received_at
		FROM raw_events ORDER BY received_at DESC LIMIT 20`,
	"correlations": `
		SELECT correlation_id, order_id, merchant_id, customer_id,
		       payment_id, bin_country, dispute_id, dispute_reason_code,
		       order_received_at, payment_received_at, dispute_received_at,
		       scored_at, created_at, updated_at,
		       (order_payload IS NOT NULL)   AS has_order,
		       (payment_payload IS NOT NULL) AS has_payment,
		       (dispute_payload IS NOT NULL) AS has_dispute
		FROM correlations ORDER BY updated_at DESC LIMIT 20`,
	"risk_scores": `
		SELECT id, correlation_id, order_id, merchant_id, customer_id,
		       total_score, risk_level,
		       sig_ip_velocity, sig_device_reuse, sig_email_domain,
		       sig_bin_mismatch, sig_chargeback_history,
		       scored_at, expires_at
		FROM risk_scores ORDER BY scored_at DESC LIMIT 20`,
	"customer_ips": `
		SELECT id, customer_id, ip_address, seen_at
		FROM customer_ips ORDER BY seen_at DESC LIMIT 20`,
	"customer_devices": `
		SELECT id, customer_id, device_fingerprint, seen_at
		FROM customer_devices ORDER BY seen_at DESC LIMIT 20`,
}

// handleDBTables serves GET /db/tables, a debug view of the schema. It needs
// a real database; demo mode gets a 503.
func (s *Server) handleDBTables(c *gin.Context) {
	if s.db == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "database not configured"})
		return
	}
	ctx := c.Request.Context()

	tables := make(gin.H, len(tableQueries))
	for name, query := range tableQueries {
		rows, err := s.db.QueryContext(ctx, query)
		if err != nil {
			s.internalError(c, "table query failed", err)
			return
		}
		mapped, err := rowsToMaps(rows)
		rows.Close()
		if err != nil {
			s.internalError(c, "table scan failed", err)
			return
		}
		tables[name] = mapped
	}

	c.JSON(http.StatusOK, gin.H{
		"tables":    tables,
		"fetchedAt": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (s *Server) internalError(c *gin.Context, msg string, err error) {
	logging.L(c.Request.Context()).Error(msg, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
}
