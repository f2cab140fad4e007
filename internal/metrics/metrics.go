// Package metrics provides Prometheus instrumentation for the risk engine.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskengine",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "riskengine",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// EventsConsumed counts broker messages by topic and processing result.
	EventsConsumed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskengine",
			Name:      "events_consumed_total",
			Help:      "Broker messages processed by topic and result (accepted, duplicate, invalid, error).",
		},
		[]string{"topic", "result"},
	)

	// ScoresComputed counts risk scores by resulting level.
	ScoresComputed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskengine",
			Name:      "scores_computed_total",
			Help:      "Risk scores computed by risk level.",
		},
		[]string{"risk_level"},
	)

	// BundlesCompleted counts correlation bundles that reached all three legs.
	BundlesCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "riskengine",
			Name:      "bundles_completed_total",
			Help:      "Correlation bundles that collected all three legs.",
		},
	)

	// BroadcastDrops counts messages dropped on full subscriber queues.
	BroadcastDrops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "riskengine",
			Name:      "broadcast_drops_total",
			Help:      "Stream messages dropped because a subscriber queue was full.",
		},
	)

	// ActiveStreamSubscribers tracks connected stream subscribers.
	ActiveStreamSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "riskengine",
			Name:      "active_stream_subscribers",
			Help:      "Number of currently connected stream subscribers.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		EventsConsumed,
		ScoresComputed,
		BundlesCompleted,
		BroadcastDrops,
		ActiveStreamSubscribers,
	)
}

// Middleware records request counts and latency for every route.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())

		HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// Handler exposes the Prometheus metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
