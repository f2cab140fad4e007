// Package server wires the engine together and exposes the HTTP surface:
// score lookups, the event log, broker stats, the live stream, and
// operational endpoints.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/pressly/goose/v3"

	"github.com/chargeflow/risk-engine/internal/config"
	"github.com/chargeflow/risk-engine/internal/correlation"
	"github.com/chargeflow/risk-engine/internal/dedup"
	"github.com/chargeflow/risk-engine/internal/eventlog"
	"github.com/chargeflow/risk-engine/internal/events"
	"github.com/chargeflow/risk-engine/internal/history"
	"github.com/chargeflow/risk-engine/internal/ingest"
	"github.com/chargeflow/risk-engine/internal/kafkastats"
	"github.com/chargeflow/risk-engine/internal/logging"
	"github.com/chargeflow/risk-engine/internal/metrics"
	"github.com/chargeflow/risk-engine/internal/ratelimit"
	"github.com/chargeflow/risk-engine/internal/scoring"
	"github.com/chargeflow/risk-engine/internal/signals"
	"github.com/chargeflow/risk-engine/internal/stream"
	"github.com/chargeflow/risk-engine/internal/traces"
	"github.com/chargeflow/risk-engine/migrations"
)

// Server holds the engine's components and the HTTP surface over them.
type Server struct {
	cfg *config.Config

	db       *sql.DB // nil in demo mode
	hub      *stream.Hub
	eventLog eventlog.Store
	bundles  correlation.Store
	scores   scoring.Store
	consumer *ingest.Consumer
	stats    *kafkastats.Cache
	limiter  *ratelimit.Limiter

	router  *gin.Engine
	httpSrv *http.Server
	logger  *slog.Logger

	cancelRun      context.CancelFunc
	tracerShutdown func(context.Context) error
	startedAt      time.Time
	ready          atomic.Bool
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithStatsFetcher overrides the broker stats source (for testing).
func WithStatsFetcher(f kafkastats.Fetcher) Option {
	return func(s *Server) { s.stats = kafkastats.NewCache(f) }
}

// New builds a fully wired server. With DATABASE_URL set, state lives in
// Postgres and the schema is migrated on startup; otherwise everything runs
// on in-memory stores, which is enough for demos and tests.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		logger:    logging.New(cfg.LogLevel, "json"),
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.hub = stream.NewHub(s.logger)

	var (
		dedupStore dedup.Store
		histStore  history.Store
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		if err := migrate(db); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		s.db = db
		dedupStore = dedup.NewPostgresStore(db)
		s.eventLog = eventlog.NewPostgresStore(db)
		s.bundles = correlation.NewPostgresStore(db)
		s.scores = scoring.NewPostgresStore(db)
		histStore = history.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		dedupStore = dedup.NewMemoryStore()
		s.eventLog = eventlog.NewMemoryStore()
		s.bundles = correlation.NewMemoryStore()
		s.scores = scoring.NewMemoryStore()
		histStore = history.NewMemoryStore()
		s.logger.Warn("DATABASE_URL not set, using in-memory storage")
	}

	scorer := scoring.New(s.bundles, s.scores, histStore,
		signals.NewProvider(), s.hub, cfg.ScoreTTL, s.logger)
	correlator := correlation.New(s.bundles, scorer, s.logger)

	pipeline := ingest.NewPipeline(map[string]events.Type{
		cfg.TopicOrders:   events.TypeOrderCreated,
		cfg.TopicPayments: events.TypePaymentAuthorized,
		cfg.TopicDisputes: events.TypeDisputeOpened,
	}, dedupStore, s.eventLog, correlator, s.hub, s.logger)

	s.consumer = ingest.NewConsumer(ingest.ConsumerConfig{
		Brokers: cfg.KafkaBrokers,
		GroupID: cfg.ConsumerGroup,
		Topics:  cfg.Topics(),
	}, pipeline, s.logger)

	if s.stats == nil {
		s.stats = kafkastats.NewCache(kafkastats.NewClientFetcher(
			cfg.KafkaBrokers, cfg.Topics(), cfg.ConsumerGroup))
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

func migrate(db *sql.DB) error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.Up(db, ".")
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error": "internal_error",
		})
	}))

	// The dashboard is served from another origin.
	s.router.Use(corsMiddleware())

	s.limiter = ratelimit.New(ratelimit.DefaultConfig())
	s.router.Use(s.limiter.Middleware())

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/scores/:orderId", s.handleScoreByOrder)
	s.router.GET("/scores", s.handleScoreByMerchant)
	s.router.GET("/events", s.handleEvents)
	s.router.GET("/kafka/stats", s.handleKafkaStats)
	s.router.GET("/db/tables", s.handleDBTables)
	s.router.GET("/stream", stream.SSEHandler(s.hub))
	s.router.GET("/ws", stream.WSHandler(s.hub))
	s.router.GET("/metrics", metrics.Handler())
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		// The stream endpoints hold the connection open; logging them on
		// completion would only record disconnects.
		if path == "/stream" || path == "/ws" {
			return
		}

		status := c.Writer.Status()
		logger := logging.L(c.Request.Context())
		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
		}
		switch {
		case status >= 500:
			logger.Error("request completed", attrs...)
		case status >= 400:
			logger.Warn("request completed", attrs...)
		default:
			logger.Info("request completed", attrs...)
		}
	}
}

// Run starts the consumer, the background stream pushers, and the HTTP
// server, then blocks until a signal arrives or ctx ends.
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRun = cancel

	if s.cfg.OTLPEndpoint != "" {
		shutdown, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
		if err != nil {
			s.logger.Warn("tracing disabled", "error", err)
		} else {
			s.tracerShutdown = shutdown
		}
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		// No WriteTimeout: /stream and /ws hold their responses open.
		IdleTimeout: 60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go func() {
		if err := s.consumer.Run(runCtx); err != nil {
			s.logger.Error("consumer stopped", "error", err)
		}
	}()

	go s.pushKafkaStats(runCtx)
	go s.pushHeartbeat(runCtx)

	s.ready.Store(true)
	s.logger.Info("server ready")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}
	return s.Shutdown()
}

// pushKafkaStats broadcasts a broker snapshot every 10s so dashboards don't
// have to poll.
func (s *Server) pushKafkaStats(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := s.stats.Get(ctx)
			if err != nil {
				s.logger.Warn("kafka stats push failed", "error", err)
				continue
			}
			s.hub.Publish(stream.EventKafkaStats, stats)
		}
	}
}

// pushHeartbeat keeps SSE connections alive through proxies.
func (s *Server) pushHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.hub.Publish(stream.EventHeartbeat, map[string]any{
				"ts": time.Now().UTC().Format(time.RFC3339Nano),
			})
		}
	}
}

// Shutdown drains in dependency order: stop accepting HTTP, stop the
// consumer and pushers, close the stream hub, then the database.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var firstErr error
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("http shutdown error", "error", err)
			firstErr = err
		}
	}

	// Stops the consumer, the pushers, and any in-flight hub subscriptions.
	if s.cancelRun != nil {
		s.cancelRun()
	}
	s.hub.Close()
	if s.limiter != nil {
		s.limiter.Stop()
	}

	if s.tracerShutdown != nil {
		if err := s.tracerShutdown(ctx); err != nil {
			s.logger.Warn("tracer shutdown error", "error", err)
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return firstErr
}

// Router exposes the gin router for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// maskDSN hides the password in a connection string for logging.
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

func generateRequestID() string {
	return uuid.NewString()
}
