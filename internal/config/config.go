// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Kafka
	KafkaBrokers  []string
	TopicOrders   string
	TopicPayments string
	TopicDisputes string
	ConsumerGroup string

	// Scoring
	ScoreTTL time.Duration // how long a computed risk score stays valid

	// Observability
	OTLPEndpoint string // OTLP gRPC endpoint (optional, tracing disabled if empty)
}

const (
	DefaultPort          = "3001"
	DefaultEnv           = "development"
	DefaultLogLevel      = "info"
	DefaultBrokers       = "localhost:9092"
	DefaultTopicOrders   = "orders.v1"
	DefaultTopicPayments = "payments.v1"
	DefaultTopicDisputes = "disputes.v1"
	DefaultConsumerGroup = "risk-engine-consumer"
	DefaultScoreTTLHours = 24
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:          getEnv("PORT", DefaultPort),
		Env:           getEnv("ENV", DefaultEnv),
		LogLevel:      getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:   os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		KafkaBrokers:  splitList(getEnv("KAFKA_BROKERS", DefaultBrokers)),
		TopicOrders:   getEnv("TOPIC_ORDERS", DefaultTopicOrders),
		TopicPayments: getEnv("TOPIC_PAYMENTS", DefaultTopicPayments),
		TopicDisputes: getEnv("TOPIC_DISPUTES", DefaultTopicDisputes),
		ConsumerGroup: getEnv("CONSUMER_GROUP", DefaultConsumerGroup),
		ScoreTTL:      time.Duration(getEnvInt("SCORE_TTL_HOURS", DefaultScoreTTLHours)) * time.Hour,
		OTLPEndpoint:  os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Topics returns the three subscribed topics in ingest order.
func (c *Config) Topics() []string {
	return []string{c.TopicOrders, c.TopicPayments, c.TopicDisputes}
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required")
	}
	if c.TopicOrders == "" || c.TopicPayments == "" || c.TopicDisputes == "" {
		return fmt.Errorf("all three topics (TOPIC_ORDERS, TOPIC_PAYMENTS, TOPIC_DISPUTES) are required")
	}
	if c.TopicOrders == c.TopicPayments || c.TopicOrders == c.TopicDisputes || c.TopicPayments == c.TopicDisputes {
		return fmt.Errorf("topics must be distinct")
	}
	if c.ConsumerGroup == "" {
		return fmt.Errorf("CONSUMER_GROUP must not be empty")
	}
	if c.ScoreTTL <= 0 {
		return fmt.Errorf("SCORE_TTL_HOURS must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
