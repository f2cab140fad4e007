// Risk engine - real-time transaction fraud scoring
package main

import (
	"context"
	"os"

	"github.com/chargeflow/risk-engine/internal/config"
	"github.com/chargeflow/risk-engine/internal/logging"
	"github.com/chargeflow/risk-engine/internal/server"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	logger := logging.New("info", "text")

	logger.Info("starting risk-engine",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"env", cfg.Env,
		"brokers", cfg.KafkaBrokers,
		"topics", cfg.Topics(),
		"group_id", cfg.ConsumerGroup,
	)

	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	if err := srv.Run(context.Background()); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
