// NetSentry - risk fusion and graduated response daemon
package main

import (
	"context"
	"os"

	"github.com/rvail/netsentry/internal/config"
	"github.com/rvail/netsentry/internal/logging"
	"github.com/rvail/netsentry/internal/server"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	logger := logging.New("info", "text")

	logger.Info("starting netsentry",
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
		"monitoring_interval", cfg.MonitoringInterval.String(),
		"block_timeout", cfg.BlockTimeout.String(),
	)

	srv, err := server.New(cfg, server.WithLogger(logging.New(cfg.LogLevel, cfg.LogFormat)))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
