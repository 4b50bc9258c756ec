// Ticketdesk settlement engine - payment verification, ledger and payouts
// for an event ticketing marketplace.
package main

import (
	"context"
	"os"

	"github.com/Oltking/hdticketdesk-sub002/internal/config"
	"github.com/Oltking/hdticketdesk-sub002/internal/logging"
	"github.com/Oltking/hdticketdesk-sub002/internal/server"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	// Create logger
	logger := logging.New("info", "text")

	logger.Info("starting settlement engine",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"env", cfg.Env,
		"fee_rate", cfg.PlatformFeeRate.String(),
		"maturation_hours", cfg.MaturationHours,
	)

	// Create and run server
	srv, err := server.New(cfg, server.WithLogger(logger))
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
