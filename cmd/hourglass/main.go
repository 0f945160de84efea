package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"time"

	"golang.org/x/time/rate"

	"github.com/seantiz/hourglass/internal/api"
	"github.com/seantiz/hourglass/internal/clock"
	"github.com/seantiz/hourglass/internal/config"
	"github.com/seantiz/hourglass/internal/engine"
	"github.com/seantiz/hourglass/internal/registry"
	"github.com/seantiz/hourglass/internal/store"
)

// drainTimeout bounds how long live operations get to record their
// cancellation after the server stops.
const drainTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatalf("hourglass: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("hourglass: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"max_duration", cfg.MaxDuration.String(),
		"max_active", cfg.MaxActive,
	)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	c := clock.System{}
	mgr := engine.NewManager(registry.New(c), c, engine.Config{
		MaxDuration: cfg.MaxDuration,
		MaxActive:   cfg.MaxActive,
		Retention:   cfg.Retention,
	}, logger, engine.WithArchive(db))

	if cfg.CleanupSchedule != "" && cfg.Retention > 0 {
		janitor, err := engine.NewJanitor(mgr, cfg.CleanupSchedule, cfg.Retention, logger)
		if err != nil {
			return err
		}
		janitor.Start()
		defer func() { <-janitor.Stop().Done() }()
	}

	var limiter *rate.Limiter
	if cfg.StartRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.StartRate), max(1, int(math.Ceil(cfg.StartRate))))
	}

	srv := api.NewServer(cfg.ListenAddr, mgr, db, limiter, logger)
	runErr := srv.Run()

	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := mgr.Shutdown(ctx); err != nil {
		logger.Error("operations did not drain", "error", err)
	}

	return runErr
}
