/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the billing engine server: configuration, store,
  engine services, HTTP router, cron scheduler, graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags and load YAML configuration
  2. Initialize SQLite store
  3. Wire engine services into the API handler
  4. Start the cron scheduler
  5. Start the HTTP server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  YAML configuration path (optional; defaults apply without it)
  -addr    Listen address override (default from config, ":8080")
  -db      SQLite database path override; use ":memory:" for ephemeral runs
  -run-once  Execute one scheduler sweep and exit (for cron-less deploys
             and backfills)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM: stop the scheduler, drain active requests (30s
  timeout), close the database, exit.

EXAMPLES:
  ./server -config=./config.yaml
  ./server -db=":memory:" -addr=":3000"
  ./server -run-once

SEE ALSO:
  - config/config.go: Configuration schema and defaults
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/warp/billing-engine/api"
	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/config"
	"github.com/warp/billing-engine/store/sqlite"
)

func main() {
	configPath := flag.String("config", "", "YAML configuration path")
	addr := flag.String("addr", "", "listen address override")
	dbPath := flag.String("db", "", "SQLite database path override")
	runOnce := flag.Bool("run-once", false, "run one scheduler sweep and exit")
	flag.Parse()

	log := logrus.WithField("component", "server")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}
	if *addr != "" {
		cfg.ListenAddr = *addr
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}

	policy, err := cfg.PenaltyPolicy()
	if err != nil {
		log.WithError(err).Fatal("invalid penalty configuration")
	}

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize database")
	}
	defer store.Close()

	metrics := api.NewMetrics()
	handler := api.NewHandler(store, cfg.BillingCurrency(), policy, cfg.Generation.LookaheadDays, metrics)

	scheduler := api.NewScheduler(store, handler.Generator, handler.Assessor, cfg.Scheduler.Cron, metrics)
	scheduler.Enabled = cfg.Scheduler.Enabled
	handler.Scheduler = scheduler

	if *runOnce {
		run := scheduler.RunOnce(context.Background(), billing.Today(), "manual")
		log.WithFields(logrus.Fields{
			"generated":       run.Generated,
			"flagged_overdue": run.FlaggedOverdue,
			"errors":          run.Errors,
		}).Info("sweep finished")
		return
	}

	if err := scheduler.Start(); err != nil {
		log.WithError(err).Fatal("failed to start scheduler")
	}
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      api.NewRouter(handler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.ListenAddr).Info("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Fatal("server forced to shutdown")
	}
	log.Info("server stopped")
}
