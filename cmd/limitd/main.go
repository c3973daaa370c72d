/*
main.go - Application entry point

PURPOSE:
  Starts the expense-limit service: SQLite store, limit engine, persistent
  job scheduler, and the HTTP surface the dialogue layer talks to.

STARTUP SEQUENCE:
  1. Load configuration (.env / environment)
  2. Initialize logger and SQLite store (migrations run here)
  3. Build engine + ledger, register scheduler handlers
  4. Start scheduler loop and HTTP server
  5. Graceful shutdown on SIGINT/SIGTERM

ENVIRONMENT:
  ENV             development | production (default: development)
  PORT            HTTP port (default: 8080)
  DB_PATH         SQLite path, ":memory:" allowed (default: limits.db)
  SCHED_INTERVAL  scheduler polling interval (default: 30s)

SEE ALSO:
  - api/server.go: Routes
  - sched/scheduler.go: Job loop
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/budgetbot/limit-engine/api"
	"github.com/budgetbot/limit-engine/config"
	"github.com/budgetbot/limit-engine/ledger"
	"github.com/budgetbot/limit-engine/limits"
	"github.com/budgetbot/limit-engine/logger"
	"github.com/budgetbot/limit-engine/sched"
	"github.com/budgetbot/limit-engine/store/sqlite"
)

func main() {
	logger.Init(os.Getenv("ENV"))
	defer logger.Sync()

	if err := run(); err != nil {
		logger.Get().Fatalf("fatal: %v", err)
	}
}

func run() error {
	log := logger.Get()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer store.Close()

	scheduler := sched.New(store, log).WithInterval(cfg.SchedInterval)
	engine := limits.NewEngine(store, scheduler, log)
	ledgerSvc := ledger.NewService(store, store, engine, log)

	scheduler.Register(limits.JobKindRollover, func(ctx context.Context, job sched.Job) error {
		return engine.Rollover(ctx, job.UserID, job.UserTitle)
	})
	scheduler.Register(limits.JobKindExpire, func(ctx context.Context, job sched.Job) error {
		return engine.Expire(ctx, job.UserID, job.UserTitle)
	})

	scheduler.Start()
	defer scheduler.Stop()

	handler := api.NewHandler(engine, ledgerSvc, store, log)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infow("server starting", "port", cfg.Port, "db", cfg.DBPath)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	log.Info("server stopped")
	return nil
}
