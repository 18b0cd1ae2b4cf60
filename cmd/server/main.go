/*
main.go - Application entry point

PURPOSE:
  Starts the installment console backend: schedule preview, draft editing
  and submission of schedules to the Policy API.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration from the environment, then apply flags
  2. Initialize logging, metrics and tracing
  3. Open the SQLite draft store
  4. Build the Policy API client (circuit breaker + retry) and submitter
  5. Configure the HTTP router and start the draft sweeper
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides PORT, default: 8080)
  -db      SQLite database path (overrides DB_PATH, default: ./drafts.db)
           Use ":memory:" for an in-memory database

ENVIRONMENT:
  See config/config.go. The Policy API credentials come from
  POLICY_API_EMAIL and POLICY_API_PASSWORD.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the sweeper (waits for a running sweep)
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Flush traces, close the database
  5. Exit

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Draft store
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/policy-installments/api"
	"github.com/warp/policy-installments/config"
	"github.com/warp/policy-installments/installment"
	"github.com/warp/policy-installments/observability"
	"github.com/warp/policy-installments/policyapi"
	"github.com/warp/policy-installments/resilience"
	"github.com/warp/policy-installments/store/sqlite"
	"github.com/warp/policy-installments/submit"
	"go.uber.org/zap"
)

const serviceName = "policy-installments"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Flags
	flag.IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	flag.Parse()

	logger := observability.NewLogger(cfg.LogLevel)
	os.Exit(exitCode(run(cfg, logger), logger))
}

// exitCode logs a startup or serve failure and flushes the logger. run's
// deferred cleanups have already finished when it is called, and os.Exit
// skips defers, so the flush happens here.
func exitCode(err error, logger *zap.Logger) int {
	code := 0
	if err != nil {
		logger.Error("server failed", zap.Error(err))
		code = 1
	}
	_ = logger.Sync()
	return code
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	metrics := observability.NewMetrics()

	shutdownTracing, err := observability.InitTracing(ctx, serviceName, cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}()

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	// Policy API
	client := policyapi.New(cfg.PolicyAPIURL, policyapi.Options{
		HTTPClient: &http.Client{Timeout: cfg.HTTPTimeout},
		Breaker:    resilience.NewCircuitBreaker("policy-api"),
		Retry: resilience.Config{
			MaxRetries:     cfg.MaxRetries,
			InitialBackoff: cfg.InitialBackoff,
		},
		Credentials: policyapi.Credentials{
			Email:    cfg.PolicyAPIEmail,
			Password: cfg.PolicyAPIPassword,
		},
		Logger:  logger.Named("policyapi"),
		Metrics: metrics,
	})
	if cfg.PolicyAPIEmail == "" {
		logger.Warn("POLICY_API_EMAIL is not set; Policy API calls will fail to authenticate")
	}

	submitter := submit.NewSubmitter(client, cfg.SubmitConcurrency, metrics, logger.Named("submit"))

	// Initialize handler
	handler := api.NewHandler(api.Deps{
		Drafts:    store,
		Policies:  client,
		Submitter: submitter,
		Generator: &installment.Generator{Overflow: cfg.MonthOverflow},
		Clock:     installment.SystemClock{Location: cfg.StatusLocation},
		Metrics:   metrics,
		Logger:    logger.Named("api"),
	})

	// Create router
	router := api.NewRouter(handler, api.RouterOptions{
		CORSOrigins: cfg.CORSOrigins,
		Metrics:     metrics,
		Logger:      logger.Named("http"),
	})

	sweeper, err := api.NewDraftSweeper(store, api.SweeperConfig{
		TTL:      cfg.DraftTTL,
		Schedule: cfg.SweepSchedule,
		Metrics:  metrics,
		Logger:   logger.Named("sweeper"),
	})
	if err != nil {
		return err
	}
	sweeper.Start()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.Int("port", cfg.Port),
			zap.String("db", cfg.DBPath),
			zap.String("policy_api", cfg.PolicyAPIURL),
			zap.Stringer("month_overflow", cfg.MonthOverflow),
			zap.Stringer("status_timezone", cfg.StatusLocation),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("shutting down server", zap.String("signal", sig.String()))
	case err := <-serverErr:
		<-sweeper.Stop().Done()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	select {
	case <-sweeper.Stop().Done():
	case <-shutdownCtx.Done():
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
