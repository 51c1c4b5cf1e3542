/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the vaccine stock server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env file, then environment)
  2. Parse command-line flags (override port and database)
  3. Build the logger and the metrics registry
  4. Initialize SQLite store
  5. Build the notification fan-out (log sink, optional Redis stream)
  6. Create API handler and router
  7. Start the expiry sweeper
  8. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: HTTP_PORT or 8080)
  -db      SQLite database path (default: DB_PATH or vaccine-stock.db)
           Use ":memory:" for in-memory database

ENVIRONMENT:
  See config/config.go. The main ones:
  LOG_LEVEL, LOG_FORMAT, CRITICAL_STOCK_THRESHOLD, RETRY_MAX_ATTEMPTS,
  SWEEP_ENABLED, SWEEP_INTERVAL, REDIS_ADDR, REDIS_STREAM, CORS_ALLOWED_ORIGINS

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the sweeper
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close Redis and database connections
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/stock.db"

  # Run with in-memory database and Redis notifications
  REDIS_ADDR=localhost:6379 ./server -db=":memory:"

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/warp/vaccine-stock/api"
	"github.com/warp/vaccine-stock/config"
	"github.com/warp/vaccine-stock/logger"
	"github.com/warp/vaccine-stock/notify"
	"github.com/warp/vaccine-stock/observability"
	"github.com/warp/vaccine-stock/stock"
	"github.com/warp/vaccine-stock/store/sqlite"
)

const serviceName = "vaccine-stock"

func main() {
	cfg := config.Load()

	// Flags
	port := flag.Int("port", cfg.Server.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.Server.DBPath, "SQLite database path")
	flag.Parse()

	log, err := logger.New(cfg.Logger.Level, cfg.Logger.Format, serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, *port, *dbPath, log); err != nil {
		log.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, port int, dbPath string, log *zap.Logger) error {
	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)

	// Initialize store
	store, err := sqlite.New(dbPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	// Notifications
	dispatcher := notify.NewDispatcher(metrics).Add("log", notify.NewLogNotifier(log))
	if cfg.Redis.Enabled() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		client, err := notify.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		cancel()
		if err != nil {
			// Delivery is best effort.
			log.Warn("redis unavailable, stream notifications disabled", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		} else {
			defer client.Close()
			dispatcher.Add("redis", notify.NewRedisStreamNotifier(client, cfg.Redis.Stream))
			log.Info("publishing events to redis stream", zap.String("stream", cfg.Redis.Stream))
		}
	}

	// Initialize handler
	handler := api.NewHandler(store, api.Options{
		Clock:    stock.SystemClock,
		Notifier: dispatcher,
		Observer: metrics,
		Logger:   log,
		Retry: stock.RetryPolicy{
			MaxAttempts: cfg.Stock.RetryMaxAttempts,
			Backoff:     cfg.Stock.RetryBackoff,
		},
		CriticalThreshold: cfg.Stock.CriticalThreshold,
	})

	// Create router
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.Server.CORSAllowedOrigins,
		Metrics:        promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})

	// Expiry sweeper
	sweeper := api.NewExpirySweeper(handler.Inventory, log)
	sweeper.Enabled = cfg.Sweeper.Enabled
	sweeper.Interval = cfg.Sweeper.Interval
	sweeper.Observer = metrics
	sweeper.Start()
	defer sweeper.Stop()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting",
			zap.Int("port", port),
			zap.String("db", dbPath),
			zap.String("env", cfg.Server.AppEnv))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Info("shutting down server", zap.String("signal", sig.String()))
	case err := <-errCh:
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("server stopped")
	return nil
}
