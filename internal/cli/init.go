// Package cli provides common CLI initialization utilities shared by
// cmd/rollup-worker and cmd/delivery-worker.
package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"kassa/internal/config"
	"kassa/internal/delivery"
	"kassa/internal/log"
	"kassa/internal/metrics"
	"kassa/internal/storage"
)

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// SetupLogger builds the process logger for the given environment and
// installs it as the slog default.
func SetupLogger(env string) *log.Logger {
	logger := log.New(log.ConfigForEnv(env, log.ComponentApp, os.Stdout))
	log.SetDefault(logger)
	return logger
}

// LoadAndValidateConfig loads configuration and validates it.
// Returns the config or exits the process on validation failure.
func LoadAndValidateConfig(logger *log.Logger) *config.Config {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}
	return cfg
}

// InitStorage opens the configured backend and runs migrations.
// Returns the repository or exits the process on failure.
func InitStorage(ctx context.Context, logger *log.Logger, cfg *config.Config) *storage.Repository {
	repo, err := storage.Open(ctx, storage.Options{
		Backend:     cfg.DataBackend,
		SQLitePath:  cfg.SQLiteDBPath,
		DatabaseURL: cfg.DatabaseURL,
	})
	if err != nil {
		logger.Error("Failed to initialize storage", log.FieldError, err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	logger.Info("Storage ready", "backend", repo.Dialect().String())
	return repo
}

// NewSender returns the Telegram sender wrapped in flood-control retries, or
// a log-only sender when no bot token is configured.
func NewSender(cfg *config.Config, logger *log.Logger) delivery.Sender {
	var next delivery.Sender
	if cfg.TelegramToken != "" {
		next = delivery.NewTelegramSender(cfg.TelegramAPIURL, cfg.TelegramToken, &http.Client{Timeout: 15 * time.Second})
	} else {
		logger.Warn("TELEGRAM_TOKEN not set, notifications are only logged")
		next = delivery.LogSender{Logger: logger.WithComponent(log.ComponentDelivery)}
	}
	return delivery.NewRetryingSender(next, cfg.DeliveryMaxAttempts, cfg.DeliveryMaxWait, logger)
}

// StartOpsServer serves /metrics and /healthz on port in the background.
// The returned function shuts the server down.
func StartOpsServer(logger *log.Logger, port string, g prometheus.Gatherer, health metrics.HealthFunc) func(context.Context) error {
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           metrics.NewRouter(g, health),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("Ops server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Ops server failed", log.FieldError, err)
		}
	}()
	return srv.Shutdown
}

// GracefulShutdown sets up signal handling for graceful shutdown.
// Returns a context that will be cancelled on shutdown signals,
// and a channel that signals when shutdown is complete.
func GracefulShutdown(logger *log.Logger, timeout time.Duration, cleanup func(ctx context.Context)) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
		defer shutdownCancel()

		cancel()
		if cleanup != nil {
			cleanup(shutdownCtx)
		}

		if shutdownCtx.Err() != nil {
			logger.Warn("Shutdown timeout reached")
		} else {
			logger.Info("Shutdown complete")
		}
		close(done)
	}()

	return ctx, done
}

// WaitForShutdown blocks until the context is cancelled and cleanup has run.
func WaitForShutdown(ctx context.Context, done <-chan struct{}) {
	<-ctx.Done()
	<-done
}
