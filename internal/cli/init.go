// Package cli provides the process bootstrap steps used by cmd/finadvisor.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"finadvisor/internal/amqp"
	"finadvisor/internal/config"
	"finadvisor/internal/log"
	"finadvisor/internal/storage"
)

const amqpConnectAttempts = 3

// SetupLogger builds the process logger from cfg and installs it as the slog
// default.
func SetupLogger(cfg *config.Config) *log.Logger {
	logger := log.New(log.Config{
		Level:     log.ParseLevel(cfg.LogLevel),
		Format:    cfg.LogFormat,
		Component: log.ComponentApp,
		Output:    os.Stdout,
	})
	log.SetDefault(logger)
	return logger
}

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadConfig reads the environment and the optional YAML overlay.
func LoadConfig() (*config.Config, error) {
	cfg := config.Load()
	if cfg.ConfigFile != "" {
		if err := cfg.LoadFile(cfg.ConfigFile); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

// ValidateConfig exits the process when cfg is invalid.
func ValidateConfig(logger *log.Logger, cfg *config.Config) {
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}
}

// InitSQLite opens the credential store. An empty path disables persistence
// and returns nil.
func InitSQLite(logger *log.Logger, cfg *config.Config) *storage.SQLiteRepository {
	if cfg.SQLiteDBPath == "" {
		logger.Info("Credential persistence disabled")
		return nil
	}
	key, err := cfg.SessionKey()
	if err != nil {
		logger.Error("Invalid session secret", log.FieldError, err)
		os.Exit(1)
	}
	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath, key, logger)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", log.FieldError, err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	logger.Info("Credential store ready", "path", cfg.SQLiteDBPath, "encrypted", key != nil)
	return repo
}

// ConnectAMQP returns a broker publisher, or a no-op one when no URL is set or
// the broker cannot be reached.
func ConnectAMQP(ctx context.Context, logger *log.Logger, cfg *config.Config) amqp.Publisher {
	if cfg.AMQPURL == "" {
		return amqp.NopPublisher{}
	}
	client, err := amqp.NewClient(ctx, cfg.AMQPURL, cfg.AMQPExchange, amqpConnectAttempts, logger)
	if err != nil {
		logger.Warn("AMQP unavailable, lifecycle events disabled", log.FieldError, err)
		return amqp.NopPublisher{}
	}
	logger.Info("Connected to AMQP", "exchange", cfg.AMQPExchange)
	return client
}

// GracefulShutdown sets up signal handling for graceful shutdown.
// Returns a context that will be cancelled on shutdown signals,
// and a channel that signals when cleanup is complete.
func GracefulShutdown(logger *log.Logger, timeout time.Duration, cleanup func(context.Context)) (context.Context, <-chan struct{}) {
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

// WaitForShutdown blocks until the context is cancelled and cleanup is done.
func WaitForShutdown(ctx context.Context, done <-chan struct{}) {
	<-ctx.Done()
	<-done
}
