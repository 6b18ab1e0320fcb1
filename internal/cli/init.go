// Package cli provides common CLI initialization utilities shared by the
// fastbudget commands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"fastbudget/internal/config"
	"fastbudget/internal/events"
	"fastbudget/internal/log"
	"fastbudget/internal/storage"
)

const amqpConnectAttempts = 3

// SetupLogger builds the process logger from cfg and sets it as the slog default.
func SetupLogger(cfg *config.Config) *log.Logger {
	c := log.DefaultConfig()
	c.Level = log.ParseLevel(cfg.LogLevel)
	c.Format = log.Format(cfg.LogFormat)
	logger := log.New(c)
	log.SetDefault(logger)
	return logger
}

// LoadEnvFile loads a .env file for local development. A missing file is not
// an error; production sets real environment variables.
func LoadEnvFile(paths ...string) error {
	if err := godotenv.Load(paths...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

// LoadAndValidateConfig loads configuration from the environment and validates it.
func LoadAndValidateConfig() (*config.Config, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// InitRepository opens the client storage selected by STORAGE_BACKEND.
func InitRepository(cfg *config.Config, logger *log.Logger) (storage.Repository, error) {
	logger = logger.WithComponent(log.ComponentStorage)
	switch cfg.StorageBackend {
	case "memory":
		logger.Warn("Using in-memory client storage; sessions are lost on restart")
		return storage.NewMemoryRepository(), nil
	case "sqlite":
		repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("init sqlite repository at %s: %w", cfg.SQLiteDBPath, err)
		}
		logger.Info("SQLite client storage ready", "path", cfg.SQLiteDBPath)
		return repo, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

// InitPublisher returns the AMQP publisher when AMQP_URL is set and reachable,
// and the log publisher otherwise. A broker that is down at startup is not
// fatal: session events are only informational.
func InitPublisher(ctx context.Context, cfg *config.Config, logger *log.Logger) events.Publisher {
	if cfg.AMQPURL == "" {
		return events.NewLogPublisher(logger)
	}

	p := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange, logger)
	if err := p.Connect(ctx, amqpConnectAttempts); err != nil {
		logger.Warn("AMQP unavailable, session events will only be logged",
			log.FieldComponent, log.ComponentEvents,
			log.FieldError, err,
			log.FieldErrorType, log.ErrorTypeNetwork)
		_ = p.Close()
		return events.NewLogPublisher(logger)
	}
	logger.Info("Publishing session events to AMQP", "exchange", cfg.AMQPExchange)
	return p
}

// SignalContext is cancelled on SIGINT or SIGTERM.
func SignalContext(parent context.Context, logger *log.Logger) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		if parent.Err() == nil {
			logger.Info("Shutdown signal received", log.FieldOperation, log.OpShutdown)
		}
	}()
	return ctx, stop
}

// ShutdownContext bounds graceful shutdown. It is detached from the signal
// context, which is already done when shutdown starts.
func ShutdownContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}
