// Package cli provides common CLI initialization utilities.
// This package consolidates the startup steps shared by cmd/budget and
// cmd/budget-worker.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"budget/internal/backend"
	"budget/internal/config"
	"budget/internal/log"
)

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig reads the environment, builds the process logger at
// LOG_LEVEL and validates the configuration. It exits the process on failure.
func LoadAndValidateConfig(component string) (*config.Config, *log.Logger) {
	cfg, err := config.Load()
	if err != nil {
		log.New(log.DefaultConfig()).Error("Failed to load configuration",
			log.NewFields().WithError(err, log.ErrorTypeConfiguration).ToSlice()...)
		os.Exit(1)
	}

	logger := NewLogger(cfg, component)
	log.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed",
			log.NewFields().WithError(err, log.ErrorTypeConfiguration).ToSlice()...)
		os.Exit(1)
	}
	return cfg, logger
}

// NewLogger builds a stdout logger for component at cfg's level.
func NewLogger(cfg *config.Config, component string) *log.Logger {
	return log.New(log.Config{
		Level:     log.ParseLevel(cfg.LogLevel),
		Component: component,
		Output:    os.Stdout,
	})
}

// OpenLedger creates the store selected by DATA_BACKEND.
func OpenLedger(ctx context.Context, logger *log.Logger, cfg *config.Config) (*backend.BackendResult, error) {
	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, err
	}
	return backend.NewFactory(logger).CreateBackend(ctx, backendCfg)
}

// MustOpenLedger is OpenLedger that exits the process on failure.
func MustOpenLedger(ctx context.Context, logger *log.Logger, cfg *config.Config) *backend.BackendResult {
	result, err := OpenLedger(ctx, logger, cfg)
	if err != nil {
		logger.Error("Failed to initialize ledger backend",
			log.FieldBackend, cfg.DataBackend,
			log.FieldError, err)
		os.Exit(1)
	}
	return result
}

// CloseLedger runs the backend cleanup, logging any failure.
func CloseLedger(logger *log.Logger, result *backend.BackendResult) {
	if result == nil || result.Cleanup == nil {
		return
	}
	if err := result.Cleanup(); err != nil {
		logger.Error("Backend cleanup failed", log.FieldError, err)
	}
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM. The
// received signal is logged.
func SignalContext(logger *log.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			logger.Info("Shutdown signal received", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
