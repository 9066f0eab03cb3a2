package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"budget/internal/amqp"
	"budget/internal/analytics"
	"budget/internal/auth"
	"budget/internal/cli"
	apphttp "budget/internal/http"
	"budget/internal/importer"
	"budget/internal/log"
	"budget/internal/services"
)

func main() {
	cli.LoadEnvFile()
	cfg, logger := cli.LoadAndValidateConfig(log.ComponentApp)

	ctx, cancel := cli.SignalContext(logger)
	defer cancel()

	ledger := cli.MustOpenLedger(ctx, logger, cfg)
	defer cli.CloseLedger(logger, ledger)

	credentials, err := auth.FromConfig(cfg)
	if err != nil {
		logger.Error("Failed to configure credentials",
			log.NewFields().WithError(err, log.ErrorTypeConfiguration).ToSlice()...)
		os.Exit(1)
	}

	engine := analytics.NewEngine(ledger.Store,
		analytics.WithLocation(cfg.Location()),
		analytics.WithLogger(logger),
		analytics.WithCache(cfg.CacheSize, cfg.CacheTTL))

	// Change events are optional; without a broker the mirror is simply not fed.
	var publisher services.EventPublisher
	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			logger.Warn("AMQP unavailable, change events disabled",
				log.NewFields().WithError(err, log.ErrorTypeNetwork).ToSlice()...)
		} else {
			defer client.Close()
			publisher = client
			logger.Info("AMQP client initialized", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
		}
	}

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Deps{
		Engine:       engine,
		Transactions: services.NewTransactionService(ledger.Store, publisher, engine, logger),
		Importer: importer.New(
			importer.WithTempDir(cfg.UploadDir),
			importer.WithMaxBytes(cfg.UploadMaxBytes),
			importer.WithLogger(logger)),
		Credentials: credentials,
		Store:       ledger.Store,
		Logger:      logger,
	},
		apphttp.WithRequestTimeout(cfg.RequestTimeout),
		apphttp.WithRateLimit(cfg.RateLimit),
		apphttp.WithTrustedProxies(cfg.TrustedProxies...))
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting budget server",
			log.FieldOperation, log.OpStartup,
			"port", cfg.Port,
			log.FieldBackend, cfg.DataBackend,
			"auth_mode", cfg.AuthMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
			cli.CloseLedger(logger, ledger)
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", log.FieldError, err)
	}
	logger.Info("Server stopped gracefully")
}
