package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/saturnino-fabrica-de-software/shophook/internal/api"
	"github.com/saturnino-fabrica-de-software/shophook/internal/config"
	"github.com/saturnino-fabrica-de-software/shophook/internal/database"
	"github.com/saturnino-fabrica-de-software/shophook/internal/notify"
	"github.com/saturnino-fabrica-de-software/shophook/internal/queue"
	"github.com/saturnino-fabrica-de-software/shophook/internal/telemetry"
	"github.com/saturnino-fabrica-de-software/shophook/internal/webhook"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := config.NewLoggerWithLevel(cfg.Environment, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting shophook api",
		slog.String("environment", cfg.Environment),
		slog.Int("port", cfg.Port),
		slog.String("version", version),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := database.Connect(ctx, cfg.PoolConfig(), logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	verifier, err := webhook.NewVerifier(cfg.WebhookSecret, cfg.WebhookSignatureEncoding)
	if err != nil {
		return fmt.Errorf("failed to build verifier: %w", err)
	}

	provider, err := telemetry.NewProvider(ctx, cfg.TelemetryConfig())
	if err != nil {
		return fmt.Errorf("failed to init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown", slog.Any("error", err))
		}
	}()

	instruments, err := telemetry.NewInstruments(provider.Meter())
	if err != nil {
		return fmt.Errorf("failed to create instruments: %w", err)
	}

	bus, err := notify.Open(cfg.QueueURL, cfg.ServiceName+"-api", logger)
	if err != nil {
		// Wake-ups only shorten latency; workers still poll.
		logger.Warn("wake-up bus unavailable", slog.Any("error", err))
		bus = notify.Noop{}
	}
	defer bus.Close()

	q := queue.New(pool,
		queue.WithLogger(logger),
		queue.WithRetryPolicy(cfg.RetryPolicy()),
		queue.WithDefaultMaxAttempts(cfg.JobMaxAttempts),
	)
	dispatcher := webhook.NewDispatcher(pool, q, logger,
		webhook.WithNotifier(bus),
		webhook.WithRecorder(instruments),
	)

	router := api.NewRouter(logger, &api.Dependencies{
		Verifier:   verifier,
		Dispatcher: dispatcher,
		DB:         pool,
		Version:    version,
	})
	router.Setup()

	errChan := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Port)
		logger.Info("server listening", slog.String("addr", addr))
		if err := router.Listen(addr); err != nil {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down server...")
	if err := router.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.Any("error", err))
	}
	logger.Info("server stopped")

	return nil
}
