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
	"github.com/jonboulle/clockwork"

	"github.com/saturnino-fabrica-de-software/shophook/internal/config"
	"github.com/saturnino-fabrica-de-software/shophook/internal/database"
	"github.com/saturnino-fabrica-de-software/shophook/internal/notify"
	"github.com/saturnino-fabrica-de-software/shophook/internal/queue"
	"github.com/saturnino-fabrica-de-software/shophook/internal/repository"
	"github.com/saturnino-fabrica-de-software/shophook/internal/service"
	"github.com/saturnino-fabrica-de-software/shophook/internal/telemetry"
	"github.com/saturnino-fabrica-de-software/shophook/internal/vault"
	"github.com/saturnino-fabrica-de-software/shophook/internal/worker"
)

// errFaulted marks a shutdown caused by a crash rather than a signal.
var errFaulted = errors.New("worker faulted")

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() (err error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := config.NewLoggerWithLevel(cfg.Environment, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting shophook worker",
		slog.String("environment", cfg.Environment),
		slog.Int("webhook_concurrency", cfg.WebhookConcurrency),
		slog.Int("general_concurrency", cfg.GeneralConcurrency),
	)

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := database.Connect(sigCtx, cfg.PoolConfig(), logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	v, err := vault.NewFromString(cfg.EncryptionKey)
	if err != nil {
		return fmt.Errorf("failed to init vault: %w", err)
	}

	provider, err := telemetry.NewProvider(sigCtx, cfg.TelemetryConfig())
	if err != nil {
		return fmt.Errorf("failed to init telemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			logger.Warn("telemetry shutdown", slog.Any("error", err))
		}
	}()

	instruments, err := telemetry.NewInstruments(provider.Meter())
	if err != nil {
		return fmt.Errorf("failed to create instruments: %w", err)
	}

	bus, err := notify.Open(cfg.QueueURL, cfg.ServiceName+"-worker", logger)
	if err != nil {
		logger.Warn("wake-up bus unavailable, polling only", slog.Any("error", err))
		bus = notify.Noop{}
	}
	defer bus.Close()

	clock := clockwork.NewRealClock()
	q := queue.New(pool,
		queue.WithClock(clock),
		queue.WithLogger(logger),
		queue.WithRetryPolicy(cfg.RetryPolicy()),
		queue.WithDefaultMaxAttempts(cfg.JobMaxAttempts),
	)
	deliveries := repository.NewDeliveryRepository(pool)
	registry := service.NewTenantRegistry(pool, v, clock, logger)

	handlers := worker.NewHandlers()
	worker.RegisterDefaults(handlers, worker.Dependencies{
		Registry: registry,
		Logger:   logger,
	})
	logger.Info("handlers registered", slog.Int("count", handlers.Len()))

	workers := worker.NewPool(q, deliveries, handlers, logger, cfg.WorkerOptions(),
		worker.WithBus(bus),
		worker.WithMetrics(instruments),
		worker.WithClock(clock),
	)
	health := worker.NewHealthReporter(q, workers, instruments, clock, logger, cfg.HealthOptions()).
		WithLedger(deliveries)
	sweeper := worker.NewCredentialSweeper(registry, q, clock, logger, cfg.CredentialCheckInterval)

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	runErr := make(chan error, 1)
	go func() { runErr <- workers.Run(runCtx) }()
	loopErr := make(chan error, 1)
	go func() { loopErr <- worker.Supervise(runCtx, health.Run, sweeper.Run) }()

	// A panic on this goroutine still drains before exiting non-zero.
	defer func() {
		if r := recover(); r != nil {
			logger.Error("worker panicked", slog.Any("panic", r))
			_ = drain(logger, workers, cfg.ShutdownTimeout)
			err = fmt.Errorf("%w: %v", errFaulted, r)
		}
	}()

	var (
		faulted           error
		runDone, loopDone bool
	)
	select {
	case <-sigCtx.Done():
		logger.Info("shutdown signal received")
	case e := <-runErr:
		runDone = true
		if e == nil {
			e = errors.New("pollers exited unexpectedly")
		}
		logger.Error("worker pool stopped", slog.Any("error", e))
		faulted = fmt.Errorf("%w: %v", errFaulted, e)
	case e := <-loopErr:
		loopDone = true
		if e == nil {
			e = errors.New("background loops exited unexpectedly")
		}
		logger.Error("background loop stopped", slog.Any("error", e))
		faulted = fmt.Errorf("%w: %v", errFaulted, e)
	}

	drainErr := drain(logger, workers, cfg.ShutdownTimeout)
	cancelRun()

	// The pool is closed on return, so pollers must be gone first.
	if !runDone {
		if e := await(runErr, cfg.ShutdownTimeout); e != nil {
			logger.Error("pollers did not stop cleanly", slog.Any("error", e))
			drainErr = errors.Join(drainErr, e)
		}
	}
	if !loopDone {
		if e := await(loopErr, cfg.ShutdownTimeout); e != nil {
			logger.Error("background loops did not stop cleanly", slog.Any("error", e))
			drainErr = errors.Join(drainErr, e)
		}
	}

	if faulted != nil {
		return faulted
	}
	if drainErr != nil {
		return drainErr
	}
	logger.Info("worker stopped")
	return nil
}

func await(done <-chan error, timeout time.Duration) error {
	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return worker.ErrShutdownTimeout
	}
}

func drain(logger *slog.Logger, workers *worker.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout+time.Second)
	defer cancel()

	if err := workers.Shutdown(ctx); err != nil {
		logger.Error("forced shutdown", slog.Any("error", err), slog.Int64("active", workers.Active()))
		return err
	}
	return nil
}
