package config

import (
	"github.com/saturnino-fabrica-de-software/shophook/internal/database"
	"github.com/saturnino-fabrica-de-software/shophook/internal/domain"
	"github.com/saturnino-fabrica-de-software/shophook/internal/queue"
	"github.com/saturnino-fabrica-de-software/shophook/internal/telemetry"
	"github.com/saturnino-fabrica-de-software/shophook/internal/worker"
)

func (c *Config) PoolConfig() database.PoolConfig {
	return database.DefaultPoolConfig(c.DatabaseURL, c.DatabaseMaxConns)
}

func (c *Config) RetryPolicy() queue.RetryPolicy {
	return queue.RetryPolicy{Base: c.JobBackoffBase, Max: c.JobBackoffMax}
}

func (c *Config) WorkerOptions() worker.Options {
	return worker.Options{
		Concurrency: map[domain.Lane]int{
			domain.LaneWebhook: c.WebhookConcurrency,
			domain.LaneGeneral: c.GeneralConcurrency,
		},
		PollInterval:    c.PollInterval,
		ClaimRate:       c.ClaimRate,
		HandlerTimeout:  c.HandlerTimeout,
		ShutdownTimeout: c.ShutdownTimeout,
	}
}

func (c *Config) HealthOptions() worker.HealthOptions {
	return worker.HealthOptions{
		Interval:        c.HealthInterval,
		FailedThreshold: c.HealthFailedThreshold,
		StallTimeout:    c.StallTimeout,
	}
}

func (c *Config) TelemetryConfig() telemetry.Config {
	return telemetry.Config{
		OTLPEndpoint: c.OTLPEndpoint,
		ServiceName:  c.ServiceName,
		Environment:  c.Environment,
	}
}
