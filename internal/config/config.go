package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// Server
	Port        int    `envconfig:"PORT" default:"3000"`
	Environment string `envconfig:"ENV" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:""`
	ServiceName string `envconfig:"SERVICE_NAME" default:"shophook"`

	// Storage
	DatabaseURL      string `envconfig:"DATABASE_URL" required:"true"`
	DatabaseMaxConns int32  `envconfig:"DATABASE_MAX_CONNS" default:"10"`
	QueueURL         string `envconfig:"QUEUE_URL" default:""`

	// Security
	WebhookSecret            string `envconfig:"WEBHOOK_SECRET" required:"true"`
	WebhookSignatureEncoding string `envconfig:"WEBHOOK_SIGNATURE_ENCODING" default:"base64"`
	EncryptionKey            string `envconfig:"ENCRYPTION_KEY" required:"true"`

	// Worker
	WebhookConcurrency int           `envconfig:"WORKER_WEBHOOK_CONCURRENCY" default:"4"`
	GeneralConcurrency int           `envconfig:"WORKER_GENERAL_CONCURRENCY" default:"2"`
	PollInterval       time.Duration `envconfig:"WORKER_POLL_INTERVAL" default:"1s"`
	ClaimRate          float64       `envconfig:"WORKER_CLAIM_RATE" default:"50"`
	ShutdownTimeout    time.Duration `envconfig:"WORKER_SHUTDOWN_TIMEOUT" default:"30s"`
	StallTimeout       time.Duration `envconfig:"WORKER_STALL_TIMEOUT" default:"5m"`
	HandlerTimeout     time.Duration `envconfig:"WORKER_HANDLER_TIMEOUT" default:"2m"`

	// Jobs
	JobMaxAttempts int           `envconfig:"JOB_MAX_ATTEMPTS" default:"3"`
	JobBackoffBase time.Duration `envconfig:"JOB_BACKOFF_BASE" default:"2s"`
	JobBackoffMax  time.Duration `envconfig:"JOB_BACKOFF_MAX" default:"10m"`

	// Health
	HealthInterval        time.Duration `envconfig:"HEALTH_INTERVAL" default:"30s"`
	HealthFailedThreshold int64         `envconfig:"HEALTH_FAILED_THRESHOLD" default:"100"`

	// Credential checks, 0 disables the sweep
	CredentialCheckInterval time.Duration `envconfig:"CREDENTIAL_CHECK_INTERVAL" default:"24h"`

	// Telemetry
	OTLPEndpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT" default:""`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &cfg, nil
}

// DatabaseConfig is the subset cmd/migrate needs, so schema changes can run
// without webhook or vault secrets in the environment.
type DatabaseConfig struct {
	URL         string `envconfig:"DATABASE_URL" required:"true"`
	MaxConns    int32  `envconfig:"DATABASE_MAX_CONNS" default:"10"`
	Environment string `envconfig:"ENV" default:"development"`
}

func LoadDatabase() (*DatabaseConfig, error) {
	var cfg DatabaseConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load database config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch strings.ToLower(c.WebhookSignatureEncoding) {
	case "base64", "hex":
	default:
		return fmt.Errorf("WEBHOOK_SIGNATURE_ENCODING must be base64 or hex, got %q", c.WebhookSignatureEncoding)
	}
	if c.JobMaxAttempts < 1 {
		return fmt.Errorf("JOB_MAX_ATTEMPTS must be >= 1")
	}
	if c.WebhookConcurrency < 1 || c.GeneralConcurrency < 1 {
		return fmt.Errorf("worker concurrency must be >= 1")
	}
	if c.JobBackoffMax < c.JobBackoffBase {
		return fmt.Errorf("JOB_BACKOFF_MAX must be >= JOB_BACKOFF_BASE")
	}
	if c.HandlerTimeout <= 0 {
		return fmt.Errorf("WORKER_HANDLER_TIMEOUT must be > 0")
	}
	if c.StallTimeout > 0 && c.HandlerTimeout >= c.StallTimeout {
		return fmt.Errorf("WORKER_HANDLER_TIMEOUT must be < WORKER_STALL_TIMEOUT")
	}
	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
