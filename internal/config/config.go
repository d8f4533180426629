package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN"`
	StoreDriver string `env:"STORE_DRIVER,default=postgres"`

	GatewayURL             string        `env:"GATEWAY_URL"`
	GatewayTimeout         time.Duration `env:"GATEWAY_TIMEOUT,default=10s"`
	GatewayRateLimitPerSec int           `env:"GATEWAY_RATE_LIMIT_PER_SEC,default=100"`

	RedisURL        string `env:"REDIS_URL"`
	RabbitMQURL     string `env:"RABBITMQ_URL"`
	IngressQueue    string `env:"INGRESS_QUEUE,default=push.enqueue"`
	IngressPrefetch int    `env:"INGRESS_PREFETCH,default=16"`

	BatchInterval   time.Duration `env:"BATCH_INTERVAL,default=30s"`
	BatchSize       int           `env:"BATCH_SIZE,default=100"`
	WorkerPoolSize  int           `env:"WORKER_POOL_SIZE,default=16"`
	RetryInterval   time.Duration `env:"RETRY_INTERVAL,default=5m"`
	RetryBackoff    time.Duration `env:"RETRY_BACKOFF,default=5m"`
	JanitorInterval time.Duration `env:"JANITOR_INTERVAL,default=1h"`
	Retention       time.Duration `env:"RETENTION,default=168h"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=30s"`

	OpsPort  int    `env:"OPS_PORT,default=8080"`
	LogLevel string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the workers cannot run with.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreDriverPostgres:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("DATABASE_DSN is required for the %s store driver", StoreDriverPostgres)
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.StoreDriver)
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"GATEWAY_TIMEOUT", c.GatewayTimeout},
		{"BATCH_INTERVAL", c.BatchInterval},
		{"RETRY_INTERVAL", c.RetryInterval},
		{"RETRY_BACKOFF", c.RetryBackoff},
		{"JANITOR_INTERVAL", c.JanitorInterval},
		{"RETENTION", c.Retention},
		{"SHUTDOWN_TIMEOUT", c.ShutdownTimeout},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive (got %s)", d.name, d.value)
		}
	}

	sizes := []struct {
		name  string
		value int
	}{
		{"GATEWAY_RATE_LIMIT_PER_SEC", c.GatewayRateLimitPerSec},
		{"INGRESS_PREFETCH", c.IngressPrefetch},
		{"BATCH_SIZE", c.BatchSize},
		{"WORKER_POOL_SIZE", c.WorkerPoolSize},
	}
	for _, s := range sizes {
		if s.value <= 0 {
			return fmt.Errorf("%s must be positive (got %d)", s.name, s.value)
		}
	}

	if c.OpsPort <= 0 || c.OpsPort > 65535 {
		return fmt.Errorf("OPS_PORT out of range (got %d)", c.OpsPort)
	}
	if c.RabbitMQURL != "" && strings.TrimSpace(c.IngressQueue) == "" {
		return fmt.Errorf("INGRESS_QUEUE is required when RABBITMQ_URL is set")
	}
	return nil
}

// RequireGateway reports an error when no push gateway is configured. Only
// the serve command dispatches, so Validate does not insist on it.
func (c *Config) RequireGateway() error {
	if strings.TrimSpace(c.GatewayURL) == "" {
		return fmt.Errorf("GATEWAY_URL is required")
	}
	return nil
}
