package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

const (
	ThrottleBackendPostgres = "postgres"
	ThrottleBackendRedis    = "redis"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL string `env:"RABBITMQ_URL,required=true"`
	RedisURL    string `env:"REDIS_URL"`

	WorkerConcurrency    int    `env:"WORKER_CONCURRENCY,default=16"`
	MaxDeliveryAttempts  int    `env:"MAX_DELIVERY_ATTEMPTS,default=10"`
	ThrottleDelaySeconds int    `env:"THROTTLE_DELAY_SECONDS,default=660"`
	TransportMaxAttempts int    `env:"TRANSPORT_MAX_ATTEMPTS,default=5"`
	ThrottleBackend      string `env:"THROTTLE_BACKEND,default=postgres"`
	BotAccessToken       string `env:"BOT_ACCESS_TOKEN"`
	NoConversationText   string `env:"NO_CONVERSATION_MESSAGE,default=No conversation is installed for this recipient."`

	ExpirySweepIntervalRaw string `env:"EXPIRY_SWEEP_INTERVAL,default=5m"`
	ExpiryEditMaxAttempts  int    `env:"EXPIRY_EDIT_MAX_ATTEMPTS,default=5"`
	ExpiryEditsPerSec      int    `env:"EXPIRY_EDITS_PER_SEC,default=10"`

	APIPort     int    `env:"API_PORT,default=8080"`
	MetricsPort int    `env:"METRICS_PORT,default=9090"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.DatabaseDSN) == "" || strings.TrimSpace(c.RabbitMQURL) == "" {
		return fmt.Errorf("DATABASE_DSN and RABBITMQ_URL must not be empty")
	}

	c.ThrottleBackend = strings.ToLower(strings.TrimSpace(c.ThrottleBackend))
	switch c.ThrottleBackend {
	case ThrottleBackendPostgres, ThrottleBackendRedis:
	default:
		return fmt.Errorf("THROTTLE_BACKEND must be %q or %q, got %q", ThrottleBackendPostgres, ThrottleBackendRedis, c.ThrottleBackend)
	}
	if c.ThrottleBackend == ThrottleBackendRedis && strings.TrimSpace(c.RedisURL) == "" {
		return fmt.Errorf("REDIS_URL is required when THROTTLE_BACKEND=%s", ThrottleBackendRedis)
	}

	positive := map[string]int{
		"WORKER_CONCURRENCY":       c.WorkerConcurrency,
		"MAX_DELIVERY_ATTEMPTS":    c.MaxDeliveryAttempts,
		"THROTTLE_DELAY_SECONDS":   c.ThrottleDelaySeconds,
		"TRANSPORT_MAX_ATTEMPTS":   c.TransportMaxAttempts,
		"EXPIRY_EDIT_MAX_ATTEMPTS": c.ExpiryEditMaxAttempts,
		"EXPIRY_EDITS_PER_SEC":     c.ExpiryEditsPerSec,
	}
	for name, value := range positive {
		if value < 1 {
			return fmt.Errorf("%s must be positive, got %d", name, value)
		}
	}

	if _, err := parseDuration("EXPIRY_SWEEP_INTERVAL", c.ExpirySweepIntervalRaw); err != nil {
		return err
	}
	return nil
}

// ThrottleDelay is the standard delay used for throttle requeues.
func (c *Config) ThrottleDelay() time.Duration {
	return time.Duration(c.ThrottleDelaySeconds) * time.Second
}

func (c *Config) ExpirySweepInterval() time.Duration {
	d, err := parseDuration("EXPIRY_SWEEP_INTERVAL", c.ExpirySweepIntervalRaw)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

func parseDuration(name, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", name, raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", name, d)
	}
	return d, nil
}
