package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	// Server configuration
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"registration-system"`

	// Storage
	DatabasePath string `env:"REGISTRATION_DB_PATH" envDefault:"pb_data/registrations.db"`
	UploadDir    string `env:"UPLOAD_DIR" envDefault:"pb_data/uploads"`

	// Redis configuration
	RedisURL string `env:"REDIS_URL" envDefault:"redis://localhost:6379"`
	RedisDB  int    `env:"REDIS_DB" envDefault:"0"`

	// PubNub configuration; push is disabled while the publish key is empty
	PubNubPublishKey   string `env:"PUBNUB_PUBLISH_KEY"`
	PubNubSubscribeKey string `env:"PUBNUB_SUBSCRIBE_KEY"`
	PubNubSecretKey    string `env:"PUBNUB_SECRET_KEY"`
	PubNubUserID       string `env:"PUBNUB_USER_ID" envDefault:"registration-server"`

	// Submission rate limit
	SubmitRateLimit  int           `env:"SUBMIT_RATE_LIMIT" envDefault:"10"`
	SubmitRateWindow time.Duration `env:"SUBMIT_RATE_WINDOW" envDefault:"1m"`

	// Notification dispatcher
	DispatchInterval  time.Duration `env:"DISPATCH_INTERVAL" envDefault:"5s"`
	DispatchBatchSize int           `env:"DISPATCH_BATCH_SIZE" envDefault:"50"`

	AvailabilityTTL time.Duration `env:"AVAILABILITY_CACHE_TTL" envDefault:"15s"`

	// Monitoring
	EnableMetrics   bool          `env:"ENABLE_METRICS" envDefault:"true"`
	MetricsInterval time.Duration `env:"METRICS_INTERVAL" envDefault:"30s"`
	OTelEndpoint    string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.SubmitRateLimit <= 0 {
		return fmt.Errorf("SUBMIT_RATE_LIMIT must be positive, got %d", c.SubmitRateLimit)
	}
	if c.SubmitRateWindow <= 0 {
		return fmt.Errorf("SUBMIT_RATE_WINDOW must be positive, got %s", c.SubmitRateWindow)
	}
	if c.DispatchBatchSize <= 0 {
		return fmt.Errorf("DISPATCH_BATCH_SIZE must be positive, got %d", c.DispatchBatchSize)
	}
	return nil
}

// PushEnabled reports whether PubNub keys are configured.
func (c *Config) PushEnabled() bool {
	return c.PubNubPublishKey != "" && c.PubNubSubscribeKey != ""
}
