package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	BrokerPubSub = "pubsub"
	BrokerMemory = "memory"
)

// Config holds everything the producer and consumer processes read from the environment.
type Config struct {
	Service   ServiceConfig
	Broker    BrokerConfig
	Handler   HandlerConfig
	Telemetry TelemetryConfig
	Logging   LoggingConfig
}

type ServiceConfig struct {
	// Name is reported as service.name on spans and log records
	Name        string `env:"SERVICE_NAME" envDefault:"firebase-functions"`
	Version     string `env:"SERVICE_VERSION" envDefault:"0.1.0"`
	Environment string `env:"DEPLOYMENT_ENV" envDefault:"TEST"`

	HTTPAddr        string        `env:"HTTP_ADDR" envDefault:":8080"`
	MetricsPath     string        `env:"METRICS_PATH" envDefault:"/metrics"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// CORSOrigins are the browser origins allowed to call the producer
	CORSOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
}

type BrokerConfig struct {
	// Kind is "pubsub" or "memory"
	Kind         string `env:"BROKER" envDefault:"pubsub"`
	ProjectID    string `env:"GOOGLE_CLOUD_PROJECT"`
	Topic        string `env:"PUBSUB_TOPIC" envDefault:"test"`
	Subscription string `env:"PUBSUB_SUBSCRIPTION" envDefault:"test-sub"`
}

type HandlerConfig struct {
	// PublishDelay is awaited before and after publishing so the producer span is visible
	// on a trace timeline. Zero disables it.
	PublishDelay time.Duration `env:"PUBLISH_DELAY" envDefault:"0s"`
	ConsumeDelay time.Duration `env:"CONSUME_DELAY" envDefault:"0s"`

	// RequireParent rejects producer requests that carry no trace context.
	RequireParent bool `env:"PRODUCER_REQUIRE_PARENT" envDefault:"true"`
}

type TelemetryConfig struct {
	// Exporter is one of "otlphttp", "otlpgrpc", "gcp", "stdout", "none"
	Exporter string            `env:"OTEL_EXPORTER" envDefault:"otlphttp"`
	Endpoint string            `env:"OTEL_ENDPOINT"`
	APIKey   string            `env:"OTEL_API_KEY"`
	Insecure bool              `env:"OTEL_INSECURE" envDefault:"false"`
	Headers  map[string]string `env:"OTEL_HEADERS"`

	// ProjectID is the Cloud Trace project for the "gcp" exporter
	ProjectID string `env:"GOOGLE_CLOUD_PROJECT"`
}

type LoggingConfig struct {
	Level string `env:"LOG_LEVEL" envDefault:"info"`
	// Exporter is one of "otlpgrpc", "otlphttp", "stdout", "none"
	Exporter   string `env:"LOG_EXPORTER" envDefault:"none"`
	File       string `env:"LOG_FILE"`
	MaxSize    int    `env:"LOG_MAX_SIZE" envDefault:"100"`
	MaxBackups int    `env:"LOG_MAX_BACKUPS" envDefault:"7"`
	MaxAge     int    `env:"LOG_MAX_AGE" envDefault:"30"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}
	return Parse()
}

// Parse builds a Config from the process environment only.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Broker.Kind {
	case BrokerPubSub:
		if strings.TrimSpace(c.Broker.ProjectID) == "" {
			return fmt.Errorf("GOOGLE_CLOUD_PROJECT is required when BROKER=%s", BrokerPubSub)
		}
	case BrokerMemory:
	default:
		return fmt.Errorf("invalid broker %q (must be %s or %s)", c.Broker.Kind, BrokerPubSub, BrokerMemory)
	}

	if strings.TrimSpace(c.Broker.Topic) == "" {
		return fmt.Errorf("PUBSUB_TOPIC must not be empty")
	}

	switch c.Telemetry.Exporter {
	case "otlphttp", "otlpgrpc", "stdout", "none":
	case "gcp":
		if strings.TrimSpace(c.Telemetry.ProjectID) == "" {
			return fmt.Errorf("GOOGLE_CLOUD_PROJECT is required when OTEL_EXPORTER=gcp")
		}
	default:
		return fmt.Errorf("invalid OTEL_EXPORTER %q", c.Telemetry.Exporter)
	}

	switch c.Logging.Exporter {
	case "otlphttp", "otlpgrpc", "stdout", "none":
	default:
		return fmt.Errorf("invalid LOG_EXPORTER %q", c.Logging.Exporter)
	}

	if c.Handler.PublishDelay < 0 || c.Handler.ConsumeDelay < 0 {
		return fmt.Errorf("delays must not be negative")
	}
	return nil
}
