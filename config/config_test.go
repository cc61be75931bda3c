package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	t.Setenv("BROKER", "memory")

	cfg, err := Parse()
	require.NoError(t, err)

	assert.Equal(t, "firebase-functions", cfg.Service.Name)
	assert.Equal(t, ":8080", cfg.Service.HTTPAddr)
	assert.Equal(t, "/metrics", cfg.Service.MetricsPath)
	assert.Equal(t, 10*time.Second, cfg.Service.ShutdownTimeout)
	assert.Equal(t, "test", cfg.Broker.Topic)
	assert.Equal(t, "test-sub", cfg.Broker.Subscription)
	assert.Equal(t, time.Duration(0), cfg.Handler.PublishDelay)
	assert.True(t, cfg.Handler.RequireParent)
	assert.Equal(t, "otlphttp", cfg.Telemetry.Exporter)
	assert.Equal(t, "none", cfg.Logging.Exporter)
	assert.Equal(t, []string{"*"}, cfg.Service.CORSOrigins)
}

func TestParseOverrides(t *testing.T) {
	t.Setenv("BROKER", "pubsub")
	t.Setenv("GOOGLE_CLOUD_PROJECT", "demo-project")
	t.Setenv("PUBSUB_TOPIC", "orders")
	t.Setenv("PUBLISH_DELAY", "500ms")
	t.Setenv("CONSUME_DELAY", "1s")
	t.Setenv("PRODUCER_REQUIRE_PARENT", "false")
	t.Setenv("OTEL_EXPORTER", "stdout")
	t.Setenv("OTEL_HEADERS", "x-a:1,x-b:2")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example,https://b.example")

	cfg, err := Parse()
	require.NoError(t, err)

	assert.Equal(t, "demo-project", cfg.Broker.ProjectID)
	assert.Equal(t, "orders", cfg.Broker.Topic)
	assert.Equal(t, 500*time.Millisecond, cfg.Handler.PublishDelay)
	assert.Equal(t, time.Second, cfg.Handler.ConsumeDelay)
	assert.False(t, cfg.Handler.RequireParent)
	assert.Equal(t, "stdout", cfg.Telemetry.Exporter)
	assert.Equal(t, map[string]string{"x-a": "1", "x-b": "2"}, cfg.Telemetry.Headers)
	assert.Equal(t, "demo-project", cfg.Telemetry.ProjectID)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Service.CORSOrigins)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Broker:    BrokerConfig{Kind: BrokerMemory, Topic: "test"},
			Telemetry: TelemetryConfig{Exporter: "none"},
			Logging:   LoggingConfig{Exporter: "none"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid memory broker", mutate: func(*Config) {}},
		{
			name:    "pubsub without project",
			mutate:  func(c *Config) { c.Broker.Kind = BrokerPubSub },
			wantErr: "GOOGLE_CLOUD_PROJECT",
		},
		{
			name:    "unknown broker",
			mutate:  func(c *Config) { c.Broker.Kind = "kafka" },
			wantErr: "invalid broker",
		},
		{
			name:    "empty topic",
			mutate:  func(c *Config) { c.Broker.Topic = " " },
			wantErr: "PUBSUB_TOPIC",
		},
		{
			name:    "unknown trace exporter",
			mutate:  func(c *Config) { c.Telemetry.Exporter = "zipkin" },
			wantErr: "OTEL_EXPORTER",
		},
		{
			name:    "cloud trace without project",
			mutate:  func(c *Config) { c.Telemetry.Exporter = "gcp" },
			wantErr: "OTEL_EXPORTER=gcp",
		},
		{
			name: "cloud trace with project",
			mutate: func(c *Config) {
				c.Telemetry.Exporter = "gcp"
				c.Telemetry.ProjectID = "demo-project"
			},
		},
		{
			name:    "unknown log exporter",
			mutate:  func(c *Config) { c.Logging.Exporter = "syslog" },
			wantErr: "LOG_EXPORTER",
		},
		{
			name:    "negative delay",
			mutate:  func(c *Config) { c.Handler.ConsumeDelay = -time.Second },
			wantErr: "negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
