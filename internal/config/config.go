// Package config loads and validates service configuration from the
// environment and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Broker driver names accepted in BROKER_DRIVER.
const (
	DriverMemory   = "memory"
	DriverKafka    = "kafka"
	DriverRabbitMQ = "rabbitmq"
)

// Config holds service configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// BasePath is the route prefix for stream endpoints (e.g. /streams).
	BasePath string `mapstructure:"BASE_PATH"`
	// LogLevel is the zap log level (debug|info|warn|error).
	LogLevel string `mapstructure:"LOG_LEVEL"`

	// BrokerDriver selects the event broker: memory, kafka or rabbitmq.
	BrokerDriver string `mapstructure:"BROKER_DRIVER"`
	// KafkaBrokers is a comma-separated list of Kafka broker addresses.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// KafkaTopicPrefix is prepended to dataset ids to form topic names.
	KafkaTopicPrefix string `mapstructure:"KAFKA_TOPIC_PREFIX"`
	// RabbitURL is the AMQP connection URL.
	RabbitURL string `mapstructure:"RABBITMQ_URL"`
	// RabbitExchange is the topic exchange events are published to.
	RabbitExchange string `mapstructure:"RABBITMQ_EXCHANGE"`
	// ControlTopic is the broker topic carrying remote stop signals.
	ControlTopic string `mapstructure:"CONTROL_TOPIC"`

	// DatabaseURL is the Postgres DSN for the lease and catalog stores;
	// when empty, in-memory stores are used.
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// LeaseTTL is the session lease time-to-live (e.g. "30s").
	LeaseTTL string `mapstructure:"LEASE_TTL"`
	// HeartbeatInterval is the SSE heartbeat period (e.g. "15s").
	HeartbeatInterval string `mapstructure:"HEARTBEAT_INTERVAL"`
	// AckCommitInterval is the cumulative acknowledgment period (e.g. "5s").
	AckCommitInterval string `mapstructure:"ACK_COMMIT_INTERVAL"`
	// AckSampleInterval is the delivery-handle sampling period; must be
	// shorter than AckCommitInterval.
	AckSampleInterval string `mapstructure:"ACK_SAMPLE_INTERVAL"`

	// JWTPublicKey is the PEM-encoded key used to verify bearer tokens.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTIssuer is the required iss claim.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the required aud claim.
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
}

// Load reads .env (if present), then builds and validates Config from
// the environment. Missing .env is ignored; env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("BASE_PATH", "/streams")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("BROKER_DRIVER", DriverMemory)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("KAFKA_TOPIC_PREFIX", "datasets.")
	v.SetDefault("RABBITMQ_URL", "")
	v.SetDefault("RABBITMQ_EXCHANGE", "datasets")
	v.SetDefault("CONTROL_TOPIC", "streamhub.control")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("LEASE_TTL", "30s")
	v.SetDefault("HEARTBEAT_INTERVAL", "15s")
	v.SetDefault("ACK_COMMIT_INTERVAL", "5s")
	v.SetDefault("ACK_SAMPLE_INTERVAL", "1s")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_ISSUER", "streamhub-auth")
	v.SetDefault("JWT_AUDIENCE", "streamhub-api")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if !strings.HasPrefix(cfg.BasePath, "/") {
		return nil, errors.New("config: BASE_PATH must start with /")
	}

	switch cfg.BrokerDriver {
	case DriverMemory:
	case DriverKafka:
		if len(cfg.KafkaBrokersList()) == 0 {
			return nil, errors.New("config: KAFKA_BROKERS is required with BROKER_DRIVER=kafka")
		}
	case DriverRabbitMQ:
		if cfg.RabbitURL == "" {
			return nil, errors.New("config: RABBITMQ_URL is required with BROKER_DRIVER=rabbitmq")
		}
	default:
		return nil, fmt.Errorf("config: unknown BROKER_DRIVER %q", cfg.BrokerDriver)
	}

	if cfg.AckSample() >= cfg.AckCommit() {
		return nil, errors.New("config: ACK_SAMPLE_INTERVAL must be shorter than ACK_COMMIT_INTERVAL")
	}

	return &cfg, nil
}

// KafkaBrokersList returns Kafka broker addresses from the
// comma-separated config value.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// TTL parses LeaseTTL. Returns 30s if unset or invalid.
func (c *Config) TTL() time.Duration {
	return durationOr(c.LeaseTTL, 30*time.Second)
}

// Heartbeat parses HeartbeatInterval. Returns 15s if unset or invalid.
func (c *Config) Heartbeat() time.Duration {
	return durationOr(c.HeartbeatInterval, 15*time.Second)
}

// AckCommit parses AckCommitInterval. Returns 5s if unset or invalid.
func (c *Config) AckCommit() time.Duration {
	return durationOr(c.AckCommitInterval, 5*time.Second)
}

// AckSample parses AckSampleInterval. Returns 1s if unset or invalid.
func (c *Config) AckSample() time.Duration {
	return durationOr(c.AckSampleInterval, time.Second)
}

func durationOr(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
