// Package builder wires the delivery engine together: stores, broker,
// control hub, gateway and HTTP server, with in-memory defaults for
// every collaborator that is not set explicitly.
package builder

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/juju/clock"

	"github.com/datacatalyst/streamhub/internal/config"
	"github.com/datacatalyst/streamhub/internal/domain"
	"github.com/datacatalyst/streamhub/internal/infrastructure/auth"
	"github.com/datacatalyst/streamhub/internal/infrastructure/broker"
	"github.com/datacatalyst/streamhub/internal/infrastructure/catalog"
	"github.com/datacatalyst/streamhub/internal/infrastructure/control"
	"github.com/datacatalyst/streamhub/internal/infrastructure/lease"
	"github.com/datacatalyst/streamhub/internal/infrastructure/logging"
	"github.com/datacatalyst/streamhub/internal/infrastructure/metrics"
	"github.com/datacatalyst/streamhub/internal/infrastructure/server"
	"github.com/datacatalyst/streamhub/internal/usecases"
)

// Platform is the assembled engine.
type Platform struct {
	Server  *server.HTTPServer
	Gateway *server.StreamGateway
	Hub     *control.Hub
	Broker  domain.Broker
	Metrics *metrics.Metrics

	// ControlPublisher is non-nil when the broker can carry the control
	// topic (kafka/rabbitmq drivers); BroadcastStop uses it.
	ControlPublisher control.Publisher
	// ControlTopic is the topic the control bridge consumes.
	ControlTopic string
}

// PlatformBuilder implements the Builder pattern for assembling the engine.
type PlatformBuilder struct {
	addr     string
	basePath string

	leaseTTL  time.Duration
	heartbeat time.Duration
	ackCommit time.Duration
	ackSample time.Duration

	logger    *logging.Logger
	clk       clock.Clock
	leases    domain.LeaseStore
	catalog   domain.CatalogStore
	broker    domain.Broker
	validator domain.TokenValidator
	publisher control.Publisher

	controlTopic string
}

// NewPlatformBuilder creates a builder with default values.
func NewPlatformBuilder() *PlatformBuilder {
	return &PlatformBuilder{
		addr:         ":8080",
		basePath:     "/streams",
		leaseTTL:     30 * time.Second,
		heartbeat:    15 * time.Second,
		ackCommit:    5 * time.Second,
		ackSample:    time.Second,
		clk:          clock.WallClock,
		controlTopic: "streamhub.control",
	}
}

// WithAddress sets the HTTP listen address.
func (b *PlatformBuilder) WithAddress(addr string) *PlatformBuilder {
	b.addr = addr
	return b
}

// WithBasePath sets the stream route prefix.
func (b *PlatformBuilder) WithBasePath(path string) *PlatformBuilder {
	b.basePath = path
	return b
}

// WithLogger sets the logger.
func (b *PlatformBuilder) WithLogger(logger *logging.Logger) *PlatformBuilder {
	b.logger = logger
	return b
}

// WithClock sets the clock used for timers and lease TTL arithmetic.
func (b *PlatformBuilder) WithClock(clk clock.Clock) *PlatformBuilder {
	b.clk = clk
	return b
}

// WithLeaseStore sets the coordination store.
func (b *PlatformBuilder) WithLeaseStore(store domain.LeaseStore) *PlatformBuilder {
	b.leases = store
	return b
}

// WithCatalogStore sets the stream definition store.
func (b *PlatformBuilder) WithCatalogStore(store domain.CatalogStore) *PlatformBuilder {
	b.catalog = store
	return b
}

// WithBroker sets the event broker.
func (b *PlatformBuilder) WithBroker(br domain.Broker) *PlatformBuilder {
	b.broker = br
	return b
}

// WithTokenValidator sets the bearer-token validator.
func (b *PlatformBuilder) WithTokenValidator(v domain.TokenValidator) *PlatformBuilder {
	b.validator = v
	return b
}

// WithControlPublisher sets the publisher used to broadcast stop
// signals cluster-wide.
func (b *PlatformBuilder) WithControlPublisher(p control.Publisher) *PlatformBuilder {
	b.publisher = p
	return b
}

// WithIntervals sets the session timing configuration.
func (b *PlatformBuilder) WithIntervals(leaseTTL, heartbeat, ackCommit, ackSample time.Duration) *PlatformBuilder {
	b.leaseTTL = leaseTTL
	b.heartbeat = heartbeat
	b.ackCommit = ackCommit
	b.ackSample = ackSample
	return b
}

// FromConfig applies the loaded configuration: address, base path,
// intervals, broker driver, Postgres stores, and JWT validation.
func (b *PlatformBuilder) FromConfig(cfg *config.Config) (*PlatformBuilder, error) {
	b.addr = cfg.HTTPAddr
	b.basePath = cfg.BasePath
	b.controlTopic = cfg.ControlTopic
	b.WithIntervals(cfg.TTL(), cfg.Heartbeat(), cfg.AckCommit(), cfg.AckSample())

	switch cfg.BrokerDriver {
	case config.DriverMemory:
		// Default broker; nothing to construct.
	case config.DriverKafka:
		kb, err := broker.NewKafkaBroker(broker.KafkaConfig{
			Brokers:     cfg.KafkaBrokersList(),
			TopicPrefix: cfg.KafkaTopicPrefix,
			ClientID:    "streamhub",
		}, b.logger)
		if err != nil {
			return nil, err
		}
		b.broker = kb
		b.publisher = kb
	case config.DriverRabbitMQ:
		rb, err := broker.NewRabbitBroker(broker.RabbitConfig{
			URL:      cfg.RabbitURL,
			Exchange: cfg.RabbitExchange,
		}, b.logger)
		if err != nil {
			return nil, err
		}
		b.broker = rb
		b.publisher = rb
	default:
		return nil, fmt.Errorf("unknown broker driver %q", cfg.BrokerDriver)
	}

	if cfg.DatabaseURL != "" {
		poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("parse DATABASE_URL: %w", err)
		}
		pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		b.leases = lease.NewPostgresStore(pool, cfg.TTL())
		b.catalog = catalog.NewPostgresStore(pool)
	}

	if cfg.JWTPublicKey != "" {
		key, err := auth.ParsePublicKey([]byte(cfg.JWTPublicKey))
		if err != nil {
			return nil, fmt.Errorf("parse JWT_PUBLIC_KEY: %w", err)
		}
		b.validator = auth.NewTokenValidator(key, cfg.JWTIssuer, cfg.JWTAudience)
	}
	return b, nil
}

// Build assembles the platform, filling unset collaborators with
// in-memory implementations.
func (b *PlatformBuilder) Build() *Platform {
	logger := b.logger
	if logger == nil {
		logger = logging.NewNop()
	}
	if b.leases == nil {
		b.leases = lease.NewMemoryStore(b.leaseTTL, b.clk)
	}
	if b.catalog == nil {
		b.catalog = catalog.NewMemoryStore()
	}
	if b.broker == nil {
		b.broker = broker.NewMemoryBroker()
	}

	m := metrics.New()
	tracker := metrics.NewActiveSessionTracker(m.ActiveSessions)
	hub := control.NewHub(logger)

	svc := usecases.NewStreamService(usecases.StreamServiceConfig{
		Catalog:   b.catalog,
		Validator: b.validator,
		Logger:    logger,
	})
	gateway := server.NewStreamGateway(server.GatewayConfig{
		BasePath:          b.basePath,
		Service:           svc,
		Projector:         usecases.NewProjector(),
		Lease:             b.leases,
		Broker:            b.broker,
		Tracker:           tracker,
		StopBus:           hub,
		Metrics:           m,
		Logger:            logger,
		Clock:             b.clk,
		HeartbeatInterval: b.heartbeat,
		AckCommitInterval: b.ackCommit,
		AckSampleInterval: b.ackSample,
	})

	return &Platform{
		Server:           server.NewHTTPServer(b.addr, gateway, m, logger),
		Gateway:          gateway,
		Hub:              hub,
		Broker:           b.broker,
		Metrics:          m,
		ControlPublisher: b.publisher,
		ControlTopic:     b.controlTopic,
	}
}
