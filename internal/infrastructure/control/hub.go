// Package control fans stop signals out to the stream sessions a
// gateway process is serving. Signals originate locally (a termination
// API call handled by this process) or remotely, relayed over the
// brokers' control topic so every gateway process sees them.
package control

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/juju/pubsub/v2"

	"github.com/datacatalyst/streamhub/internal/domain"
	"github.com/datacatalyst/streamhub/internal/infrastructure/logging"
)

const stopTopicPrefix = "stream.stop."

// Control events ride the broker in the same envelope as readings,
// discriminated by the metric type.
const (
	controlMetricType = "control"
	stopMetricName    = "stop"
)

// Publisher produces one event onto a broker topic. Satisfied by the
// Kafka and RabbitMQ broker adapters.
type Publisher interface {
	Publish(ctx context.Context, topic string, ev domain.Event) error
}

// Hub is the in-process domain.StopBus.
type Hub struct {
	hub    *pubsub.SimpleHub
	logger *logging.Logger
}

// NewHub returns an empty hub.
func NewHub(logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Hub{
		hub:    pubsub.NewSimpleHub(nil),
		logger: logger.With(logging.Fields{"component": "control-hub"}),
	}
}

// SubscribeStop implements domain.StopBus.
func (h *Hub) SubscribeStop(id domain.StreamID, fn func()) func() {
	return h.hub.Subscribe(stopTopicPrefix+string(id), func(string, interface{}) {
		fn()
	})
}

// PublishStop implements domain.StopBus. Local fan-out only; remote
// processes are reached through BroadcastStop.
func (h *Hub) PublishStop(id domain.StreamID) {
	_ = h.hub.Publish(stopTopicPrefix+string(id), nil)
}

// BroadcastStop publishes a stop envelope on the control topic. Every
// gateway's bridge, this process's included, relays it into its hub, so
// the local fan-out needs no separate call.
func (h *Hub) BroadcastStop(ctx context.Context, pub Publisher, topic string, id domain.StreamID) error {
	return pub.Publish(ctx, topic, StopEvent(id))
}

// StopEvent builds the control envelope requesting termination of every
// session serving the stream.
func StopEvent(id domain.StreamID) domain.Event {
	return domain.Event{
		Dataset:   string(id),
		Metric:    domain.MetricID{Type: controlMetricType, Name: stopMetricName},
		Timestamp: time.Now(),
	}
}

// IsStopEvent reports whether the event is a stop control envelope.
func IsStopEvent(ev domain.Event) bool {
	return ev.Metric.Type == controlMetricType && ev.Metric.Name == stopMetricName
}

// RunBridge consumes the control topic and relays stop envelopes into
// the hub. The subscription group is unique per process so every
// gateway receives every signal. Blocks until ctx is done or the
// consumer detaches.
func (h *Hub) RunBridge(ctx context.Context, broker domain.Broker, topic string) error {
	consumer, err := broker.Subscribe(ctx, domain.SubscribeOptions{
		Topics:   []string{topic},
		Group:    "control-bridge-" + uuid.NewString(),
		Mode:     domain.SubscriptionFailover,
		Position: domain.PositionLatest,
	})
	if err != nil {
		return err
	}
	defer consumer.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-consumer.Events():
			if !ok {
				return nil
			}
			if !IsStopEvent(ev) {
				continue
			}
			h.logger.Info("relaying stop signal", logging.Fields{"stream_id": ev.Dataset})
			h.PublishStop(domain.StreamID(ev.Dataset))
			if err := consumer.AckCumulative(ctx, ev.Handle); err != nil {
				h.logger.Warn("control ack failed", logging.Fields{"error": err.Error()})
			}
		}
	}
}
