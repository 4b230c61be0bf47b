// Package metrics defines the Prometheus instrumentation for the stream
// engine. The registry is constructed explicitly and injected; nothing
// here touches global state.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the streaming engine.
type Metrics struct {
	registry *prometheus.Registry

	// Session metrics
	ActiveSessions *prometheus.GaugeVec
	SessionsOpened *prometheus.CounterVec
	SessionsClosed *prometheus.CounterVec

	// Delivery metrics
	EventsReceived prometheus.Counter
	EventsStreamed prometheus.Counter
	HeartbeatsSent prometheus.Counter

	// Acknowledgment metrics
	AckCommits      prometheus.Counter
	AckCommitErrors prometheus.Counter
}

// Close reasons recorded on SessionsClosed.
const (
	CloseReasonClient     = "client"
	CloseReasonAPI        = "api"
	CloseReasonSuperseded = "superseded"
	CloseReasonError      = "error"
)

// New creates all metrics on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ActiveSessions: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "streamhub_active_sessions",
			Help: "Current number of live delivery sessions per dataset",
		}, []string{"dataset"}),
		SessionsOpened: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "streamhub_sessions_opened_total",
			Help: "Total number of delivery sessions opened, by strategy",
		}, []string{"strategy"}),
		SessionsClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "streamhub_sessions_closed_total",
			Help: "Total number of delivery sessions closed, by reason",
		}, []string{"reason"}),
		EventsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "streamhub_events_received_total",
			Help: "Total number of broker events received by sessions",
		}),
		EventsStreamed: factory.NewCounter(prometheus.CounterOpts{
			Name: "streamhub_events_streamed_total",
			Help: "Total number of events written to clients as SSE frames",
		}),
		HeartbeatsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "streamhub_heartbeats_sent_total",
			Help: "Total number of SSE heartbeat frames written",
		}),
		AckCommits: factory.NewCounter(prometheus.CounterOpts{
			Name: "streamhub_ack_commits_total",
			Help: "Total number of cumulative acknowledgment commits",
		}),
		AckCommitErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "streamhub_ack_commit_errors_total",
			Help: "Total number of failed acknowledgment commits (non-fatal)",
		}),
	}
}

// Registry exposes the underlying registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
