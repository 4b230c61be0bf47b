package domain

import "time"

// StreamID identifies a saved stream definition in the catalog.
type StreamID string

// MetricSelector names one metric of a stream's range. Name may be the
// wildcard "*", in which case every metric of the given type matches.
type MetricSelector struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

// MetricWildcard is the selector name that matches all metrics of a type.
const MetricWildcard = "*"

// Matches reports whether the selector covers the given metric.
func (s MetricSelector) Matches(m MetricID) bool {
	if s.Type != m.Type {
		return false
	}
	return s.Name == MetricWildcard || s.Name == m.Name
}

// StreamRange is the set of datasets and metrics a stream watches.
type StreamRange struct {
	Datasets []string         `json:"datasets"`
	Metrics  []MetricSelector `json:"metrics"`
}

// ContainsDataset reports whether the dataset is part of the range.
func (r StreamRange) ContainsDataset(dataset string) bool {
	for _, d := range r.Datasets {
		if d == dataset {
			return true
		}
	}
	return false
}

// ContainsMetric reports whether any selector, literal or wildcard,
// covers the metric.
func (r StreamRange) ContainsMetric(m MetricID) bool {
	for _, sel := range r.Metrics {
		if sel.Matches(m) {
			return true
		}
	}
	return false
}

// TimePrecision is the unit event timestamps are converted to before
// they are written to the wire.
type TimePrecision string

// Supported time precisions.
const (
	PrecisionNanoseconds  TimePrecision = "ns"
	PrecisionMicroseconds TimePrecision = "us"
	PrecisionMilliseconds TimePrecision = "ms"
	PrecisionSeconds      TimePrecision = "s"
)

// Convert expresses t as an integer in the precision's unit. Unknown
// precisions fall back to nanoseconds.
func (p TimePrecision) Convert(t time.Time) int64 {
	switch p {
	case PrecisionMicroseconds:
		return t.UnixMicro()
	case PrecisionMilliseconds:
		return t.UnixMilli()
	case PrecisionSeconds:
		return t.Unix()
	default:
		return t.UnixNano()
	}
}

// StreamDefinition is a saved query over the catalog: which datasets and
// metrics to watch, how to filter events, and which fields to emit. It is
// owned by the catalog store and read-only from the engine's perspective.
type StreamDefinition struct {
	ID          StreamID      `json:"id"`
	OwnerUserID string        `json:"ownerUserId"`
	OwnerTeamID string        `json:"ownerTeamId,omitempty"`
	Range       StreamRange   `json:"range"`
	Filter      Filter        `json:"filter"`
	Fields      []FieldKey    `json:"fields"`
	Precision   TimePrecision `json:"timePrecision"`

	// Connected is a best-effort liveness indicator persisted back to
	// the catalog for display. It is not authoritative.
	Connected bool `json:"connected"`
}

// EmitsField reports whether key is on the definition's allow-list.
func (d *StreamDefinition) EmitsField(key FieldKey) bool {
	for _, f := range d.Fields {
		if f == key {
			return true
		}
	}
	return false
}

// SubscriptionMode selects how the broker arbitrates between concurrent
// consumers of the same subscription.
type SubscriptionMode int

const (
	// SubscriptionExclusive allows a single physical consumer; a second
	// attach is rejected with ErrSubscriptionBusy.
	SubscriptionExclusive SubscriptionMode = iota

	// SubscriptionFailover allows a new consumer to attach and take over
	// delivery; the previous consumer is detached by the broker.
	SubscriptionFailover
)

// String implements fmt.Stringer.
func (m SubscriptionMode) String() string {
	if m == SubscriptionFailover {
		return "failover"
	}
	return "exclusive"
}

// InitialPosition selects where a new subscription starts reading.
type InitialPosition int

const (
	// PositionLatest delivers only events published after the attach.
	PositionLatest InitialPosition = iota

	// PositionEarliest replays the retained backlog before new events.
	PositionEarliest
)

// SessionState tracks the lifecycle of an exclusive-strategy session.
type SessionState int32

const (
	SessionInit SessionState = iota
	SessionStreaming
	SessionTerminateRequested
	SessionTerminatedByAPI
	SessionTerminatedByClient
)

// String implements fmt.Stringer.
func (s SessionState) String() string {
	switch s {
	case SessionInit:
		return "init"
	case SessionStreaming:
		return "streaming"
	case SessionTerminateRequested:
		return "terminate-requested"
	case SessionTerminatedByAPI:
		return "terminated-by-api"
	case SessionTerminatedByClient:
		return "terminated-by-client"
	default:
		return "unknown"
	}
}
