package domain

import "time"

// MetricID identifies the metric an event was recorded for, namespaced
// by the metric's type.
type MetricID struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

// ProducerKind discriminates the closed set of event producers.
type ProducerKind int

const (
	ProducerUser ProducerKind = iota
	ProducerClient
)

// Producer is the origin of an event: either a user or a registered
// client application. The set is closed; there is no dynamic dispatch on
// producer types anywhere in the engine.
type Producer struct {
	Kind ProducerKind
	ID   string
}

// UserProducer returns a Producer for a user origin.
func UserProducer(id string) Producer { return Producer{Kind: ProducerUser, ID: id} }

// ClientProducer returns a Producer for a client-application origin.
func ClientProducer(id string) Producer { return Producer{Kind: ProducerClient, ID: id} }

// String implements fmt.Stringer.
func (p Producer) String() string {
	if p.Kind == ProducerClient {
		return "client:" + p.ID
	}
	return "user:" + p.ID
}

// FieldKey names one field of the fixed event schema.
type FieldKey string

// The enumerated event fields a stream definition may project.
const (
	FieldValue    FieldKey = "value"
	FieldUnit     FieldKey = "unit"
	FieldLocation FieldKey = "location"
	FieldDataset  FieldKey = "dataset"
	FieldMetric   FieldKey = "metric"
	FieldProducer FieldKey = "producer"
)

// EventFields is the fixed, enumerated payload schema of an event.
// Value is a pointer so "no reading" is distinguishable from zero.
type EventFields struct {
	Value    *float64 `json:"value,omitempty"`
	Unit     string   `json:"unit,omitempty"`
	Location string   `json:"location,omitempty"`
}

// AckHandle locates a delivered event inside its broker subscription.
// It is opaque to the session engine and only interpreted by the broker
// adapter that issued it. Cumulative acknowledgment up to a handle
// confirms every event delivered before it on the same topic.
type AckHandle struct {
	Topic     string
	Partition int32
	Offset    int64
}

// Zero reports whether the handle has never been assigned.
func (h AckHandle) Zero() bool { return h.Topic == "" }

// Event is one broker-delivered reading. Transient: the engine filters,
// projects, and forwards it without retaining it.
type Event struct {
	Dataset   string
	Metric    MetricID
	Producer  Producer
	Timestamp time.Time
	Fields    EventFields
	Handle    AckHandle
}

// Lookup resolves a filter key against the event. Known schema keys map
// to their fields; a key equal to the event's metric name resolves to
// the value field, so a filter like "speed > 50" applies to readings of
// the metric named "speed". The second return is false when the field is
// absent from this event.
func (e *Event) Lookup(key string) (TypedValue, bool) {
	switch FieldKey(key) {
	case FieldValue:
		if e.Fields.Value == nil {
			return TypedValue{}, false
		}
		return NumberValue(*e.Fields.Value), true
	case FieldUnit:
		if e.Fields.Unit == "" {
			return TypedValue{}, false
		}
		return TextValue(e.Fields.Unit), true
	case FieldLocation:
		if e.Fields.Location == "" {
			return TypedValue{}, false
		}
		return TextValue(e.Fields.Location), true
	case FieldDataset:
		return TextValue(e.Dataset), true
	case FieldMetric:
		return TextValue(e.Metric.Name), true
	case FieldProducer:
		return TextValue(e.Producer.String()), true
	}
	if key == e.Metric.Name && e.Fields.Value != nil {
		return NumberValue(*e.Fields.Value), true
	}
	return TypedValue{}, false
}

// WireEvent is the JSON object written as an SSE data frame: the
// projected subset of the event plus the timestamp in the stream's
// configured precision.
type WireEvent struct {
	Timestamp int64    `json:"timestamp"`
	Dataset   string   `json:"dataset,omitempty"`
	Metric    string   `json:"metric,omitempty"`
	Value     *float64 `json:"value,omitempty"`
	Unit      string   `json:"unit,omitempty"`
	Location  string   `json:"location,omitempty"`
	Producer  string   `json:"producer,omitempty"`
}
