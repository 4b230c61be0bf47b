// Package usecases implements the application business logic of the
// stream delivery engine: event matching and projection against stream
// definitions, and the stream service facade used by the gateway.
package usecases

import (
	"github.com/datacatalyst/streamhub/internal/domain"
)

// Projector decides which events a stream definition selects and shapes
// the selected events for the wire. Stateless; one shared instance
// serves every session.
type Projector struct{}

// NewProjector creates a Projector.
func NewProjector() *Projector {
	return &Projector{}
}

// Matches reports whether the event falls inside the definition's range
// and passes its filter. Range membership requires both the dataset and
// the metric, wildcard selectors included; filter evaluation follows,
// where a comparison on a field the event lacks is a non-match.
func (p *Projector) Matches(def *domain.StreamDefinition, ev *domain.Event) bool {
	if !def.Range.ContainsDataset(ev.Dataset) {
		return false
	}
	if !def.Range.ContainsMetric(ev.Metric) {
		return false
	}
	return def.Filter.Evaluate(ev)
}

// Project shapes the event for the wire: the timestamp converted to the
// definition's precision plus exactly the fields on the allow-list. An
// empty allow-list yields the timestamp alone.
func (p *Projector) Project(def *domain.StreamDefinition, ev *domain.Event) domain.WireEvent {
	out := domain.WireEvent{
		Timestamp: def.Precision.Convert(ev.Timestamp),
	}
	for _, key := range def.Fields {
		switch key {
		case domain.FieldValue:
			out.Value = ev.Fields.Value
		case domain.FieldUnit:
			out.Unit = ev.Fields.Unit
		case domain.FieldLocation:
			out.Location = ev.Fields.Location
		case domain.FieldDataset:
			out.Dataset = ev.Dataset
		case domain.FieldMetric:
			out.Metric = ev.Metric.Name
		case domain.FieldProducer:
			out.Producer = ev.Producer.String()
		}
	}
	return out
}
