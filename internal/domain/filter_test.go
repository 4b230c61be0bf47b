package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func speedEvent(value float64) *Event {
	return &Event{
		Dataset:   "D1",
		Metric:    MetricID{Type: "velocity", Name: "speed"},
		Producer:  ClientProducer("sensor-7"),
		Timestamp: time.Unix(100, 0),
		Fields:    EventFields{Value: &value, Unit: "km/h"},
	}
}

func numPtr(f float64) *float64 { return &f }
func strPtr(s string) *string   { return &s }

func TestFilterEvaluate(t *testing.T) {
	tests := []struct {
		name   string
		filter Filter
		event  *Event
		want   bool
	}{
		{
			name:   "ZeroFilterMatchesEverything",
			filter: Filter{},
			event:  speedEvent(30),
			want:   true,
		},
		{
			name:   "MetricNameComparison_Above",
			filter: Filter{Cmp: &Comparison{Field: "speed", Op: OpGreater, Number: numPtr(50)}},
			event:  speedEvent(75),
			want:   true,
		},
		{
			name:   "MetricNameComparison_Below",
			filter: Filter{Cmp: &Comparison{Field: "speed", Op: OpGreater, Number: numPtr(50)}},
			event:  speedEvent(30),
			want:   false,
		},
		{
			name:   "ValueField",
			filter: Filter{Cmp: &Comparison{Field: "value", Op: OpLessEqual, Number: numPtr(30)}},
			event:  speedEvent(30),
			want:   true,
		},
		{
			name:   "TextEquality",
			filter: Filter{Cmp: &Comparison{Field: "unit", Op: OpEqual, Text: strPtr("km/h")}},
			event:  speedEvent(30),
			want:   true,
		},
		{
			name:   "MissingFieldNeverMatches",
			filter: Filter{Cmp: &Comparison{Field: "acceleration", Op: OpGreater, Number: numPtr(0)}},
			event:  speedEvent(75),
			want:   false,
		},
		{
			name: "MissingFieldUnderNotMatches",
			filter: Filter{Not: &Filter{
				Cmp: &Comparison{Field: "acceleration", Op: OpGreater, Number: numPtr(0)},
			}},
			event: speedEvent(75),
			want:  true,
		},
		{
			name: "TypeMismatchNeverMatches",
			// Numeric field compared against a text constant.
			filter: Filter{Cmp: &Comparison{Field: "value", Op: OpEqual, Text: strPtr("75")}},
			event:  speedEvent(75),
			want:   false,
		},
		{
			name: "AllConjunction",
			filter: Filter{All: []Filter{
				{Cmp: &Comparison{Field: "speed", Op: OpGreater, Number: numPtr(50)}},
				{Cmp: &Comparison{Field: "unit", Op: OpEqual, Text: strPtr("km/h")}},
			}},
			event: speedEvent(75),
			want:  true,
		},
		{
			name: "AllShortCircuits",
			filter: Filter{All: []Filter{
				{Cmp: &Comparison{Field: "speed", Op: OpGreater, Number: numPtr(100)}},
				{Cmp: &Comparison{Field: "unit", Op: OpEqual, Text: strPtr("km/h")}},
			}},
			event: speedEvent(75),
			want:  false,
		},
		{
			name: "AnyDisjunction",
			filter: Filter{Any: []Filter{
				{Cmp: &Comparison{Field: "speed", Op: OpGreater, Number: numPtr(100)}},
				{Cmp: &Comparison{Field: "dataset", Op: OpEqual, Text: strPtr("D1")}},
			}},
			event: speedEvent(75),
			want:  true,
		},
		{
			name:   "ProducerField",
			filter: Filter{Cmp: &Comparison{Field: "producer", Op: OpEqual, Text: strPtr("client:sensor-7")}},
			event:  speedEvent(10),
			want:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Evaluate(tt.event))
		})
	}
}

func TestComparisonOperators(t *testing.T) {
	event := speedEvent(50)

	ops := map[CompareOp]bool{
		OpEqual:        true,
		OpNotEqual:     false,
		OpGreater:      false,
		OpGreaterEqual: true,
		OpLess:         false,
		OpLessEqual:    true,
	}
	for op, want := range ops {
		f := Filter{Cmp: &Comparison{Field: "value", Op: op, Number: numPtr(50)}}
		assert.Equal(t, want, f.Evaluate(event), "op %s", op)
	}
}
