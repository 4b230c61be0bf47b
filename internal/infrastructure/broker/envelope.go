package broker

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/datacatalyst/streamhub/internal/domain"
)

// envelope is the JSON shape events travel in on Kafka and RabbitMQ.
// Timestamps are carried in nanoseconds; the session converts to the
// stream's configured precision at projection time.
type envelope struct {
	Dataset     string   `json:"dataset"`
	MetricType  string   `json:"metric_type"`
	MetricName  string   `json:"metric_name"`
	Producer    string   `json:"producer,omitempty"`
	TimestampNs int64    `json:"timestamp_ns"`
	Value       *float64 `json:"value,omitempty"`
	Unit        string   `json:"unit,omitempty"`
	Location    string   `json:"location,omitempty"`
}

func encodeEvent(ev domain.Event) ([]byte, error) {
	env := envelope{
		Dataset:     ev.Dataset,
		MetricType:  ev.Metric.Type,
		MetricName:  ev.Metric.Name,
		Producer:    ev.Producer.String(),
		TimestampNs: ev.Timestamp.UnixNano(),
		Value:       ev.Fields.Value,
		Unit:        ev.Fields.Unit,
		Location:    ev.Fields.Location,
	}
	return json.Marshal(env)
}

func decodeEvent(payload []byte) (domain.Event, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return domain.Event{}, fmt.Errorf("parse event envelope: %w", err)
	}
	if env.MetricName == "" {
		return domain.Event{}, fmt.Errorf("event envelope missing metric_name")
	}
	return domain.Event{
		Dataset:   env.Dataset,
		Metric:    domain.MetricID{Type: env.MetricType, Name: env.MetricName},
		Producer:  parseProducer(env.Producer),
		Timestamp: time.Unix(0, env.TimestampNs),
		Fields: domain.EventFields{
			Value:    env.Value,
			Unit:     env.Unit,
			Location: env.Location,
		},
	}, nil
}

func parseProducer(s string) domain.Producer {
	if id, ok := strings.CutPrefix(s, "client:"); ok {
		return domain.ClientProducer(id)
	}
	return domain.UserProducer(strings.TrimPrefix(s, "user:"))
}
