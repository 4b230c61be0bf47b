package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/datacatalyst/streamhub/internal/domain"
)

func TestNewKafkaBrokerRequiresBrokers(t *testing.T) {
	_, err := NewKafkaBroker(KafkaConfig{}, nil)
	assert.Error(t, err)

	b, err := NewKafkaBroker(KafkaConfig{Brokers: []string{"localhost:9092"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultBufferSize, b.cfg.BufferSize)
}

func TestCommitOffsetsConfirmsEverythingUpToHandle(t *testing.T) {
	h := domain.AckHandle{Topic: "datasets.D1", Partition: 2, Offset: 41}

	got := commitOffsets(h)
	require.Contains(t, got, "datasets.D1")
	require.Contains(t, got["datasets.D1"], int32(2))
	// Committing offset+1 marks 41 and everything before it as consumed.
	assert.Equal(t, kgo.EpochOffset{Epoch: -1, Offset: 42}, got["datasets.D1"][2])
}
