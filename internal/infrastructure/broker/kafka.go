package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"

	"github.com/datacatalyst/streamhub/internal/domain"
	"github.com/datacatalyst/streamhub/internal/infrastructure/logging"
)

// KafkaConfig configures the Kafka broker adapter.
type KafkaConfig struct {
	// Brokers are the seed broker addresses.
	Brokers []string

	// TopicPrefix is prepended to every dataset id to form the Kafka
	// topic name, e.g. "datasets." turns dataset D1 into datasets.D1.
	TopicPrefix string

	// ClientID is the client id reported to the cluster. Optional.
	ClientID string

	// BufferSize is the per-consumer delivery buffer. Defaults to
	// DefaultBufferSize.
	BufferSize int
}

// KafkaBroker is a domain.Broker on a Kafka cluster via franz-go.
//
// Each subscription group maps to a Kafka consumer group. Failover
// arbitration uses static group membership: every consumer of a group
// joins with the same instance id, so a new attach fences the previous
// one and Kafka redelivers from the group's committed offsets. Exclusive
// arbitration is enforced by a process-local attach registry; across
// gateway processes the stream lease performs the same role before the
// subscription is ever attempted.
type KafkaBroker struct {
	cfg    KafkaConfig
	logger *logging.Logger

	mu       sync.Mutex
	attached map[string]bool // groups with a live exclusive consumer
	producer *kgo.Client
}

// NewKafkaBroker validates cfg and returns the adapter. No connection is
// made until the first Subscribe or Publish.
func NewKafkaBroker(cfg KafkaConfig, logger *logging.Logger) (*KafkaBroker, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: brokers are required")
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &KafkaBroker{
		cfg:      cfg,
		logger:   logger.With(logging.Fields{"component": "kafka-broker"}),
		attached: make(map[string]bool),
	}, nil
}

// Subscribe implements domain.Broker.
func (b *KafkaBroker) Subscribe(ctx context.Context, opts domain.SubscribeOptions) (domain.Consumer, error) {
	if opts.Group == "" {
		return nil, errors.New("kafka: subscription group is required")
	}

	if opts.Mode == domain.SubscriptionExclusive {
		b.mu.Lock()
		if b.attached[opts.Group] {
			b.mu.Unlock()
			return nil, domain.ErrSubscriptionBusy
		}
		b.attached[opts.Group] = true
		b.mu.Unlock()
	}

	topics := make([]string, len(opts.Topics))
	for i, t := range opts.Topics {
		topics[i] = b.cfg.TopicPrefix + t
	}

	reset := kgo.NewOffset().AtEnd()
	if opts.Position == domain.PositionEarliest {
		reset = kgo.NewOffset().AtStart()
	}
	kopts := []kgo.Opt{
		kgo.SeedBrokers(b.cfg.Brokers...),
		kgo.ConsumerGroup(opts.Group),
		kgo.ConsumeTopics(topics...),
		kgo.DisableAutoCommit(),
		kgo.ConsumeResetOffset(reset),
		// One member per group: the instance id is the group name, so a
		// failover attach fences whoever held the subscription before.
		kgo.InstanceID(opts.Group),
	}
	if b.cfg.ClientID != "" {
		kopts = append(kopts, kgo.ClientID(b.cfg.ClientID))
	}

	cl, err := kgo.NewClient(kopts...)
	if err != nil {
		b.releaseExclusive(opts)
		return nil, fmt.Errorf("kafka: new consumer client: %w", err)
	}

	pollCtx, cancel := context.WithCancel(context.Background())
	c := &kafkaConsumer{
		broker: b,
		opts:   opts,
		client: cl,
		ch:     make(chan domain.Event, b.cfg.BufferSize),
		cancel: cancel,
		logger: b.logger.With(logging.Fields{"group": opts.Group}),
	}
	go c.poll(pollCtx)
	return c, nil
}

func (b *KafkaBroker) releaseExclusive(opts domain.SubscribeOptions) {
	if opts.Mode != domain.SubscriptionExclusive {
		return
	}
	b.mu.Lock()
	delete(b.attached, opts.Group)
	b.mu.Unlock()
}

// Publish produces one event to the dataset's topic. Used by the control
// bridge and by ingest tooling; sessions never publish.
func (b *KafkaBroker) Publish(ctx context.Context, dataset string, ev domain.Event) error {
	payload, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	cl, err := b.producerClient()
	if err != nil {
		return err
	}
	rec := &kgo.Record{
		Topic: b.cfg.TopicPrefix + dataset,
		Key:   []byte(dataset),
		Value: payload,
	}
	return cl.ProduceSync(ctx, rec).FirstErr()
}

func (b *KafkaBroker) producerClient() (*kgo.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.producer != nil {
		return b.producer, nil
	}
	kopts := []kgo.Opt{kgo.SeedBrokers(b.cfg.Brokers...)}
	if b.cfg.ClientID != "" {
		kopts = append(kopts, kgo.ClientID(b.cfg.ClientID))
	}
	cl, err := kgo.NewClient(kopts...)
	if err != nil {
		return nil, fmt.Errorf("kafka: new producer client: %w", err)
	}
	b.producer = cl
	return cl, nil
}

// Close releases the shared producer client.
func (b *KafkaBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.producer != nil {
		b.producer.Close()
		b.producer = nil
	}
	return nil
}

type kafkaConsumer struct {
	broker *KafkaBroker
	opts   domain.SubscribeOptions
	client *kgo.Client
	ch     chan domain.Event
	cancel context.CancelFunc
	logger *logging.Logger

	closeOnce sync.Once
	closed    bool
	closeMu   sync.Mutex
}

func (c *kafkaConsumer) poll(ctx context.Context) {
	defer c.teardown()
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return
		}
		for _, fe := range fetches.Errors() {
			if errors.Is(fe.Err, kerr.FencedInstanceID) {
				// Another consumer took over the group: the failover
				// counterpart of a closed in-process channel.
				c.logger.Info("subscription superseded", logging.Fields{"topic": fe.Topic})
				return
			}
			if errors.Is(fe.Err, context.Canceled) {
				return
			}
			c.logger.Error("fetch error", logging.Fields{"topic": fe.Topic, "error": fe.Err.Error()})
		}
		fetches.EachRecord(func(rec *kgo.Record) {
			ev, err := decodeEvent(rec.Value)
			if err != nil {
				c.logger.Warn("dropping malformed record", logging.Fields{
					"topic":  rec.Topic,
					"offset": rec.Offset,
					"error":  err.Error(),
				})
				return
			}
			ev.Handle = domain.AckHandle{Topic: rec.Topic, Partition: rec.Partition, Offset: rec.Offset}
			select {
			case c.ch <- ev:
			case <-ctx.Done():
			}
		})
	}
}

func (c *kafkaConsumer) teardown() {
	c.closeMu.Lock()
	c.closed = true
	c.closeMu.Unlock()
	c.client.Close()
	c.broker.releaseExclusive(c.opts)
	close(c.ch)
}

// Events implements domain.Consumer.
func (c *kafkaConsumer) Events() <-chan domain.Event { return c.ch }

// AckCumulative implements domain.Consumer. Kafka group commits are
// cumulative by construction, so committing offset+1 confirms
// everything before it on the partition. Autocommit is disabled on the
// client, so the commit here is the only one that ever happens.
func (c *kafkaConsumer) AckCumulative(ctx context.Context, h domain.AckHandle) error {
	if h.Zero() {
		return nil
	}
	c.closeMu.Lock()
	closed := c.closed
	c.closeMu.Unlock()
	if closed {
		return domain.ErrConsumerClosed
	}
	var commitErr error
	c.client.CommitOffsetsSync(ctx, commitOffsets(h), func(_ *kgo.Client, _ *kmsg.OffsetCommitRequest, resp *kmsg.OffsetCommitResponse, err error) {
		if err != nil {
			commitErr = err
			return
		}
		for _, t := range resp.Topics {
			for _, p := range t.Partitions {
				if ec := kerr.ErrorForCode(p.ErrorCode); ec != nil {
					commitErr = ec
					return
				}
			}
		}
	})
	if commitErr != nil {
		return fmt.Errorf("kafka: commit offsets: %w", commitErr)
	}
	return nil
}

// Close implements domain.Consumer.
func (c *kafkaConsumer) Close() error {
	c.closeOnce.Do(c.cancel)
	return nil
}

// commitOffsets builds the commit request for a cumulative ack up to the
// handle: the next offset to consume on the handle's partition. Epoch -1
// skips leader-epoch validation, the handle does not carry one.
func commitOffsets(h domain.AckHandle) map[string]map[int32]kgo.EpochOffset {
	return map[string]map[int32]kgo.EpochOffset{
		h.Topic: {h.Partition: {Epoch: -1, Offset: h.Offset + 1}},
	}
}
