// Package broker contains the event broker adapters: an in-process
// broker for tests and single-node runs, a Kafka adapter (franz-go) and
// a RabbitMQ adapter (amqp091). All of them present the same
// domain.Broker contract: named subscription groups with exclusive or
// failover arbitration, latest-only or backlog initial positions, and
// cumulative acknowledgment up to a delivery handle.
package broker

import (
	"context"
	"sync"

	"github.com/datacatalyst/streamhub/internal/domain"
)

// DefaultBufferSize is the per-consumer delivery buffer. Backlog replay
// happens synchronously at subscribe time, so retained backlogs larger
// than the buffer would block; size accordingly in tests.
const DefaultBufferSize = 1024

// MemoryBroker is an in-process domain.Broker with retained topic logs.
type MemoryBroker struct {
	mu      sync.Mutex
	topics  map[string][]domain.Event
	groups  map[string]*memoryGroup
	bufSize int
}

type memoryGroup struct {
	mode      domain.SubscriptionMode
	active    *memoryConsumer
	committed map[string]int64 // highest acked offset per topic
}

// NewMemoryBroker returns an empty in-process broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		topics:  make(map[string][]domain.Event),
		groups:  make(map[string]*memoryGroup),
		bufSize: DefaultBufferSize,
	}
}

// Publish appends the event to the topic's retained log and delivers it
// to the active consumer of every group subscribed to the topic.
func (b *MemoryBroker) Publish(topic string, event domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	event.Handle = domain.AckHandle{Topic: topic, Offset: int64(len(b.topics[topic]))}
	b.topics[topic] = append(b.topics[topic], event)

	for _, g := range b.groups {
		if g.active != nil && g.active.subscribed(topic) {
			g.active.deliver(event)
		}
	}
}

// Subscribe attaches a consumer to the group named in opts. Exclusive
// groups reject a second attach with ErrSubscriptionBusy; failover
// groups detach the previous consumer, whose Events channel is closed.
func (b *MemoryBroker) Subscribe(ctx context.Context, opts domain.SubscribeOptions) (domain.Consumer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	g, ok := b.groups[opts.Group]
	if !ok {
		g = &memoryGroup{mode: opts.Mode, committed: make(map[string]int64)}
		b.groups[opts.Group] = g
	}
	if g.active != nil {
		if g.mode == domain.SubscriptionExclusive {
			return nil, domain.ErrSubscriptionBusy
		}
		g.active.detachLocked()
	}
	g.mode = opts.Mode

	c := &memoryConsumer{
		broker: b,
		group:  g,
		topics: make(map[string]bool, len(opts.Topics)),
		ch:     make(chan domain.Event, b.bufSize),
	}
	for _, t := range opts.Topics {
		c.topics[t] = true
	}
	g.active = c

	if opts.Position == domain.PositionEarliest {
		// Replay the retained backlog past the group's committed point.
		for _, t := range opts.Topics {
			from := int64(0)
			if off, ok := g.committed[t]; ok {
				from = off + 1
			}
			log := b.topics[t]
			for i := from; i < int64(len(log)); i++ {
				c.deliver(log[i])
			}
		}
	}
	return c, nil
}

// memoryConsumer is one attached subscription.
type memoryConsumer struct {
	broker *MemoryBroker
	group  *memoryGroup
	topics map[string]bool
	ch     chan domain.Event

	closeMu  sync.Mutex
	detached bool
}

func (c *memoryConsumer) subscribed(topic string) bool { return c.topics[topic] }

// deliver is called with the broker lock held.
func (c *memoryConsumer) deliver(event domain.Event) {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.detached {
		return
	}
	select {
	case c.ch <- event:
	default:
		// Buffer full: the consumer is too slow. Dropping here is the
		// redelivery path; the event stays in the retained log and is
		// replayed from the last commit on the next attach.
	}
}

func (c *memoryConsumer) detachLocked() {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.detached {
		return
	}
	c.detached = true
	close(c.ch)
	if c.group.active == c {
		c.group.active = nil
	}
}

// Events implements domain.Consumer.
func (c *memoryConsumer) Events() <-chan domain.Event { return c.ch }

// AckCumulative implements domain.Consumer. Commits are monotonic.
func (c *memoryConsumer) AckCumulative(ctx context.Context, h domain.AckHandle) error {
	if h.Zero() {
		return nil
	}
	c.closeMu.Lock()
	if c.detached {
		c.closeMu.Unlock()
		return domain.ErrConsumerClosed
	}
	c.closeMu.Unlock()

	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	if current, ok := c.group.committed[h.Topic]; !ok || h.Offset > current {
		c.group.committed[h.Topic] = h.Offset
	}
	return nil
}

// Close implements domain.Consumer. Idempotent.
func (c *memoryConsumer) Close() error {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	c.detachLocked()
	return nil
}
