package domain

import "context"

// LeaseStore is the coordination store holding the single-owner lease
// per stream. At most one live (non-expired) token exists per StreamID;
// Acquire overwrites unconditionally, which is how an older session
// detects supersession.
type LeaseStore interface {
	// Acquire writes a fresh random token for the stream with the store's
	// TTL, overwriting any existing value, and returns the token.
	Acquire(ctx context.Context, id StreamID) (string, error)

	// Check reports whether the stored token for the stream still equals
	// the given one, i.e. the session has not been superseded.
	Check(ctx context.Context, id StreamID, token string) (bool, error)

	// Release deletes the lease if it is still held by token. Best
	// effort: TTL expiry reclaims abandoned leases regardless.
	Release(ctx context.Context, id StreamID, token string) error
}

// SubscribeOptions configures a broker subscription for one session.
type SubscribeOptions struct {
	// Topics are the dataset topics to consume.
	Topics []string

	// Group names the subscription; consumers of the same group share
	// consumption progress.
	Group string

	// Mode selects exclusive or failover arbitration between consumers
	// of the group.
	Mode SubscriptionMode

	// Position selects latest-only delivery or backlog replay.
	Position InitialPosition
}

// Broker attaches consumers to dataset topics.
type Broker interface {
	// Subscribe attaches a consumer. In exclusive mode a second attach
	// to the same group fails with ErrSubscriptionBusy; in failover mode
	// it succeeds and detaches the previous consumer.
	Subscribe(ctx context.Context, opts SubscribeOptions) (Consumer, error)
}

// Consumer is one attached broker subscription.
type Consumer interface {
	// Events returns the delivery channel. The broker closes it when the
	// consumer is detached (failover takeover) or closed.
	Events() <-chan Event

	// AckCumulative confirms consumption of every event up to and
	// including the handle.
	AckCumulative(ctx context.Context, h AckHandle) error

	// Close detaches the consumer. Safe to call more than once.
	Close() error
}

// CatalogStore reads stream definitions and records best-effort liveness.
type CatalogStore interface {
	// Stream fetches a definition by id, or a StreamNotFoundError.
	Stream(ctx context.Context, id StreamID) (*StreamDefinition, error)

	// SetConnected updates the definition's display-only connected flag.
	SetConnected(ctx context.Context, id StreamID, connected bool) error
}

// TokenValidator authenticates a bearer token into a Token.
type TokenValidator interface {
	Validate(ctx context.Context, bearer string) (*Token, error)
}

// StopBus fans remote stop signals out to the sessions serving a stream.
type StopBus interface {
	// SubscribeStop registers a callback invoked when a stop signal for
	// the stream arrives. The returned func unsubscribes.
	SubscribeStop(id StreamID, fn func()) func()

	// PublishStop signals every session currently serving the stream to
	// terminate gracefully.
	PublishStop(id StreamID)
}

// SessionTracker observes session lifecycle per dataset. Observability
// only; no correctness dependency.
type SessionTracker interface {
	SessionStarted(dataset string)
	SessionStopped(dataset string)
}
