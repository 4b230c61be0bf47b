package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"

	"github.com/datacatalyst/streamhub/internal/domain"
	"github.com/datacatalyst/streamhub/internal/infrastructure/logging"
	"github.com/datacatalyst/streamhub/internal/infrastructure/metrics"
	"github.com/datacatalyst/streamhub/internal/usecases"
)

// teardownTimeout bounds the best-effort catalog and lease cleanup once
// the request context is gone.
const teardownTimeout = 5 * time.Second

// Final comment messages written before the stream closes.
const (
	msgTerminatedByAPI = "stream terminated by request"
	msgSuperseded      = "session superseded by a newer connection"
	msgStreamError     = "stream closed due to an internal error"
)

// SessionConfig carries the collaborators and tuning of one StreamSession.
type SessionConfig struct {
	Definition *domain.StreamDefinition
	Mode       domain.SubscriptionMode
	Position   domain.InitialPosition

	Lease     domain.LeaseStore
	Broker    domain.Broker
	Service   *usecases.StreamService
	Projector *usecases.Projector
	Tracker   domain.SessionTracker
	StopBus   domain.StopBus
	Metrics   *metrics.Metrics
	Logger    *logging.Logger
	Clock     clock.Clock

	HeartbeatInterval time.Duration
	AckCommitInterval time.Duration
	AckSampleInterval time.Duration
}

// StreamSession delivers one stream definition over one SSE connection.
// It owns the session lease, the broker consumer, and the merged event
// loop, and tears all of them down exactly once on any exit path.
type StreamSession struct {
	cfg    SessionConfig
	id     string
	logger *logging.Logger
	clk    clock.Clock

	state atomic.Int32

	leaseToken string
	consumer   domain.Consumer
	writer     *SSEWriter

	stopOnce sync.Once
	stopCh   chan struct{}

	teardownOnce sync.Once
	closeReason  string
}

// NewStreamSession creates a session for the given definition. Serve
// runs it.
func NewStreamSession(cfg SessionConfig) *StreamSession {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	id := uuid.New().String()
	return &StreamSession{
		cfg: cfg,
		id:  id,
		logger: logger.With(logging.Fields{
			"session_id": id,
			"stream_id":  string(cfg.Definition.ID),
			"strategy":   cfg.Mode.String(),
		}),
		clk:    clk,
		stopCh: make(chan struct{}),
	}
}

// ID returns the session id.
func (s *StreamSession) ID() string { return s.id }

// State returns the session's lifecycle state.
func (s *StreamSession) State() domain.SessionState {
	return domain.SessionState(s.state.Load())
}

func (s *StreamSession) setState(st domain.SessionState) {
	s.state.Store(int32(st))
}

// Serve attaches the broker subscription, claims the lease, switches the
// response to an event stream, and runs the delivery loop until the
// session ends. An error return means nothing was written yet and the
// caller should respond with a plain HTTP error.
func (s *StreamSession) Serve(w http.ResponseWriter, r *http.Request) error {
	s.setState(domain.SessionInit)
	ctx := r.Context()

	writer, err := NewSSEWriter(w)
	if err != nil {
		return err
	}
	s.writer = writer

	if err := s.attach(ctx); err != nil {
		return err
	}

	// From here on, every exit path runs the teardown and nothing may
	// touch the HTTP status line again.
	defer s.teardown()

	for _, dataset := range s.cfg.Definition.Range.Datasets {
		s.cfg.Tracker.SessionStarted(dataset)
	}
	s.cfg.Service.SetConnected(ctx, s.cfg.Definition.ID, true)
	s.cfg.Metrics.SessionsOpened.WithLabelValues(s.cfg.Mode.String()).Inc()

	unsubscribe := s.cfg.StopBus.SubscribeStop(s.cfg.Definition.ID, s.requestStop)
	defer unsubscribe()

	if err := s.writer.Open(); err != nil {
		s.closeReason = metrics.CloseReasonClient
		s.setState(domain.SessionTerminatedByClient)
		return nil
	}
	s.setState(domain.SessionStreaming)
	s.logger.Info("session streaming")

	s.run(ctx)
	return nil
}

// attach subscribes to the broker and then claims the lease. The lease
// is never touched before the subscribe holds, so a rejected attach
// leaves whatever session currently owns the stream undisturbed.
func (s *StreamSession) attach(ctx context.Context) error {
	subscribe := func() error {
		consumer, err := s.cfg.Broker.Subscribe(ctx, domain.SubscribeOptions{
			Topics:   s.cfg.Definition.Range.Datasets,
			Group:    "stream-" + string(s.cfg.Definition.ID),
			Mode:     s.cfg.Mode,
			Position: s.cfg.Position,
		})
		if err != nil {
			if errors.Is(err, domain.ErrSubscriptionBusy) {
				return domain.NewSubscriptionBusyError(s.cfg.Definition.ID)
			}
			return fmt.Errorf("broker subscribe: %w", err)
		}
		s.consumer = consumer
		return nil
	}
	acquire := func() error {
		token, err := s.cfg.Lease.Acquire(ctx, s.cfg.Definition.ID)
		if err != nil {
			return fmt.Errorf("lease acquire: %w", err)
		}
		s.leaseToken = token
		return nil
	}

	// Subscribe before acquiring in both modes: a busy rejection (or any
	// other subscribe failure) must bounce the caller without touching
	// the running session's lease. Only once the broker attach holds is
	// the lease taken, which for failover is the moment the previous
	// session starts losing its commit-tick lease checks.
	if err := subscribe(); err != nil {
		return err
	}
	if err := acquire(); err != nil {
		s.consumer.Close()
		return err
	}
	return nil
}

// requestStop handles a remote termination signal. Idempotent.
func (s *StreamSession) requestStop() {
	s.stopOnce.Do(func() {
		s.setState(domain.SessionTerminateRequested)
		close(s.stopCh)
	})
}

// run is the merged event loop: broker deliveries, heartbeat ticks, ack
// sample and commit ticks, the remote stop signal, and the request
// context are raced in a single select per iteration.
func (s *StreamSession) run(ctx context.Context) {
	heartbeat := s.clk.NewTimer(s.cfg.HeartbeatInterval)
	defer heartbeat.Stop()
	sample := s.clk.NewTimer(s.cfg.AckSampleInterval)
	defer sample.Stop()
	commit := s.clk.NewTimer(s.cfg.AckCommitInterval)
	defer commit.Stop()

	var delivered domain.AckHandle // most recent handle seen
	var sampled domain.AckHandle   // handle to commit on the next tick

	for {
		select {
		case <-ctx.Done():
			// Client went away; normal session end.
			s.closeReason = metrics.CloseReasonClient
			s.setState(domain.SessionTerminatedByClient)
			return

		case <-s.stopCh:
			s.logger.Info("stop signal received")
			_ = s.writer.Comment(msgTerminatedByAPI)
			s.closeReason = metrics.CloseReasonAPI
			s.setState(domain.SessionTerminatedByAPI)
			return

		case ev, ok := <-s.consumer.Events():
			if !ok {
				// The broker detached us: a failover takeover.
				_ = s.writer.Comment(msgSuperseded)
				s.closeReason = metrics.CloseReasonSuperseded
				s.setState(domain.SessionTerminatedByAPI)
				return
			}
			s.cfg.Metrics.EventsReceived.Inc()
			delivered = ev.Handle
			if !s.cfg.Projector.Matches(s.cfg.Definition, &ev) {
				continue
			}
			payload, err := json.Marshal(s.cfg.Projector.Project(s.cfg.Definition, &ev))
			if err != nil {
				s.logger.Error("event marshal failed", logging.Fields{"error": err.Error()})
				continue
			}
			if err := s.writer.Data(payload); err != nil {
				s.closeReason = metrics.CloseReasonClient
				s.setState(domain.SessionTerminatedByClient)
				return
			}
			s.cfg.Metrics.EventsStreamed.Inc()

		case <-heartbeat.Chan():
			heartbeat.Reset(s.cfg.HeartbeatInterval)
			if err := s.writer.Heartbeat(); err != nil {
				s.closeReason = metrics.CloseReasonClient
				s.setState(domain.SessionTerminatedByClient)
				return
			}
			s.cfg.Metrics.HeartbeatsSent.Inc()

		case <-sample.Chan():
			sample.Reset(s.cfg.AckSampleInterval)
			sampled = delivered

		case <-commit.Chan():
			commit.Reset(s.cfg.AckCommitInterval)
			s.commitAck(ctx, sampled)
			if !s.ownsLease(ctx) {
				_ = s.writer.Comment(msgSuperseded)
				s.closeReason = metrics.CloseReasonSuperseded
				s.setState(domain.SessionTerminatedByAPI)
				return
			}
		}
	}
}

// commitAck commits the sampled handle cumulatively. Failures are
// counted and swallowed: the cost is one commit interval of redelivery
// on the next attach, which the at-least-once contract allows.
func (s *StreamSession) commitAck(ctx context.Context, h domain.AckHandle) {
	if h.Zero() {
		return
	}
	if err := s.consumer.AckCumulative(ctx, h); err != nil {
		s.cfg.Metrics.AckCommitErrors.Inc()
		s.logger.Warn("ack commit failed", logging.Fields{"error": err.Error()})
		return
	}
	s.cfg.Metrics.AckCommits.Inc()
}

// ownsLease re-checks the lease. Store errors keep the session alive;
// only a definite ownership loss terminates it.
func (s *StreamSession) ownsLease(ctx context.Context) bool {
	owns, err := s.cfg.Lease.Check(ctx, s.cfg.Definition.ID, s.leaseToken)
	if err != nil {
		s.logger.Warn("lease check failed", logging.Fields{"error": err.Error()})
		return true
	}
	return owns
}

// teardown releases everything the session owns. Runs exactly once no
// matter how many exit paths race into it.
func (s *StreamSession) teardown() {
	s.teardownOnce.Do(func() {
		s.writer.Close()
		if err := s.consumer.Close(); err != nil {
			s.logger.Warn("consumer close failed", logging.Fields{"error": err.Error()})
		}
		for _, dataset := range s.cfg.Definition.Range.Datasets {
			s.cfg.Tracker.SessionStopped(dataset)
		}

		// The request context is typically gone by now; the cleanup of
		// shared state gets its own deadline.
		ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		defer cancel()
		s.cfg.Service.SetConnected(ctx, s.cfg.Definition.ID, false)
		if err := s.cfg.Lease.Release(ctx, s.cfg.Definition.ID, s.leaseToken); err != nil {
			s.logger.Warn("lease release failed", logging.Fields{"error": err.Error()})
		}

		reason := s.closeReason
		if reason == "" {
			reason = metrics.CloseReasonError
		}
		s.cfg.Metrics.SessionsClosed.WithLabelValues(reason).Inc()
		s.logger.Info("session closed", logging.Fields{
			"reason": reason,
			"state":  s.State().String(),
		})
	})
}
