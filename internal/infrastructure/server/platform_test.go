package server

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/datacatalyst/streamhub/internal/domain"
	"github.com/datacatalyst/streamhub/internal/infrastructure/broker"
	"github.com/datacatalyst/streamhub/internal/infrastructure/catalog"
	"github.com/datacatalyst/streamhub/internal/infrastructure/control"
	"github.com/datacatalyst/streamhub/internal/infrastructure/lease"
	"github.com/datacatalyst/streamhub/internal/infrastructure/metrics"
	"github.com/datacatalyst/streamhub/internal/usecases"
)

type staticValidator struct {
	tokens map[string]*domain.Token
}

func (v *staticValidator) Validate(_ context.Context, bearer string) (*domain.Token, error) {
	if tok, ok := v.tokens[bearer]; ok {
		return tok, nil
	}
	return nil, errors.New("invalid token")
}

// platform is a full in-memory engine behind a real HTTP listener.
type platform struct {
	server  *httptest.Server
	broker  *broker.MemoryBroker
	catalog *catalog.MemoryStore
	lease   *lease.MemoryStore
	hub     *control.Hub
	tracker *metrics.ActiveSessionTracker
	metrics *metrics.Metrics
	opts    platformOptions
}

type platformOptions struct {
	heartbeat time.Duration
	commit    time.Duration
	sample    time.Duration
}

func newPlatform(t *testing.T, opts platformOptions) *platform {
	t.Helper()
	if opts.heartbeat == 0 {
		opts.heartbeat = 500 * time.Millisecond
	}
	if opts.commit == 0 {
		opts.commit = 40 * time.Millisecond
	}
	if opts.sample == 0 {
		opts.sample = 10 * time.Millisecond
	}

	mb := broker.NewMemoryBroker()
	cat := catalog.NewMemoryStore()
	leases := lease.NewMemoryStore(30*time.Second, nil)
	hub := control.NewHub(nil)
	m := metrics.New()
	tracker := metrics.NewActiveSessionTracker(m.ActiveSessions)

	cat.Put(&domain.StreamDefinition{
		ID:          "S1",
		OwnerUserID: "alice",
		Range: domain.StreamRange{
			Datasets: []string{"D1"},
			Metrics:  []domain.MetricSelector{{Type: "velocity", Name: "speed"}},
		},
		Filter: domain.Filter{Cmp: &domain.Comparison{
			Field: "speed", Op: domain.OpGreater, Number: numPtr(50),
		}},
		Fields:    []domain.FieldKey{domain.FieldValue},
		Precision: domain.PrecisionMilliseconds,
	})

	validator := &staticValidator{tokens: map[string]*domain.Token{
		"alice-token": {
			UserID: "alice",
			Grants: map[string][]domain.Permission{"D1": {domain.PermissionRead}},
		},
		"no-grant-token": {
			UserID: "alice",
			Grants: map[string][]domain.Permission{},
		},
	}}

	svc := usecases.NewStreamService(usecases.StreamServiceConfig{
		Catalog:   cat,
		Validator: validator,
	})
	gateway := NewStreamGateway(GatewayConfig{
		BasePath:          "/streams",
		Service:           svc,
		Projector:         usecases.NewProjector(),
		Lease:             leases,
		Broker:            mb,
		Tracker:           tracker,
		StopBus:           hub,
		Metrics:           m,
		HeartbeatInterval: opts.heartbeat,
		AckCommitInterval: opts.commit,
		AckSampleInterval: opts.sample,
	})

	r := mux.NewRouter()
	gateway.Register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &platform{
		server:  srv,
		broker:  mb,
		catalog: cat,
		lease:   leases,
		hub:     hub,
		tracker: tracker,
		metrics: m,
		opts:    opts,
	}
}

func numPtr(f float64) *float64 { return &f }

func speedEvent(value float64) domain.Event {
	return domain.Event{
		Dataset:   "D1",
		Metric:    domain.MetricID{Type: "velocity", Name: "speed"},
		Timestamp: time.Unix(100, 0),
		Fields:    domain.EventFields{Value: &value},
	}
}

// sseClient reads frames from one open stream connection.
type sseClient struct {
	resp   *http.Response
	frames chan string
	cancel context.CancelFunc
}

// openStream performs the GET and, on a 200, starts reading frames. Any
// other status is returned with the response body intact.
func openStream(t *testing.T, rawURL, bearer string, accept string) (*sseClient, *http.Response) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	require.NoError(t, err)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	if resp.StatusCode != http.StatusOK {
		cancel()
		return nil, resp
	}

	c := &sseClient{resp: resp, frames: make(chan string, 64), cancel: cancel}
	go c.read()
	t.Cleanup(c.close)

	// The first frame is always the padding comment; once it arrives the
	// session is attached and publishing is race-free.
	frame, ok := c.next(t, 2*time.Second)
	require.True(t, ok, "no padding frame received")
	require.True(t, strings.HasPrefix(frame, "comment:"), "unexpected first frame %q", frame)
	return c, nil
}

func (c *sseClient) read() {
	defer close(c.frames)
	scanner := bufio.NewScanner(c.resp.Body)
	scanner.Split(splitFrames)
	for scanner.Scan() {
		c.frames <- scanner.Text()
	}
}

// next returns the next frame, or false when the stream ended or the
// timeout elapsed.
func (c *sseClient) next(t *testing.T, timeout time.Duration) (string, bool) {
	t.Helper()
	select {
	case frame, ok := <-c.frames:
		return frame, ok
	case <-time.After(timeout):
		return "", false
	}
}

// expectData waits for the next data frame, skipping heartbeats.
func (c *sseClient) expectData(t *testing.T, timeout time.Duration) string {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			t.Fatal("timed out waiting for data frame")
		}
		frame, ok := c.next(t, remaining)
		if !ok {
			t.Fatal("stream ended while waiting for data frame")
		}
		if strings.HasPrefix(frame, "data: ") {
			return strings.TrimPrefix(frame, "data: ")
		}
	}
}

// expectEnd drains the stream, asserting it closes within the timeout,
// and returns the drained frames.
func (c *sseClient) expectEnd(t *testing.T, timeout time.Duration) []string {
	t.Helper()
	var drained []string
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			t.Fatalf("stream did not end; drained %v", drained)
		}
		frame, ok := c.next(t, remaining)
		if !ok {
			return drained
		}
		drained = append(drained, frame)
	}
}

func (c *sseClient) close() {
	c.cancel()
	c.resp.Body.Close()
}

// splitFrames is a bufio.SplitFunc separating frames on blank lines.
func splitFrames(data []byte, atEOF bool) (int, []byte, error) {
	if i := strings.Index(string(data), "\n\n"); i >= 0 {
		return i + 2, data[:i], nil
	}
	if atEOF {
		if len(data) > 0 {
			return len(data), data, nil
		}
		return 0, nil, nil
	}
	return 0, nil, nil
}
