package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/juju/clock"

	"github.com/datacatalyst/streamhub/internal/domain"
	"github.com/datacatalyst/streamhub/internal/infrastructure/logging"
	"github.com/datacatalyst/streamhub/internal/infrastructure/metrics"
	"github.com/datacatalyst/streamhub/internal/usecases"
)

// GatewayConfig carries the collaborators and tuning of the StreamGateway.
type GatewayConfig struct {
	BasePath string

	Service   *usecases.StreamService
	Projector *usecases.Projector
	Lease     domain.LeaseStore
	Broker    domain.Broker
	Tracker   domain.SessionTracker
	StopBus   domain.StopBus
	Metrics   *metrics.Metrics
	Logger    *logging.Logger
	Clock     clock.Clock

	HeartbeatInterval time.Duration
	AckCommitInterval time.Duration
	AckSampleInterval time.Duration
}

// StreamGateway terminates the HTTP surface of the delivery engine: it
// authenticates and authorizes stream opens, rejects callers that do not
// accept event streams, and hands accepted connections to a
// StreamSession.
type StreamGateway struct {
	cfg    GatewayConfig
	logger *logging.Logger
}

// NewStreamGateway creates the gateway.
func NewStreamGateway(cfg GatewayConfig) *StreamGateway {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &StreamGateway{cfg: cfg, logger: logger.With(logging.Fields{"component": "gateway"})}
}

// Register mounts the stream routes on the router. The internal route is
// registered first so "open" is never parsed as a stream id.
func (g *StreamGateway) Register(r *mux.Router) {
	base := strings.TrimSuffix(g.cfg.BasePath, "/")
	r.HandleFunc(base+"/open/{streamId}", g.handleOpenInternal).Methods(http.MethodGet)
	r.HandleFunc(base+"/{streamId}", g.handleOpen).Methods(http.MethodGet)
}

// handleOpen is the authenticated entry point. Sessions opened here use
// the exclusive subscription strategy: a concurrent open of the same
// stream is rejected with 409 and the running session is undisturbed.
func (g *StreamGateway) handleOpen(w http.ResponseWriter, r *http.Request) {
	if !acceptsEventStream(r) {
		writeError(w, http.StatusNotAcceptable, "response requires Accept: text/event-stream")
		return
	}
	id := domain.StreamID(mux.Vars(r)["streamId"])

	def, _, err := g.cfg.Service.Open(r.Context(), bearerToken(r), id)
	if err != nil {
		writeError(w, domain.StatusCode(err), err.Error())
		return
	}
	g.serve(w, r, def, domain.SubscriptionExclusive)
}

// handleOpenInternal is the trusted-internal entry point. No caller
// authorization; sessions use the failover strategy, so a reconnect
// takes the stream over and the superseded session self-terminates.
func (g *StreamGateway) handleOpenInternal(w http.ResponseWriter, r *http.Request) {
	if !acceptsEventStream(r) {
		writeError(w, http.StatusNotAcceptable, "response requires Accept: text/event-stream")
		return
	}
	id := domain.StreamID(mux.Vars(r)["streamId"])

	def, err := g.cfg.Service.OpenInternal(r.Context(), id)
	if err != nil {
		writeError(w, domain.StatusCode(err), err.Error())
		return
	}
	g.serve(w, r, def, domain.SubscriptionFailover)
}

func (g *StreamGateway) serve(w http.ResponseWriter, r *http.Request, def *domain.StreamDefinition, mode domain.SubscriptionMode) {
	position := domain.PositionLatest
	if r.URL.Query().Get("receiveBacklog") == "true" {
		position = domain.PositionEarliest
	}

	session := NewStreamSession(SessionConfig{
		Definition:        def,
		Mode:              mode,
		Position:          position,
		Lease:             g.cfg.Lease,
		Broker:            g.cfg.Broker,
		Service:           g.cfg.Service,
		Projector:         g.cfg.Projector,
		Tracker:           g.cfg.Tracker,
		StopBus:           g.cfg.StopBus,
		Metrics:           g.cfg.Metrics,
		Logger:            g.cfg.Logger,
		Clock:             g.cfg.Clock,
		HeartbeatInterval: g.cfg.HeartbeatInterval,
		AckCommitInterval: g.cfg.AckCommitInterval,
		AckSampleInterval: g.cfg.AckSampleInterval,
	})

	if err := session.Serve(w, r); err != nil {
		// Serve only errors before any SSE bytes, so a plain HTTP error
		// is still possible here.
		g.logger.Warn("session start failed", logging.Fields{
			"stream_id": string(def.ID),
			"error":     err.Error(),
		})
		writeError(w, domain.StatusCode(err), err.Error())
	}
}

func acceptsEventStream(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	for _, part := range strings.Split(accept, ",") {
		mediaType := strings.TrimSpace(strings.SplitN(part, ";", 2)[0])
		if mediaType == "text/event-stream" || mediaType == "*/*" || mediaType == "text/*" {
			return true
		}
	}
	return false
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return token
	}
	return ""
}

type errorBody struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(errorBody{Error: message, Code: code})
}
