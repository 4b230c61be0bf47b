// Package server implements the HTTP delivery surface of the stream
// engine: the SSE frame writer, the per-connection StreamSession, the
// StreamGateway routes, and the enclosing HTTP server.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/datacatalyst/streamhub/internal/infrastructure/logging"
	"github.com/datacatalyst/streamhub/internal/infrastructure/metrics"
)

// HTTPServer hosts the gateway routes plus the operational endpoints.
type HTTPServer struct {
	srv    *http.Server
	logger *logging.Logger
}

// NewHTTPServer builds the router and the enclosing server. The gateway
// routes are mounted alongside /healthz and the Prometheus /metrics
// handler.
func NewHTTPServer(addr string, gateway *StreamGateway, m *metrics.Metrics, logger *logging.Logger) *HTTPServer {
	if logger == nil {
		logger = logging.NewNop()
	}
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
	gateway.Register(r)

	return &HTTPServer{
		srv: &http.Server{
			Addr:    addr,
			Handler: r,
			// No WriteTimeout: SSE responses are open-ended.
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Start serves until Shutdown is called. Blocks.
func (s *HTTPServer) Start() error {
	s.logger.Info("http server listening", logging.Fields{"addr": s.srv.Addr})
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains the server gracefully.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
