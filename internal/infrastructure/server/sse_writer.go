package server

import (
	"net/http"
	"strings"
	"sync"
)

// paddingSize is the size of the whitespace comment sent right after the
// headers. Some reverse proxies buffer small responses; a frame of this
// size pushes the stream through them.
const paddingSize = 2048

// SSEWriter writes the line-oriented event-stream frames for one
// connection. Every frame is written and flushed under a mutex, so
// heartbeat and data frames may interleave but are each atomic.
type SSEWriter struct {
	mu      sync.Mutex
	writer  http.ResponseWriter
	flusher http.Flusher
	opened  bool
	closed  bool
}

// NewSSEWriter wraps the response writer. Fails if the writer cannot
// flush, since SSE requires incremental delivery.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrResponseWriterNotFlusher
	}
	return &SSEWriter{writer: w, flusher: flusher}, nil
}

// Open sends the event-stream headers followed by the padding comment.
// After Open, errors can no longer be surfaced as HTTP statuses; they
// travel in-band as comment frames.
func (s *SSEWriter) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opened {
		return nil
	}
	h := s.writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("Access-Control-Allow-Origin", "*")
	s.writer.WriteHeader(http.StatusOK)
	s.opened = true
	return s.writeFrame("comment: " + strings.Repeat(" ", paddingSize))
}

// Opened reports whether the response has been switched to an event
// stream. Before that, failures must be written as plain HTTP errors.
func (s *SSEWriter) Opened() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened
}

// Data writes one data frame with the given JSON payload.
func (s *SSEWriter) Data(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeFrame("data: " + string(payload))
}

// Heartbeat writes the keep-alive comment frame.
func (s *SSEWriter) Heartbeat() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeFrame("comment: heartbeat")
}

// Comment writes an explanatory comment frame, used once before closing
// the stream on graceful or error termination.
func (s *SSEWriter) Comment(message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeFrame("comment: " + message)
}

// Close marks the writer closed. Later frame writes fail with
// ErrStreamClosed instead of reaching the response.
func (s *SSEWriter) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// writeFrame is called with the mutex held.
func (s *SSEWriter) writeFrame(line string) error {
	if s.closed {
		return ErrStreamClosed
	}
	if _, err := s.writer.Write([]byte(line + "\n\n")); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
