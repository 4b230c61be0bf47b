package server

import "errors"

// Common errors in the server package
var (
	// ErrResponseWriterNotFlusher is returned when the ResponseWriter doesn't support Flusher interface
	ErrResponseWriterNotFlusher = errors.New("response writer does not implement http.Flusher")

	// ErrStreamClosed is returned when writing a frame to a closed stream
	ErrStreamClosed = errors.New("event stream is closed")
)
