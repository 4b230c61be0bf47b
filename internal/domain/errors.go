package domain

import (
	"errors"
	"fmt"
)

// Common domain errors. Each carries the HTTP status the gateway maps it
// to when it occurs before the response is switched to an event stream.
var (
	ErrUnauthorized = NewError("unauthorized", 401)
	ErrForbidden    = NewError("forbidden", 403)
	ErrNotFound     = NewError("not found", 404)
	ErrConflict     = NewError("conflict", 409)
	ErrInternal     = NewError("internal server error", 500)
)

// Sentinel errors raised by collaborator implementations.
var (
	// ErrSubscriptionBusy is returned when an exclusive subscription
	// already has a consumer attached.
	ErrSubscriptionBusy = errors.New("subscription already has an exclusive consumer")

	// ErrConsumerClosed is returned when using a closed broker consumer.
	ErrConsumerClosed = errors.New("consumer is closed")

	// ErrNotOwner is returned when a lease operation is attempted with a
	// token that no longer owns the lease.
	ErrNotOwner = errors.New("lease is held by another session")
)

// Error is a domain error with an associated HTTP status code.
type Error struct {
	Message string
	Code    int
}

// Error returns the error message.
func (e *Error) Error() string {
	return e.Message
}

// NewError creates a new domain error with the given message and code.
func NewError(message string, code int) *Error {
	return &Error{
		Message: message,
		Code:    code,
	}
}

// StreamNotFoundError indicates that no stream definition exists for the
// requested id.
type StreamNotFoundError struct {
	ID  StreamID
	Err *Error
}

// Error returns the error message.
func (e *StreamNotFoundError) Error() string {
	return e.Err.Error()
}

// Unwrap exposes the coded error for the gateway's status mapping.
func (e *StreamNotFoundError) Unwrap() error {
	return e.Err
}

// NewStreamNotFoundError creates a new StreamNotFoundError.
func NewStreamNotFoundError(id StreamID) *StreamNotFoundError {
	return &StreamNotFoundError{
		ID:  id,
		Err: NewError(fmt.Sprintf("stream with id %s not found", id), 404),
	}
}

// SubscriptionBusyError indicates an exclusive subscription conflict for
// a stream: another live session already consumes it.
type SubscriptionBusyError struct {
	ID  StreamID
	Err *Error
}

// Error returns the error message.
func (e *SubscriptionBusyError) Error() string {
	return e.Err.Error()
}

// Unwrap exposes the coded error for the gateway's status mapping.
func (e *SubscriptionBusyError) Unwrap() error {
	return e.Err
}

// NewSubscriptionBusyError creates a new SubscriptionBusyError.
func NewSubscriptionBusyError(id StreamID) *SubscriptionBusyError {
	return &SubscriptionBusyError{
		ID:  id,
		Err: NewError(fmt.Sprintf("stream %s already has a live session", id), 409),
	}
}

// AccessDeniedError indicates the caller lacks a permission required to
// open the stream.
type AccessDeniedError struct {
	ID     StreamID
	Reason string
	Err    *Error
}

// Error returns the error message.
func (e *AccessDeniedError) Error() string {
	return e.Err.Error()
}

// Unwrap exposes the coded error for the gateway's status mapping.
func (e *AccessDeniedError) Unwrap() error {
	return e.Err
}

// NewAccessDeniedError creates a new AccessDeniedError.
func NewAccessDeniedError(id StreamID, reason string) *AccessDeniedError {
	return &AccessDeniedError{
		ID:     id,
		Reason: reason,
		Err:    NewError(fmt.Sprintf("access to stream %s denied: %s", id, reason), 403),
	}
}

// StatusCode extracts the HTTP status for err. Unrecognized errors map
// to 500.
func StatusCode(err error) int {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	if errors.Is(err, ErrSubscriptionBusy) {
		return 409
	}
	return 500
}
