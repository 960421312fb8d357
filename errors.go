package xpush

import (
	"errors"
	"fmt"
	"time"
)

// Sentinels usable with errors.Is.
var (
	ErrParse                       = errors.New("xpush: parse error")
	ErrValidation                  = errors.New("xpush: validation error")
	ErrInvalidRequest              = errors.New("xpush: invalid request")
	ErrRequestTimeout              = errors.New("xpush: request timeout")
	ErrPusherClosed                = errors.New("xpush: pusher closed")
	ErrResponderClosed             = errors.New("xpush: responder closed")
	ErrNoTransportConfigured       = errors.New("xpush: no transport configured")
	ErrInvalidTarget               = errors.New("xpush: target must not be empty")
	ErrObserverPoolShutdownTimeout = errors.New("xpush: observer pool shutdown timeout")
	ErrHandlerPanic                = errors.New("xpush: handler panic")
	ErrDefaultPusherNotInitialized = errors.New("xpush: default pusher not initialized")
)

type ErrUnknownTransport struct{ name string }

func (e ErrUnknownTransport) Error() string { return fmt.Sprintf("unknown transport: %s", e.name) }

// ParseError reports a payload that is not valid JSON or lacks the message
// discriminator.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse error: %s: %v", e.Reason, e.Err)
	}
	return "parse error: " + e.Reason
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Is(target error) bool { return target == ErrParse }

// ValidationError reports structurally valid JSON that misses a required
// protocol field. It also matches ErrParse.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("validation error: missing %q", e.Field)
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation || target == ErrParse
}

// InvalidRequestError is returned before any I/O when a request cannot be
// correlated or routed.
type InvalidRequestError struct {
	ID     string
	Reason string
}

func (e *InvalidRequestError) Error() string {
	if e.ID == "" {
		return "invalid request: " + e.Reason
	}
	return fmt.Sprintf("invalid request %s: %s", e.ID, e.Reason)
}

func (e *InvalidRequestError) Is(target error) bool { return target == ErrInvalidRequest }

// RequestTimeoutError carries the unfulfilled request for diagnostics.
type RequestTimeoutError struct {
	ID      string
	Target  string
	Timeout time.Duration
}

func (e *RequestTimeoutError) Error() string {
	return fmt.Sprintf("request %s to %q timed out after %s", e.ID, e.Target, e.Timeout)
}

func (e *RequestTimeoutError) Is(target error) bool { return target == ErrRequestTimeout }

func missingField(field string) error { return &ValidationError{Field: field} }

func invalidField(field string, err error) error {
	return &ValidationError{Field: field, Reason: err.Error()}
}
