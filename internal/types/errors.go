package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures crossing the public API boundary.
type ErrorKind string

// Error kind constants
const (
	// ErrAuth covers token acquisition and 401/403 responses. Not retryable.
	ErrAuth ErrorKind = "auth"
	// ErrTransport covers network failures, timeouts, and 5xx responses.
	ErrTransport ErrorKind = "transport"
	// ErrParse covers malformed payloads from the environment.
	ErrParse ErrorKind = "parse"
	// ErrVersionDetection means the module fingerprint could not be built.
	ErrVersionDetection ErrorKind = "version_detection"
	// ErrSyncConflict means a sync is already running for the environment.
	ErrSyncConflict ErrorKind = "sync_conflict"
	// ErrNotFound means the requested object does not exist in the cache.
	ErrNotFound ErrorKind = "not_found"
	// ErrSchema means the on-disk database schema is unusable.
	ErrSchema ErrorKind = "schema"
	// ErrCancelled means the operation observed a cancellation.
	ErrCancelled ErrorKind = "cancelled"
	// ErrNotCancellable means cancel was requested on a terminal session.
	ErrNotCancellable ErrorKind = "not_cancellable"
)

// Error is the structured error carried across the public API, the CLI,
// and MCP tool results.
type Error struct {
	Kind       ErrorKind `json:"kind"`
	Message    string    `json:"message"`
	SessionID  string    `json:"session_id,omitempty"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	cause      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.SessionID != "" {
		return fmt.Sprintf("%s: %s (session %s)", e.Kind, e.Message, e.SessionID)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/As.
func (e *Error) Unwrap() error { return e.cause }

// NewError builds a structured error of the given kind.
func NewError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Retryable: kind == ErrTransport}
}

// WrapError builds a structured error around a cause.
func WrapError(kind ErrorKind, cause error, format string, args ...interface{}) *Error {
	return &Error{
		Kind:      kind,
		Message:   fmt.Sprintf(format, args...),
		Retryable: kind == ErrTransport,
		cause:     cause,
	}
}

// WithSession attaches a session id and returns the same error.
func (e *Error) WithSession(id string) *Error {
	e.SessionID = id
	return e
}

// WithHTTPStatus attaches the upstream HTTP status and returns the same error.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// KindOf extracts the error kind, or empty when err carries none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// IsRetryable reports whether the failure is worth retrying. Errors without
// a structured kind are treated as not retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}
