// Package apperr defines the typed error kinds shared across Aletheia's
// components (document ingestion, retrieval, chat, and the HTTP API), so
// callers can branch on failure class without parsing error strings.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure into one of a small number of buckets that the
// HTTP layer and CLI map onto status codes and exit codes.
type Kind string

const (
	// KindConfigMissing means a required configuration value (endpoint,
	// credential, path) was absent or empty.
	KindConfigMissing Kind = "config_missing"

	// KindRemoteUnavailable means a downstream dependency (vector store,
	// graph store, cache, LLM provider) could not be reached at all.
	KindRemoteUnavailable Kind = "remote_unavailable"

	// KindRemoteBadResponse means a downstream dependency responded but
	// with a malformed, unexpected, or error payload.
	KindRemoteBadResponse Kind = "remote_bad_response"

	// KindRateLimited means a downstream dependency or Aletheia's own
	// rate limiter rejected the request.
	KindRateLimited Kind = "rate_limited"

	// KindValidation means caller-supplied input failed validation
	// before any remote call was attempted.
	KindValidation Kind = "validation"

	// KindParseFailure means locally-held content (Markdown, front
	// matter, a chunk record) could not be parsed.
	KindParseFailure Kind = "parse_failure"

	// KindNotFound means a requested entity (document, chunk, node,
	// session) does not exist.
	KindNotFound Kind = "not_found"
)

// Error is Aletheia's error envelope. Component and Op identify where the
// failure occurred, Kind classifies it, and Err carries the underlying
// cause for errors.Is/errors.As and %w-style wrapping chains.
type Error struct {
	Kind      Kind
	Component string
	Op        string
	Message   string
	Err       error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s: %s", e.Component, e.Op, e.Message)
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// New builds an *Error with the given kind, component, operation, and
// message, optionally wrapping a cause.
func New(kind Kind, component, op, message string, cause error) *Error {
	return &Error{
		Kind:      kind,
		Component: component,
		Op:        op,
		Message:   message,
		Err:       cause,
	}
}

// Is reports whether err is an *Error of the given kind, walking the
// wrap chain.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf returns the Kind of err if it is (or wraps) an *Error, and false
// otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// ConfigMissing is a convenience constructor for KindConfigMissing errors.
func ConfigMissing(component, op, message string) *Error {
	return New(KindConfigMissing, component, op, message, nil)
}

// RemoteUnavailable is a convenience constructor for KindRemoteUnavailable
// errors.
func RemoteUnavailable(component, op string, cause error) *Error {
	return New(KindRemoteUnavailable, component, op, "remote dependency unavailable", cause)
}

// RemoteBadResponse is a convenience constructor for KindRemoteBadResponse
// errors.
func RemoteBadResponse(component, op, message string, cause error) *Error {
	return New(KindRemoteBadResponse, component, op, message, cause)
}

// RateLimited is a convenience constructor for KindRateLimited errors.
func RateLimited(component, op, message string) *Error {
	return New(KindRateLimited, component, op, message, nil)
}

// Validation is a convenience constructor for KindValidation errors.
func Validation(component, op, message string) *Error {
	return New(KindValidation, component, op, message, nil)
}

// ParseFailure is a convenience constructor for KindParseFailure errors.
func ParseFailure(component, op, message string, cause error) *Error {
	return New(KindParseFailure, component, op, message, cause)
}

// NotFound is a convenience constructor for KindNotFound errors.
func NotFound(component, op, message string) *Error {
	return New(KindNotFound, component, op, message, nil)
}
