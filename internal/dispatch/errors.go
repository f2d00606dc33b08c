// Package dispatch maps inbound envelopes to exactly one handler
// invocation: type-tag validation against a closed operation table,
// payload checks, per-invocation timeouts, and error-envelope
// construction.
package dispatch

import (
	"errors"
	"fmt"

	"github.com/cimlabs/alchemist/internal/session"
)

// Kind labels an error for the wire. Values appear verbatim in error
// envelopes, so they are stable identifiers, not display text.
type Kind string

const (
	KindConnection      Kind = "connection_error"
	KindTimeout         Kind = "timeout"
	KindHandlerTimeout  Kind = "handler_timeout"
	KindUnknownType     Kind = "unknown_type"
	KindInvalidPayload  Kind = "invalid_payload"
	KindSessionNotFound Kind = "session_not_found"
	KindSessionExpired  Kind = "session_expired"
	KindHandlerFailure  Kind = "handler_failure"
)

// Error is the structured failure that crosses the bus. Retryable tells
// the caller whether resending the same request can plausibly succeed.
type Error struct {
	Kind      Kind
	Message   string
	Retryable bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewError builds a dispatch error with a formatted message.
func NewError(kind Kind, retryable bool, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Retryable: retryable}
}

// Classify maps a handler error onto the taxonomy. Typed dispatch errors
// pass through; session sentinels get their dedicated kinds so clients can
// react (create a new session); everything else is a handler failure.
func Classify(err error) *Error {
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	switch {
	case errors.Is(err, session.ErrNotFound):
		return &Error{Kind: KindSessionNotFound, Message: err.Error()}
	case errors.Is(err, session.ErrExpired):
		return &Error{Kind: KindSessionExpired, Message: err.Error()}
	}
	return &Error{Kind: KindHandlerFailure, Message: err.Error()}
}
