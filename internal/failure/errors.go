// Package failure defines the relay's error taxonomy and the structured
// predicates used to classify AWS API errors.
package failure

import (
	"errors"
	"fmt"
)

// Kind classifies a relay failure.
type Kind string

const (
	// KindConfiguration indicates a missing or invalid configuration value.
	KindConfiguration Kind = "configuration"
	// KindMalformedInput indicates a queue message that can never be relayed.
	KindMalformedInput Kind = "malformed_input"
	// KindAuthPermission indicates the federation exchange was rejected by the role trust policy.
	KindAuthPermission Kind = "auth_permission"
	// KindAuthTransient indicates any other token or federation failure.
	KindAuthTransient Kind = "auth_transient"
	// KindPolicyDeny indicates an explicit deny in a resource-based policy.
	KindPolicyDeny Kind = "policy_deny"
	// KindForwardPermission indicates the event bus rejected the event with a client error.
	KindForwardPermission Kind = "forward_permission"
	// KindForwardTransient indicates any other event submission failure.
	KindForwardTransient Kind = "forward_transient"
)

// Error is a classified relay error.
type Error struct {
	// Kind classifies the error.
	Kind Kind

	// Message is a human-readable error message.
	Message string

	// Cause is the underlying error.
	Cause error

	// Retryable reports whether redelivering the message can succeed.
	Retryable bool

	// Details carries extra context for logs.
	Details map[string]string
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error of the same kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// New creates an Error. Transient kinds are retryable.
func New(kind Kind, message string) *Error {
	return &Error{
		Kind:      kind,
		Message:   message,
		Retryable: kind == KindAuthTransient || kind == KindForwardTransient,
		Details:   make(map[string]string),
	}
}

// WithCause sets the underlying error.
func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}

// WithDetail adds a detail.
func (e *Error) WithDetail(key, value string) *Error {
	e.Details[key] = value
	return e
}

// Configuration creates a configuration error.
func Configuration(message string) *Error {
	return New(KindConfiguration, message)
}

// MalformedInput creates a malformed input error.
func MalformedInput(message string) *Error {
	return New(KindMalformedInput, message)
}

// KindOf returns the kind of err, or "" when err is not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsRetryable reports whether err should be retried by redelivery.
// Unclassified errors are retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return err != nil
}

// IsTerminal reports whether err is a classified failure that redelivery cannot fix.
// Configuration errors are not terminal: they are surfaced to the host.
func IsTerminal(err error) bool {
	switch KindOf(err) {
	case KindMalformedInput, KindAuthPermission, KindForwardPermission:
		return true
	}
	return false
}
