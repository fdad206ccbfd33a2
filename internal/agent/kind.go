package agent

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a system-level failure for the purposes of routing it
// to the right error band: fatal-to-caller, surfaced-to-the-LLM, or silently
// handled. Unlike ToolErrorType (which only classifies tool execution
// failures), ErrorKind spans the whole control plane.
type ErrorKind string

const (
	KindConfiguration    ErrorKind = "configuration"
	KindAuthentication   ErrorKind = "authentication"
	KindProtocol         ErrorKind = "protocol"
	KindResource         ErrorKind = "resource"
	KindPolicy           ErrorKind = "policy"
	KindInput            ErrorKind = "input"
	KindTenantIsolation  ErrorKind = "tenant_isolation"
)

// Persistence classifies whether retrying the same operation could plausibly
// succeed.
type Persistence string

const (
	Transient Persistence = "transient"
	Permanent Persistence = "permanent"
)

// KindError is a value-tagged error: the taxonomy is carried as data on the
// error value rather than as a type hierarchy, so a single KindError type
// covers every component (store, cache, sandbox, hook bus) without each one
// declaring its own error types.
type KindError struct {
	Kind        ErrorKind
	Persistence Persistence
	Component   string
	Message     string
	Cause       error
}

// NewKindError builds a KindError. persistence defaults to Permanent unless
// explicitly overridden with Transient().
func NewKindError(kind ErrorKind, component, message string) *KindError {
	return &KindError{Kind: kind, Persistence: Permanent, Component: component, Message: message}
}

// Transient marks the error as retryable.
func (e *KindError) Transient() *KindError {
	e.Persistence = Transient
	return e
}

// WithCause attaches an underlying error.
func (e *KindError) WithCause(cause error) *KindError {
	e.Cause = cause
	return e
}

func (e *KindError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %s: %v", e.Kind, e.Persistence, e.Component, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s: %s", e.Kind, e.Persistence, e.Component, e.Message)
}

func (e *KindError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether this error's persistence permits a retry.
func (e *KindError) IsRetryable() bool {
	return e.Persistence == Transient
}

// IsFatal reports whether this error belongs to the fatal-to-caller band:
// configuration and authentication failures are never recoverable by the
// caller retrying or continuing the loop.
func (e *KindError) IsFatal() bool {
	switch e.Kind {
	case KindConfiguration, KindAuthentication:
		return true
	default:
		return false
	}
}

// AsKindError extracts a *KindError from an error chain.
func AsKindError(err error) (*KindError, bool) {
	var ke *KindError
	if errors.As(err, &ke) {
		return ke, true
	}
	return nil, false
}
