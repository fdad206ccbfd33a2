// Package hooks implements the priority-ordered interceptor pipeline that
// runs at every boundary crossing in the control plane: inbound submission,
// parsed request, agentic loop entry, LLM call, tool call, approval,
// response transform, outbound delivery, and session lifecycle.
package hooks

import (
	"context"
	"time"
)

// Point identifies a named boundary the hook bus interposes on.
type Point string

const (
	BeforeInbound     Point = "before_inbound"
	AfterParse        Point = "after_parse"
	BeforeAgenticLoop Point = "before_agentic_loop"
	BeforeLlmCall     Point = "before_llm_call"
	BeforeToolCall    Point = "before_tool_call"
	AfterToolCall     Point = "after_tool_call"
	BeforeApproval    Point = "before_approval"
	TransformResponse Point = "transform_response"
	BeforeOutbound    Point = "before_outbound"
	OnSessionStart    Point = "on_session_start"
	OnSessionEnd      Point = "on_session_end"
)

// FailureMode governs how the bus treats a host error raised by a hook
// handler (a Go error return, not a deliberate Reject outcome).
type FailureMode string

const (
	// FailOpen lets dispatch continue past a handler that errored. Used by
	// advisory hooks such as audit logging, where losing the log beats
	// blocking the request.
	FailOpen FailureMode = "fail_open"

	// FailClosed turns a handler error into a Reject. Used by
	// security-sensitive hooks such as leak detection, where a broken
	// scanner must not silently let content through.
	FailClosed FailureMode = "fail_closed"
)

// OutcomeKind is the hook's own verdict on the event, separate from any
// host error its handler raised.
type OutcomeKind string

const (
	KindContinue OutcomeKind = "continue"
	KindReject   OutcomeKind = "reject"
)

// Outcome is what a handler returns to the bus: either let the event
// continue (optionally replacing it with a modified version that the next
// hook at this point will see), or reject it outright with a reason.
type Outcome struct {
	Kind     OutcomeKind
	Modified *Event
	Reason   string
}

// ContinueWith lets the event continue, optionally replacing it for
// downstream hooks. Pass nil to continue with the event unchanged.
func ContinueWith(modified *Event) Outcome {
	return Outcome{Kind: KindContinue, Modified: modified}
}

// Reject short-circuits the dispatch at this point with the given reason.
func Reject(reason string) Outcome {
	return Outcome{Kind: KindReject, Reason: reason}
}

// Event carries the payload flowing through a hook point. Handlers read and
// may replace the Payload; SessionKey and Point are for filtering and
// logging, not mutated by handlers.
type Event struct {
	Point     Point          `json:"point"`
	SessionID string         `json:"session_id,omitempty"`
	AgentID   string         `json:"agent_id,omitempty"`
	Payload   any            `json:"payload,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewEvent creates an event at the given point with a timestamp set.
func NewEvent(point Point, payload any) *Event {
	return &Event{
		Point:     point,
		Payload:   payload,
		Context:   make(map[string]any),
		Timestamp: time.Now(),
	}
}

// WithSession attaches session/agent identity to the event.
func (e *Event) WithSession(sessionID, agentID string) *Event {
	e.SessionID = sessionID
	e.AgentID = agentID
	return e
}

// WithContext adds a piece of context data to the event.
func (e *Event) WithContext(key string, value any) *Event {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// Handler processes an event at a hook point and returns the bus's verdict
// plus any host-side error. A non-nil error represents the handler itself
// failing (panicking, timing out, erroring internally) and is treated
// according to the registration's FailureMode; it is distinct from the
// handler deliberately returning Reject.
type Handler func(ctx context.Context, event *Event) (Outcome, error)

// Priority determines the order handlers run within a point. Lower values
// run first.
type Priority int

const (
	PriorityHighest Priority = 0
	PriorityHigh    Priority = 25
	PriorityNormal  Priority = 50
	PriorityLow     Priority = 75
	PriorityLowest  Priority = 100
)

// Registration represents a handler registered at a hook point.
type Registration struct {
	ID          string
	Point       Point
	Handler     Handler
	Priority    Priority
	FailureMode FailureMode
	Name        string
	Source      string
}

// RejectedError is returned by Registry.Dispatch when a hook rejects the
// event, either directly or via a FailClosed handler error.
type RejectedError struct {
	Point  Point
	Reason string
	Cause  error
}

func (e *RejectedError) Error() string {
	if e.Cause != nil {
		return "hook rejected at " + string(e.Point) + ": " + e.Reason + ": " + e.Cause.Error()
	}
	return "hook rejected at " + string(e.Point) + ": " + e.Reason
}

func (e *RejectedError) Unwrap() error { return e.Cause }
