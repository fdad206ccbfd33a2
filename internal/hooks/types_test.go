package hooks

import (
	"errors"
	"testing"
	"time"
)

var errTestCause = errors.New("test cause")

func TestPoint_Constants(t *testing.T) {
	tests := []struct {
		name     string
		point    Point
		expected string
	}{
		{"BeforeInbound", BeforeInbound, "before_inbound"},
		{"AfterParse", AfterParse, "after_parse"},
		{"BeforeAgenticLoop", BeforeAgenticLoop, "before_agentic_loop"},
		{"BeforeLlmCall", BeforeLlmCall, "before_llm_call"},
		{"BeforeToolCall", BeforeToolCall, "before_tool_call"},
		{"AfterToolCall", AfterToolCall, "after_tool_call"},
		{"BeforeApproval", BeforeApproval, "before_approval"},
		{"TransformResponse", TransformResponse, "transform_response"},
		{"BeforeOutbound", BeforeOutbound, "before_outbound"},
		{"OnSessionStart", OnSessionStart, "on_session_start"},
		{"OnSessionEnd", OnSessionEnd, "on_session_end"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if string(tt.point) != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, tt.point)
			}
		})
	}
}

func TestPriority_Constants(t *testing.T) {
	if !(PriorityHighest < PriorityHigh && PriorityHigh < PriorityNormal &&
		PriorityNormal < PriorityLow && PriorityLow < PriorityLowest) {
		t.Error("priority constants are not in proper order")
	}
}

func TestNewEvent(t *testing.T) {
	event := NewEvent(BeforeInbound, "payload")

	if event.Point != BeforeInbound {
		t.Errorf("expected point %s, got %s", BeforeInbound, event.Point)
	}
	if event.Payload != "payload" {
		t.Errorf("expected payload %v, got %v", "payload", event.Payload)
	}
	if event.Timestamp.IsZero() {
		t.Error("expected non-zero timestamp")
	}
	if event.Context == nil {
		t.Error("expected non-nil context map")
	}
	if time.Since(event.Timestamp) > time.Second {
		t.Error("timestamp should be recent")
	}
}

func TestEvent_WithSession(t *testing.T) {
	event := NewEvent(BeforeInbound, nil)

	result := event.WithSession("session-12345", "agent-1")

	if result != event {
		t.Error("expected same event instance for chaining")
	}
	if event.SessionID != "session-12345" {
		t.Errorf("expected session session-12345, got %s", event.SessionID)
	}
	if event.AgentID != "agent-1" {
		t.Errorf("expected agent agent-1, got %s", event.AgentID)
	}
}

func TestEvent_WithContext(t *testing.T) {
	event := NewEvent(BeforeInbound, nil)

	event.WithContext("key1", "value1")
	if event.Context["key1"] != "value1" {
		t.Error("expected key1 to be set")
	}

	event.WithContext("key2", 42)
	if event.Context["key2"] != 42 {
		t.Error("expected key2 to be set")
	}

	if len(event.Context) < 2 {
		t.Errorf("expected at least 2 context entries, got %d", len(event.Context))
	}
}

func TestEvent_WithContext_NilContext(t *testing.T) {
	event := &Event{Point: BeforeInbound, Context: nil}

	event.WithContext("key", "value")

	if event.Context == nil {
		t.Error("expected context to be initialized")
	}
	if event.Context["key"] != "value" {
		t.Error("expected key to be set")
	}
}

func TestEvent_ChainedBuilders(t *testing.T) {
	event := NewEvent(BeforeToolCall, map[string]string{"tool": "shell"}).
		WithSession("session-abc", "agent-xyz").
		WithContext("retry_count", 3).
		WithContext("model", "claude-3")

	if event.Point != BeforeToolCall {
		t.Error("point mismatch")
	}
	if event.SessionID != "session-abc" {
		t.Error("session mismatch")
	}
	if event.AgentID != "agent-xyz" {
		t.Error("agent mismatch")
	}
	if event.Context["retry_count"] != 3 {
		t.Error("context retry_count mismatch")
	}
	if event.Context["model"] != "claude-3" {
		t.Error("context model mismatch")
	}
}

func TestOutcome_ContinueWith(t *testing.T) {
	modified := NewEvent(BeforeToolCall, "new payload")
	outcome := ContinueWith(modified)

	if outcome.Kind != KindContinue {
		t.Errorf("expected KindContinue, got %s", outcome.Kind)
	}
	if outcome.Modified != modified {
		t.Error("expected Modified to be set")
	}
}

func TestOutcome_Reject(t *testing.T) {
	outcome := Reject("leaked credential detected")

	if outcome.Kind != KindReject {
		t.Errorf("expected KindReject, got %s", outcome.Kind)
	}
	if outcome.Reason != "leaked credential detected" {
		t.Errorf("expected reason to be set, got %q", outcome.Reason)
	}
}

func TestRejectedError_Error(t *testing.T) {
	err := &RejectedError{Point: BeforeOutbound, Reason: "blocked"}
	if err.Error() == "" {
		t.Error("expected non-empty error message")
	}

	wrapped := &RejectedError{Point: BeforeOutbound, Reason: "blocked", Cause: errTestCause}
	if wrapped.Unwrap() != errTestCause {
		t.Error("expected Unwrap to return the cause")
	}
}

func TestRegistration_Fields(t *testing.T) {
	reg := &Registration{
		ID:          "reg-123",
		Point:       BeforeToolCall,
		Priority:    PriorityHigh,
		FailureMode: FailClosed,
		Name:        "TestHandler",
		Source:      "test-module",
	}

	if reg.ID != "reg-123" {
		t.Error("ID mismatch")
	}
	if reg.Point != BeforeToolCall {
		t.Error("Point mismatch")
	}
	if reg.Priority != PriorityHigh {
		t.Error("Priority mismatch")
	}
	if reg.FailureMode != FailClosed {
		t.Error("FailureMode mismatch")
	}
	if reg.Name != "TestHandler" {
		t.Error("Name mismatch")
	}
	if reg.Source != "test-module" {
		t.Error("Source mismatch")
	}
}
