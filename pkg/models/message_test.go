package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestRole_Constants(t *testing.T) {
	tests := []struct {
		constant Role
		expected string
	}{
		{RoleSystem, "system"},
		{RoleUser, "user"},
		{RoleAssistant, "assistant"},
		{RoleTool, "tool"},
	}

	for _, tt := range tests {
		t.Run(string(tt.constant), func(t *testing.T) {
			if string(tt.constant) != tt.expected {
				t.Errorf("constant = %q, want %q", tt.constant, tt.expected)
			}
		})
	}
}

func TestMessage_JSONRoundTrip(t *testing.T) {
	msg := Message{
		Role:    RoleAssistant,
		Content: "hello",
		ToolCalls: []ToolCall{
			{ID: "call_1", Name: "echo", Arguments: json.RawMessage(`{"msg":"hi"}`)},
		},
		CreatedAt: time.Unix(0, 0).UTC(),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got Message
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if got.Content != msg.Content || len(got.ToolCalls) != 1 || got.ToolCalls[0].Name != "echo" {
		t.Errorf("round trip mismatch: got %+v", got)
	}
}

func TestToolResultMessage_CarriesToolCallID(t *testing.T) {
	msg := Message{
		Role:       RoleTool,
		Name:       "echo",
		ToolCallID: "call_1",
		Content:    "hi",
	}
	if msg.ToolCallID == "" {
		t.Error("tool-role message must carry tool_call_id")
	}
}

func TestSession_AutoApproval(t *testing.T) {
	s := &Session{ID: "s1"}
	if s.IsToolAutoApproved("shell") {
		t.Error("new session should not auto-approve any tool")
	}
	s.ApproveTool("shell")
	if !s.IsToolAutoApproved("shell") {
		t.Error("expected shell to be auto-approved after ApproveTool")
	}
	if s.IsClosed() {
		t.Error("session should not be closed by default")
	}
	now := time.Now()
	s.ClosedAt = &now
	if !s.IsClosed() {
		t.Error("expected session to be closed after setting ClosedAt")
	}
}
