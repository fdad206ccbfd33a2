package agent

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ironclaw/core/pkg/models"
)

var errTransient = errors.New("transient failure")

type testExecTool struct {
	name     string
	execFunc func(ctx context.Context, params json.RawMessage) (*ToolOutput, *ToolError)
}

func (m *testExecTool) Name() string            { return m.name }
func (m *testExecTool) Description() string     { return "test exec tool" }
func (m *testExecTool) Schema() json.RawMessage { return json.RawMessage(`{}`) }
func (m *testExecTool) Execute(ctx context.Context, params json.RawMessage) (*ToolOutput, *ToolError) {
	return m.execFunc(ctx, params)
}
func (m *testExecTool) RiskLevelFor(params json.RawMessage) models.RiskLevel {
	return models.RiskLow
}
func (m *testExecTool) RequiresApproval(params json.RawMessage) models.ApprovalRequirement {
	return models.ApprovalNever
}
func (m *testExecTool) Domain() ToolDomain         { return DomainOrchestrator }
func (m *testExecTool) RequiresSanitization() bool { return false }

func TestExecuteSequentially_Basic(t *testing.T) {
	registry := NewToolRegistry()

	var order []string
	var mu sync.Mutex

	registry.Register(&testExecTool{
		name: "tool_a",
		execFunc: func(ctx context.Context, params json.RawMessage) (*ToolOutput, *ToolError) {
			mu.Lock()
			order = append(order, "a")
			mu.Unlock()
			return &ToolOutput{Content: "a"}, nil
		},
	})
	registry.Register(&testExecTool{
		name: "tool_b",
		execFunc: func(ctx context.Context, params json.RawMessage) (*ToolOutput, *ToolError) {
			mu.Lock()
			order = append(order, "b")
			mu.Unlock()
			return &ToolOutput{Content: "b"}, nil
		},
	})

	config := DefaultToolExecConfig()
	executor := NewToolExecutor(registry, config)

	toolCalls := []models.ToolCall{
		{ID: "1", Name: "tool_a", Arguments: json.RawMessage(`{}`)},
		{ID: "2", Name: "tool_b", Arguments: json.RawMessage(`{}`)},
	}

	results := executor.ExecuteSequentially(context.Background(), toolCalls)

	mu.Lock()
	defer mu.Unlock()

	if len(order) != 2 {
		t.Fatalf("got %d executions, want 2", len(order))
	}
	if order[0] != "a" || order[1] != "b" {
		t.Errorf("execution order = %v, want [a b]", order)
	}

	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if !results[0].Success() || results[0].Output.Content != "a" {
		t.Errorf("result[0] = %+v, want content %q", results[0], "a")
	}
	if !results[1].Success() || results[1].Output.Content != "b" {
		t.Errorf("result[1] = %+v, want content %q", results[1], "b")
	}
}

func TestExecuteSequentially_PreservesOrderAcrossVaryingLatency(t *testing.T) {
	registry := NewToolRegistry()

	registry.Register(&testExecTool{
		name: "tool_slow",
		execFunc: func(ctx context.Context, params json.RawMessage) (*ToolOutput, *ToolError) {
			time.Sleep(30 * time.Millisecond)
			return &ToolOutput{Content: "slow"}, nil
		},
	})
	registry.Register(&testExecTool{
		name: "tool_fast",
		execFunc: func(ctx context.Context, params json.RawMessage) (*ToolOutput, *ToolError) {
			return &ToolOutput{Content: "fast"}, nil
		},
	})

	config := DefaultToolExecConfig()
	executor := NewToolExecutor(registry, config)

	toolCalls := []models.ToolCall{
		{ID: "0", Name: "tool_slow", Arguments: json.RawMessage(`{}`)},
		{ID: "1", Name: "tool_fast", Arguments: json.RawMessage(`{}`)},
		{ID: "2", Name: "tool_slow", Arguments: json.RawMessage(`{}`)},
		{ID: "3", Name: "tool_fast", Arguments: json.RawMessage(`{}`)},
	}

	results := executor.ExecuteSequentially(context.Background(), toolCalls)

	if len(results) != 4 {
		t.Fatalf("got %d results, want 4", len(results))
	}

	for i, r := range results {
		if r.ToolCall.ID != toolCalls[i].ID {
			t.Errorf("result[%d].ToolCall.ID = %s, want %s", i, r.ToolCall.ID, toolCalls[i].ID)
		}

		expectedContent := "slow"
		if i%2 == 1 {
			expectedContent = "fast"
		}
		if r.Output.Content != expectedContent {
			t.Errorf("result[%d].Content = %q, want %q", i, r.Output.Content, expectedContent)
		}
	}
}

func TestExecuteSequentially_ToolNotFound(t *testing.T) {
	registry := NewToolRegistry()
	config := DefaultToolExecConfig()
	executor := NewToolExecutor(registry, config)

	toolCalls := []models.ToolCall{
		{ID: "1", Name: "nonexistent", Arguments: json.RawMessage(`{}`)},
	}

	results := executor.ExecuteSequentially(context.Background(), toolCalls)

	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Success() {
		t.Error("expected failure for nonexistent tool")
	}
	if results[0].Err == nil {
		t.Fatal("expected non-nil Err")
	}
}

func TestExecuteSequentially_Retry(t *testing.T) {
	var attempts int32
	registry := NewToolRegistry()
	registry.Register(&testExecTool{
		name: "flaky",
		execFunc: func(ctx context.Context, params json.RawMessage) (*ToolOutput, *ToolError) {
			a := atomic.AddInt32(&attempts, 1)
			if a == 1 {
				return nil, NewToolError("flaky", errTransient).WithType(ToolErrorNetwork)
			}
			return &ToolOutput{Content: "success"}, nil
		},
	})

	config := ToolExecConfig{
		PerToolTimeout: 5 * time.Second,
		MaxAttempts:    2,
		RetryBackoff:   time.Millisecond,
	}
	executor := NewToolExecutor(registry, config)

	toolCalls := []models.ToolCall{
		{ID: "1", Name: "flaky", Arguments: json.RawMessage(`{}`)},
	}

	results := executor.ExecuteSequentially(context.Background(), toolCalls)

	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if !results[0].Success() {
		t.Errorf("expected success after retry, got err: %v", results[0].Err)
	}
}

func TestExecuteSequentially_Timeout(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(&testExecTool{
		name: "slow",
		execFunc: func(ctx context.Context, params json.RawMessage) (*ToolOutput, *ToolError) {
			<-ctx.Done()
			return &ToolOutput{Content: "should not reach"}, nil
		},
	})

	config := ToolExecConfig{
		PerToolTimeout: 50 * time.Millisecond,
		MaxAttempts:    1,
	}
	executor := NewToolExecutor(registry, config)

	toolCalls := []models.ToolCall{
		{ID: "1", Name: "slow", Arguments: json.RawMessage(`{}`)},
	}

	results := executor.ExecuteSequentially(context.Background(), toolCalls)

	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Success() {
		t.Error("expected timeout failure")
	}
}

func TestDefaultToolExecConfig(t *testing.T) {
	config := DefaultToolExecConfig()

	if config.MaxAttempts != 1 {
		t.Errorf("MaxAttempts = %d, want 1", config.MaxAttempts)
	}
	if config.PerToolTimeout != 30*time.Second {
		t.Errorf("PerToolTimeout = %v, want 30s", config.PerToolTimeout)
	}
}

func TestNewToolExecutor_DefaultsZeroValues(t *testing.T) {
	registry := NewToolRegistry()

	executor := NewToolExecutor(registry, ToolExecConfig{})

	if executor.config.MaxAttempts != 1 {
		t.Errorf("MaxAttempts = %d, want 1", executor.config.MaxAttempts)
	}
	if executor.config.PerToolTimeout != 30*time.Second {
		t.Errorf("PerToolTimeout = %v, want 30s", executor.config.PerToolTimeout)
	}
}

func TestExecuteSequentially_CancelDuringBackoff(t *testing.T) {
	var attempts int32
	registry := NewToolRegistry()
	registry.Register(&testExecTool{
		name: "always_fails",
		execFunc: func(ctx context.Context, params json.RawMessage) (*ToolOutput, *ToolError) {
			atomic.AddInt32(&attempts, 1)
			return nil, NewToolError("always_fails", errTransient).WithType(ToolErrorNetwork)
		},
	})

	config := ToolExecConfig{
		PerToolTimeout: 5 * time.Second,
		MaxAttempts:    10,
		RetryBackoff:   time.Second,
	}
	executor := NewToolExecutor(registry, config)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	toolCalls := []models.ToolCall{
		{ID: "1", Name: "always_fails", Arguments: json.RawMessage(`{}`)},
	}

	results := executor.ExecuteSequentially(ctx, toolCalls)

	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if attempts > 3 {
		t.Errorf("too many attempts (%d), should be cancelled during backoff", attempts)
	}
}

func TestExecuteSequentially_AllToolsFail(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(&testExecTool{
		name: "fails",
		execFunc: func(ctx context.Context, params json.RawMessage) (*ToolOutput, *ToolError) {
			return nil, NewToolError("fails", errTransient).WithType(ToolErrorExecution)
		},
	})

	config := DefaultToolExecConfig()
	executor := NewToolExecutor(registry, config)

	toolCalls := []models.ToolCall{
		{ID: "1", Name: "fails", Arguments: json.RawMessage(`{}`)},
		{ID: "2", Name: "fails", Arguments: json.RawMessage(`{}`)},
	}

	results := executor.ExecuteSequentially(context.Background(), toolCalls)

	for i, r := range results {
		if r.Success() {
			t.Errorf("result %d should be error", i)
		}
	}
}

func TestToolExecResult_Fields(t *testing.T) {
	start := time.Now()
	result := ToolExecResult{
		ToolCall:  models.ToolCall{ID: "call-1", Name: "test"},
		Output:    &ToolOutput{Content: "ok"},
		StartTime: start,
		EndTime:   start.Add(100 * time.Millisecond),
	}

	if result.ToolCall.Name != "test" {
		t.Errorf("ToolCall.Name = %q, want %q", result.ToolCall.Name, "test")
	}
	if !result.Success() {
		t.Error("expected Success() true when Err is nil")
	}
	if result.DurationMS() != 100 {
		t.Errorf("DurationMS() = %d, want 100", result.DurationMS())
	}
}
