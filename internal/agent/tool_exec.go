package agent

import (
	"context"
	"time"

	"github.com/ironclaw/core/pkg/models"
)

// ToolExecConfig configures the per-tool timeout and retry behavior used by
// the agentic loop's sequential tool executor.
type ToolExecConfig struct {
	// PerToolTimeout bounds a single tool invocation. Default: 30s.
	PerToolTimeout time.Duration

	// MaxAttempts is the number of attempts per tool call. Default: 1.
	MaxAttempts int

	// RetryBackoff waits between retries of the same call.
	RetryBackoff time.Duration
}

// DefaultToolExecConfig returns sensible defaults: one attempt, 30s timeout.
func DefaultToolExecConfig() ToolExecConfig {
	return ToolExecConfig{
		PerToolTimeout: 30 * time.Second,
		MaxAttempts:    1,
		RetryBackoff:   0,
	}
}

// ToolExecutor runs tool calls against a ToolRegistry with per-call timeout
// and retry handling. The agentic loop always drives it through
// ExecuteSequentially, one call at a time, in the order the LLM emitted
// them: per-turn tool execution is never parallelized, even though the
// benchmark runner parallelizes across whole tasks via Executor.
type ToolExecutor struct {
	registry *ToolRegistry
	config   ToolExecConfig
}

// NewToolExecutor creates a new tool executor. Zero-value config fields
// fall back to DefaultToolExecConfig.
func NewToolExecutor(registry *ToolRegistry, config ToolExecConfig) *ToolExecutor {
	if config.PerToolTimeout <= 0 {
		config.PerToolTimeout = 30 * time.Second
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	return &ToolExecutor{registry: registry, config: config}
}

// ToolExecResult is the outcome of one tool call, including timing for the
// TraceEntry recorded against it.
type ToolExecResult struct {
	ToolCall  models.ToolCall
	Output    *ToolOutput
	Err       *ToolError
	StartTime time.Time
	EndTime   time.Time
}

// DurationMS reports how long the call took, in milliseconds.
func (r ToolExecResult) DurationMS() int64 {
	return r.EndTime.Sub(r.StartTime).Milliseconds()
}

// Success reports whether the call completed without error.
func (r ToolExecResult) Success() bool {
	return r.Err == nil
}

// ExecuteSequentially runs each tool call one at a time, in call order,
// blocking on each before starting the next. This is the only tool
// execution path the agentic loop uses within a single turn.
func (e *ToolExecutor) ExecuteSequentially(ctx context.Context, toolCalls []models.ToolCall) []ToolExecResult {
	results := make([]ToolExecResult, len(toolCalls))

	for i, tc := range toolCalls {
		results[i] = e.executeOne(ctx, tc)
	}

	return results
}

func (e *ToolExecutor) executeOne(ctx context.Context, call models.ToolCall) ToolExecResult {
	start := time.Now()

	maxAttempts := e.config.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var out *ToolOutput
	var toolErr *ToolError

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		toolCtx, cancel := context.WithTimeout(ctx, e.config.PerToolTimeout)
		out, toolErr = e.registry.Execute(toolCtx, call.Name, call.Arguments)
		cancel()

		if toolErr == nil {
			break
		}
		if attempt < maxAttempts && toolErr.Retryable {
			if e.config.RetryBackoff > 0 {
				select {
				case <-time.After(e.config.RetryBackoff):
				case <-ctx.Done():
					toolErr = NewToolError(call.Name, ctx.Err()).WithType(ToolErrorTimeout).WithToolCallID(call.ID)
					return ToolExecResult{ToolCall: call, Err: toolErr, StartTime: start, EndTime: time.Now()}
				}
			}
			continue
		}
		break
	}

	return ToolExecResult{
		ToolCall:  call,
		Output:    out,
		Err:       toolErr,
		StartTime: start,
		EndTime:   time.Now(),
	}
}
