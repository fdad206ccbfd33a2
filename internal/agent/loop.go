package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/ironclaw/core/pkg/models"
)

// maxNudges bounds the number of "you have not used any tools yet" prompts
// the loop injects before accepting a text-only response as final. This
// prevents premature termination on reasoning-only responses while still
// giving up after a small, fixed number of tries.
const maxNudges = 3

// DefaultMaxIterations is the iteration cap used when LoopConfig does not
// specify one.
const DefaultMaxIterations = 10

// LoopConfig configures an AgenticLoop's bounds and default completion
// parameters.
type LoopConfig struct {
	// MaxIterations bounds the number of LLM↔tool round trips. Default: 10.
	MaxIterations int

	// Model selects the LLM model passed on every CompletionRequest. Empty
	// defers to the provider's default.
	Model string

	// MaxTokens bounds each completion's response length. Default: 4096.
	MaxTokens int

	// ToolExec configures the sequential tool executor's per-call timeout
	// and retry behavior.
	ToolExec ToolExecConfig
}

// DefaultLoopConfig returns the default loop configuration.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		MaxIterations: DefaultMaxIterations,
		MaxTokens:     4096,
		ToolExec:      DefaultToolExecConfig(),
	}
}

func sanitizeLoopConfig(config LoopConfig) LoopConfig {
	if config.MaxIterations <= 0 {
		config.MaxIterations = DefaultMaxIterations
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 4096
	}
	if config.ToolExec.PerToolTimeout <= 0 {
		config.ToolExec = DefaultToolExecConfig()
	}
	return config
}

// LoopResult is the outcome of one AgenticLoop.Run call.
type LoopResult struct {
	// Response is the LLM's final text response.
	Response string

	// ToolCalls records every tool invocation made during the run, in call
	// order, across all iterations.
	ToolCalls []TraceEntry

	// Iterations is the number of LLM↔tool round trips actually taken.
	Iterations int

	// HitIterationLimit is true when the loop exhausted MaxIterations
	// without the LLM returning a final text-only response. This is not an
	// error condition; Response still carries the last assistant text seen,
	// if any.
	HitIterationLimit bool
}

// TaskFailedError reports a fatal LLM failure that aborts a run. Per the
// error-band design, LLM errors are fatal to the caller; only tool errors
// are soft (surfaced to the LLM as tool-result text).
type TaskFailedError struct {
	Reason string
	Cause  error
}

func (e *TaskFailedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("task failed: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("task failed: %s", e.Reason)
}

func (e *TaskFailedError) Unwrap() error {
	return e.Cause
}

// AgenticLoop drives an LLM with a registered toolset until either the LLM
// returns a final text response or an iteration bound is hit.
//
// Within a single loop instance, iteration order is strict: the i-th
// iteration's LLM call completes before the (i+1)-th begins, and tool calls
// within one assistant turn run sequentially in LLM emission order (via
// ToolExecutor.ExecuteSequentially). Parallel fan-out is reserved for the
// benchmark runner, which runs whole tasks concurrently, never tool calls
// within one turn.
type AgenticLoop struct {
	provider LLMProvider
	registry *ToolRegistry
	toolExec *ToolExecutor
	config   LoopConfig
	trace    *TraceWriter
}

// NewAgenticLoop creates a new agentic loop. If registry is nil, an empty
// one is created. Zero-value fields in config fall back to
// DefaultLoopConfig.
func NewAgenticLoop(provider LLMProvider, registry *ToolRegistry, config LoopConfig) *AgenticLoop {
	if registry == nil {
		registry = NewToolRegistry()
	}
	config = sanitizeLoopConfig(config)
	return &AgenticLoop{
		provider: provider,
		registry: registry,
		toolExec: NewToolExecutor(registry, config.ToolExec),
		config:   config,
	}
}

// SetTraceWriter attaches a writer that every TraceEntry is mirrored to as
// it is recorded, in addition to being returned in LoopResult.ToolCalls.
func (l *AgenticLoop) SetTraceWriter(tw *TraceWriter) {
	l.trace = tw
}

// Registry returns the loop's tool registry, for callers that need to
// register tools after construction.
func (l *AgenticLoop) Registry() *ToolRegistry {
	return l.registry
}

// Run executes the agentic loop against systemPrompt/userPrompt. See
// package-level documentation and the component design for the per-
// iteration algorithm; summarized:
//
//  1. Build a completion request from the full message history and every
//     registered tool definition, at temperature 0.
//  2. Call the LLM. Any failure is fatal and returned as *TaskFailedError.
//  3. If the response carries tool calls, execute them in order via the
//     sequential tool executor, append a tool-result message per call, and
//     continue to the next iteration.
//  4. Otherwise, if no tool has been used yet and fewer than maxNudges
//     iterations have elapsed, append the text and a nudge message asking
//     the model to use its tools, and continue. Otherwise return the text
//     as the final response.
//  5. If MaxIterations is exhausted, return the last assistant text seen
//     with HitIterationLimit = true.
func (l *AgenticLoop) Run(ctx context.Context, systemPrompt, userPrompt string) (*LoopResult, error) {
	if l.provider == nil {
		return nil, ErrNoProvider
	}

	messages := []CompletionMessage{{Role: "user", Content: userPrompt}}

	toolsUsed := false
	var lastAssistantText string
	var trace []TraceEntry

	for i := 0; i < l.config.MaxIterations; i++ {
		req := &CompletionRequest{
			Model:       l.config.Model,
			System:      systemPrompt,
			Messages:    messages,
			Tools:       l.registry.Definitions(),
			MaxTokens:   l.config.MaxTokens,
			Temperature: 0,
		}

		text, toolCalls, err := l.complete(ctx, req)
		if err != nil {
			return nil, &TaskFailedError{Reason: "llm completion failed", Cause: err}
		}

		if len(toolCalls) > 0 {
			toolsUsed = true
			messages = append(messages, CompletionMessage{
				Role:      "assistant",
				Content:   text,
				ToolCalls: toolCalls,
			})

			execResults := l.toolExec.ExecuteSequentially(ctx, toolCalls)
			for _, r := range execResults {
				entry := TraceEntry{
					Name:       r.ToolCall.Name,
					DurationMS: r.DurationMS(),
					Success:    r.Success(),
				}
				trace = append(trace, entry)
				if l.trace != nil {
					l.trace.Write(entry)
				}
				messages = append(messages, toolResultMessage(r))
			}
			continue
		}

		lastAssistantText = text

		if !toolsUsed && i < maxNudges {
			messages = append(messages, CompletionMessage{Role: "assistant", Content: text})
			messages = append(messages, CompletionMessage{
				Role:    "user",
				Content: "You have not used any tools yet. Please use the available tools to complete the task.",
			})
			continue
		}

		return &LoopResult{
			Response:          text,
			ToolCalls:         trace,
			Iterations:        i + 1,
			HitIterationLimit: false,
		}, nil
	}

	return &LoopResult{
		Response:          lastAssistantText,
		ToolCalls:         trace,
		Iterations:        l.config.MaxIterations,
		HitIterationLimit: true,
	}, nil
}

// complete drains a completion's streaming channel into its final text and
// tool calls. The agentic loop does not itself stream partial chunks to a
// caller; it only needs the assembled result of one completion to decide
// what to do next.
func (l *AgenticLoop) complete(ctx context.Context, req *CompletionRequest) (string, []models.ToolCall, error) {
	ch, err := l.provider.CompleteWithTools(ctx, req)
	if err != nil {
		return "", nil, err
	}

	var textBuilder strings.Builder
	var toolCalls []models.ToolCall

	for chunk := range ch {
		if chunk.Error != nil {
			return "", nil, chunk.Error
		}
		if chunk.Text != "" {
			textBuilder.WriteString(chunk.Text)
		}
		if chunk.ToolCall != nil {
			toolCalls = append(toolCalls, *chunk.ToolCall)
		}
	}

	return textBuilder.String(), toolCalls, nil
}

// toolResultMessage renders one tool execution outcome as a tool-role
// completion message. Unknown tools and other tool failures are rendered as
// text the LLM can reason about, never as thrown errors — this matches
// tool-calling provider conventions and keeps tool errors in the "surfaced
// to the LLM" error band.
func toolResultMessage(r ToolExecResult) CompletionMessage {
	msg := CompletionMessage{
		Role:       "tool",
		ToolCallID: r.ToolCall.ID,
		Name:       r.ToolCall.Name,
	}

	if r.Err != nil {
		if r.Err.Type == ToolErrorNotFound {
			msg.Content = fmt.Sprintf("Error: unknown tool '%s'", r.ToolCall.Name)
		} else {
			msg.Content = fmt.Sprintf("error: %s", r.Err.Error())
		}
		return msg
	}

	if r.Output != nil {
		msg.Content = r.Output.Content
	}
	return msg
}
