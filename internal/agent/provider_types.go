package agent

import (
	"context"
	"encoding/json"

	"github.com/ironclaw/core/pkg/models"
)

// LLMProvider defines the interface for Large Language Model backends.
//
// Implementations handle the specifics of communicating with a given LLM API
// while presenting a unified streaming interface to the agentic loop and the
// response cache that wraps it.
//
// Thread Safety:
// Implementations must be safe for concurrent use. Multiple goroutines may
// call Complete simultaneously for different requests.
type LLMProvider interface {
	// Complete sends a prompt and returns a streaming response. Callers must
	// not set req.Tools on a Complete call; a turn that offers tools goes
	// through CompleteWithTools instead, since the two differ in more than
	// wire shape — a response wrapped by the response cache is eligible for
	// caching only when it came from Complete.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// CompleteWithTools sends a prompt alongside req.Tools and returns a
	// streaming response. Its result is never cached by ResponseCache: a
	// tool-enabled turn can trigger side effects and its reply depends on
	// more than the prompt text, so it must always reach the provider live.
	CompleteWithTools(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name returns the provider name.
	Name() string

	// Models returns available models.
	Models() []Model

	// SupportsTools returns whether the provider supports tool use.
	SupportsTools() bool
}

// CompletionRequest contains all parameters for an LLM completion request.
type CompletionRequest struct {
	// Model specifies which LLM model to use. If empty, the provider's
	// default model is used.
	Model string `json:"model"`

	// System is the system prompt that sets the assistant's behavior.
	System string `json:"system,omitempty"`

	// Messages contains the conversation history in chronological order.
	Messages []CompletionMessage `json:"messages"`

	// Tools defines available tools the LLM can request to execute.
	Tools []ToolDefinition `json:"tools,omitempty"`

	// MaxTokens limits the maximum length of the generated response.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls sampling randomness. The agentic loop always
	// issues requests at Temperature 0 for determinism; the benchmark
	// runner and router may use other values for exploratory completions.
	Temperature float64 `json:"temperature"`

	// StopSequences, if set, are included in the cache key alongside
	// Model/Messages/MaxTokens/Temperature.
	StopSequences []string `json:"stop_sequences,omitempty"`
}

// CompletionMessage represents a single message in a conversation sent to a
// provider. Role values: "system", "user", "assistant", "tool".
type CompletionMessage struct {
	Role string `json:"role"`

	// Content is the text content of the message (may be empty for
	// tool-call-only assistant messages).
	Content string `json:"content,omitempty"`

	// ToolCalls contains tool execution requests from the assistant.
	ToolCalls []models.ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID and Name identify which call a tool-role message answers.
	ToolCallID string `json:"tool_call_id,omitempty"`
	Name       string `json:"name,omitempty"`
}

// ToolDefinition is sent to the LLM to advertise a callable tool.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// CompletionChunk represents a single chunk in a streaming LLM response.
//
// Chunks are delivered through channels as the LLM generates its response.
// Processing Example:
//
//	for chunk := range chunks {
//	    switch {
//	    case chunk.Error != nil:
//	        return chunk.Error
//	    case chunk.ToolCall != nil:
//	        result := executeToolCall(chunk.ToolCall)
//	    case chunk.Text != "":
//	        fmt.Print(chunk.Text)
//	    case chunk.Done:
//	        break
//	    }
//	}
type CompletionChunk struct {
	Text string `json:"text,omitempty"`

	// ToolCall contains a complete tool execution request.
	ToolCall *models.ToolCall `json:"tool_call,omitempty"`

	// Done is true when the stream has completed successfully.
	Done bool `json:"done,omitempty"`

	// Error contains any error that occurred; the stream is terminated.
	Error error `json:"-"`

	// InputTokens/OutputTokens are populated only in the final chunk.
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}

// Model describes an available LLM model and its capabilities.
type Model struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContextSize int    `json:"context_size"`
}

// Tool defines the contract every callable tool implements, whether it runs
// on the orchestrator side or is a WasmToolWrapper fronting a sandboxed
// component.
type Tool interface {
	// Name returns the tool name for LLM function calling.
	Name() string

	// Description returns a natural language description of what the tool
	// does. This helps the LLM decide when to use the tool.
	Description() string

	// Schema returns the JSON Schema defining the tool's parameters.
	Schema() json.RawMessage

	// Execute runs the tool with the given JSON parameters under ctx, which
	// carries a *JobContext (see WithJobContext/JobContextFrom).
	Execute(ctx context.Context, params json.RawMessage) (*ToolOutput, *ToolError)

	// RiskLevelFor judges how dangerous this specific invocation is, given
	// its parameters.
	RiskLevelFor(params json.RawMessage) models.RiskLevel

	// RequiresApproval reports whether this invocation must be gated behind
	// explicit user approval before execution.
	RequiresApproval(params json.RawMessage) models.ApprovalRequirement

	// Domain distinguishes orchestrator-side tools from sandboxed ones.
	Domain() ToolDomain

	// RequiresSanitization reports whether this tool's output must pass
	// through the safety-layer sanitizer before reaching the LLM.
	RequiresSanitization() bool
}

// ToolDomain distinguishes where a tool executes.
type ToolDomain string

const (
	// DomainOrchestrator tools run in-process, with direct access to store
	// and channel resources.
	DomainOrchestrator ToolDomain = "orchestrator"

	// DomainSandbox tools run inside the WASM runtime under a capability
	// grant, with no ambient access to anything outside their grant.
	DomainSandbox ToolDomain = "sandbox"
)

// ToolOutput is the successful result of a tool execution.
type ToolOutput struct {
	// Content is the tool's output, serialized to text before being placed
	// into a tool-result message.
	Content string `json:"content"`

	// Artifacts contains any files/media produced by the tool.
	Artifacts []Artifact `json:"artifacts,omitempty"`

	DurationMS int64 `json:"duration_ms"`
}

// Artifact represents a file or media produced by a tool execution.
type Artifact struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	MimeType string `json:"mime_type"`
	Filename string `json:"filename,omitempty"`
	Data     []byte `json:"data,omitempty"`
	URL      string `json:"url,omitempty"`
}

// JobContext carries per-invocation identity and scope. It flows through
// every tool invocation; tools never read process-wide state directly.
type JobContext struct {
	UserID        string
	AgentID       string
	JobID         string
	WorkspaceRoot string

	// Credentials holds secret values available for `{NAME}` substitution in
	// sandboxed HTTP requests. Values are never logged and never surfaced to
	// the LLM directly; only secret_exists (a boolean) crosses that boundary.
	Credentials map[string]string
}

// DefaultJobContext returns the zero-configuration JobContext used by the
// agentic loop when no caller-supplied context is present.
func DefaultJobContext() *JobContext {
	return &JobContext{Credentials: map[string]string{}}
}

type jobContextKey struct{}

// WithJobContext attaches jc to ctx.
func WithJobContext(ctx context.Context, jc *JobContext) context.Context {
	return context.WithValue(ctx, jobContextKey{}, jc)
}

// JobContextFrom extracts the JobContext attached to ctx, or a default
// zero-value JobContext if none was attached.
func JobContextFrom(ctx context.Context) *JobContext {
	if jc, ok := ctx.Value(jobContextKey{}).(*JobContext); ok && jc != nil {
		return jc
	}
	return DefaultJobContext()
}

// ToolEventStore persists tool calls and results for audit and replay. This
// is optional - if nil, tool events are not persisted separately from
// messages.
type ToolEventStore interface {
	AddToolCall(ctx context.Context, sessionID, messageID string, call *models.ToolCall) error
	AddToolResult(ctx context.Context, sessionID, messageID string, call *models.ToolCall, result *models.ToolResult) error
}
