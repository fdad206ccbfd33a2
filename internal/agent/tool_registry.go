package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/ironclaw/core/pkg/models"
)

// Tool parameter limits to prevent resource exhaustion.
const (
	// MaxToolNameLength is the maximum length of a tool name.
	MaxToolNameLength = 256

	// MaxToolParamsSize is the maximum size of tool parameters JSON (10MB).
	MaxToolParamsSize = 10 << 20
)

// ToolRegistry manages available tools with thread-safe registration and
// lookup. Tools are registered by name and retrieved for execution during
// agentic loop iterations.
type ToolRegistry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
}

// NewToolRegistry creates a new empty tool registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a tool to the registry by its name. If a tool with the same
// name already exists, it is replaced. The tool's declared parameter schema
// is compiled eagerly so a bad schema fails at registration time rather than
// on the LLM's first call; a tool whose schema fails to compile is still
// registered, uncompiled, so Execute runs it without parameter validation.
func (r *ToolRegistry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
	delete(r.schemas, tool.Name())
	if schema, err := compileToolSchema(tool.Name(), tool.Schema()); err == nil {
		r.schemas[tool.Name()] = schema
	}
}

// Unregister removes a tool from the registry by name.
func (r *ToolRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
	delete(r.schemas, name)
}

// compileToolSchema compiles a tool's declared JSON Schema, per the plugin
// manifest validation pattern: one compiler resource per call, keyed by a
// name unique enough not to collide across tools.
func compileToolSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty schema")
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	resource := "tool:" + name + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(resource, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return c.Compile(resource)
}

// Get returns a tool by name and whether it was found.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Execute runs a tool by name with the given JSON parameters under a default
// JobContext. An unknown tool name is a soft error: it is reported as a
// failed ToolOutput/ToolError pair, never as a Go panic or process-fatal
// condition, so the agentic loop can surface it to the LLM as tool-call
// failure text and keep going.
func (r *ToolRegistry) Execute(ctx context.Context, name string, params json.RawMessage) (*ToolOutput, *ToolError) {
	if len(name) > MaxToolNameLength {
		return nil, NewToolError(name, fmt.Errorf("tool name exceeds maximum length of %d characters", MaxToolNameLength)).WithType(ToolErrorInvalidInput)
	}
	if len(params) > MaxToolParamsSize {
		return nil, NewToolError(name, fmt.Errorf("tool parameters exceed maximum size of %d bytes", MaxToolParamsSize)).WithType(ToolErrorInvalidInput)
	}

	tool, ok := r.Get(name)
	if !ok {
		return nil, NewToolError(name, ErrToolNotFound).WithType(ToolErrorNotFound)
	}

	if err := r.validateParams(name, params); err != nil {
		return nil, NewToolError(name, err).WithType(ToolErrorInvalidInput)
	}

	if _, hasJC := ctx.Value(jobContextKey{}).(*JobContext); !hasJC {
		ctx = WithJobContext(ctx, DefaultJobContext())
	}
	return tool.Execute(ctx, params)
}

// validateParams checks params against the tool's compiled schema, if one
// was successfully compiled at Register time. Empty params are treated as
// an empty object, matching tools that declare no required fields.
func (r *ToolRegistry) validateParams(name string, params json.RawMessage) error {
	r.mu.RLock()
	schema, ok := r.schemas[name]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	raw := params
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("decode tool parameters: %w", err)
	}
	if err := schema.Validate(decoded); err != nil {
		return fmt.Errorf("tool parameters invalid: %w", err)
	}
	return nil
}

// Names returns the sorted-by-registration-order set of registered tool
// names. Order is not guaranteed; callers needing a stable order should sort
// the result themselves.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// Definitions returns every registered tool rendered as a ToolDefinition for
// inclusion in a CompletionRequest.
func (r *ToolRegistry) Definitions() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Schema(),
		})
	}
	return defs
}

// resultToMessage serializes a tool output (or error) into the text content
// of a tool-result message, per the agentic loop's contract: tool failures
// become text the LLM can reason about, not thrown errors.
func resultToMessage(call models.ToolCall, out *ToolOutput, toolErr *ToolError) CompletionMessage {
	msg := CompletionMessage{
		Role:       "tool",
		ToolCallID: call.ID,
		Name:       call.Name,
	}
	if toolErr != nil {
		msg.Content = fmt.Sprintf("error: %s", toolErr.Error())
		return msg
	}
	msg.Content = out.Content
	return msg
}
