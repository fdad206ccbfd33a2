package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ironclaw/core/internal/agent"
	"github.com/ironclaw/core/internal/config"
	"github.com/ironclaw/core/pkg/models"
)

// wireRequest is the typed payload passed to a guest's execute entrypoint,
// matching the Tool ABI's Request{params, context}.
type wireRequest struct {
	Params  string  `json:"params"`
	Context *string `json:"context,omitempty"`
}

// wireResponse is what a guest's execute entrypoint returns, matching the
// Tool ABI's Response{output, error}. The two fields are mutually
// exclusive; a response with neither set is treated as empty-ok.
type wireResponse struct {
	Output *string `json:"output,omitempty"`
	Error  *string `json:"error,omitempty"`
}

// wireContext is the JSON-serialized view of a JobContext a guest tool
// receives as Request.context. It deliberately omits Credentials — a guest
// references a credential only by `{NAME}` placeholder through http_fetch,
// never by reading its value out of its own invocation context.
type wireContext struct {
	UserID  string `json:"user_id,omitempty"`
	AgentID string `json:"agent_id,omitempty"`
	JobID   string `json:"job_id,omitempty"`
}

// ToolManifest describes one WASM tool binary to load: its identity, the
// compiled bytes, and the capability grant it executes under. A process
// typically builds one manifest per entry in config.SandboxConfig.Tools.
type ToolManifest struct {
	Name        string
	Description string
	Schema      json.RawMessage
	Binary      []byte
	Entrypoint  string // defaults to "execute"
	Caps        Capabilities
	Risk        string // "low", "medium", "high" — see riskLevelFromString
}

// WasmToolWrapper implements agent.Tool by dispatching every invocation
// into a sandboxed WASM Component Model binary via Runtime.Execute. One
// wrapper is built per registered tool; the wrapper itself holds no
// per-call state, only the compiled binary reference, the capability grant,
// and the shared rate-limit window across this tool's repeated calls.
type WasmToolWrapper struct {
	runtime    *Runtime
	manifest   ToolManifest
	entrypoint string
	risk       models.RiskLevel
	window     *httpWindow
}

// NewWasmToolWrapper builds a wrapper bound to runtime for manifest. The
// manifest's binary is compiled lazily on first Execute (Runtime.compile
// caches by CacheKey, so repeated registrations of the same binary under
// different names each get their own cache entry keyed by tool name).
func NewWasmToolWrapper(runtime *Runtime, manifest ToolManifest) *WasmToolWrapper {
	entrypoint := manifest.Entrypoint
	if entrypoint == "" {
		entrypoint = "execute"
	}
	return &WasmToolWrapper{
		runtime:    runtime,
		manifest:   manifest,
		entrypoint: entrypoint,
		risk:       riskLevelFromString(manifest.Risk),
		window:     &httpWindow{},
	}
}

func (w *WasmToolWrapper) Name() string            { return w.manifest.Name }
func (w *WasmToolWrapper) Description() string     { return w.manifest.Description }
func (w *WasmToolWrapper) Schema() json.RawMessage { return w.manifest.Schema }
func (w *WasmToolWrapper) Domain() agent.ToolDomain { return agent.DomainSandbox }

// RequiresSanitization is always true: a sandboxed tool's output is
// produced by untrusted code and must pass through the safety-layer
// sanitizer before it reaches the LLM, regardless of what the tool claims
// about itself.
func (w *WasmToolWrapper) RequiresSanitization() bool { return true }

func (w *WasmToolWrapper) RiskLevelFor(params json.RawMessage) models.RiskLevel {
	return w.risk
}

// RequiresApproval defers to the same risk judgment used by RiskLevelFor: a
// high-risk sandboxed tool (typically one granted HTTP or workspace write
// capability) requires approval unless the caller has configured
// auto-approval; low and medium risk invocations never do.
func (w *WasmToolWrapper) RequiresApproval(params json.RawMessage) models.ApprovalRequirement {
	if w.risk == models.RiskHigh {
		return models.ApprovalUnlessAutoApproved
	}
	return models.ApprovalNever
}

// Execute marshals params and the invocation's JobContext into a Request,
// runs it through the sandbox runtime, and translates the guest's Response
// (or a runtime-level failure) into the agent.Tool contract.
func (w *WasmToolWrapper) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolOutput, *agent.ToolError) {
	jobCtx := agent.JobContextFrom(ctx)

	wireCtx, err := json.Marshal(wireContext{
		UserID:  jobCtx.UserID,
		AgentID: jobCtx.AgentID,
		JobID:   jobCtx.JobID,
	})
	if err != nil {
		return nil, agent.NewToolError(w.manifest.Name, fmt.Errorf("marshal invocation context: %w", err))
	}
	ctxStr := string(wireCtx)

	input, err := json.Marshal(wireRequest{Params: string(params), Context: &ctxStr})
	if err != nil {
		return nil, agent.NewToolError(w.manifest.Name, fmt.Errorf("marshal request: %w", err))
	}

	out, err := w.runtime.Execute(ctx, Execution{
		CacheKey:       w.manifest.Name,
		Binary:         w.manifest.Binary,
		Entrypoint:     w.entrypoint,
		Input:          input,
		Caps:           w.manifest.Caps,
		JobContext:     jobCtx,
		MaxOutputBytes: defaultMaxOutputBytes,
	}, w.window)
	if err != nil {
		return nil, classifyExecutionError(w.manifest.Name, err)
	}

	var resp wireResponse
	if len(out) > 0 {
		if err := json.Unmarshal(out, &resp); err != nil {
			return nil, agent.NewToolError(w.manifest.Name, fmt.Errorf("unmarshal guest response: %w", err)).
				WithType(agent.ToolErrorExecution)
		}
	}

	if resp.Error != nil {
		return nil, agent.NewToolError(w.manifest.Name, errors.New(*resp.Error)).
			WithType(agent.ToolErrorExecution)
	}

	content := ""
	if resp.Output != nil {
		content = *resp.Output
	}
	return &agent.ToolOutput{Content: content}, nil
}

// defaultMaxOutputBytes bounds a guest's output buffer when a manifest does
// not narrow it further via its own declared schema conventions.
const defaultMaxOutputBytes = 1 << 20 // 1 MiB

// classifyExecutionError maps a Runtime.Execute failure onto the ToolError
// taxonomy: resource exhaustion (fuel/memory/timeout) is Timeout (retryable,
// capped at 2 attempts per the retry policy), a capability denial is
// Permission (never retried), anything else is a generic Execution failure.
func classifyExecutionError(toolName string, err error) *agent.ToolError {
	var resErr *ResourceError
	if errors.As(err, &resErr) {
		return agent.NewToolError(toolName, err).WithType(agent.ToolErrorTimeout)
	}
	var capErr *CapabilityError
	if errors.As(err, &capErr) {
		return agent.NewToolError(toolName, err).WithType(agent.ToolErrorPermission)
	}
	return agent.NewToolError(toolName, err).WithType(agent.ToolErrorExecution)
}

// riskLevelFromString maps a manifest's declared risk string onto
// models.RiskLevel, defaulting to Medium for an unrecognized or empty value
// since a sandboxed tool's blast radius is never assumed to be low.
func riskLevelFromString(s string) models.RiskLevel {
	switch s {
	case "low":
		return models.RiskLow
	case "high":
		return models.RiskHigh
	default:
		return models.RiskMedium
	}
}

// LoadManifestsFromConfig builds one ToolManifest per entry in
// cfg.Tools, reading each binary from disk and applying
// CapabilitiesFromConfig as the base grant, narrowed by the entry's own
// HTTP allowlist and workspace prefixes when declared.
func LoadManifestsFromConfig(cfg config.SandboxConfig, readBinary func(path string) ([]byte, error)) ([]ToolManifest, error) {
	manifests := make([]ToolManifest, 0, len(cfg.Tools))
	base := CapabilitiesFromConfig(cfg)

	for _, t := range cfg.Tools {
		binary, err := readBinary(t.BinaryPath)
		if err != nil {
			return nil, fmt.Errorf("sandbox: load tool %q binary: %w", t.Name, err)
		}

		caps := base
		if len(t.HTTPAllowlist) > 0 {
			caps.HTTP.Allowlist = toHTTPRules(t.HTTPAllowlist)
		}
		if len(t.WorkspacePrefixes) > 0 {
			caps.WorkspaceRead.Prefixes = t.WorkspacePrefixes
		}
		if len(t.Secrets) > 0 {
			caps.Secrets.AllowedNames = t.Secrets
		}

		manifests = append(manifests, ToolManifest{
			Name:        t.Name,
			Description: t.Description,
			Schema:      json.RawMessage(t.Schema),
			Binary:      binary,
			Entrypoint:  t.Entrypoint,
			Caps:        caps,
			Risk:        t.Risk,
		})
	}

	return manifests, nil
}

func toHTTPRules(entries []config.SandboxToolHTTPRule) []HTTPRule {
	rules := make([]HTTPRule, 0, len(entries))
	for _, e := range entries {
		rules = append(rules, HTTPRule{MethodPatterns: e.Methods, URLPatterns: e.URLs})
	}
	return rules
}
