// Package sandbox implements the WASM Component Model tool substrate: a
// wazero-backed runtime that loads untrusted tool binaries and brokers
// workspace/HTTP/secret/tool-invoke access through capability-scoped host
// functions, under fuel and memory limits and a wall-clock timeout.
package sandbox

import "time"

// Capabilities is the compound grant attached to a single WasmToolWrapper
// instance. It is immutable once attached: a wrapper is constructed once
// per tool registration with its final capability set, never mutated
// in-place afterward.
type Capabilities struct {
	WorkspaceRead WorkspaceReadCapability
	HTTP          HTTPCapability
	ToolInvoke    ToolInvokeCapability
	Secrets       SecretsCapability

	// MemoryPages bounds the guest's linear memory growth, in 64KiB wasm
	// pages. A grow_memory that would exceed this is rejected by the
	// runtime, not by guest cooperation.
	MemoryPages uint32

	// FuelBudget bounds the number of host-function invocations a single
	// execution may make (wazero has no native instruction-fuel metering;
	// this approximates it — see FuelMeter).
	FuelBudget uint64

	// Timeout is the wall-clock backstop for one execution, enforced via
	// context.WithTimeout racing the blocking call, independent of fuel
	// accounting.
	Timeout time.Duration
}

// WorkspaceReadCapability scopes filesystem reads to a set of allowed path
// prefixes under the invocation's JobContext.WorkspaceRoot.
type WorkspaceReadCapability struct {
	Prefixes []string
}

// Allows reports whether relPath (workspace-relative, already cleaned) is
// covered by any configured prefix.
func (c WorkspaceReadCapability) Allows(relPath string) bool {
	for _, prefix := range c.Prefixes {
		if hasPathPrefix(relPath, prefix) {
			return true
		}
	}
	return false
}

// HTTPRule matches outbound requests by method and URL glob pattern.
type HTTPRule struct {
	MethodPatterns []string
	URLPatterns    []string
}

// HTTPCapability scopes the tool_http_fetch host function.
type HTTPCapability struct {
	Allowlist       []HTTPRule
	PerMinuteLimit  int
	PerHourLimit    int
	MaxRequestBody  int64
	MaxResponseBody int64
}

// Allows reports whether method+url is permitted by any allowlist rule.
func (c HTTPCapability) Allows(method, url string) bool {
	for _, rule := range c.Allowlist {
		if matchesAny(rule.MethodPatterns, method) && matchesAny(rule.URLPatterns, url) {
			return true
		}
	}
	return false
}

// ToolInvokeCapability scopes a guest's ability to call back into the
// orchestrator's tool registry under an alias. Per the design's resolved
// open question, this always returns ErrUnsupported: no trampoline from a
// sandboxed tool back into the orchestrator tool registry is implemented.
type ToolInvokeCapability struct {
	Aliases        map[string]string
	PerMinuteLimit int
}

// SecretsCapability scopes which named credentials a guest may reference.
// Only `secret_exists` (a boolean) crosses into the guest; values never do.
type SecretsCapability struct {
	AllowedNames []string
}

// Allows reports whether name is grantable to the guest.
func (c SecretsCapability) Allows(name string) bool {
	for _, n := range c.AllowedNames {
		if n == name {
			return true
		}
	}
	return false
}

// DefaultCapabilities returns a deny-by-default capability set: no
// workspace access, no HTTP allowlist entries, no tool-invoke aliases, no
// secrets, with the config package's default resource limits.
func DefaultCapabilities() Capabilities {
	return Capabilities{
		MemoryPages: 256, // 16 MiB
		FuelBudget:  10000,
		Timeout:     10 * time.Second,
	}
}
