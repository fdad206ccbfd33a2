package sandbox

import "fmt"

// ResourceError reports that a guest execution exhausted a resource limit:
// its fuel budget, its memory cap, or the wall-clock timeout. All three are
// Transient per the tool error taxonomy (spec.md §3), capped at 2 retries.
type ResourceError struct {
	Resource string // "fuel", "memory", "timeout"
	Detail   string
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("sandbox: %s exhausted: %s", e.Resource, e.Detail)
}

// CapabilityError reports that a guest attempted an operation its
// Capabilities grant does not cover. This is Permanent: retrying the exact
// same call against the exact same grant cannot succeed.
type CapabilityError struct {
	Operation string
	Detail    string
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("sandbox: capability denied for %s: %s", e.Operation, e.Detail)
}

// ErrUnsupported is returned by the tool_invoke host function for every
// call: no trampoline from a sandboxed tool back into the orchestrator's
// tool registry is implemented (resolved open question, see DESIGN.md).
var ErrUnsupported = &CapabilityError{Operation: "tool_invoke", Detail: "not supported"}
