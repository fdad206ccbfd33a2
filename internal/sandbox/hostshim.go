package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/ironclaw/core/internal/agent"
	"github.com/ironclaw/core/internal/net/ssrf"
	"github.com/ironclaw/core/internal/safety"
)

// hostModuleName is the module namespace every host function is exported
// under, matching the Component Model import name a guest tool links
// against.
const hostModuleName = "near:agent/host"

// hostShim brokers every capability-gated operation a guest instance may
// perform. One hostShim is constructed per execution, scoped to that
// execution's Capabilities, JobContext, and FuelMeter; it never outlives a
// single Runtime.Execute call.
type hostShim struct {
	caps       Capabilities
	jobCtx     *agent.JobContext
	fuel       *FuelMeter
	leakScan   *safety.LeakDetector
	httpClient *http.Client

	// httpCallTimes tracks timestamps of prior http_fetch calls in this
	// execution for the per-minute/per-hour sliding window, scoped to one
	// guest instance's lifetime (a fresh instance per call means this never
	// needs cross-execution persistence here; cross-call accounting for a
	// longer-lived pooled instance is layered on by the caller via
	// sharedHTTPWindow).
	httpCallTimes *httpWindow
}

// httpWindow is a minimal sliding window counter shared across a pooled
// wrapper's repeated executions, so per-minute/per-hour HTTP limits are
// enforced across calls, not reset to zero on every fresh instance.
type httpWindow struct {
	minute []time.Time
	hour   []time.Time
}

func newHostShim(caps Capabilities, jobCtx *agent.JobContext, fuel *FuelMeter, window *httpWindow) *hostShim {
	if jobCtx == nil {
		jobCtx = agent.DefaultJobContext()
	}
	if window == nil {
		window = &httpWindow{}
	}
	return &hostShim{
		caps:          caps,
		jobCtx:        jobCtx,
		fuel:          fuel,
		leakScan:      safety.NewLeakDetector(nil),
		httpClient:    &http.Client{Timeout: caps.Timeout},
		httpCallTimes: window,
	}
}

// buildHostModule registers every host function this shim exposes under
// hostModuleName, returning the configured builder for the caller to
// Instantiate against a concrete Runtime.
func (h *hostShim) buildHostModule(rt wazero.Runtime) wazero.HostModuleBuilder {
	builder := rt.NewHostModuleBuilder(hostModuleName)

	builder.NewFunctionBuilder().
		WithFunc(h.workspaceRead).
		Export("workspace_read")

	builder.NewFunctionBuilder().
		WithFunc(h.httpFetch).
		Export("http_fetch")

	builder.NewFunctionBuilder().
		WithFunc(h.secretExists).
		Export("secret_exists")

	builder.NewFunctionBuilder().
		WithFunc(h.toolInvoke).
		Export("tool_invoke")

	return builder
}

// readGuestString copies a length-prefixed UTF-8 string out of the guest's
// linear memory at (ptr, size).
func readGuestString(mod api.Module, ptr, size uint32) (string, bool) {
	buf, ok := mod.Memory().Read(ptr, size)
	if !ok {
		return "", false
	}
	return string(buf), true
}

// writeGuestResult writes data into the guest's memory starting at ptr,
// truncating to the guest-declared capacity if data is larger. Returns the
// number of bytes actually written.
func writeGuestResult(mod api.Module, ptr uint32, capacity uint32, data []byte) uint32 {
	if uint32(len(data)) > capacity {
		data = data[:capacity]
	}
	if !mod.Memory().Write(ptr, data) {
		return 0
	}
	return uint32(len(data))
}

// workspaceRead reads a workspace-relative path, gated by
// Capabilities.WorkspaceRead. pathPtr/pathLen name the path in guest
// memory; outPtr/outCap name a guest-owned output buffer. Returns the
// number of bytes written, or 0xFFFFFFFF (-1 as uint32) on any denial or
// error — the guest-side SDK translates that sentinel into a trapped
// error result before it ever reaches the tool's Execute return value.
func (h *hostShim) workspaceRead(ctx context.Context, mod api.Module, pathPtr, pathLen, outPtr, outCap uint32) uint32 {
	if !h.fuel.Charge() {
		return sandboxFault
	}

	relPath, ok := readGuestString(mod, pathPtr, pathLen)
	if !ok {
		return sandboxFault
	}

	if !h.caps.WorkspaceRead.Allows(relPath) {
		return sandboxFault
	}

	fullPath := filepath.Join(h.jobCtx.WorkspaceRoot, relPath)
	if !hasPathPrefix(fullPath, h.jobCtx.WorkspaceRoot) {
		return sandboxFault
	}

	data, err := os.ReadFile(fullPath)
	if err != nil {
		return sandboxFault
	}

	return writeGuestResult(mod, outPtr, outCap, data)
}

// credentialPlaceholder matches `{NAME}` tokens a guest embeds in a URL or
// header value to reference a credential by name without ever seeing its
// value.
var credentialPlaceholder = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)

// injectCredentials replaces every `{NAME}` placeholder in text with the
// corresponding credential value, for names both granted by secrets and
// present in creds. An unrecognized or ungranted placeholder is left
// untouched, so the guest sees its own literal token rather than a silent
// empty substitution.
func injectCredentials(text string, secrets SecretsCapability, creds map[string]string) string {
	return credentialPlaceholder.ReplaceAllStringFunc(text, func(m string) string {
		name := m[1 : len(m)-1]
		if !secrets.Allows(name) {
			return m
		}
		val, ok := creds[name]
		if !ok {
			return m
		}
		return val
	})
}

// redactCredentials replaces every occurrence of a granted credential's
// value in text with `[REDACTED:NAME]`. It is applied to any error string
// built from a request that may have carried an injected credential, so a
// network error embedding the request URL (as Go's url.Error does) never
// hands a raw secret back to the guest.
func redactCredentials(text string, secrets SecretsCapability, creds map[string]string) string {
	for _, name := range secrets.AllowedNames {
		val, ok := creds[name]
		if !ok || val == "" {
			continue
		}
		text = strings.ReplaceAll(text, val, "[REDACTED:"+name+"]")
	}
	return text
}

// httpFetch performs a capability-gated outbound HTTP request on the
// guest's behalf, implementing the full gate in order: credential
// injection, allowlist check, rate limiting, outbound leak scan, issuing
// the call, inbound leak scan, and error redaction. Requests are validated
// against both the declared allowlist and, independently, internal/net/ssrf's
// private-address classifier: a URL that matches the allowlist but resolves
// to a private address is still rejected.
//
// A hard denial (capability/allowlist/rate-limit/leak-scan failure) returns
// sandboxFault with nothing written to the guest's output buffer — there is
// no text to redact and none is given. A failure of the call itself (after
// the gate passes) writes a redacted error message to the output buffer and
// returns sandboxCallError, so the guest can surface a real, credential-free
// failure reason instead of an opaque denial.
func (h *hostShim) httpFetch(ctx context.Context, mod api.Module, reqPtr, reqLen, outPtr, outCap uint32) uint32 {
	if !h.fuel.Charge() {
		return sandboxFault
	}

	raw, ok := readGuestString(mod, reqPtr, reqLen)
	if !ok {
		return sandboxFault
	}

	var req struct {
		Method  string            `json:"method"`
		URL     string            `json:"url"`
		Headers map[string]string `json:"headers,omitempty"`
		Body    string            `json:"body"`
	}
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		return sandboxFault
	}

	creds := h.jobCtx.Credentials
	injectedURL := injectCredentials(req.URL, h.caps.Secrets, creds)
	injectedHeaders := make(http.Header, len(req.Headers))
	for k, v := range req.Headers {
		injectedHeaders.Set(k, injectCredentials(v, h.caps.Secrets, creds))
	}

	if !h.caps.HTTP.Allows(req.Method, injectedURL) {
		return sandboxFault
	}

	parsed, err := url.Parse(injectedURL)
	if err != nil {
		return sandboxFault
	}
	if err := ssrf.ValidatePublicHostname(parsed.Hostname()); err != nil {
		return sandboxFault
	}

	if !h.checkAndRecordRateLimit() {
		return sandboxFault
	}

	if int64(len(req.Body)) > h.caps.HTTP.MaxRequestBody {
		return sandboxFault
	}

	if _, err := h.leakScan.ScanHTTPRequest(injectedURL, injectedHeaders, req.Body); err != nil {
		return sandboxFault
	}

	body, status := h.issueHTTPRequest(ctx, req.Method, injectedURL, injectedHeaders, req.Body)
	if status != 0 {
		redacted := redactCredentials(string(body), h.caps.Secrets, creds)
		return writeGuestError(mod, outPtr, outCap, redacted)
	}

	if h.leakScan.ShouldBlock(string(body)) {
		return sandboxFault
	}

	return writeGuestResult(mod, outPtr, outCap, body)
}

// issueHTTPRequest performs the actual network call and the inbound
// leak-detector read. On any failure it returns the error text (not yet
// redacted) as the "body" and a non-zero status sentinel; the caller is
// responsible for redaction. On success it returns the response body and a
// zero status sentinel.
func (h *hostShim) issueHTTPRequest(ctx context.Context, method, reqURL string, headers http.Header, body string) ([]byte, int) {
	httpReq, err := http.NewRequestWithContext(ctx, method, reqURL, newBodyReader(body))
	if err != nil {
		return []byte(fmt.Sprintf("building request failed: %v", err)), 1
	}
	for k, vals := range headers {
		for _, v := range vals {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := h.httpClient.Do(httpReq)
	if err != nil {
		return []byte(fmt.Sprintf("http request failed: %v", err)), 1
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, h.caps.HTTP.MaxResponseBody))
	if err != nil {
		return []byte(fmt.Sprintf("reading response body failed: %v", err)), 1
	}

	return respBody, 0
}

func (h *hostShim) checkAndRecordRateLimit() bool {
	now := time.Now()
	h.httpCallTimes.minute = pruneWindow(h.httpCallTimes.minute, now, time.Minute)
	h.httpCallTimes.hour = pruneWindow(h.httpCallTimes.hour, now, time.Hour)

	if h.caps.HTTP.PerMinuteLimit > 0 && len(h.httpCallTimes.minute) >= h.caps.HTTP.PerMinuteLimit {
		return false
	}
	if h.caps.HTTP.PerHourLimit > 0 && len(h.httpCallTimes.hour) >= h.caps.HTTP.PerHourLimit {
		return false
	}

	h.httpCallTimes.minute = append(h.httpCallTimes.minute, now)
	h.httpCallTimes.hour = append(h.httpCallTimes.hour, now)
	return true
}

func pruneWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	kept := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

// secretExists reports (as 0/1) whether a named credential is both granted
// by Capabilities.Secrets and actually present in the JobContext. The
// secret value itself never crosses into guest memory.
func (h *hostShim) secretExists(ctx context.Context, mod api.Module, namePtr, nameLen uint32) uint32 {
	if !h.fuel.Charge() {
		return sandboxFault
	}

	name, ok := readGuestString(mod, namePtr, nameLen)
	if !ok {
		return sandboxFault
	}

	if !h.caps.Secrets.Allows(name) {
		return 0
	}
	if _, present := h.jobCtx.Credentials[name]; !present {
		return 0
	}
	return 1
}

// toolInvoke always fails: calling back into the orchestrator's tool
// registry from inside a sandboxed tool is not implemented (see
// ErrUnsupported and DESIGN.md's open-question resolution).
func (h *hostShim) toolInvoke(ctx context.Context, mod api.Module, _, _, _, _ uint32) uint32 {
	return sandboxFault
}

// sandboxFault is the sentinel return value signaling denial to the guest
// across every host function: a capability check, allowlist, rate limit, or
// leak scan refused the call outright, and nothing is written to the
// guest's output buffer. The guest-side SDK (outside this repo's scope) is
// expected to translate it into a ToolError on its side of the ABI; this
// shim's job ends at refusing the operation.
const sandboxFault = 0xFFFFFFFF

// sandboxCallError signals that http_fetch's gate passed but the call
// itself failed (network error, timeout, unreadable body). Unlike
// sandboxFault, a redacted error message is written to the guest's output
// buffer so the tool can surface a real failure reason to the LLM instead
// of an opaque denial.
const sandboxCallError = 0xFFFFFFFE

// writeGuestError writes a redacted error string into the guest's output
// buffer and returns sandboxCallError.
func writeGuestError(mod api.Module, ptr, capacity uint32, message string) uint32 {
	writeGuestResult(mod, ptr, capacity, []byte(message))
	return sandboxCallError
}

func newBodyReader(body string) io.Reader {
	if body == "" {
		return nil
	}
	return strings.NewReader(body)
}
