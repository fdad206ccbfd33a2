package sandbox

import (
	"errors"
	"testing"

	"github.com/ironclaw/core/internal/agent"
	"github.com/ironclaw/core/internal/config"
	"github.com/ironclaw/core/pkg/models"
)

func TestClassifyExecutionError_ResourceErrorMapsToTimeout(t *testing.T) {
	err := &ResourceError{Resource: "fuel", Detail: "exhausted after 10 calls"}
	got := classifyExecutionError("my-tool", err)
	if got.Type != agent.ToolErrorTimeout {
		t.Fatalf("Type = %v, want ToolErrorTimeout", got.Type)
	}
}

func TestClassifyExecutionError_CapabilityErrorMapsToPermission(t *testing.T) {
	err := &CapabilityError{Operation: "http_fetch", Detail: "method not allowlisted"}
	got := classifyExecutionError("my-tool", err)
	if got.Type != agent.ToolErrorPermission {
		t.Fatalf("Type = %v, want ToolErrorPermission", got.Type)
	}
}

func TestClassifyExecutionError_GenericErrorMapsToExecution(t *testing.T) {
	got := classifyExecutionError("my-tool", errors.New("guest trapped"))
	if got.Type != agent.ToolErrorExecution {
		t.Fatalf("Type = %v, want ToolErrorExecution", got.Type)
	}
}

func TestRiskLevelFromString(t *testing.T) {
	cases := []struct {
		in   string
		want models.RiskLevel
	}{
		{"low", models.RiskLow},
		{"high", models.RiskHigh},
		{"medium", models.RiskMedium},
		{"", models.RiskMedium},
		{"nonsense", models.RiskMedium},
	}
	for _, c := range cases {
		if got := riskLevelFromString(c.in); got != c.want {
			t.Errorf("riskLevelFromString(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestWasmToolWrapper_RequiresApproval(t *testing.T) {
	high := NewWasmToolWrapper(nil, ToolManifest{Name: "risky", Risk: "high"})
	if got := high.RequiresApproval(nil); got != models.ApprovalUnlessAutoApproved {
		t.Fatalf("high risk RequiresApproval = %v, want ApprovalUnlessAutoApproved", got)
	}

	for _, risk := range []string{"low", "medium", ""} {
		w := NewWasmToolWrapper(nil, ToolManifest{Name: "safe", Risk: risk})
		if got := w.RequiresApproval(nil); got != models.ApprovalNever {
			t.Fatalf("risk %q RequiresApproval = %v, want ApprovalNever", risk, got)
		}
	}
}

func TestWasmToolWrapper_DomainAndSanitization(t *testing.T) {
	w := NewWasmToolWrapper(nil, ToolManifest{Name: "tool"})
	if w.Domain() != agent.DomainSandbox {
		t.Fatalf("Domain() = %v, want DomainSandbox", w.Domain())
	}
	if !w.RequiresSanitization() {
		t.Fatal("RequiresSanitization() = false, want true for every sandboxed tool")
	}
}

func TestWasmToolWrapper_IdentityAccessors(t *testing.T) {
	manifest := ToolManifest{
		Name:        "fetcher",
		Description: "fetches a URL",
		Schema:      []byte(`{"type":"object"}`),
		Risk:        "medium",
	}
	w := NewWasmToolWrapper(nil, manifest)
	if w.Name() != "fetcher" {
		t.Errorf("Name() = %q, want %q", w.Name(), "fetcher")
	}
	if w.Description() != "fetches a URL" {
		t.Errorf("Description() = %q, want %q", w.Description(), "fetches a URL")
	}
	if string(w.Schema()) != `{"type":"object"}` {
		t.Errorf("Schema() = %q, want %q", w.Schema(), `{"type":"object"}`)
	}
	if w.RiskLevelFor(nil) != models.RiskMedium {
		t.Errorf("RiskLevelFor() = %v, want RiskMedium", w.RiskLevelFor(nil))
	}
}

func TestWasmToolWrapper_DefaultEntrypoint(t *testing.T) {
	w := NewWasmToolWrapper(nil, ToolManifest{Name: "tool"})
	if w.entrypoint != "execute" {
		t.Fatalf("entrypoint = %q, want default %q", w.entrypoint, "execute")
	}

	w2 := NewWasmToolWrapper(nil, ToolManifest{Name: "tool", Entrypoint: "run"})
	if w2.entrypoint != "run" {
		t.Fatalf("entrypoint = %q, want %q", w2.entrypoint, "run")
	}
}

func TestToHTTPRules(t *testing.T) {
	entries := []config.SandboxToolHTTPRule{
		{Methods: []string{"GET"}, URLs: []string{"https://api.example.com/*"}},
		{Methods: []string{"POST", "PUT"}, URLs: []string{"https://api.other.com/*"}},
	}
	got := toHTTPRules(entries)
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2", len(got))
	}
	if got[0].MethodPatterns[0] != "GET" || got[0].URLPatterns[0] != "https://api.example.com/*" {
		t.Fatalf("first rule = %+v, mismatched conversion", got[0])
	}
	if len(got[1].MethodPatterns) != 2 || got[1].MethodPatterns[1] != "PUT" {
		t.Fatalf("second rule = %+v, mismatched conversion", got[1])
	}
}

func TestLoadManifestsFromConfig_AppliesBaseAndPerToolNarrowing(t *testing.T) {
	cfg := config.SandboxConfig{
		Enabled:                  true,
		MemoryPages:              16,
		AllowedWorkspacePrefixes: []string{"workspace"},
		Tools: []config.SandboxToolConfig{
			{
				Name:        "wide-open",
				Description: "uses the process defaults",
				BinaryPath:  "wide-open.wasm",
				Risk:        "low",
			},
			{
				Name:              "narrowed",
				Description:       "narrows http, workspace, and secrets",
				BinaryPath:        "narrowed.wasm",
				Risk:              "high",
				HTTPAllowlist:     []config.SandboxToolHTTPRule{{Methods: []string{"GET"}, URLs: []string{"https://api.example.com/*"}}},
				WorkspacePrefixes: []string{"reports"},
				Secrets:           []string{"API_KEY"},
			},
		},
	}

	binaries := map[string][]byte{
		"wide-open.wasm": []byte("binary-a"),
		"narrowed.wasm":  []byte("binary-b"),
	}
	readBinary := func(path string) ([]byte, error) {
		b, ok := binaries[path]
		if !ok {
			return nil, errors.New("no such binary")
		}
		return b, nil
	}

	manifests, err := LoadManifestsFromConfig(cfg, readBinary)
	if err != nil {
		t.Fatalf("LoadManifestsFromConfig: %v", err)
	}
	if len(manifests) != 2 {
		t.Fatalf("len(manifests) = %d, want 2", len(manifests))
	}

	wideOpen := manifests[0]
	if wideOpen.Name != "wide-open" || string(wideOpen.Binary) != "binary-a" {
		t.Fatalf("wide-open manifest mismatch: %+v", wideOpen)
	}
	if len(wideOpen.Caps.HTTP.Allowlist) != 0 {
		t.Fatalf("wide-open manifest should inherit the (empty) process default HTTP allowlist, got %+v", wideOpen.Caps.HTTP.Allowlist)
	}
	if len(wideOpen.Caps.WorkspaceRead.Prefixes) != 1 || wideOpen.Caps.WorkspaceRead.Prefixes[0] != "workspace" {
		t.Fatalf("wide-open manifest should inherit the process default workspace prefixes, got %+v", wideOpen.Caps.WorkspaceRead.Prefixes)
	}

	narrowed := manifests[1]
	if narrowed.Name != "narrowed" || string(narrowed.Binary) != "binary-b" {
		t.Fatalf("narrowed manifest mismatch: %+v", narrowed)
	}
	if len(narrowed.Caps.HTTP.Allowlist) != 1 || narrowed.Caps.HTTP.Allowlist[0].URLPatterns[0] != "https://api.example.com/*" {
		t.Fatalf("narrowed manifest did not apply its own HTTP allowlist: %+v", narrowed.Caps.HTTP.Allowlist)
	}
	if len(narrowed.Caps.WorkspaceRead.Prefixes) != 1 || narrowed.Caps.WorkspaceRead.Prefixes[0] != "reports" {
		t.Fatalf("narrowed manifest did not apply its own workspace prefixes: %+v", narrowed.Caps.WorkspaceRead.Prefixes)
	}
	if len(narrowed.Caps.Secrets.AllowedNames) != 1 || narrowed.Caps.Secrets.AllowedNames[0] != "API_KEY" {
		t.Fatalf("narrowed manifest did not apply its own secrets grant: %+v", narrowed.Caps.Secrets.AllowedNames)
	}
}

func TestLoadManifestsFromConfig_PropagatesReadError(t *testing.T) {
	cfg := config.SandboxConfig{
		Tools: []config.SandboxToolConfig{{Name: "missing", BinaryPath: "missing.wasm"}},
	}
	readBinary := func(path string) ([]byte, error) {
		return nil, errors.New("file not found")
	}
	if _, err := LoadManifestsFromConfig(cfg, readBinary); err == nil {
		t.Fatal("expected an error when readBinary fails")
	}
}
