package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ironclaw/core/internal/skills"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure for IronClaw.
type Config struct {
	Server    ServerConfig        `yaml:"server"`
	Database  DatabaseConfig      `yaml:"database"`
	Auth      AuthConfig          `yaml:"auth"`
	Workspace WorkspaceConfig     `yaml:"workspace"`
	LLM       LLMConfig           `yaml:"llm"`
	Agent     AgentConfig         `yaml:"agent"`
	Sandbox   SandboxConfig       `yaml:"sandbox"`
	Cache     CacheConfig         `yaml:"cache"`
	Router    RouterConfig        `yaml:"router"`
	RateLimit RateLimitConfig     `yaml:"rate_limit"`
	Retry     RetryConfig         `yaml:"retry"`
	Approval  ApprovalConfig      `yaml:"approval"`
	Skills    skills.SkillsConfig `yaml:"skills"`
	Store     StoreConfig         `yaml:"store"`
	Bench     BenchConfig         `yaml:"bench"`
	Logging   LoggingConfig       `yaml:"logging"`
}

type ServerConfig struct {
	Host        string `yaml:"host"`
	GRPCPort    int    `yaml:"grpc_port"`
	HTTPPort    int    `yaml:"http_port"`
	MetricsPort int    `yaml:"metrics_port"`
}

// DatabaseConfig configures the structured store engine's relational backend.
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxConnections  int           `yaml:"max_connections"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type AuthConfig struct {
	JWTSecret   string         `yaml:"jwt_secret"`
	TokenExpiry time.Duration  `yaml:"token_expiry"`
	APIKeys     []APIKeyConfig `yaml:"api_keys"`
}

type APIKeyConfig struct {
	Key    string `yaml:"key"`
	UserID string `yaml:"user_id"`
	Email  string `yaml:"email"`
	Name   string `yaml:"name"`
}

// WorkspaceConfig controls the directory tree the sandbox's workspace_read
// capability is allowed to expose to a tool invocation.
type WorkspaceConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Path       string `yaml:"path"`
	MaxChars   int    `yaml:"max_chars"`
	AgentsFile string `yaml:"agents_file"`
}

type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`

	// FallbackChain specifies provider IDs to try if the default provider fails.
	FallbackChain []string `yaml:"fallback_chain"`
}

type LLMProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
	BaseURL      string `yaml:"base_url"`
}

// AgentConfig bounds the agentic loop: how many LLM<->tool round trips a
// single job may take before it is forced to a terminal state.
type AgentConfig struct {
	MaxIterations    int           `yaml:"max_iterations"`
	IterationTimeout time.Duration `yaml:"iteration_timeout"`
	WallClockTimeout time.Duration `yaml:"wall_clock_timeout"`
	NudgeLimit       int           `yaml:"nudge_limit"`
	MaxToolCalls     int           `yaml:"max_tool_calls"`
	Temperature      float32       `yaml:"temperature"`
}

// SandboxConfig holds the default WASM Component Model capability limits
// applied to a tool invocation unless the tool's own manifest narrows them.
type SandboxConfig struct {
	Enabled bool `yaml:"enabled"`

	// MemoryPages is the guest linear memory cap, in 64KiB wasm pages.
	MemoryPages uint32 `yaml:"memory_pages"`

	// MaxHostCalls approximates wazero's missing fuel metering by capping
	// the number of host-function invocations a single guest call may make.
	MaxHostCalls uint64 `yaml:"max_host_calls"`

	// Timeout is the wall-clock backstop independent of the host-call counter.
	Timeout time.Duration `yaml:"timeout"`

	// AllowedWorkspacePrefixes are the default workspace_read path prefixes
	// granted when a capability record does not specify its own.
	AllowedWorkspacePrefixes []string `yaml:"allowed_workspace_prefixes"`

	HTTP SandboxHTTPConfig `yaml:"http"`

	// Tools lists the WASM tool binaries to load and register into the
	// agentic loop's tool registry at startup. Each entry's capability
	// fields narrow (never widen) the process-wide defaults above.
	Tools []SandboxToolConfig `yaml:"tools"`
}

// SandboxToolConfig declares one WASM tool binary to load into the sandbox
// substrate: where to find it, how the LLM should see it, and what it's
// allowed to touch.
type SandboxToolConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	BinaryPath  string `yaml:"binary_path"`
	Entrypoint  string `yaml:"entrypoint"`
	Schema      string `yaml:"schema"` // inline JSON Schema text

	// Risk is one of "low", "medium", "high"; empty defaults to "medium".
	Risk string `yaml:"risk"`

	// HTTPAllowlist, WorkspacePrefixes, and Secrets narrow this tool's
	// capability grant below the sandbox-wide defaults. An empty field
	// leaves the corresponding default untouched rather than denying
	// everything.
	HTTPAllowlist     []SandboxToolHTTPRule `yaml:"http_allowlist"`
	WorkspacePrefixes []string              `yaml:"workspace_prefixes"`
	Secrets           []string              `yaml:"secrets"`
}

// SandboxToolHTTPRule is one allowlist rule: a tool's http_fetch call must
// match both a method pattern and a URL pattern from the same rule.
type SandboxToolHTTPRule struct {
	Methods []string `yaml:"methods"`
	URLs    []string `yaml:"urls"`
}

// SandboxHTTPConfig bounds the http_request host function.
type SandboxHTTPConfig struct {
	Timeout         time.Duration `yaml:"timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	PerMinuteLimit  int           `yaml:"per_minute_limit"`
	PerHourLimit    int           `yaml:"per_hour_limit"`
}

// CacheConfig configures the response cache's TTL+LRU behavior.
type CacheConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
}

// RouterConfig configures the complexity scorer's tier boundaries and the
// domain-term word list used by the domain-specificity dimension.
type RouterConfig struct {
	FlashMax    int      `yaml:"flash_max"`
	StandardMax int      `yaml:"standard_max"`
	ProMax      int      `yaml:"pro_max"`
	DomainTerms []string `yaml:"domain_terms"`
}

// RateLimitConfig bounds per-(user,tool) tool invocation throughput.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst"`
}

// RetryConfig parameterizes internal/retry's exponential backoff for tool
// dispatch. SandboxMaxAttempts overrides MaxAttempts for sandbox/timeout
// failures, which are retried less aggressively.
type RetryConfig struct {
	InitialDelay      time.Duration `yaml:"initial_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	MaxAttempts       int           `yaml:"max_attempts"`
	SandboxMaxAttempts int          `yaml:"sandbox_max_attempts"`
	Jitter            float64       `yaml:"jitter"`
}

// ApprovalConfig controls which tools require human approval before running.
type ApprovalConfig struct {
	// Profile is a pre-configured tool access level: "coding", "messaging",
	// "readonly", "full", or "minimal".
	Profile string `yaml:"profile"`

	// Allowlist contains tools that are always allowed (no approval needed).
	Allowlist []string `yaml:"allowlist"`

	// Denylist contains tools that are always denied.
	Denylist []string `yaml:"denylist"`

	// DefaultDecision when no rule matches: "allowed", "denied", or "pending".
	DefaultDecision string `yaml:"default_decision"`

	RequestTTL time.Duration `yaml:"request_ttl"`
}

// StoreConfig configures the structured store engine's persistence backend.
type StoreConfig struct {
	// Driver selects the backend: "memory" or "postgres".
	Driver  string `yaml:"driver"`
	DSN     string `yaml:"dsn"`
	MaxRows int    `yaml:"max_rows"`
}

// BenchConfig configures the benchmark runner.
type BenchConfig struct {
	ResultsDir  string        `yaml:"results_dir"`
	Parallelism int           `yaml:"parallelism"`
	TaskTimeout time.Duration `yaml:"task_timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("failed to parse config: expected single document")
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Server)
	applyDatabaseDefaults(&cfg.Database)
	applyAuthDefaults(&cfg.Auth)
	applyWorkspaceDefaults(&cfg.Workspace)
	applyLLMDefaults(&cfg.LLM)
	applyAgentDefaults(&cfg.Agent)
	applySandboxDefaults(&cfg.Sandbox)
	applyCacheDefaults(&cfg.Cache)
	applyRouterDefaults(&cfg.Router)
	applyRateLimitDefaults(&cfg.RateLimit)
	applyRetryDefaults(&cfg.Retry)
	applyStoreDefaults(&cfg.Store)
	applyBenchDefaults(&cfg.Bench)
	applyLoggingDefaults(&cfg.Logging)
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.GRPCPort == 0 {
		cfg.GRPCPort = 50051
	}
	if cfg.HTTPPort == 0 {
		cfg.HTTPPort = 8080
	}
	if cfg.MetricsPort == 0 {
		cfg.MetricsPort = 9090
	}
}

func applyDatabaseDefaults(cfg *DatabaseConfig) {
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = 25
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
}

func applyAuthDefaults(cfg *AuthConfig) {
	if cfg.TokenExpiry == 0 {
		cfg.TokenExpiry = 24 * time.Hour
	}
}

func applyWorkspaceDefaults(cfg *WorkspaceConfig) {
	if cfg.Path == "" {
		cfg.Path = "."
	}
	if cfg.MaxChars == 0 {
		cfg.MaxChars = 20000
	}
	if cfg.AgentsFile == "" {
		cfg.AgentsFile = "AGENTS.md"
	}
}

// DefaultWorkspaceConfig returns a workspace config with defaults applied.
func DefaultWorkspaceConfig() WorkspaceConfig {
	cfg := WorkspaceConfig{}
	applyWorkspaceDefaults(&cfg)
	return cfg
}

func applyLLMDefaults(cfg *LLMConfig) {
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = "anthropic"
	}
}

func applyAgentDefaults(cfg *AgentConfig) {
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = 50
	}
	if cfg.IterationTimeout == 0 {
		cfg.IterationTimeout = 2 * time.Minute
	}
	if cfg.WallClockTimeout == 0 {
		cfg.WallClockTimeout = 15 * time.Minute
	}
	if cfg.NudgeLimit == 0 {
		cfg.NudgeLimit = 3
	}
	if cfg.MaxToolCalls == 0 {
		cfg.MaxToolCalls = 200
	}
}

func applySandboxDefaults(cfg *SandboxConfig) {
	if cfg.MemoryPages == 0 {
		cfg.MemoryPages = 256 // 16MiB
	}
	if cfg.MaxHostCalls == 0 {
		cfg.MaxHostCalls = 10000
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.HTTP.Timeout == 0 {
		cfg.HTTP.Timeout = 10 * time.Second
	}
	if cfg.HTTP.MaxBodyBytes == 0 {
		cfg.HTTP.MaxBodyBytes = 1 << 20 // 1MiB
	}
	if cfg.HTTP.PerMinuteLimit == 0 {
		cfg.HTTP.PerMinuteLimit = 30
	}
	if cfg.HTTP.PerHourLimit == 0 {
		cfg.HTTP.PerHourLimit = 300
	}
}

func applyCacheDefaults(cfg *CacheConfig) {
	if cfg.TTL == 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.MaxEntries == 0 {
		cfg.MaxEntries = 1000
	}
}

func applyRouterDefaults(cfg *RouterConfig) {
	if cfg.FlashMax == 0 {
		cfg.FlashMax = 15
	}
	if cfg.StandardMax == 0 {
		cfg.StandardMax = 40
	}
	if cfg.ProMax == 0 {
		cfg.ProMax = 65
	}
}

func applyRateLimitDefaults(cfg *RateLimitConfig) {
	if cfg.RequestsPerMinute == 0 {
		cfg.RequestsPerMinute = 60
	}
	if cfg.Burst == 0 {
		cfg.Burst = 10
	}
}

func applyRetryDefaults(cfg *RetryConfig) {
	if cfg.InitialDelay == 0 {
		cfg.InitialDelay = 2 * time.Second
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.SandboxMaxAttempts == 0 {
		cfg.SandboxMaxAttempts = 2
	}
	if cfg.Jitter == 0 {
		cfg.Jitter = 0.25
	}
}

func applyStoreDefaults(cfg *StoreConfig) {
	if cfg.Driver == "" {
		cfg.Driver = "memory"
	}
	if cfg.MaxRows == 0 {
		cfg.MaxRows = 1000
	}
}

func applyBenchDefaults(cfg *BenchConfig) {
	if cfg.ResultsDir == "" {
		cfg.ResultsDir = "bench-results"
	}
	if cfg.Parallelism == 0 {
		cfg.Parallelism = 4
	}
	if cfg.TaskTimeout == 0 {
		cfg.TaskTimeout = 5 * time.Minute
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if value := strings.TrimSpace(os.Getenv("IRONCLAW_HOST")); value != "" {
		cfg.Server.Host = value
	}
	if value := strings.TrimSpace(os.Getenv("IRONCLAW_GRPC_PORT")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Server.GRPCPort = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("IRONCLAW_HTTP_PORT")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Server.HTTPPort = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("IRONCLAW_METRICS_PORT")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Server.MetricsPort = parsed
		}
	}

	if value := strings.TrimSpace(os.Getenv("DATABASE_URL")); value != "" {
		cfg.Database.URL = value
	}

	if value := strings.TrimSpace(os.Getenv("JWT_SECRET")); value != "" {
		cfg.Auth.JWTSecret = value
	}
	if value := strings.TrimSpace(os.Getenv("IRONCLAW_JWT_SECRET")); value != "" {
		cfg.Auth.JWTSecret = value
	}
	if value := strings.TrimSpace(os.Getenv("IRONCLAW_TOKEN_EXPIRY")); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			cfg.Auth.TokenExpiry = parsed
		}
	}
}

type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validateConfig(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	var issues []string

	if cfg.Workspace.MaxChars < 0 {
		issues = append(issues, "workspace.max_chars must be >= 0")
	}

	defaultProvider := strings.ToLower(strings.TrimSpace(cfg.LLM.DefaultProvider))
	if defaultProvider != "" {
		if _, ok := cfg.LLM.Providers[defaultProvider]; !ok {
			if _, ok := cfg.LLM.Providers[cfg.LLM.DefaultProvider]; !ok {
				issues = append(issues, fmt.Sprintf("llm.providers missing entry for default_provider %q", cfg.LLM.DefaultProvider))
			}
		}
	}

	seenKeys := map[string]struct{}{}
	for i, entry := range cfg.Auth.APIKeys {
		key := strings.TrimSpace(entry.Key)
		if key == "" {
			issues = append(issues, fmt.Sprintf("auth.api_keys[%d].key must be set", i))
			continue
		}
		if _, ok := seenKeys[key]; ok {
			issues = append(issues, fmt.Sprintf("auth.api_keys[%d].key must be unique", i))
		} else {
			seenKeys[key] = struct{}{}
		}
	}

	if jwtSecret := strings.TrimSpace(cfg.Auth.JWTSecret); jwtSecret != "" {
		if len(jwtSecret) < 32 {
			issues = append(issues, "auth.jwt_secret must be at least 32 characters for security")
		}
	}

	if cfg.Agent.MaxIterations < 0 {
		issues = append(issues, "agent.max_iterations must be >= 0")
	}
	if cfg.Agent.NudgeLimit < 0 {
		issues = append(issues, "agent.nudge_limit must be >= 0")
	}
	if cfg.Agent.MaxToolCalls < 0 {
		issues = append(issues, "agent.max_tool_calls must be >= 0")
	}

	if cfg.Sandbox.MaxHostCalls == 0 && cfg.Sandbox.Enabled {
		issues = append(issues, "sandbox.max_host_calls must be > 0 when sandbox is enabled")
	}
	if cfg.Sandbox.HTTP.PerMinuteLimit < 0 {
		issues = append(issues, "sandbox.http.per_minute_limit must be >= 0")
	}
	if cfg.Sandbox.HTTP.PerHourLimit < 0 {
		issues = append(issues, "sandbox.http.per_hour_limit must be >= 0")
	}

	if cfg.Router.FlashMax < 0 || cfg.Router.StandardMax < 0 || cfg.Router.ProMax < 0 {
		issues = append(issues, "router tier thresholds must be >= 0")
	}
	if cfg.Router.FlashMax >= cfg.Router.StandardMax || cfg.Router.StandardMax >= cfg.Router.ProMax {
		issues = append(issues, "router tier thresholds must be strictly increasing: flash_max < standard_max < pro_max")
	}

	if cfg.Retry.MaxAttempts < 0 {
		issues = append(issues, "retry.max_attempts must be >= 0")
	}
	if cfg.Retry.SandboxMaxAttempts < 0 {
		issues = append(issues, "retry.sandbox_max_attempts must be >= 0")
	}

	if profile := strings.ToLower(strings.TrimSpace(cfg.Approval.Profile)); profile != "" {
		switch profile {
		case "coding", "messaging", "readonly", "full", "minimal":
		default:
			issues = append(issues, "approval.profile must be \"coding\", \"messaging\", \"readonly\", \"full\", or \"minimal\"")
		}
	}

	if driver := strings.ToLower(strings.TrimSpace(cfg.Store.Driver)); driver != "" {
		switch driver {
		case "memory", "postgres":
		default:
			issues = append(issues, "store.driver must be \"memory\" or \"postgres\"")
		}
	}
	if cfg.Store.MaxRows < 0 {
		issues = append(issues, "store.max_rows must be >= 0")
	}

	if len(issues) > 0 {
		return &ConfigValidationError{Issues: issues}
	}

	return nil
}
