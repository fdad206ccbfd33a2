package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/ironclaw/core/internal/agent"
	"github.com/ironclaw/core/internal/config"
)

// Runtime compiles and executes WASM Component Model tool binaries under a
// capability grant. A single Runtime is shared by every WasmToolWrapper in
// the process; compiled modules are cached by binary content so repeated
// invocations of the same tool skip recompilation.
type Runtime struct {
	logger *slog.Logger

	mu       sync.Mutex
	compiled map[string]wazero.CompiledModule
	rt       wazero.Runtime

	// instanceSeq names each host/guest module instance uniquely so that
	// concurrent Execute calls (and repeated calls of the same tool) never
	// collide on wazero's per-runtime module-name namespace.
	instanceSeq uint64
}

func (r *Runtime) nextInstanceID() uint64 {
	return atomic.AddUint64(&r.instanceSeq, 1)
}

// NewRuntime constructs a Runtime whose guest instances can never grow
// memory past maxMemoryPages, enforced by wazero itself (not guest
// cooperation). Every WasmToolWrapper sharing this Runtime is bounded by
// the same ceiling; a capability grant with a lower MemoryPages is checked
// separately by enforceMemoryLimit. ctx is retained only for the duration
// of this call (to build the shared wazero.Runtime and register WASI); it
// is not stored.
func NewRuntime(ctx context.Context, maxMemoryPages uint32, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rtCfg := wazero.NewRuntimeConfig()
	if maxMemoryPages > 0 {
		rtCfg = rtCfg.WithMemoryLimitPages(maxMemoryPages)
	}
	rt := wazero.NewRuntimeWithConfig(ctx, rtCfg)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		return nil, fmt.Errorf("sandbox: instantiate wasi: %w", err)
	}
	return &Runtime{
		logger:   logger,
		compiled: make(map[string]wazero.CompiledModule),
		rt:       rt,
	}, nil
}

// Close releases every compiled module and the underlying wazero runtime.
func (r *Runtime) Close(ctx context.Context) error {
	return r.rt.Close(ctx)
}

// compile returns the cached CompiledModule for binary, compiling and
// caching it under cacheKey on first use.
func (r *Runtime) compile(ctx context.Context, cacheKey string, binary []byte) (wazero.CompiledModule, error) {
	r.mu.Lock()
	if mod, ok := r.compiled[cacheKey]; ok {
		r.mu.Unlock()
		return mod, nil
	}
	r.mu.Unlock()

	mod, err := r.rt.CompileModule(ctx, binary)
	if err != nil {
		return nil, fmt.Errorf("sandbox: compile module: %w", err)
	}

	r.mu.Lock()
	r.compiled[cacheKey] = mod
	r.mu.Unlock()
	return mod, nil
}

// Execution describes a single fresh-instance invocation of a compiled tool
// binary: the exported entrypoint to call, its argument payload, and the
// capability grant/job context it runs under.
type Execution struct {
	CacheKey   string // identifies the compiled binary, e.g. the tool name
	Binary     []byte
	Entrypoint string
	Input      []byte
	Caps       Capabilities
	JobContext *agent.JobContext

	// MaxOutputBytes bounds the guest's output buffer; the guest is expected
	// to truncate (or trap) if its result exceeds this.
	MaxOutputBytes uint32
}

// Execute instantiates a fresh guest module for exec, runs its entrypoint
// to completion (or until fuel/memory/timeout trips), and returns the raw
// bytes the guest wrote to its output buffer.
//
// Every call gets its own wazero module instance — nothing is reused across
// calls except the compiled module and the parent runtime — mirroring the
// fresh-VM-per-job lifecycle of a pooled microVM: compile once, instantiate
// fresh, discard after.
func (r *Runtime) Execute(ctx context.Context, exec Execution, window *httpWindow) ([]byte, error) {
	if exec.Caps.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, exec.Caps.Timeout)
		defer cancel()
	}

	compiled, err := r.compile(ctx, exec.CacheKey, exec.Binary)
	if err != nil {
		return nil, err
	}

	fuel := NewFuelMeter(exec.Caps.FuelBudget)
	shim := newHostShim(exec.Caps, exec.JobContext, fuel, window)

	id := r.nextInstanceID()
	hostModuleInstanceName := fmt.Sprintf("%s#%d", hostModuleName, id)

	hostMod, err := shim.buildHostModule(r.rt).
		WithName(hostModuleInstanceName).
		Instantiate(ctx)
	if err != nil {
		return nil, fmt.Errorf("sandbox: instantiate host module: %w", err)
	}
	defer hostMod.Close(ctx)

	cfg := wazero.NewModuleConfig().WithName(fmt.Sprintf("%s-instance#%d", exec.CacheKey, id))

	mod, err := r.rt.InstantiateModule(ctx, compiled, cfg)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &ResourceError{Resource: "timeout", Detail: ctx.Err().Error()}
		}
		return nil, fmt.Errorf("sandbox: instantiate guest: %w", err)
	}
	defer mod.Close(ctx)

	if err := enforceMemoryLimit(mod, exec.Caps.MemoryPages); err != nil {
		return nil, err
	}

	fn := mod.ExportedFunction(exec.Entrypoint)
	if fn == nil {
		return nil, &CapabilityError{Operation: exec.Entrypoint, Detail: "entrypoint not exported by guest"}
	}

	inPtr, inLen, err := writeInput(ctx, mod, exec.Input)
	if err != nil {
		return nil, err
	}

	results, err := fn.Call(ctx, uint64(inPtr), uint64(inLen))
	if err != nil {
		if ctx.Err() != nil {
			return nil, &ResourceError{Resource: "timeout", Detail: "wall-clock deadline exceeded"}
		}
		if fuel.Remaining() == 0 && fuel.Budget() > 0 {
			return nil, &ResourceError{Resource: "fuel", Detail: fmt.Sprintf("exhausted after %d calls", fuel.Used())}
		}
		return nil, fmt.Errorf("sandbox: guest trapped: %w", err)
	}

	return readOutput(mod, results)
}

// enforceMemoryLimit rejects an instantiated module whose linear memory
// already exceeds the granted page count. Growth beyond it is additionally
// enforced by the wazero.RuntimeConfig memory limit set at Runtime
// construction, so this is a defense-in-depth check on the starting state.
func enforceMemoryLimit(mod api.Module, limitPages uint32) error {
	if limitPages == 0 {
		return nil
	}
	const wasmPageSize = 65536
	if mod.Memory().Size()/wasmPageSize > limitPages {
		return &ResourceError{Resource: "memory", Detail: "guest initial memory exceeds granted page count"}
	}
	return nil
}

// writeInput allocates space in the guest's memory for payload by calling
// its exported "alloc" function (a convention every tool binary built
// against the accompanying guest SDK implements), then copies payload in.
func writeInput(ctx context.Context, mod api.Module, payload []byte) (uint32, uint32, error) {
	alloc := mod.ExportedFunction("alloc")
	if alloc == nil {
		return 0, 0, &CapabilityError{Operation: "alloc", Detail: "guest does not export alloc"}
	}
	results, err := alloc.Call(ctx, uint64(len(payload)))
	if err != nil {
		return 0, 0, fmt.Errorf("sandbox: guest alloc failed: %w", err)
	}
	ptr := uint32(results[0])
	if !mod.Memory().Write(ptr, payload) {
		return 0, 0, fmt.Errorf("sandbox: writing input exceeded guest memory")
	}
	return ptr, uint32(len(payload)), nil
}

// readOutput decodes the (ptr, len) pair an entrypoint returns and copies
// the bytes out of guest memory.
func readOutput(mod api.Module, results []uint64) ([]byte, error) {
	if len(results) != 2 {
		return nil, fmt.Errorf("sandbox: entrypoint must return (ptr, len), got %d values", len(results))
	}
	ptr, size := uint32(results[0]), uint32(results[1])
	if size == 0 {
		return nil, nil
	}
	buf, ok := mod.Memory().Read(ptr, size)
	if !ok {
		return nil, fmt.Errorf("sandbox: guest returned an out-of-bounds output buffer")
	}
	out := make([]byte, len(buf))
	copy(out, buf)
	return out, nil
}

// CapabilitiesFromConfig builds a Capabilities record from the process-wide
// SandboxConfig defaults, used whenever a tool manifest does not declare
// its own narrower grant.
func CapabilitiesFromConfig(cfg config.SandboxConfig) Capabilities {
	return Capabilities{
		WorkspaceRead: WorkspaceReadCapability{Prefixes: cfg.AllowedWorkspacePrefixes},
		HTTP: HTTPCapability{
			PerMinuteLimit:  cfg.HTTP.PerMinuteLimit,
			PerHourLimit:    cfg.HTTP.PerHourLimit,
			MaxRequestBody:  cfg.HTTP.MaxBodyBytes,
			MaxResponseBody: cfg.HTTP.MaxBodyBytes,
		},
		MemoryPages: cfg.MemoryPages,
		FuelBudget:  cfg.MaxHostCalls,
		Timeout:     cfg.Timeout,
	}
}
