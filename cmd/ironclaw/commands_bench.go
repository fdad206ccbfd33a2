package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ironclaw/core/internal/agent"
	"github.com/ironclaw/core/internal/agent/providers"
	"github.com/ironclaw/core/internal/bench"
	"github.com/ironclaw/core/internal/config"
	"github.com/ironclaw/core/internal/sandbox"
)

// buildBenchCmd creates the "bench" command: run a task suite through the
// agentic loop against a configured provider and score the results.
func buildBenchCmd() *cobra.Command {
	var (
		configPath string
		suitePath  string
		suiteID    string
		resumeID   string
		taskIDs    []string
		tags       []string
		sample     int
		parallel   int
		provider   string
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Run a benchmark suite against a configured LLM provider",
		Long: `Run a JSON-file task suite through the agentic loop, score each
submission, and write results/<run_id>/{tasks.jsonl,run.json}.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBench(cmd, benchOptions{
				configPath: configPath,
				suitePath:  suitePath,
				suiteID:    suiteID,
				resumeID:   resumeID,
				taskIDs:    taskIDs,
				tags:       tags,
				sample:     sample,
				parallel:   parallel,
				provider:   provider,
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	cmd.Flags().StringVar(&suitePath, "suite", "", "Path to a JSON task suite file (required)")
	cmd.Flags().StringVar(&suiteID, "suite-id", "default", "Suite identifier recorded on each task")
	cmd.Flags().StringVar(&resumeID, "resume", "", "Resume a previous run ID, skipping already-scored tasks")
	cmd.Flags().StringSliceVar(&taskIDs, "task", nil, "Restrict the run to these task IDs (repeatable)")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "Restrict the run to tasks carrying any of these tags (repeatable)")
	cmd.Flags().IntVar(&sample, "sample", 0, "Truncate the filtered task list to the first N tasks")
	cmd.Flags().IntVar(&parallel, "parallel", 0, "Override bench.parallelism from the config file")
	cmd.Flags().StringVar(&provider, "provider", "", "Override llm.default_provider from the config file")
	cmd.MarkFlagRequired("suite")

	return cmd
}

type benchOptions struct {
	configPath string
	suitePath  string
	suiteID    string
	resumeID   string
	taskIDs    []string
	tags       []string
	sample     int
	parallel   int
	provider   string
}

func runBench(cmd *cobra.Command, opts benchOptions) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	suite, err := bench.LoadFileSuite(opts.suiteID, opts.suitePath)
	if err != nil {
		return fmt.Errorf("load suite: %w", err)
	}

	if cfg.Sandbox.Enabled && len(cfg.Sandbox.Tools) > 0 {
		sandboxTools, err := loadSandboxTools(cmd.Context(), cfg.Sandbox)
		if err != nil {
			return fmt.Errorf("load sandbox tools: %w", err)
		}
		suite.WithTools(sandboxTools...)
	}

	providerName := strings.ToLower(strings.TrimSpace(opts.provider))
	if providerName == "" {
		providerName = strings.ToLower(strings.TrimSpace(cfg.LLM.DefaultProvider))
	}
	llmProvider, model, err := buildBenchProvider(cfg, providerName)
	if err != nil {
		return err
	}

	loopConfig := agent.DefaultLoopConfig()
	loopConfig.MaxIterations = cfg.Agent.MaxIterations

	parallelism := cfg.Bench.Parallelism
	if opts.parallel > 0 {
		parallelism = opts.parallel
	}

	runner := bench.NewRunner(suite, bench.MatrixEntry{
		Label:      providerName,
		Provider:   llmProvider,
		Model:      model,
		LoopConfig: loopConfig,
	}, bench.RunnerConfig{
		Parallelism: parallelism,
		TaskTimeout: cfg.Bench.TaskTimeout,
		ResultsDir:  cfg.Bench.ResultsDir,
	})

	summary, err := runner.Run(cmd.Context(), bench.RunOptions{
		ResumeRunID: opts.resumeID,
		TaskIDs:     opts.taskIDs,
		Tags:        opts.tags,
		Sample:      opts.sample,
	})
	if err != nil {
		return fmt.Errorf("run benchmark: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run_id=%s tasks=%d pass_rate=%.2f avg_score=%.2f cost_usd=%.4f errors=%d timeouts=%d\n",
		summary.RunID, summary.TaskCount, summary.PassRate, summary.AvgScore,
		summary.TotalCostUSD, summary.TotalErrors, summary.TotalTimeouts)
	fmt.Fprintf(out, "tasks: %s\n", summary.TasksJSONLRef)
	return nil
}

// loadSandboxTools compiles and wraps every tool binary declared in
// cfg.Sandbox.Tools into an agent.Tool backed by the WASM Component Model
// runtime, so a bench run's tasks can dispatch to sandboxed tools alongside
// any orchestrator-side tools the suite grants directly. The returned
// Runtime is intentionally never closed here: it outlives the bench run and
// is reclaimed with the process, matching the one-runtime-per-process
// lifecycle NewRuntime documents.
func loadSandboxTools(ctx context.Context, cfg config.SandboxConfig) ([]agent.Tool, error) {
	runtime, err := sandbox.NewRuntime(ctx, cfg.MemoryPages, nil)
	if err != nil {
		return nil, fmt.Errorf("build sandbox runtime: %w", err)
	}

	manifests, err := sandbox.LoadManifestsFromConfig(cfg, os.ReadFile)
	if err != nil {
		return nil, err
	}

	tools := make([]agent.Tool, 0, len(manifests))
	for _, m := range manifests {
		tools = append(tools, sandbox.NewWasmToolWrapper(runtime, m))
	}
	return tools, nil
}

// buildBenchProvider constructs the LLMProvider named by providerID from
// cfg.LLM, mirroring the provider selection a live agent job would do.
func buildBenchProvider(cfg *config.Config, providerID string) (agent.LLMProvider, string, error) {
	providerCfg, ok := cfg.LLM.Providers[providerID]
	if !ok {
		return nil, "", fmt.Errorf("no llm.providers entry for %q", providerID)
	}

	switch providerID {
	case "anthropic":
		p, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:  providerCfg.APIKey,
			BaseURL: providerCfg.BaseURL,
		})
		if err != nil {
			return nil, "", fmt.Errorf("build anthropic provider: %w", err)
		}
		return p, providerCfg.DefaultModel, nil
	case "openai":
		return providers.NewOpenAIProvider(providerCfg.APIKey), providerCfg.DefaultModel, nil
	default:
		return nil, "", fmt.Errorf("unsupported provider %q", providerID)
	}
}
