// Package main provides the CLI entry point for IronClaw, an AI-agent
// control plane: the agentic execution core, the sandboxed tool substrate,
// and the routing/caching layer that sits in front of both.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during release builds.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "ironclaw",
		Short:        "IronClaw - AI agent control plane",
		Long:         "Drives LLM-backed agents through a sandboxed tool substrate, with model-tier routing, response caching, and benchmark evaluation.",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildBenchCmd(),
		buildSkillsCmd(),
	)

	return rootCmd
}

const defaultConfigPath = "ironclaw.yaml"
