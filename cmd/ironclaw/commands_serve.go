package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/ironclaw/core/internal/config"
	"github.com/ironclaw/core/internal/hooks"
	"github.com/ironclaw/core/internal/observability"
	"github.com/ironclaw/core/internal/safety"
	"github.com/ironclaw/core/internal/skills"
)

// buildServeCmd creates the "serve" command that runs the metrics/health
// sidecar for a long-lived IronClaw deployment. The HTTP gateway and
// channel webhooks that would otherwise front the agentic loop are outside
// this repository's scope; serve exists to keep the ambient ops surface
// (metrics, structured logging, graceful shutdown) wired to something
// runnable.
func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the metrics/health server",
		Long: `Run the metrics/health server.

Loads configuration, initializes structured logging and Prometheus metrics,
and serves /healthz and /metrics until terminated.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	_ = observability.NewMetrics()

	hookRegistry := hooks.NewRegistry(nil)
	hooks.RegisterBundled(hookRegistry, safety.NewSanitizer(nil), safety.NewLeakDetector(nil), cfg.RateLimit.RequestsPerMinute, nil)
	logger.Info(ctx, "hook bus ready", "points", len(hookRegistry.RegisteredPoints()))

	if cfg.Skills.RefreshCron != "" {
		mgr, err := skills.NewManager(&cfg.Skills, cfg.Workspace.Path, nil)
		if err != nil {
			return fmt.Errorf("build skills manager: %w", err)
		}
		if err := mgr.Discover(ctx); err != nil {
			return fmt.Errorf("initial skills discovery: %w", err)
		}
		if err := mgr.RefreshEligible(); err != nil {
			return fmt.Errorf("initial eligibility refresh: %w", err)
		}
		sched := skills.NewScheduler(mgr, nil)
		if err := sched.Start(ctx, cfg.Skills.RefreshCron); err != nil {
			return fmt.Errorf("start skills scheduler: %w", err)
		}
		defer sched.Stop()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort)
	srv := &http.Server{Addr: addr, Handler: mux}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info(sigCtx, "metrics server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-sigCtx.Done():
		logger.Info(context.Background(), "shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
