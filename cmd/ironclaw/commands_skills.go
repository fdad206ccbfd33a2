package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ironclaw/core/internal/config"
	"github.com/ironclaw/core/internal/skills"
)

// buildSkillsCmd creates the "skills" command group.
func buildSkillsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skills",
		Short: "Manage skills (SKILL.md-based)",
	}
	cmd.AddCommand(buildSkillsRefreshCmd(), buildSkillsListCmd())
	return cmd
}

func buildSkillsRefreshCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Re-discover skills and recompute eligibility",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := loadSkillsManager(configPath)
			if err != nil {
				return err
			}
			if err := mgr.Discover(cmd.Context()); err != nil {
				return fmt.Errorf("discover skills: %w", err)
			}
			if err := mgr.RefreshEligible(); err != nil {
				return fmt.Errorf("refresh eligibility: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d skills discovered, %d eligible\n", len(mgr.ListAll()), len(mgr.ListEligible()))
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	return cmd
}

func buildSkillsListCmd() *cobra.Command {
	var configPath string
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List discovered skills",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := loadSkillsManager(configPath)
			if err != nil {
				return err
			}
			if err := mgr.Discover(cmd.Context()); err != nil {
				return fmt.Errorf("discover skills: %w", err)
			}
			if err := mgr.RefreshEligible(); err != nil {
				return fmt.Errorf("refresh eligibility: %w", err)
			}

			entries := mgr.ListEligible()
			if all {
				entries = mgr.ListAll()
			}
			out := cmd.OutOrStdout()
			for _, entry := range entries {
				fmt.Fprintf(out, "%s\t%s\t%s\n", entry.Name, entry.Source, entry.Trust)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&all, "all", "a", false, "Include ineligible skills")
	return cmd
}

func loadSkillsManager(configPath string) (*skills.Manager, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	mgr, err := skills.NewManager(&cfg.Skills, cfg.Workspace.Path, nil)
	if err != nil {
		return nil, fmt.Errorf("build skills manager: %w", err)
	}
	return mgr, nil
}
