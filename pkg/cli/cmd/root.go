package cmd

import (
	"fmt"

	"github.com/cheap-k8s/stageflow/pkg/cli/errorhandler"
	"github.com/cheap-k8s/stageflow/pkg/di"
	"github.com/cheap-k8s/stageflow/pkg/io/configmanager"
	"github.com/cheap-k8s/stageflow/pkg/svc/planner"
	"github.com/spf13/cobra"
)

const (
	// ConfigFlagName selects the catalog file.
	ConfigFlagName = "config"
	// LogLevelFlagName sets the minimum level of structured logs.
	LogLevelFlagName = "log-level"
)

// NewRootCmd creates and returns the root command with version info and subcommands.
func NewRootCmd(version, commit, date string) *cobra.Command {
	runtime := di.NewRuntime()

	cmd := &cobra.Command{
		Use:   "stageflow",
		Short: "Staged, dependency-ordered GitOps rollouts",
		Long: "stageflow reads a catalog of Git repositories and their deployment targets, " +
			"expands every target into pre, apply and post stages, and keeps the cluster " +
			"reconciled with each stage in dependency order.",
		RunE:         handleRootRunE,
		SilenceUsage: true,
	}

	cmd.Version = fmt.Sprintf("%s (Built on %s from Git SHA %s)", version, date, commit)

	cmd.PersistentFlags().StringP(ConfigFlagName, "c", "",
		"Path to the catalog file (default: stageflow.yaml in . or $HOME/.config/stageflow)")
	cmd.PersistentFlags().String(LogLevelFlagName, "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(NewPlanCmd(runtime))
	cmd.AddCommand(NewExportCmd(runtime))
	cmd.AddCommand(NewRunCmd(runtime))
	cmd.AddCommand(NewStatusCmd())
	cmd.AddCommand(NewSchemaCmd())

	return cmd
}

// Execute runs the provided root command and handles errors.
func Execute(cmd *cobra.Command) error {
	executor := errorhandler.NewExecutor().
		WithHint(configmanager.ErrCatalogNotFound, "create stageflow.yaml or pass --config").
		WithHint(configmanager.ErrInvalidCatalog, "run 'stageflow schema' to see the expected format").
		WithHint(planner.ErrPlanInvalid, "check the dependsOn entries of the catalog")

	err := executor.Execute(cmd)
	if err != nil {
		return fmt.Errorf("command execution failed: %w", err)
	}

	return nil
}

func handleRootRunE(cmd *cobra.Command, _ []string) error {
	// The err can safely be ignored, as it can never fail at runtime.
	_ = cmd.Help()

	return nil
}
