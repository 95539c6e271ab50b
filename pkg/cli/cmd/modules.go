package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cheap-k8s/stageflow/pkg/di"
	"github.com/spf13/cobra"
)

// commandModules registers the config manager and logger built from the
// persistent flags of the invoked command.
func commandModules(cmd *cobra.Command) ([]di.Module, error) {
	configFile, err := cmd.Flags().GetString(ConfigFlagName)
	if err != nil {
		return nil, fmt.Errorf("read --%s: %w", ConfigFlagName, err)
	}

	logger, err := newLogger(cmd)
	if err != nil {
		return nil, err
	}

	return []di.Module{
		di.ProvideConfigManager(cmd.ErrOrStderr(), configFile),
		di.ProvideLogger(logger),
	}, nil
}

func newLogger(cmd *cobra.Command) (*slog.Logger, error) {
	raw, err := cmd.Flags().GetString(LogLevelFlagName)
	if err != nil {
		return nil, fmt.Errorf("read --%s: %w", LogLevelFlagName, err)
	}

	var level slog.Level

	err = level.UnmarshalText([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid --%s %q: %w", LogLevelFlagName, raw, err)
	}

	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})), nil
}

// runWithModel resolves the catalog of the invoked command and runs handler.
func runWithModel(
	runtime *di.Runtime,
	handler func(cmd *cobra.Command, injector di.Injector, model *di.Model) error,
) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		modules, err := commandModules(cmd)
		if err != nil {
			return err
		}

		return di.RunEWithRuntime(runtime, di.WithModel(handler), modules...)(cmd, args)
	}
}

func contextWithTimeout(cmd *cobra.Command, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	return context.WithTimeout(ctx, timeout)
}
