package di

import (
	"fmt"
	"log/slog"

	"github.com/cheap-k8s/stageflow/pkg/io/configmanager"
	"github.com/cheap-k8s/stageflow/pkg/k8s"
	"github.com/cheap-k8s/stageflow/pkg/svc/metrics"
	"github.com/samber/do/v2"
	"github.com/spf13/cobra"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// ResolveLogger returns the registered logger, or the default logger when none is registered.
func ResolveLogger(injector Injector) *slog.Logger {
	logger, err := do.Invoke[*slog.Logger](injector)
	if err != nil {
		return slog.Default()
	}

	return logger
}

// ResolveConfigManager retrieves the config manager.
func ResolveConfigManager(injector Injector) (*configmanager.ConfigManager, error) {
	manager, err := do.Invoke[*configmanager.ConfigManager](injector)
	if err != nil {
		return nil, fmt.Errorf("resolve config manager dependency: %w", err)
	}

	return manager, nil
}

// ResolveModel loads the catalog and returns its registry and target catalog.
func ResolveModel(injector Injector) (*Model, error) {
	model, err := do.Invoke[*Model](injector)
	if err != nil {
		return nil, fmt.Errorf("resolve catalog dependency: %w", err)
	}

	return model, nil
}

// ResolveCluster retrieves the cluster adapter.
func ResolveCluster(injector Injector) (*k8s.Cluster, error) {
	cluster, err := do.Invoke[*k8s.Cluster](injector)
	if err != nil {
		return nil, fmt.Errorf("resolve cluster dependency: %w", err)
	}

	return cluster, nil
}

// ResolveClient retrieves the typed Kubernetes client.
func ResolveClient(injector Injector) (client.Client, error) {
	k8sClient, err := do.Invoke[client.Client](injector)
	if err != nil {
		return nil, fmt.Errorf("resolve kubernetes client dependency: %w", err)
	}

	return k8sClient, nil
}

// ResolveCollector retrieves the metrics collector.
func ResolveCollector(injector Injector) (*metrics.Collector, error) {
	collector, err := do.Invoke[*metrics.Collector](injector)
	if err != nil {
		return nil, fmt.Errorf("resolve metrics collector dependency: %w", err)
	}

	return collector, nil
}

// WithModel decorates a handler to resolve the loaded catalog first.
func WithModel(
	handler func(cmd *cobra.Command, injector Injector, model *Model) error,
) func(cmd *cobra.Command, injector Injector) error {
	return func(cmd *cobra.Command, injector Injector) error {
		model, err := ResolveModel(injector)
		if err != nil {
			return err
		}

		return handler(cmd, injector, model)
	}
}
