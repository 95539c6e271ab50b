package di

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/cheap-k8s/stageflow/pkg/apis/catalog/v1alpha1"
	"github.com/cheap-k8s/stageflow/pkg/io/configmanager"
	"github.com/cheap-k8s/stageflow/pkg/k8s"
	"github.com/cheap-k8s/stageflow/pkg/svc/catalog"
	"github.com/cheap-k8s/stageflow/pkg/svc/metrics"
	"github.com/cheap-k8s/stageflow/pkg/svc/registry"
	"github.com/samber/do/v2"
	"k8s.io/client-go/rest"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// Model is the loaded catalog file turned into services.
type Model struct {
	Config   *v1alpha1.Catalog
	Registry *registry.Registry
	Catalog  *catalog.Catalog
}

// NewRuntime constructs the runtime shared by all commands. The cluster
// services read their connection settings from the catalog.
func NewRuntime() *Runtime {
	return New(
		provideModel,
		provideRESTConfig,
		provideCluster,
		provideClient,
		provideCollector,
	)
}

// ProvideLogger registers the logger.
func ProvideLogger(logger *slog.Logger) Module {
	return func(i Injector) error {
		do.ProvideValue(i, logger)

		return nil
	}
}

// ProvideConfigManager registers the config manager for a catalog file.
// An empty path searches the default locations.
func ProvideConfigManager(writer io.Writer, configFile string) Module {
	return func(i Injector) error {
		do.Provide(i, func(Injector) (*configmanager.ConfigManager, error) {
			return configmanager.NewConfigManager(writer, configFile), nil
		})

		return nil
	}
}

func provideModel(i Injector) error {
	do.Provide(i, func(i Injector) (*Model, error) {
		manager, err := do.Invoke[*configmanager.ConfigManager](i)
		if err != nil {
			return nil, err
		}

		cfg, err := manager.Load()
		if err != nil {
			return nil, err
		}

		reg, cat, err := catalog.FromConfig(cfg)
		if err != nil {
			return nil, fmt.Errorf("build catalog: %w", err)
		}

		return &Model{Config: cfg, Registry: reg, Catalog: cat}, nil
	})

	return nil
}

func provideRESTConfig(i Injector) error {
	do.Provide(i, func(i Injector) (*rest.Config, error) {
		model, err := do.Invoke[*Model](i)
		if err != nil {
			return nil, err
		}

		connection := model.Config.Spec.Connection

		return k8s.BuildRESTConfig(connection.Kubeconfig, connection.Context)
	})

	return nil
}

func provideCluster(i Injector) error {
	do.Provide(i, func(i Injector) (*k8s.Cluster, error) {
		restConfig, err := do.Invoke[*rest.Config](i)
		if err != nil {
			return nil, err
		}

		return k8s.NewClusterForConfig(restConfig)
	})

	return nil
}

func provideClient(i Injector) error {
	do.Provide(i, func(i Injector) (client.Client, error) {
		restConfig, err := do.Invoke[*rest.Config](i)
		if err != nil {
			return nil, err
		}

		return k8s.NewClient(restConfig)
	})

	return nil
}

func provideCollector(i Injector) error {
	do.Provide(i, func(Injector) (*metrics.Collector, error) {
		return metrics.NewCollector(), nil
	})

	return nil
}
