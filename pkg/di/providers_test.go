package di_test

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/cheap-k8s/stageflow/pkg/di"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const kubeconfigYAML = `apiVersion: v1
kind: Config
clusters:
- cluster:
    server: https://127.0.0.1:6443
  name: test-cluster
contexts:
- context:
    cluster: test-cluster
    user: test-user
  name: test-context
current-context: test-context
users:
- name: test-user
  user:
    token: fake-token
`

func writeCatalog(t *testing.T) string {
	t.Helper()

	kubeconfig := filepath.Join(t.TempDir(), "kubeconfig")
	require.NoError(t, os.WriteFile(kubeconfig, []byte(kubeconfigYAML), 0o600))

	return writeCatalogFor(t, kubeconfig)
}

// writeCatalogFor writes a one-target catalog connecting through kubeconfig.
func writeCatalogFor(t *testing.T, kubeconfig string) string {
	t.Helper()

	catalog := `apiVersion: stageflow.io/v1alpha1
kind: Catalog
spec:
  connection:
    kubeconfig: ` + kubeconfig + `
  repositories:
    - name: example
      url: https://github.com/cheap-k8s/example/
      targets:
        - name: staging
          path: ./ops/app/staging
`

	path := filepath.Join(t.TempDir(), "stageflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(catalog), 0o600))

	return path
}

func TestNewRuntime_ProvidesModel(t *testing.T) {
	t.Parallel()

	rt := di.NewRuntime()

	err := rt.Invoke(func(injector di.Injector) error {
		model, resolveErr := di.ResolveModel(injector)
		require.NoError(t, resolveErr)

		assert.Equal(t, 1, model.Registry.Len())
		assert.Len(t, model.Catalog.All(), 1)
		assert.Equal(t, "flux-system", model.Config.Spec.SystemNamespace)

		return nil
	}, di.ProvideConfigManager(io.Discard, writeCatalog(t)))

	require.NoError(t, err)
}

func TestNewRuntime_ProvidesClusterServices(t *testing.T) {
	t.Parallel()

	rt := di.NewRuntime()

	err := rt.Invoke(func(injector di.Injector) error {
		cluster, resolveErr := di.ResolveCluster(injector)
		require.NoError(t, resolveErr)
		assert.NotNil(t, cluster)

		k8sClient, resolveErr := di.ResolveClient(injector)
		require.NoError(t, resolveErr)
		assert.NotNil(t, k8sClient)

		collector, resolveErr := di.ResolveCollector(injector)
		require.NoError(t, resolveErr)
		assert.NotNil(t, collector)

		return nil
	}, di.ProvideConfigManager(io.Discard, writeCatalog(t)))

	require.NoError(t, err)
}

func TestResolveModel_MissingCatalog(t *testing.T) {
	t.Parallel()

	rt := di.NewRuntime()

	err := rt.Invoke(func(injector di.Injector) error {
		_, resolveErr := di.ResolveModel(injector)

		return resolveErr
	}, di.ProvideConfigManager(io.Discard, filepath.Join(t.TempDir(), "missing.yaml")))

	require.Error(t, err)
}

func TestResolveLogger(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.DiscardHandler)

	err := di.New(di.ProvideLogger(logger)).Invoke(func(injector di.Injector) error {
		assert.Same(t, logger, di.ResolveLogger(injector))

		return nil
	})
	require.NoError(t, err)

	err = di.New().Invoke(func(injector di.Injector) error {
		assert.NotNil(t, di.ResolveLogger(injector))

		return nil
	})
	require.NoError(t, err)
}

func TestWithModel(t *testing.T) {
	t.Parallel()

	rt := di.NewRuntime()

	var repositories int

	runE := di.RunEWithRuntime(rt, di.WithModel(func(_ *cobra.Command, _ di.Injector, model *di.Model) error {
		repositories = model.Registry.Len()

		return nil
	}), di.ProvideConfigManager(io.Discard, writeCatalog(t)))

	require.NoError(t, runE(&cobra.Command{Use: "test"}, nil))
	assert.Equal(t, 1, repositories)
}
