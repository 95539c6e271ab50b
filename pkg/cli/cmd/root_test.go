package cmd_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cheap-k8s/stageflow/pkg/cli/cmd"
	"github.com/cheap-k8s/stageflow/pkg/fsutil"
	"github.com/cheap-k8s/stageflow/pkg/svc/driver"
	"github.com/cheap-k8s/stageflow/pkg/svc/planner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const exampleCatalog = `apiVersion: stageflow.io/v1alpha1
kind: Catalog
spec:
  repositories:
    - name: example
      url: https://github.com/cheap-k8s/example/
      targets:
        - name: staging
          path: ./ops/app/staging
          step:
            pre:
              enable: true
            post:
              enable: true
        - name: production
          path: ./ops/app/production
          dependsOn: [staging]
          step:
            pre:
              enable: true
            post:
              enable: true
`

const cyclicCatalog = `apiVersion: stageflow.io/v1alpha1
kind: Catalog
spec:
  repositories:
    - name: example
      url: https://github.com/cheap-k8s/example/
      targets:
        - name: staging
          path: ./ops/app/staging
          dependsOn: [production]
        - name: production
          path: ./ops/app/production
          dependsOn: [staging]
`

func writeCatalog(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "stageflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer

	root := cmd.NewRootCmd("test", "test", "test")
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)

	err := cmd.Execute(root)

	return out.String(), err
}

func TestNewRootCmdVersionFormatting(t *testing.T) {
	t.Parallel()

	root := cmd.NewRootCmd("1.2.3", "abc123", "2025-08-17")

	assert.Equal(t, "1.2.3 (Built on 2025-08-17 from Git SHA abc123)", root.Version)
}

func TestRootShowsHelp(t *testing.T) {
	t.Parallel()

	out, err := execute(t)
	require.NoError(t, err)

	for _, name := range []string{"plan", "export", "run", "status", "schema"} {
		assert.Contains(t, out, name)
	}
}

func TestRootPersistentFlags(t *testing.T) {
	t.Parallel()

	root := cmd.NewRootCmd("test", "test", "test")

	require.NotNil(t, root.PersistentFlags().Lookup(cmd.ConfigFlagName))
	require.NotNil(t, root.PersistentFlags().ShorthandLookup("c"))

	level, err := root.PersistentFlags().GetString(cmd.LogLevelFlagName)
	require.NoError(t, err)
	assert.Equal(t, "info", level)
}

func TestPlan_Table(t *testing.T) {
	t.Parallel()

	out, err := execute(t, "plan", "--config", writeCatalog(t, exampleCatalog))
	require.NoError(t, err)

	assert.Contains(t, out, "Stage graph (6 stages)")
	assert.Contains(t, out, "gitops-example-production-pre")
	assert.Contains(t, out, "./ops/app/staging/post")
	assert.Less(t,
		strings.Index(out, "gitops-example-staging-post"),
		strings.Index(out, "gitops-example-production-pre"))
}

func TestPlan_JSON(t *testing.T) {
	t.Parallel()

	out, err := execute(t, "plan", "-c", writeCatalog(t, exampleCatalog), "-o", "json")
	require.NoError(t, err)

	var stages []planner.Stage
	require.NoError(t, json.Unmarshal([]byte(out), &stages))
	require.Len(t, stages, 6)

	assert.Equal(t, "gitops-example-staging-pre", stages[0].Name())
	assert.Equal(t, "example-production", stages[5].Namespace)
}

func TestPlan_Cycle(t *testing.T) {
	t.Parallel()

	_, err := execute(t, "plan", "-c", writeCatalog(t, cyclicCatalog))
	require.ErrorIs(t, err, planner.ErrPlanInvalid)
	assert.Contains(t, err.Error(), "dependency cycle")
	assert.Contains(t, err.Error(), "hint: check the dependsOn entries")
}

func TestPlan_UnknownOutput(t *testing.T) {
	t.Parallel()

	_, err := execute(t, "plan", "-c", writeCatalog(t, exampleCatalog), "-o", "xml")
	require.ErrorIs(t, err, cmd.ErrUnknownOutput)
}

func TestPlan_InvalidLogLevel(t *testing.T) {
	t.Parallel()

	_, err := execute(t, "plan", "-c", writeCatalog(t, exampleCatalog), "--log-level", "loud")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--log-level")
}

func TestExport_WritesFile(t *testing.T) {
	t.Parallel()

	target := filepath.Join(t.TempDir(), "flux", "stageflow.yaml")

	out, err := execute(t, "export", "-c", writeCatalog(t, exampleCatalog), "--output-file", target)
	require.NoError(t, err)
	assert.Contains(t, out, "exported 6 stages")

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Contains(t, string(data), "kind: GitRepository")
	assert.Equal(t, 6, strings.Count(string(data), "kind: Kustomization"))
}

func TestExport_ExistingFileNeedsForce(t *testing.T) {
	t.Parallel()

	catalog := writeCatalog(t, exampleCatalog)
	target := filepath.Join(t.TempDir(), "stageflow.yaml")
	require.NoError(t, os.WriteFile(target, []byte("keep"), 0o600))

	_, err := execute(t, "export", "-c", catalog, "-f", target)
	require.ErrorIs(t, err, fsutil.ErrFileExists)

	_, err = execute(t, "export", "-c", catalog, "-f", target, "--force")
	require.NoError(t, err)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Contains(t, string(data), "kind: Kustomization")
}

func TestExport_Stdout(t *testing.T) {
	t.Parallel()

	out, err := execute(t, "export", "-c", writeCatalog(t, exampleCatalog))
	require.NoError(t, err)
	assert.Contains(t, out, "name: git-repository-example")
}

func TestSchema_Stdout(t *testing.T) {
	t.Parallel()

	out, err := execute(t, "schema")
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &schema))
	assert.Equal(t, "stageflow Catalog", schema["title"])
}

func TestStatus(t *testing.T) {
	t.Parallel()

	records := []driver.Record{
		{
			ID:     planner.ID{Repository: "example", Target: "staging", Kind: planner.KindApply},
			Name:   "gitops-example-staging",
			Health: driver.HealthReady,
		},
		{
			ID:                  planner.ID{Repository: "example", Target: "production", Kind: planner.KindApply},
			Name:                "gitops-example-production",
			Health:              driver.HealthFailed,
			ConsecutiveFailures: 3,
			LastError:           "apply failed",
		},
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(records)
	}))
	t.Cleanup(server.Close)

	out, err := execute(t, "status", "--address", server.URL)
	require.NoError(t, err)

	assert.Contains(t, out, "gitops-example-production")
	assert.Contains(t, out, "apply failed")
	assert.Contains(t, out, "1/2 stages ready")
}

func TestStatus_Unreachable(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(server.Close)

	_, err := execute(t, "status", "--address", server.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read records")
}

func TestRun_MissingCatalog(t *testing.T) {
	t.Parallel()

	_, err := execute(t, "run", "-c", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hint: create stageflow.yaml")
}
