package driver_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cheap-k8s/stageflow/pkg/svc/catalog"
	"github.com/cheap-k8s/stageflow/pkg/svc/driver"
	"github.com/cheap-k8s/stageflow/pkg/svc/planner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

var errQuota = errors.New("exceeded quota: compute-resources")

func TestDriver_ExampleScenarioRunsInDependencyOrder(t *testing.T) {
	t.Parallel()

	h := newHarness()
	graph := mustPlan(t, testTarget("staging", true, true), testTarget("production", true, true))

	for _, stage := range graph.Stages() {
		h.renderer.set(stage.ID, configMap(stage.Name(), nil))
	}

	h.driver.Apply(graph)
	h.run(t)
	h.waitReady(t, graph.IDs()...)

	for _, target := range []string{"staging", "production"} {
		pre := h.cluster.createIndex("gitops-example-" + target + "-pre")
		apply := h.cluster.createIndex("gitops-example-" + target)
		post := h.cluster.createIndex("gitops-example-" + target + "-post")

		assert.Less(t, pre, apply, "%s pre before apply", target)
		assert.Less(t, apply, post, "%s apply before post", target)
		assert.True(t, h.cluster.has("example-"+target, "gitops-example-"+target))
		assert.Positive(t, h.namespaces.count("example-"+target))
	}

	record := h.record(stageID("staging", planner.KindApply))
	assert.Equal(t, "rev-1", record.Revision)
	assert.Equal(t, "example-staging", record.Namespace)
	assert.Len(t, record.Inventory, 1)
	assert.Zero(t, record.ConsecutiveFailures)
	assert.True(t, h.observer.sawHealth("gitops-example-staging", driver.HealthProgressing))
	assert.Len(t, h.driver.Records(), graph.Len())
}

func TestDriver_ReconcileIsIdempotent(t *testing.T) {
	t.Parallel()

	h := newHarness()
	graph := mustPlan(t, testTarget("staging", true, true))

	for _, stage := range graph.Stages() {
		h.renderer.set(stage.ID, configMap(stage.Name(), map[string]any{"replicas": int64(2)}))
	}

	h.driver.Apply(graph)
	h.run(t)
	h.waitReady(t, graph.IDs()...)

	writes := h.cluster.writes()

	for _, id := range graph.IDs() {
		attempts := h.record(id).Attempts

		require.True(t, h.driver.Trigger(id))
		h.waitFor(t, id, func(record driver.Record) bool {
			return record.Attempts > attempts && record.Health == driver.HealthReady
		})
	}

	assert.Equal(t, writes, h.cluster.writes())
}

func TestDriver_ServerNormalizedObjectsAreNotRewritten(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.cluster.normalize = true

	graph := mustPlan(t, testTarget("staging", false, false))
	id := stageID("staging", planner.KindApply)

	secret := &unstructured.Unstructured{Object: map[string]any{
		"stringData": map[string]any{"password": "x"},
	}}
	secret.SetAPIVersion("v1")
	secret.SetKind("Secret")
	secret.SetName("git-secret-example")

	h.renderer.set(id, secret, configMap("limits", map[string]any{"memory": "1024Mi"}))

	h.driver.Apply(graph)
	h.run(t)
	h.waitReady(t, id)

	stored := h.cluster.get("example-staging", "limits")
	memory, _, _ := unstructured.NestedString(stored.Object, "spec", "memory")
	require.Equal(t, "1Gi", memory)

	writes := h.cluster.writes()
	attempts := h.record(id).Attempts

	require.True(t, h.driver.Trigger(id))
	h.waitFor(t, id, func(record driver.Record) bool {
		return record.Attempts > attempts && record.Health == driver.HealthReady
	})

	assert.Equal(t, writes, h.cluster.writes())
}

func TestDriver_RotatedCopySourceIsReappliedBeforeInterval(t *testing.T) {
	t.Parallel()

	h := newHarness()

	target := testTarget("staging", false, false)
	target.Secrets = []catalog.SecretCopy{{Name: "db", FromNamespace: "database", FromName: "db-credentials"}}

	graph := mustPlan(t, target)
	copyID := planner.ID{Repository: "example", Target: "staging", Kind: planner.KindCopy, Name: "db"}

	h.renderer.set(copyID, configMap("db", nil))

	h.driver.Apply(graph)
	h.run(t)
	h.waitReady(t, copyID)

	assert.Zero(t, h.driver.CheckCopies(t.Context()))

	h.renderer.setRevision("rev-2", nil)

	ctx, cancel := context.WithCancel(t.Context())
	t.Cleanup(cancel)

	go h.driver.PollCopies(ctx, 5*time.Millisecond)

	h.waitFor(t, copyID, func(record driver.Record) bool {
		return record.Revision == "rev-2" && record.Health == driver.HealthReady
	})
}

func TestDriver_CheckCopiesSkipsUnappliedStages(t *testing.T) {
	t.Parallel()

	h := newHarness()

	target := testTarget("staging", false, false)
	target.Secrets = []catalog.SecretCopy{{Name: "db", FromNamespace: "database", FromName: "db-credentials"}}

	h.driver.Apply(mustPlan(t, target))

	assert.Zero(t, h.driver.CheckCopies(t.Context()))
}

func TestDriver_NewRevisionPropagatesToDependents(t *testing.T) {
	t.Parallel()

	h := newHarness()
	graph := mustPlan(t, testTarget("staging", true, true))

	for _, stage := range graph.Stages() {
		h.renderer.set(stage.ID, configMap(stage.Name(), nil))
	}

	h.driver.Apply(graph)
	h.run(t)
	h.waitReady(t, graph.IDs()...)

	h.renderer.setRevision("rev-2", nil)
	assert.Equal(t, 1, h.driver.TriggerRepository("example"))

	for _, id := range graph.IDs() {
		h.waitFor(t, id, func(record driver.Record) bool {
			return record.Revision == "rev-2" && record.Health == driver.HealthReady
		})
	}
}

func TestDriver_PrunesRemovedObjects(t *testing.T) {
	t.Parallel()

	h := newHarness()
	graph := mustPlan(t, testTarget("staging", false, false))
	apply := stageID("staging", planner.KindApply)

	h.renderer.set(apply, configMap("keep", nil), configMap("drop", nil))
	h.driver.Apply(graph)
	h.run(t)
	h.waitReady(t, apply)
	require.True(t, h.cluster.has("example-staging", "drop"))

	h.renderer.set(apply, configMap("keep", nil))
	require.True(t, h.driver.Trigger(apply))

	h.waitFor(t, apply, func(record driver.Record) bool {
		return record.Attempts >= 2 && record.Health == driver.HealthReady
	})

	assert.False(t, h.cluster.has("example-staging", "drop"))
	assert.True(t, h.cluster.has("example-staging", "keep"))
	assert.Len(t, h.record(apply).Inventory, 1)
}

func TestDriver_DoesNotPruneWhenDisabled(t *testing.T) {
	t.Parallel()

	h := newHarness()
	target := testTarget("staging", false, false)
	target.Prune = false
	graph := mustPlan(t, target)
	apply := stageID("staging", planner.KindApply)

	h.renderer.set(apply, configMap("keep", nil), configMap("drop", nil))
	h.driver.Apply(graph)
	h.run(t)
	h.waitReady(t, apply)

	h.renderer.set(apply, configMap("keep", nil))
	require.True(t, h.driver.Trigger(apply))

	h.waitFor(t, apply, func(record driver.Record) bool {
		return record.Attempts >= 2 && record.Health == driver.HealthReady
	})

	assert.True(t, h.cluster.has("example-staging", "drop"))
	assert.Zero(t, h.cluster.deleteCount())
}

func TestDriver_DisabledStageIsPrunedOnce(t *testing.T) {
	t.Parallel()

	h := newHarness()
	pre := stageID("staging", planner.KindPre)
	apply := stageID("staging", planner.KindApply)

	h.renderer.set(pre, configMap("crds", nil), configMap("operator", nil))
	h.renderer.set(apply, configMap("app", nil))

	h.driver.Apply(mustPlan(t, testTarget("staging", true, false)))
	h.run(t)
	h.waitReady(t, pre, apply)

	attempts := h.record(pre).Attempts

	diff := h.driver.Apply(mustPlan(t, testTarget("staging", false, false)))
	assert.Equal(t, []planner.ID{pre}, diff.Removed)
	assert.Equal(t, []planner.ID{apply}, diff.Changed)

	h.waitFor(t, pre, func(record driver.Record) bool { return record.Retired })
	h.waitReady(t, apply)

	assert.False(t, h.driver.Trigger(pre))
	assert.False(t, h.cluster.has("example-staging", "crds"))
	assert.False(t, h.cluster.has("example-staging", "operator"))
	assert.True(t, h.cluster.has("example-staging", "app"))

	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 2, h.cluster.deleteCount())
	assert.Equal(t, attempts, h.record(pre).Attempts)
	assert.Empty(t, h.record(pre).Inventory)
}

func TestDriver_ChangedStageKeepsRecord(t *testing.T) {
	t.Parallel()

	h := newHarness()
	apply := stageID("staging", planner.KindApply)
	h.renderer.set(apply, configMap("app", nil))

	h.driver.Apply(mustPlan(t, testTarget("staging", false, false)))
	h.run(t)
	h.waitReady(t, apply)

	attempts := h.record(apply).Attempts

	changed := testTarget("staging", false, false)
	changed.Timeout = 3 * time.Second

	diff := h.driver.Apply(mustPlan(t, changed))
	assert.Equal(t, []planner.ID{apply}, diff.Changed)

	h.waitFor(t, apply, func(record driver.Record) bool {
		return record.Attempts > attempts && record.Health == driver.HealthReady
	})
	assert.Equal(t, "rev-1", h.record(apply).Revision)
}

func TestDriver_InvalidReplanKeepsGraph(t *testing.T) {
	t.Parallel()

	h := newHarness()
	graph := mustPlan(t, testTarget("staging", false, false))
	h.driver.Apply(graph)

	staging := testTarget("staging", false, false)
	staging.DependsOn = []catalog.Ref{{Repository: "example", Name: "production"}}
	production := testTarget("production", false, false)
	production.DependsOn = []catalog.Ref{{Repository: "example", Name: "staging"}}

	_, err := h.driver.Replan(func() (*planner.Graph, error) {
		return planner.Plan([]catalog.Target{staging, production})
	})

	require.ErrorIs(t, err, planner.ErrPlanInvalid)
	assert.Same(t, graph, h.driver.Graph())
	assert.Len(t, h.driver.Records(), 1)
}

func TestDriver_FailuresAreRetriedAndBlockDependents(t *testing.T) {
	t.Parallel()

	h := newHarness()
	graph := mustPlan(t, testTarget("staging", false, true))
	apply := stageID("staging", planner.KindApply)
	post := stageID("staging", planner.KindPost)

	h.renderer.set(apply, configMap("app", nil))
	h.renderer.set(post, configMap("smoke", nil))
	h.cluster.setFailCreate("app", errQuota)

	h.driver.Apply(graph)
	h.run(t)

	h.waitFor(t, apply, func(record driver.Record) bool { return record.ConsecutiveFailures >= 3 })

	record := h.record(apply)
	assert.Equal(t, driver.HealthFailed, record.Health)
	assert.Contains(t, record.LastError, driver.ErrApply.Error())
	assert.Contains(t, record.LastError, "exceeded quota")
	require.Len(t, record.ObjectErrors, 1)
	assert.Equal(t, "app", record.ObjectErrors[0].Object.Name)

	dependent := h.record(post)
	assert.Equal(t, driver.HealthPending, dependent.Health)
	assert.Zero(t, dependent.Attempts)

	h.cluster.setFailCreate("app", nil)
	h.waitReady(t, apply, post)
	assert.Zero(t, h.record(apply).ConsecutiveFailures)
}

func TestDriver_TimeoutKeepsDependentsBlocked(t *testing.T) {
	t.Parallel()

	h := newHarness()
	target := testTarget("staging", false, true)
	target.Timeout = 50 * time.Millisecond
	apply := stageID("staging", planner.KindApply)
	post := stageID("staging", planner.KindPost)

	h.renderer.set(apply, configMap("app", nil))
	h.renderer.set(post, configMap("smoke", nil))
	h.cluster.setUnhealthy("app")

	h.driver.Apply(mustPlan(t, target))
	h.run(t)

	h.waitFor(t, apply, func(record driver.Record) bool { return record.ConsecutiveFailures >= 2 })

	record := h.record(apply)
	assert.Equal(t, driver.HealthFailed, record.Health)
	assert.Contains(t, record.LastError, driver.ErrTimeout.Error())
	require.Len(t, record.ObjectErrors, 1)
	assert.Contains(t, record.ObjectErrors[0].Message, "rolling out")
	assert.Zero(t, h.record(post).Attempts)
}

func TestDriver_ForceReplacesImmutableFields(t *testing.T) {
	t.Parallel()

	h := newHarness()
	graph := mustPlan(t, testTarget("staging", true, false))
	pre := stageID("staging", planner.KindPre)
	apply := stageID("staging", planner.KindApply)

	h.renderer.set(pre, configMap("job", map[string]any{"immutable": "v1"}))
	h.renderer.set(apply, configMap("app", map[string]any{"immutable": "v1"}))

	h.driver.Apply(graph)
	h.run(t)
	h.waitReady(t, pre, apply)

	h.renderer.set(pre, configMap("job", map[string]any{"immutable": "v2"}))
	require.True(t, h.driver.Trigger(pre))
	h.waitFor(t, pre, func(record driver.Record) bool {
		return record.Attempts >= 2 && record.Health == driver.HealthReady
	})

	replaced := h.cluster.get("example-staging", "job")
	require.NotNil(t, replaced)
	assert.Equal(t, "v2", replaced.Object["spec"].(map[string]any)["immutable"])

	h.renderer.set(apply, configMap("app", map[string]any{"immutable": "v2"}))
	require.True(t, h.driver.Trigger(apply))
	h.waitFor(t, apply, func(record driver.Record) bool { return record.Health == driver.HealthFailed })

	record := h.record(apply)
	assert.Contains(t, record.LastError, driver.ErrApply.Error())
	require.Len(t, record.ObjectErrors, 1)
	assert.Contains(t, record.ObjectErrors[0].Message, "immutable")
}

func TestDriver_NamespaceFailure(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.namespaces.err = errQuota
	apply := stageID("staging", planner.KindApply)
	h.renderer.set(apply, configMap("app", nil))

	h.driver.Apply(mustPlan(t, testTarget("staging", false, false)))
	h.run(t)

	h.waitFor(t, apply, func(record driver.Record) bool { return record.Health == driver.HealthFailed })
	assert.Contains(t, h.record(apply).LastError, driver.ErrNamespaceProvision.Error())
	assert.Zero(t, h.cluster.writes())
}

func TestDriver_SourceFailure(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.renderer.setRevision("", errQuota)
	apply := stageID("staging", planner.KindApply)

	h.driver.Apply(mustPlan(t, testTarget("staging", false, false)))
	h.run(t)

	h.waitFor(t, apply, func(record driver.Record) bool { return record.ConsecutiveFailures >= 2 })
	assert.Contains(t, h.record(apply).LastError, driver.ErrSourceFetch.Error())

	h.renderer.setRevision("rev-9", nil)
	h.waitReady(t, apply)
	assert.Equal(t, "rev-9", h.record(apply).Revision)
}

func TestDriver_RunTwice(t *testing.T) {
	t.Parallel()

	h := newHarness()
	apply := stageID("staging", planner.KindApply)
	h.renderer.set(apply, configMap("app", nil))
	h.driver.Apply(mustPlan(t, testTarget("staging", false, false)))
	h.run(t)
	h.waitReady(t, apply)

	require.ErrorIs(t, h.driver.Run(t.Context()), driver.ErrAlreadyRunning)
}
