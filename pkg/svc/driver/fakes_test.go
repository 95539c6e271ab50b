package driver_test

import (
	"context"
	"encoding/base64"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cheap-k8s/stageflow/pkg/k8s"
	"github.com/cheap-k8s/stageflow/pkg/svc/catalog"
	"github.com/cheap-k8s/stageflow/pkg/svc/driver"
	"github.com/cheap-k8s/stageflow/pkg/svc/planner"
	"github.com/fluxcd/cli-utils/pkg/kstatus/status"
	"github.com/stretchr/testify/require"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/util/validation/field"
)

// fakeCluster is an in-memory cluster that counts writes.
type fakeCluster struct {
	mu         sync.Mutex
	objects    map[k8s.ObjectRef]*unstructured.Unstructured
	version    int
	creates    int
	updates    int
	deletes    int
	created    []k8s.ObjectRef
	deleted    []k8s.ObjectRef
	failCreate map[string]error
	unhealthy  map[string]bool
	// normalize rewrites objects on write the way the API server does.
	normalize bool
}

func newFakeCluster() *fakeCluster {
	return &fakeCluster{
		objects:    map[k8s.ObjectRef]*unstructured.Unstructured{},
		failCreate: map[string]error{},
		unhealthy:  map[string]bool{},
	}
}

func notFound(ref k8s.ObjectRef) error {
	return apierrors.NewNotFound(schema.GroupResource{Resource: strings.ToLower(ref.Kind)}, ref.Name)
}

func (c *fakeCluster) Namespaced(gvk schema.GroupVersionKind) (bool, error) {
	return gvk.Kind != "Namespace", nil
}

func (c *fakeCluster) Get(_ context.Context, ref k8s.ObjectRef) (*unstructured.Unstructured, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	obj, ok := c.objects[ref]
	if !ok {
		return nil, notFound(ref)
	}

	return obj.DeepCopy(), nil
}

func (c *fakeCluster) List(
	_ context.Context,
	gvk schema.GroupVersionKind,
	namespace string,
	selector labels.Selector,
) ([]unstructured.Unstructured, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var items []unstructured.Unstructured

	for ref, obj := range c.objects {
		if ref.GroupVersionKind() != gvk || (namespace != "" && ref.Namespace != namespace) {
			continue
		}

		if selector.Matches(labels.Set(obj.GetLabels())) {
			items = append(items, *obj.DeepCopy())
		}
	}

	return items, nil
}

func (c *fakeCluster) Create(_ context.Context, obj *unstructured.Unstructured) (*unstructured.Unstructured, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ref := k8s.RefFor(obj)
	if _, exists := c.objects[ref]; exists {
		return nil, apierrors.NewAlreadyExists(schema.GroupResource{Resource: strings.ToLower(ref.Kind)}, ref.Name)
	}

	if err := c.failCreate[ref.Name]; err != nil {
		return nil, err
	}

	c.version++
	stored := c.stored(obj)
	stored.SetResourceVersion(strconv.Itoa(c.version))
	c.objects[ref] = stored
	c.creates++
	c.created = append(c.created, ref)

	return stored.DeepCopy(), nil
}

func (c *fakeCluster) Update(_ context.Context, obj *unstructured.Unstructured) (*unstructured.Unstructured, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ref := k8s.RefFor(obj)

	live, ok := c.objects[ref]
	if !ok {
		return nil, notFound(ref)
	}

	if live.GetResourceVersion() != obj.GetResourceVersion() {
		return nil, apierrors.NewConflict(schema.GroupResource{Resource: strings.ToLower(ref.Kind)}, ref.Name, nil)
	}

	liveValue, _, _ := unstructured.NestedString(live.Object, "spec", "immutable")
	newValue, _, _ := unstructured.NestedString(obj.Object, "spec", "immutable")

	if liveValue != newValue {
		return nil, apierrors.NewInvalid(
			schema.GroupKind{Kind: ref.Kind},
			ref.Name,
			field.ErrorList{field.Invalid(field.NewPath("spec", "immutable"), newValue, "field is immutable")},
		)
	}

	c.version++
	stored := c.stored(obj)
	stored.SetResourceVersion(strconv.Itoa(c.version))
	c.objects[ref] = stored
	c.updates++

	return stored.DeepCopy(), nil
}

// stored returns the object as persisted: stringData is folded into base64
// data and spec.memory is canonicalized.
func (c *fakeCluster) stored(obj *unstructured.Unstructured) *unstructured.Unstructured {
	stored := obj.DeepCopy()
	if !c.normalize {
		return stored
	}

	if stringData, ok, _ := unstructured.NestedStringMap(stored.Object, "stringData"); ok {
		data, _, _ := unstructured.NestedStringMap(stored.Object, "data")
		if data == nil {
			data = map[string]string{}
		}

		for key, value := range stringData {
			data[key] = base64.StdEncoding.EncodeToString([]byte(value))
		}

		_ = unstructured.SetNestedStringMap(stored.Object, data, "data")
		unstructured.RemoveNestedField(stored.Object, "stringData")
	}

	if memory, ok, _ := unstructured.NestedString(stored.Object, "spec", "memory"); ok {
		quantity := resource.MustParse(memory)
		_ = unstructured.SetNestedField(stored.Object, quantity.String(), "spec", "memory")
	}

	return stored
}

func (c *fakeCluster) Delete(_ context.Context, ref k8s.ObjectRef) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.objects[ref]; !ok {
		return nil
	}

	delete(c.objects, ref)
	c.deletes++
	c.deleted = append(c.deleted, ref)

	return nil
}

func (c *fakeCluster) Health(_ context.Context, ref k8s.ObjectRef) (k8s.Health, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.objects[ref]; !ok {
		return k8s.Health{Status: status.NotFoundStatus}, nil
	}

	if c.unhealthy[ref.Name] {
		return k8s.Health{Status: status.InProgressStatus, Message: "rolling out"}, nil
	}

	return k8s.Health{Status: status.CurrentStatus}, nil
}

func (c *fakeCluster) writes() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.creates + c.updates + c.deletes
}

func (c *fakeCluster) deleteCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.deletes
}

func (c *fakeCluster) has(namespace, name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.objects[k8s.ObjectRef{APIVersion: "v1", Kind: "ConfigMap", Namespace: namespace, Name: name}]

	return ok
}

func (c *fakeCluster) get(namespace, name string) *unstructured.Unstructured {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.objects[k8s.ObjectRef{APIVersion: "v1", Kind: "ConfigMap", Namespace: namespace, Name: name}].DeepCopy()
}

func (c *fakeCluster) createIndex(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	for index, ref := range c.created {
		if ref.Name == name {
			return index
		}
	}

	return -1
}

func (c *fakeCluster) setFailCreate(name string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.failCreate[name] = err
}

func (c *fakeCluster) setUnhealthy(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.unhealthy[name] = true
}

// fakeRenderer serves configurable objects per stage.
type fakeRenderer struct {
	mu          sync.Mutex
	revision    string
	revisionErr error
	objects     map[planner.ID][]*unstructured.Unstructured
}

func newFakeRenderer() *fakeRenderer {
	return &fakeRenderer{revision: "rev-1", objects: map[planner.ID][]*unstructured.Unstructured{}}
}

func (r *fakeRenderer) Revision(_ context.Context, _ planner.Stage) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.revision, r.revisionErr
}

func (r *fakeRenderer) Render(_ context.Context, stage planner.Stage, _ string) ([]*unstructured.Unstructured, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	objects := make([]*unstructured.Unstructured, 0, len(r.objects[stage.ID]))
	for _, obj := range r.objects[stage.ID] {
		objects = append(objects, obj.DeepCopy())
	}

	return objects, nil
}

func (r *fakeRenderer) set(id planner.ID, objects ...*unstructured.Unstructured) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.objects[id] = objects
}

func (r *fakeRenderer) setRevision(revision string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.revision = revision
	r.revisionErr = err
}

// fakeNamespaces records EnsureNamespace calls.
type fakeNamespaces struct {
	mu    sync.Mutex
	calls map[string]int
	err   error
}

func (n *fakeNamespaces) EnsureNamespace(_ context.Context, name string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.calls == nil {
		n.calls = map[string]int{}
	}

	n.calls[name]++

	return n.err
}

func (n *fakeNamespaces) count(name string) int {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.calls[name]
}

// recordingObserver keeps every observed record.
type recordingObserver struct {
	mu      sync.Mutex
	records []driver.Record
}

func (o *recordingObserver) Observe(record driver.Record) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.records = append(o.records, record)
}

func (o *recordingObserver) sawHealth(name string, health driver.Health) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, record := range o.records {
		if record.Name == name && record.Health == health {
			return true
		}
	}

	return false
}

func configMap(name string, spec map[string]any) *unstructured.Unstructured {
	obj := &unstructured.Unstructured{Object: map[string]any{"data": map[string]any{"name": name}}}
	if spec != nil {
		obj.Object["spec"] = spec
	}

	obj.SetAPIVersion("v1")
	obj.SetKind("ConfigMap")
	obj.SetName(name)

	return obj
}

func testTarget(name string, pre, post bool) catalog.Target {
	return catalog.Target{
		Repository:    "example",
		Name:          name,
		Path:          "./ops/app/" + name,
		Namespace:     catalog.NamespaceFor("example", name),
		Pre:           catalog.Step{Enabled: pre, Path: "./ops/app/" + name + "/pre", Force: true},
		Post:          catalog.Step{Enabled: post, Path: "./ops/app/" + name + "/post", Force: true},
		Interval:      time.Hour,
		Timeout:       2 * time.Second,
		RetryInterval: 10 * time.Millisecond,
		Prune:         true,
	}
}

func stageID(target string, kind planner.Kind) planner.ID {
	return planner.ID{Repository: "example", Target: target, Kind: kind}
}

func mustPlan(t *testing.T, targets ...catalog.Target) *planner.Graph {
	t.Helper()

	graph, err := planner.Plan(targets)
	require.NoError(t, err)

	return graph
}

type harness struct {
	cluster    *fakeCluster
	renderer   *fakeRenderer
	namespaces *fakeNamespaces
	observer   *recordingObserver
	driver     *driver.Driver
}

func newHarness() *harness {
	h := &harness{
		cluster:    newFakeCluster(),
		renderer:   newFakeRenderer(),
		namespaces: &fakeNamespaces{},
		observer:   &recordingObserver{},
	}

	h.driver = driver.New(h.cluster,
		driver.WithNamespaces(h.namespaces),
		driver.WithManifests(h.renderer),
		driver.WithCopies(h.renderer),
		driver.WithObserver(h.observer),
		driver.WithPollInterval(5*time.Millisecond),
	)

	return h
}

// run starts the driver and stops it when the test ends.
func (h *harness) run(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- h.driver.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
}

func (h *harness) record(id planner.ID) driver.Record {
	record, _ := h.driver.Record(id)

	return record
}

func (h *harness) waitFor(t *testing.T, id planner.ID, condition func(driver.Record) bool) {
	t.Helper()

	require.Eventually(t, func() bool {
		record, ok := h.driver.Record(id)

		return ok && condition(record)
	}, 5*time.Second, 5*time.Millisecond, "stage %s", id)
}

func (h *harness) waitReady(t *testing.T, ids ...planner.ID) {
	t.Helper()

	for _, id := range ids {
		h.waitFor(t, id, func(record driver.Record) bool { return record.Health == driver.HealthReady })
	}
}
