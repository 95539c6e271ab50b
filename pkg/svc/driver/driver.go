package driver

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cheap-k8s/stageflow/pkg/svc/planner"
	"golang.org/x/sync/singleflight"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultTimeout      = 3 * time.Minute
	defaultRetry        = time.Minute
	defaultInterval     = 60 * time.Minute
)

// Option configures a Driver.
type Option func(*Driver)

// WithNamespaces sets the namespace provisioner.
func WithNamespaces(namespaces NamespaceEnsurer) Option {
	return func(d *Driver) { d.namespaces = namespaces }
}

// WithManifests sets the renderer of pre, apply and post stages.
func WithManifests(renderer Renderer) Option {
	return func(d *Driver) { d.manifests = renderer }
}

// WithCopies sets the renderer of copy stages.
func WithCopies(renderer Renderer) Option {
	return func(d *Driver) { d.copies = renderer }
}

// WithObserver sets the record observer.
func WithObserver(observer Observer) Option {
	return func(d *Driver) { d.observer = observer }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Driver) { d.logger = logger }
}

// WithPollInterval sets how often object health is checked while waiting.
func WithPollInterval(interval time.Duration) Option {
	return func(d *Driver) { d.pollInterval = interval }
}

// WithClock replaces the time source of records.
func WithClock(now func() time.Time) Option {
	return func(d *Driver) { d.now = now }
}

// Driver reconciles a stage graph continuously.
type Driver struct {
	cluster      Cluster
	namespaces   NamespaceEnsurer
	manifests    Renderer
	copies       Renderer
	observer     Observer
	logger       *slog.Logger
	pollInterval time.Duration
	now          func() time.Time

	hub        *hub
	namespaced singleflight.Group

	mu       sync.Mutex
	runCtx   context.Context //nolint:containedctx // tasks started by Apply inherit the Run context
	graph    *planner.Graph
	tasks    map[planner.ID]*task
	retiring map[planner.ID]chan struct{}
	wg       sync.WaitGroup
}

// New creates a driver for a cluster.
func New(cluster Cluster, opts ...Option) *Driver {
	driver := &Driver{
		cluster:      cluster,
		logger:       slog.Default(),
		pollInterval: defaultPollInterval,
		now:          time.Now,
		tasks:        map[planner.ID]*task{},
		retiring:     map[planner.ID]chan struct{}{},
	}

	for _, opt := range opts {
		opt(driver)
	}

	driver.hub = newHub(driver.observer, driver.now)

	return driver
}

// Run starts a task for every stage and blocks until ctx is cancelled and
// every task, including pending retirements, has finished.
func (d *Driver) Run(ctx context.Context) error {
	d.mu.Lock()

	if d.runCtx != nil {
		d.mu.Unlock()

		return ErrAlreadyRunning
	}

	d.runCtx = ctx

	for _, stage := range d.graph.Stages() {
		d.startLocked(stage, nil)
	}

	d.mu.Unlock()

	d.logger.Info("driver started", "stages", d.graph.Len())

	<-ctx.Done()
	d.wg.Wait()

	d.logger.Info("driver stopped")

	return nil
}

// Apply switches the driver to a new graph and returns the applied difference.
func (d *Driver) Apply(graph *planner.Graph) planner.Diff {
	d.mu.Lock()
	defer d.mu.Unlock()

	diff := planner.Compare(d.graph, graph)
	d.graph = graph

	for _, stage := range graph.Stages() {
		d.hub.register(stage)
	}

	if d.runCtx == nil {
		return diff
	}

	for _, id := range diff.Removed {
		if t, ok := d.tasks[id]; ok {
			delete(d.tasks, id)
			d.retireLocked(t)
		}
	}

	for _, id := range diff.Changed {
		stage, _ := graph.Stage(id)

		previous, ok := d.tasks[id]
		if !ok {
			d.startLocked(stage, nil)

			continue
		}

		close(previous.stop)
		d.startLocked(stage, previous.done)
	}

	for _, id := range diff.Added {
		stage, _ := graph.Stage(id)
		d.startLocked(stage, d.retiring[id])
	}

	if !diff.Empty() {
		d.logger.Info("applied stage graph",
			"added", len(diff.Added),
			"removed", len(diff.Removed),
			"changed", len(diff.Changed),
		)
	}

	return diff
}

// Replan builds a new graph and applies it. A failing build leaves the
// running graph untouched.
func (d *Driver) Replan(build func() (*planner.Graph, error)) (planner.Diff, error) {
	graph, err := build()
	if err != nil {
		d.logger.Error("replan rejected, keeping current graph", "error", err)

		return planner.Diff{}, fmt.Errorf("replan: %w", err)
	}

	return d.Apply(graph), nil
}

// Graph returns the current graph.
func (d *Driver) Graph() *planner.Graph {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.graph
}

// Records returns a copy of every reconciliation record.
func (d *Driver) Records() []Record {
	return d.hub.list()
}

// Record returns a copy of the record of a stage.
func (d *Driver) Record(id planner.ID) (Record, bool) {
	return d.hub.get(id)
}

// Trigger schedules an immediate attempt of a stage.
func (d *Driver) Trigger(id planner.ID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	t, ok := d.tasks[id]
	if !ok {
		return false
	}

	t.trigger()

	return true
}

// TriggerRepository schedules an attempt of the entry stages of a
// repository: stages without dependencies inside the same repository. The
// rest of the repository follows through dependency propagation.
func (d *Driver) TriggerRepository(repository string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	triggered := 0

	for _, stage := range d.graph.Stages() {
		if stage.ID.Repository != repository || dependsWithin(stage, repository) {
			continue
		}

		if t, ok := d.tasks[stage.ID]; ok {
			t.trigger()
			triggered++
		}
	}

	return triggered
}

func dependsWithin(stage planner.Stage, repository string) bool {
	for _, dep := range stage.DependsOn {
		if dep.Repository == repository {
			return true
		}
	}

	return false
}

// triggerDependents schedules an attempt of every stage waiting on id.
func (d *Driver) triggerDependents(id planner.ID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, dependent := range d.graph.Dependents(id) {
		if t, ok := d.tasks[dependent]; ok {
			t.trigger()
		}
	}
}

func (d *Driver) rendererFor(stage planner.Stage) Renderer {
	if stage.ID.Kind == planner.KindCopy {
		return d.copies
	}

	return d.manifests
}

func (d *Driver) startLocked(stage planner.Stage, after <-chan struct{}) {
	ctx := d.runCtx
	t := newTask(stage)
	d.tasks[stage.ID] = t

	d.wg.Go(func() {
		d.runTask(ctx, t, after)
	})
}

// retireLocked stops a task and, once its in-flight attempt finished, prunes
// the stage inventory exactly once.
func (d *Driver) retireLocked(t *task) {
	close(t.stop)

	ctx := d.runCtx
	finished := make(chan struct{})
	d.retiring[t.stage.ID] = finished

	d.wg.Go(func() {
		defer close(finished)

		<-t.done
		d.retire(ctx, t.stage)

		d.mu.Lock()
		if d.retiring[t.stage.ID] == finished {
			delete(d.retiring, t.stage.ID)
		}
		d.mu.Unlock()
	})
}

func (d *Driver) retire(ctx context.Context, stage planner.Stage) {
	record, ok := d.hub.get(stage.ID)
	if !ok {
		return
	}

	remaining, errs := d.prune(ctx, stage.ID, nil, record.Inventory)

	d.hub.update(stage.ID, func(record *Record) {
		record.Retired = true
		record.Inventory = remaining
		record.ObjectErrors = errs
	})

	if len(errs) > 0 {
		d.logger.Error("retired stage left objects behind",
			"stage", stage.Name(), "objects", joinObjectErrors(errs))

		return
	}

	d.logger.Info("retired stage", "stage", stage.Name())
}
