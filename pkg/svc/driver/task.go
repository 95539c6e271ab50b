package driver

import (
	"context"
	"errors"
	"time"

	"github.com/cheap-k8s/stageflow/pkg/k8s"
	"github.com/cheap-k8s/stageflow/pkg/svc/planner"
)

// task is the scheduling loop of one stage.
type task struct {
	stage  planner.Stage
	events chan struct{}
	stop   chan struct{}
	done   chan struct{}
}

func newTask(stage planner.Stage) *task {
	return &task{
		stage:  stage,
		events: make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// trigger requests an attempt without blocking. Pending requests coalesce.
func (t *task) trigger() {
	select {
	case t.events <- struct{}{}:
	default:
	}
}

func (t *task) drain() {
	select {
	case <-t.events:
	default:
	}
}

func (d *Driver) runTask(ctx context.Context, t *task, after <-chan struct{}) {
	defer close(t.done)

	if after != nil {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-after:
		}

		d.hub.register(t.stage)
	}

	for {
		delay, ok := d.reconcile(ctx, t)
		if !ok {
			return
		}

		timer := time.NewTimer(delay)

		select {
		case <-ctx.Done():
			timer.Stop()

			return
		case <-t.stop:
			timer.Stop()

			return
		case <-t.events:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// reconcile runs one attempt and returns the delay before the next one. It
// returns false when the task was stopped before the attempt started or the
// driver is shutting down.
func (d *Driver) reconcile(ctx context.Context, t *task) (time.Duration, bool) {
	stage := t.stage

	previous, err := d.hub.acquire(ctx, t.stop, stage.ID, stage.DependsOn)
	if err != nil {
		return 0, false
	}

	// Requests made before the attempt started are served by it.
	t.drain()

	timeout := stage.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	revision, inventory, err := d.attempt(attemptCtx, stage, previous.Inventory)
	cancel()

	if ctx.Err() != nil {
		return 0, false
	}

	if err != nil && errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrTimeout) {
		err = &TimeoutError{Stage: stage.Name(), Timeout: timeout}
	}

	if err != nil {
		record := d.hub.update(stage.ID, func(record *Record) {
			record.Health = HealthFailed
			record.ConsecutiveFailures++
			record.LastError = err.Error()
			record.ObjectErrors = objectErrors(err)
			record.Inventory = inventory

			if revision != "" {
				record.Revision = revision
			}
		})

		d.logFailure(stage, record, err)

		return orDefault(stage.RetryInterval, defaultRetry), true
	}

	// Dependents are signalled before the Ready transition so that the
	// attempt they start after acquiring consumes the signal.
	if previous.Health != HealthReady || previous.Revision != revision {
		d.logger.Info("stage ready", "stage", stage.Name(), "revision", revision, "objects", len(inventory))
		d.triggerDependents(stage.ID)
	}

	d.hub.update(stage.ID, func(record *Record) {
		record.Health = HealthReady
		record.ConsecutiveFailures = 0
		record.LastError = ""
		record.ObjectErrors = nil
		record.Inventory = inventory
		record.Revision = revision
	})

	return orDefault(stage.Interval, defaultInterval), true
}

func (d *Driver) logFailure(stage planner.Stage, record Record, err error) {
	attrs := []any{
		"stage", stage.Name(),
		"consecutiveFailures", record.ConsecutiveFailures,
		"retryIn", orDefault(stage.RetryInterval, defaultRetry).String(),
		"error", err,
	}

	if errors.Is(err, ErrTimeout) {
		d.logger.Warn("stage timed out", attrs...)

		return
	}

	d.logger.Error("stage failed", attrs...)
}

// attempt performs one reconciliation and returns the revision it worked on
// and the inventory the stage owns afterwards.
func (d *Driver) attempt(
	ctx context.Context,
	stage planner.Stage,
	previous []k8s.ObjectRef,
) (string, []k8s.ObjectRef, error) {
	err := d.ensureNamespace(ctx, stage)
	if err != nil {
		return "", previous, err
	}

	renderer := d.rendererFor(stage)
	if renderer == nil {
		return "", previous, &SourceFetchError{Stage: stage.Name(), Err: ErrNoRenderer}
	}

	revision, err := renderer.Revision(ctx, stage)
	if err != nil {
		return "", previous, &SourceFetchError{Stage: stage.Name(), Err: err}
	}

	rendered, err := renderer.Render(ctx, stage, revision)
	if err != nil {
		return revision, previous, &SourceFetchError{Stage: stage.Name(), Revision: revision, Err: err}
	}

	desired, objErrs := d.prepare(stage, rendered)
	if len(objErrs) > 0 {
		return revision, previous, &ApplyError{Stage: stage.Name(), Objects: objErrs}
	}

	applied, objErrs := d.applyAll(ctx, stage, desired)
	if len(objErrs) > 0 {
		return revision, mergeRefs(previous, applied), &ApplyError{Stage: stage.Name(), Objects: objErrs}
	}

	inventory := mergeRefs(applied, previous)

	if stage.Prune {
		remaining, pruneErrs := d.prune(ctx, stage.ID, applied, previous)
		inventory = mergeRefs(applied, remaining)

		if len(pruneErrs) > 0 {
			return revision, inventory, &ApplyError{Stage: stage.Name(), Objects: pruneErrs}
		}
	}

	if stage.Wait {
		err = d.waitHealthy(ctx, stage, applied)
		if err != nil {
			return revision, inventory, err
		}
	}

	return revision, inventory, nil
}

// ensureNamespace provisions the stage namespace. Concurrent stages sharing a
// namespace share one call. The shared call is not bound to the deadline of
// the attempt that started it; the provisioner bounds it with its retry budget.
func (d *Driver) ensureNamespace(ctx context.Context, stage planner.Stage) error {
	if d.namespaces == nil || stage.Namespace == "" {
		return nil
	}

	shared := context.WithoutCancel(ctx)
	results := d.namespaced.DoChan(stage.Namespace, func() (any, error) {
		return nil, d.namespaces.EnsureNamespace(shared, stage.Namespace)
	})

	var err error

	select {
	case <-ctx.Done():
		err = ctx.Err()
	case result := <-results:
		err = result.Err
	}

	if err != nil {
		return &NamespaceProvisionError{Stage: stage.Name(), Namespace: stage.Namespace, Err: err}
	}

	return nil
}

func orDefault(value, fallback time.Duration) time.Duration {
	if value > 0 {
		return value
	}

	return fallback
}
