package driver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cheap-k8s/stageflow/pkg/k8s"
	"github.com/cheap-k8s/stageflow/pkg/svc/planner"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

// maxConflictRetries bounds read-modify-write loops on resourceVersion conflicts.
const maxConflictRetries = 5

var errConflictRetries = errors.New("object kept changing during apply")

// applyAll applies objects in order and returns the references it owns afterwards.
func (d *Driver) applyAll(
	ctx context.Context,
	stage planner.Stage,
	objects []*unstructured.Unstructured,
) ([]k8s.ObjectRef, []ObjectError) {
	applied := make([]k8s.ObjectRef, 0, len(objects))

	var errs []ObjectError

	for _, obj := range objects {
		ref := k8s.RefFor(obj)

		err := d.applyObject(ctx, stage, obj)
		if err != nil {
			errs = append(errs, newObjectError(ref, err))

			if ctx.Err() != nil {
				break
			}

			continue
		}

		applied = append(applied, ref)
	}

	return applied, errs
}

// applyObject creates the object or updates it when its content hash differs
// from the live one. Unchanged objects cause no write.
func (d *Driver) applyObject(ctx context.Context, stage planner.Stage, obj *unstructured.Unstructured) error {
	ref := k8s.RefFor(obj)

	for range maxConflictRetries {
		live, err := d.cluster.Get(ctx, ref)

		switch {
		case apierrors.IsNotFound(err):
			_, err = d.cluster.Create(ctx, obj.DeepCopy())
			if apierrors.IsAlreadyExists(err) {
				continue
			}

			return err
		case err != nil:
			return err
		}

		if inSync(obj, live) {
			return nil
		}

		update := obj.DeepCopy()
		update.SetResourceVersion(live.GetResourceVersion())

		_, err = d.cluster.Update(ctx, update)

		switch {
		case err == nil:
			return nil
		case apierrors.IsConflict(err):
			continue
		case apierrors.IsInvalid(err) && stage.Force:
			d.logger.Info("replacing object with immutable changes", "stage", stage.Name(), "object", ref.String())

			return d.replace(ctx, obj)
		default:
			return err
		}
	}

	return fmt.Errorf("%w: %s", errConflictRetries, ref)
}

// replace deletes and recreates an object.
func (d *Driver) replace(ctx context.Context, obj *unstructured.Unstructured) error {
	ref := k8s.RefFor(obj)

	err := d.cluster.Delete(ctx, ref)
	if err != nil {
		return err
	}

	for {
		_, err = d.cluster.Create(ctx, obj.DeepCopy())
		if !apierrors.IsAlreadyExists(err) {
			return err
		}

		// The old object is still terminating.
		select {
		case <-ctx.Done():
			return fmt.Errorf("recreate %s: %w", ref, ctx.Err())
		case <-time.After(d.pollInterval):
		}
	}
}

// prune deletes owned objects that are not desired. Candidates are the
// previous inventory plus live objects carrying the stage labels for every
// kind the stage has touched. It returns the candidates it failed to delete.
func (d *Driver) prune(
	ctx context.Context,
	stage planner.ID,
	desired, previous []k8s.ObjectRef,
) ([]k8s.ObjectRef, []ObjectError) {
	keep := make(map[k8s.ObjectRef]bool, len(desired))
	for _, ref := range desired {
		keep[ref] = true
	}

	live, listErrs := d.listOwned(ctx, stage, mergeRefs(previous, desired))

	var (
		remaining []k8s.ObjectRef
		errs      = listErrs
	)

	for _, ref := range mergeRefs(previous, live) {
		if keep[ref] {
			continue
		}

		err := d.cluster.Delete(ctx, ref)
		if err != nil {
			remaining = append(remaining, ref)
			errs = append(errs, newObjectError(ref, err))

			continue
		}

		d.logger.Info("pruned object", "stage", stage.String(), "object", ref.String())
	}

	return remaining, errs
}

// listOwned lists live objects labelled for the stage across the kinds of refs.
func (d *Driver) listOwned(ctx context.Context, stage planner.ID, refs []k8s.ObjectRef) ([]k8s.ObjectRef, []ObjectError) {
	seen := map[schema.GroupVersionKind]bool{}

	var (
		owned []k8s.ObjectRef
		errs  []ObjectError
	)

	for _, ref := range refs {
		gvk := ref.GroupVersionKind()
		if seen[gvk] {
			continue
		}

		seen[gvk] = true

		items, err := d.cluster.List(ctx, gvk, "", stageSelector(stage))
		if err != nil {
			if !meta.IsNoMatchError(err) {
				errs = append(errs, newObjectError(k8s.ObjectRef{APIVersion: ref.APIVersion, Kind: ref.Kind}, err))
			}

			continue
		}

		for i := range items {
			owned = append(owned, k8s.RefFor(&items[i]))
		}
	}

	return owned, errs
}

// waitHealthy polls the health of refs until all are ready or ctx expires.
func (d *Driver) waitHealthy(ctx context.Context, stage planner.Stage, refs []k8s.ObjectRef) error {
	for {
		pending := d.unhealthy(ctx, refs)
		if len(pending) == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return &TimeoutError{Stage: stage.Name(), Timeout: stage.Timeout, Pending: pending}
		case <-time.After(d.pollInterval):
		}
	}
}

func (d *Driver) unhealthy(ctx context.Context, refs []k8s.ObjectRef) []ObjectError {
	var pending []ObjectError

	for _, ref := range refs {
		health, err := d.cluster.Health(ctx, ref)

		switch {
		case err != nil:
			pending = append(pending, newObjectError(ref, err))
		case !health.Ready():
			pending = append(pending, ObjectError{
				Object:  ref,
				Message: fmt.Sprintf("%s: %s", health.Status, health.Message),
			})
		}
	}

	return pending
}
