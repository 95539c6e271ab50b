package driver

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/cheap-k8s/stageflow/pkg/k8s"
	"github.com/cheap-k8s/stageflow/pkg/svc/planner"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

const (
	// LabelManagedBy marks every object written by stageflow.
	LabelManagedBy = "app.kubernetes.io/managed-by"
	// ManagedByValue is the value of LabelManagedBy.
	ManagedByValue = "stageflow"
	// LabelRepository records the repository of the owning stage.
	LabelRepository = "stageflow.io/repository"
	// LabelTarget records the target of the owning stage.
	LabelTarget = "stageflow.io/target"
	// LabelStage records the kind of the owning stage.
	LabelStage = "stageflow.io/stage"
	// LabelCopy records the secret copy name of a copy stage.
	LabelCopy = "stageflow.io/copy"
	// AnnotationAppliedHash holds the content hash of the last applied object.
	AnnotationAppliedHash = "stageflow.io/applied-hash"
)

// StageLabels returns the ownership labels of a stage.
func StageLabels(id planner.ID) labels.Set {
	set := labels.Set{
		LabelManagedBy:  ManagedByValue,
		LabelRepository: id.Repository,
		LabelTarget:     id.Target,
		LabelStage:      string(id.Kind),
	}

	if id.Kind == planner.KindCopy {
		set[LabelCopy] = id.Name
	}

	return set
}

// stageSelector matches exactly the objects owned by one stage.
func stageSelector(id planner.ID) labels.Selector {
	return labels.SelectorFromSet(StageLabels(id))
}

// prepare defaults namespaces, stamps ownership labels and the content hash,
// and orders namespaces and CRDs first.
func (d *Driver) prepare(stage planner.Stage, objects []*unstructured.Unstructured) ([]*unstructured.Unstructured, []ObjectError) {
	prepared := make([]*unstructured.Unstructured, 0, len(objects))

	var errs []ObjectError

	for _, source := range objects {
		obj := source.DeepCopy()
		ref := k8s.RefFor(obj)

		namespaced, err := d.cluster.Namespaced(obj.GroupVersionKind())
		if err != nil {
			errs = append(errs, newObjectError(ref, err))

			continue
		}

		switch {
		case namespaced && obj.GetNamespace() == "":
			obj.SetNamespace(stage.Namespace)
		case !namespaced:
			obj.SetNamespace("")
		}

		objLabels := obj.GetLabels()
		if objLabels == nil {
			objLabels = map[string]string{}
		}

		maps.Copy(objLabels, StageLabels(stage.ID))
		obj.SetLabels(objLabels)

		annotations := obj.GetAnnotations()
		delete(annotations, AnnotationAppliedHash)
		obj.SetAnnotations(annotations)

		hash, err := contentHash(obj)
		if err != nil {
			errs = append(errs, newObjectError(k8s.RefFor(obj), err))

			continue
		}

		if annotations == nil {
			annotations = map[string]string{}
		}

		annotations[AnnotationAppliedHash] = hash
		obj.SetAnnotations(annotations)

		prepared = append(prepared, obj)
	}

	slices.SortStableFunc(prepared, func(a, b *unstructured.Unstructured) int {
		return applyRank(a.GroupVersionKind()) - applyRank(b.GroupVersionKind())
	})

	return prepared, errs
}

func applyRank(gvk schema.GroupVersionKind) int {
	switch gvk.GroupKind() {
	case schema.GroupKind{Kind: "Namespace"}:
		return 0
	case schema.GroupKind{Group: "apiextensions.k8s.io", Kind: "CustomResourceDefinition"}:
		return 1
	default:
		return 2
	}
}

func contentHash(obj *unstructured.Unstructured) (string, error) {
	data, err := json.Marshal(obj.Object)
	if err != nil {
		return "", fmt.Errorf("hash object: %w", err)
	}

	sum := sha256.Sum256(data)

	return hex.EncodeToString(sum[:]), nil
}

// mergeRefs returns the union of reference lists, keeping first-seen order.
func mergeRefs(lists ...[]k8s.ObjectRef) []k8s.ObjectRef {
	seen := map[k8s.ObjectRef]bool{}

	var merged []k8s.ObjectRef

	for _, list := range lists {
		for _, ref := range list {
			if seen[ref] {
				continue
			}

			seen[ref] = true
			merged = append(merged, ref)
		}
	}

	return merged
}

// inSync reports whether the live object was written from the desired
// content. The API server rewrites some fields on write (stringData, quantity
// formats, defaults), so the applied hash annotation is the comparison point.
// Ownership labels must also still be in place for prune to find the object.
func inSync(desired, live *unstructured.Unstructured) bool {
	if live.GetAnnotations()[AnnotationAppliedHash] != desired.GetAnnotations()[AnnotationAppliedHash] {
		return false
	}

	return maps.Equal(desired.GetLabels(), subsetOf(live.GetLabels(), desired.GetLabels()))
}

func subsetOf(live, keys map[string]string) map[string]string {
	out := make(map[string]string, len(keys))

	for key := range keys {
		if value, ok := live[key]; ok {
			out[key] = value
		}
	}

	return out
}
