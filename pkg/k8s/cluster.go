package k8s

import (
	"context"
	"fmt"

	"github.com/fluxcd/cli-utils/pkg/kstatus/status"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"
)

// FieldManager is the field manager recorded on every write.
const FieldManager = "stageflow"

// Cluster performs generic object operations through a dynamic client.
type Cluster struct {
	client dynamic.Interface
	mapper meta.RESTMapper
}

// NewCluster creates a Cluster from a dynamic client and a RESTMapper.
func NewCluster(client dynamic.Interface, mapper meta.RESTMapper) *Cluster {
	return &Cluster{client: client, mapper: mapper}
}

// Namespaced reports whether objects of the given kind live in a namespace.
func (c *Cluster) Namespaced(gvk schema.GroupVersionKind) (bool, error) {
	mapping, err := c.mapping(gvk)
	if err != nil {
		return false, err
	}

	return mapping.Scope.Name() == meta.RESTScopeNameNamespace, nil
}

// Get fetches a live object.
func (c *Cluster) Get(ctx context.Context, ref ObjectRef) (*unstructured.Unstructured, error) {
	resource, err := c.resource(ref.GroupVersionKind(), ref.Namespace)
	if err != nil {
		return nil, err
	}

	obj, err := resource.Get(ctx, ref.Name, metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", ref, err)
	}

	return obj, nil
}

// List returns the objects of a kind matching a label selector. An empty
// namespace lists across all namespaces.
func (c *Cluster) List(
	ctx context.Context,
	gvk schema.GroupVersionKind,
	namespace string,
	selector labels.Selector,
) ([]unstructured.Unstructured, error) {
	resource, err := c.resource(gvk, namespace)
	if err != nil {
		return nil, err
	}

	list, err := resource.List(ctx, metav1.ListOptions{LabelSelector: selector.String()})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", gvk.Kind, err)
	}

	return list.Items, nil
}

// Create creates an object.
func (c *Cluster) Create(ctx context.Context, obj *unstructured.Unstructured) (*unstructured.Unstructured, error) {
	resource, err := c.resourceFor(obj)
	if err != nil {
		return nil, err
	}

	created, err := resource.Create(ctx, obj, metav1.CreateOptions{FieldManager: FieldManager})
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", RefFor(obj), err)
	}

	return created, nil
}

// Update replaces an object. The resourceVersion of obj guards against
// concurrent writers; a stale version fails with a Conflict error.
func (c *Cluster) Update(ctx context.Context, obj *unstructured.Unstructured) (*unstructured.Unstructured, error) {
	resource, err := c.resourceFor(obj)
	if err != nil {
		return nil, err
	}

	updated, err := resource.Update(ctx, obj, metav1.UpdateOptions{FieldManager: FieldManager})
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", RefFor(obj), err)
	}

	return updated, nil
}

// Delete removes an object in the background. A missing object is not an error.
func (c *Cluster) Delete(ctx context.Context, ref ObjectRef) error {
	resource, err := c.resource(ref.GroupVersionKind(), ref.Namespace)
	if err != nil {
		return err
	}

	propagation := metav1.DeletePropagationBackground

	err = resource.Delete(ctx, ref.Name, metav1.DeleteOptions{PropagationPolicy: &propagation})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("delete %s: %w", ref, err)
	}

	return nil
}

// Health evaluates the live object with kstatus. A missing object reports NotFound.
func (c *Cluster) Health(ctx context.Context, ref ObjectRef) (Health, error) {
	obj, err := c.Get(ctx, ref)
	if err != nil {
		if apierrors.IsNotFound(err) {
			return Health{Status: status.NotFoundStatus, Message: "object not found"}, nil
		}

		return Health{Status: status.UnknownStatus}, err
	}

	return ComputeHealth(obj)
}

func (c *Cluster) resourceFor(obj *unstructured.Unstructured) (dynamic.ResourceInterface, error) {
	if obj.GetAPIVersion() == "" || obj.GetKind() == "" || obj.GetName() == "" {
		return nil, fmt.Errorf("%w: %s", ErrObjectIncomplete, RefFor(obj))
	}

	return c.resource(obj.GroupVersionKind(), obj.GetNamespace())
}

func (c *Cluster) resource(gvk schema.GroupVersionKind, namespace string) (dynamic.ResourceInterface, error) {
	mapping, err := c.mapping(gvk)
	if err != nil {
		return nil, err
	}

	if mapping.Scope.Name() == meta.RESTScopeNameNamespace {
		return c.client.Resource(mapping.Resource).Namespace(namespace), nil
	}

	return c.client.Resource(mapping.Resource), nil
}

// mapping resolves a kind, refreshing discovery once when the kind is
// unknown so that freshly installed CRDs become usable.
func (c *Cluster) mapping(gvk schema.GroupVersionKind) (*meta.RESTMapping, error) {
	mapping, err := c.mapper.RESTMapping(gvk.GroupKind(), gvk.Version)
	if err != nil && meta.IsNoMatchError(err) {
		if resettable, ok := c.mapper.(meta.ResettableRESTMapper); ok {
			resettable.Reset()
			mapping, err = c.mapper.RESTMapping(gvk.GroupKind(), gvk.Version)
		}
	}

	if err != nil {
		return nil, fmt.Errorf("map kind %s: %w", gvk, err)
	}

	return mapping, nil
}
