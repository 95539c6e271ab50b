package driver

import (
	"context"
	"time"

	"github.com/cheap-k8s/stageflow/pkg/k8s"
	"github.com/cheap-k8s/stageflow/pkg/svc/planner"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

// Health is the observed state of a stage.
type Health string

const (
	// HealthPending means the stage has not completed an attempt yet.
	HealthPending Health = "Pending"
	// HealthProgressing means an attempt is in flight.
	HealthProgressing Health = "Progressing"
	// HealthReady means the last attempt applied and verified every object.
	HealthReady Health = "Ready"
	// HealthFailed means the last attempt failed; it is retried.
	HealthFailed Health = "Failed"
)

// Record is the reconciliation record of a stage. Records are owned by the
// driver; callers only ever receive copies.
type Record struct {
	ID                  planner.ID      `json:"id"`
	Name                string          `json:"name"`
	Namespace           string          `json:"namespace"`
	Health              Health          `json:"health"`
	Revision            string          `json:"revision,omitempty"`
	Attempts            int             `json:"attempts"`
	LastAttempt         time.Time       `json:"lastAttempt,omitzero"`
	LastTransition      time.Time       `json:"lastTransition,omitzero"`
	ConsecutiveFailures int             `json:"consecutiveFailures"`
	LastError           string          `json:"lastError,omitempty"`
	ObjectErrors        []ObjectError   `json:"objectErrors,omitempty"`
	Inventory           []k8s.ObjectRef `json:"inventory,omitempty"`
	Retired             bool            `json:"retired,omitempty"`
}

func (r Record) clone() Record {
	r.ObjectErrors = append([]ObjectError(nil), r.ObjectErrors...)
	r.Inventory = append([]k8s.ObjectRef(nil), r.Inventory...)

	return r
}

// Cluster is the cluster API boundary.
type Cluster interface {
	Namespaced(gvk schema.GroupVersionKind) (bool, error)
	Get(ctx context.Context, ref k8s.ObjectRef) (*unstructured.Unstructured, error)
	List(
		ctx context.Context,
		gvk schema.GroupVersionKind,
		namespace string,
		selector labels.Selector,
	) ([]unstructured.Unstructured, error)
	Create(ctx context.Context, obj *unstructured.Unstructured) (*unstructured.Unstructured, error)
	Update(ctx context.Context, obj *unstructured.Unstructured) (*unstructured.Unstructured, error)
	Delete(ctx context.Context, ref k8s.ObjectRef) error
	Health(ctx context.Context, ref k8s.ObjectRef) (k8s.Health, error)
}

// NamespaceEnsurer creates stage namespaces before anything is applied to them.
type NamespaceEnsurer interface {
	EnsureNamespace(ctx context.Context, name string) error
}

// Renderer produces the desired objects of a stage.
type Renderer interface {
	// Revision returns the current revision of the stage source.
	Revision(ctx context.Context, stage planner.Stage) (string, error)
	// Render returns the desired objects of the stage at a revision.
	Render(ctx context.Context, stage planner.Stage, revision string) ([]*unstructured.Unstructured, error)
}

// Observer receives a copy of every record change.
type Observer interface {
	Observe(record Record)
}
