package k8s

import (
	"fmt"

	"github.com/fluxcd/cli-utils/pkg/kstatus/status"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// Health is the kstatus evaluation of a live object.
type Health struct {
	Status  status.Status `json:"status"`
	Message string        `json:"message,omitempty"`
}

// Ready reports whether the object reached its desired state.
func (h Health) Ready() bool {
	return h.Status == status.CurrentStatus
}

// Failed reports whether the object reached a terminal failure.
func (h Health) Failed() bool {
	return h.Status == status.FailedStatus
}

// ComputeHealth evaluates a live object with kstatus.
func ComputeHealth(obj *unstructured.Unstructured) (Health, error) {
	result, err := status.Compute(obj)
	if err != nil {
		return Health{Status: status.UnknownStatus}, fmt.Errorf("compute status of %s: %w", RefFor(obj), err)
	}

	return Health{Status: result.Status, Message: result.Message}, nil
}
