package driver

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cheap-k8s/stageflow/pkg/k8s"
)

var (
	// ErrNamespaceProvision marks a failure to ensure the stage namespace.
	ErrNamespaceProvision = errors.New("namespace provisioning failed")
	// ErrSourceFetch marks a failure to resolve or render the stage source.
	ErrSourceFetch = errors.New("source fetch failed")
	// ErrApply marks objects rejected by the cluster API.
	ErrApply = errors.New("apply failed")
	// ErrTimeout marks a stage that did not become Ready within its timeout.
	ErrTimeout = errors.New("stage timed out")
	// ErrAlreadyRunning is returned when Run is called twice.
	ErrAlreadyRunning = errors.New("driver already running")
	// ErrNoRenderer is returned when no renderer serves a stage kind.
	ErrNoRenderer = errors.New("no renderer configured")
)

// ObjectError is the diagnosis of a single object.
type ObjectError struct {
	Object  k8s.ObjectRef `json:"object"`
	Message string        `json:"message"`
	err     error
}

func newObjectError(ref k8s.ObjectRef, err error) ObjectError {
	return ObjectError{Object: ref, Message: err.Error(), err: err}
}

func (e ObjectError) String() string {
	return e.Object.String() + ": " + e.Message
}

func joinObjectErrors(objects []ObjectError) string {
	parts := make([]string, 0, len(objects))
	for _, object := range objects {
		parts = append(parts, object.String())
	}

	return strings.Join(parts, "; ")
}

// NamespaceProvisionError wraps a namespace failure of a stage.
type NamespaceProvisionError struct {
	Stage     string
	Namespace string
	Err       error
}

func (e *NamespaceProvisionError) Error() string {
	return fmt.Sprintf("%s: stage %s: namespace %s: %v", ErrNamespaceProvision, e.Stage, e.Namespace, e.Err)
}

func (e *NamespaceProvisionError) Unwrap() []error {
	return []error{ErrNamespaceProvision, e.Err}
}

// SourceFetchError wraps a source resolution or rendering failure.
type SourceFetchError struct {
	Stage    string
	Revision string
	Err      error
}

func (e *SourceFetchError) Error() string {
	if e.Revision == "" {
		return fmt.Sprintf("%s: stage %s: %v", ErrSourceFetch, e.Stage, e.Err)
	}

	return fmt.Sprintf("%s: stage %s at %s: %v", ErrSourceFetch, e.Stage, e.Revision, e.Err)
}

func (e *SourceFetchError) Unwrap() []error {
	return []error{ErrSourceFetch, e.Err}
}

// ApplyError lists the objects the cluster rejected during one attempt.
type ApplyError struct {
	Stage   string
	Objects []ObjectError
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("%s: stage %s: %s", ErrApply, e.Stage, joinObjectErrors(e.Objects))
}

func (e *ApplyError) Unwrap() []error {
	errs := []error{ErrApply}

	for _, object := range e.Objects {
		if object.err != nil {
			errs = append(errs, object.err)
		}
	}

	return errs
}

// TimeoutError reports the objects that were not healthy when the stage timeout expired.
type TimeoutError struct {
	Stage   string
	Timeout time.Duration
	Pending []ObjectError
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("%s: stage %s not ready within %s", ErrTimeout, e.Stage, e.Timeout)
	if len(e.Pending) > 0 {
		msg += ": " + joinObjectErrors(e.Pending)
	}

	return msg
}

func (e *TimeoutError) Unwrap() error {
	return ErrTimeout
}

// objectErrors extracts per-object diagnostics from an attempt error.
func objectErrors(err error) []ObjectError {
	var applyErr *ApplyError
	if errors.As(err, &applyErr) {
		return applyErr.Objects
	}

	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return timeoutErr.Pending
	}

	return nil
}
