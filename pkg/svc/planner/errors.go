package planner

import (
	"errors"
	"strings"
)

// ErrPlanInvalid is the sentinel for every planning failure.
var ErrPlanInvalid = errors.New("plan invalid")

// PlanInvalidError describes why a catalog cannot be planned. Cycle is set
// when the failure is a dependency cycle and lists the stages in order, the
// first stage repeated at the end.
type PlanInvalidError struct {
	Reason string
	Cycle  []ID
}

func (e *PlanInvalidError) Error() string {
	if len(e.Cycle) == 0 {
		return ErrPlanInvalid.Error() + ": " + e.Reason
	}

	names := make([]string, 0, len(e.Cycle))
	for _, id := range e.Cycle {
		names = append(names, id.String())
	}

	return ErrPlanInvalid.Error() + ": dependency cycle: " + strings.Join(names, " -> ")
}

func (e *PlanInvalidError) Unwrap() error {
	return ErrPlanInvalid
}
