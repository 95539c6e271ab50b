package planner

import (
	"slices"
	"time"
)

// Kind is the role of a stage within its target.
type Kind string

const (
	// KindPre runs before the main manifests of a target.
	KindPre Kind = "pre"
	// KindApply applies the main manifests of a target.
	KindApply Kind = "apply"
	// KindPost runs after the main manifests of a target.
	KindPost Kind = "post"
	// KindCopy clones a secret into the target namespace.
	KindCopy Kind = "copy"
)

const namePrefix = "gitops-"

// ID identifies a stage. Name is only set for copy stages.
type ID struct {
	Repository string `json:"repository"`
	Target     string `json:"target"`
	Kind       Kind   `json:"kind"`
	Name       string `json:"name,omitempty"`
}

// String returns the display name: gitops-{repo}-{target}[-pre|-post|-copy-{name}].
func (id ID) String() string {
	base := namePrefix + id.Repository + "-" + id.Target

	switch id.Kind {
	case KindPre, KindPost:
		return base + "-" + string(id.Kind)
	case KindCopy:
		return base + "-copy-" + id.Name
	case KindApply:
		return base
	default:
		return base
	}
}

// CopySpec describes the secret cloned by a copy stage.
type CopySpec struct {
	FromNamespace string `json:"fromNamespace"`
	FromName      string `json:"fromName"`
	Name          string `json:"name"`
}

// Stage is one unit of reconciliation.
type Stage struct {
	ID            ID            `json:"id"`
	Namespace     string        `json:"namespace"`
	Path          string        `json:"path,omitempty"`
	Interval      time.Duration `json:"interval"`
	Timeout       time.Duration `json:"timeout"`
	RetryInterval time.Duration `json:"retryInterval"`
	Force         bool          `json:"force"`
	Prune         bool          `json:"prune"`
	Wait          bool          `json:"wait"`
	DependsOn     []ID          `json:"dependsOn,omitempty"`
	Copy          *CopySpec     `json:"copy,omitempty"`
}

// Name returns the display name of the stage.
func (s Stage) Name() string { return s.ID.String() }

// Equal reports whether two stages have identical specifications.
func (s Stage) Equal(other Stage) bool {
	if s.ID != other.ID ||
		s.Namespace != other.Namespace ||
		s.Path != other.Path ||
		s.Interval != other.Interval ||
		s.Timeout != other.Timeout ||
		s.RetryInterval != other.RetryInterval ||
		s.Force != other.Force ||
		s.Prune != other.Prune ||
		s.Wait != other.Wait {
		return false
	}

	if !slices.Equal(s.DependsOn, other.DependsOn) {
		return false
	}

	switch {
	case s.Copy == nil && other.Copy == nil:
		return true
	case s.Copy == nil || other.Copy == nil:
		return false
	default:
		return *s.Copy == *other.Copy
	}
}
