// Package catalog holds the deployment targets of every registered repository.
package catalog

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cheap-k8s/stageflow/pkg/svc/registry"
	"github.com/jinzhu/copier"
)

const (
	preDir  = "pre"
	postDir = "post"
)

var (
	// ErrDuplicateTarget is returned when a target name repeats within a repository.
	ErrDuplicateTarget = errors.New("target already declared")
	// ErrUnknownRepository is returned when a target names an unregistered repository.
	ErrUnknownRepository = errors.New("unknown repository")
	// ErrTargetNotFound is returned when a target is unknown.
	ErrTargetNotFound = errors.New("target not found")
	// ErrInvalidReference is returned for a malformed dependsOn reference.
	ErrInvalidReference = errors.New("invalid target reference")
)

// Ref identifies a target across repositories.
type Ref struct {
	Repository string `json:"repository"`
	Name       string `json:"name"`
}

func (r Ref) String() string { return r.Repository + "/" + r.Name }

// ParseRef parses "name" (relative to repository) or "repo/name".
func ParseRef(repository, value string) (Ref, error) {
	parts := strings.Split(value, "/")

	switch {
	case len(parts) == 1 && parts[0] != "":
		return Ref{Repository: repository, Name: parts[0]}, nil
	case len(parts) == 2 && parts[0] != "" && parts[1] != "":
		return Ref{Repository: parts[0], Name: parts[1]}, nil
	default:
		return Ref{}, fmt.Errorf("%w: %q", ErrInvalidReference, value)
	}
}

// Step is an optional stage around the apply stage.
type Step struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
	Force   bool   `json:"force"`
}

// SecretCopy describes a secret cloned into the target namespace.
type SecretCopy struct {
	Name          string `json:"name"`
	FromNamespace string `json:"fromNamespace"`
	FromName      string `json:"fromName"`
}

// Target is a deployment destination of one repository.
type Target struct {
	Repository    string        `json:"repository"`
	Name          string        `json:"name"`
	Path          string        `json:"path"`
	Namespace     string        `json:"namespace"`
	DependsOn     []Ref         `json:"dependsOn,omitempty"`
	Pre           Step          `json:"pre"`
	Post          Step          `json:"post"`
	Secrets       []SecretCopy  `json:"secrets,omitempty"`
	Interval      time.Duration `json:"interval"`
	Timeout       time.Duration `json:"timeout"`
	RetryInterval time.Duration `json:"retryInterval"`
	Prune         bool          `json:"prune"`
}

// Ref returns the reference of the target.
func (t Target) Ref() Ref { return Ref{Repository: t.Repository, Name: t.Name} }

// NamespaceFor derives the namespace of a target: "{repository}-{target}".
func NamespaceFor(repository, target string) string {
	return repository + "-" + target
}

// StepPath returns the default manifest directory of a pre or post step.
func StepPath(targetPath, step string) string {
	return strings.TrimSuffix(targetPath, "/") + "/" + step
}

// Catalog is an ordered, concurrency-safe collection of targets per repository.
type Catalog struct {
	mu       sync.RWMutex
	registry *registry.Registry
	order    map[string][]string
	targets  map[Ref]Target
}

// New creates an empty catalog bound to a repository registry.
func New(reg *registry.Registry) *Catalog {
	return &Catalog{
		registry: reg,
		order:    map[string][]string{},
		targets:  map[Ref]Target{},
	}
}

// Registry returns the repository registry the catalog is bound to.
func (c *Catalog) Registry() *registry.Registry { return c.registry }

// Add declares a target. The namespace defaults to NamespaceFor and step
// paths default to {path}/pre and {path}/post.
func (c *Catalog) Add(target Target) error {
	_, err := c.registry.Get(target.Repository)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownRepository, target.Repository)
	}

	if target.Namespace == "" {
		target.Namespace = NamespaceFor(target.Repository, target.Name)
	}

	if target.Pre.Path == "" {
		target.Pre.Path = StepPath(target.Path, preDir)
	}

	if target.Post.Path == "" {
		target.Post.Path = StepPath(target.Path, postDir)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ref := target.Ref()
	if _, exists := c.targets[ref]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTarget, ref)
	}

	c.targets[ref] = target
	c.order[target.Repository] = append(c.order[target.Repository], target.Name)

	return nil
}

// Get returns a target by reference.
func (c *Catalog) Get(ref Ref) (Target, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	target, ok := c.targets[ref]
	if !ok {
		return Target{}, fmt.Errorf("%w: %s", ErrTargetNotFound, ref)
	}

	return target, nil
}

// Targets returns the targets of a repository in declaration order.
func (c *Catalog) Targets(repository string) []Target {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := c.order[repository]
	targets := make([]Target, 0, len(names))

	for _, name := range names {
		targets = append(targets, c.targets[Ref{Repository: repository, Name: name}])
	}

	return targets
}

// All returns every target, repositories in registry order.
func (c *Catalog) All() []Target {
	var all []Target

	for _, repo := range c.registry.List() {
		all = append(all, c.Targets(repo.Name)...)
	}

	return all
}

// Snapshot returns a deep copy of every target, safe to keep across catalog edits.
func (c *Catalog) Snapshot() ([]Target, error) {
	all := c.All()

	var snapshot []Target

	err := copier.CopyWithOption(&snapshot, &all, copier.Option{DeepCopy: true})
	if err != nil {
		return nil, fmt.Errorf("snapshot targets: %w", err)
	}

	return snapshot, nil
}
