// Package registry holds the set of Git repositories tracked by stageflow.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

const (
	secretPrefix = "git-secret-"
	sourcePrefix = "git-repository-"
	redacted     = "[redacted]"
)

var (
	// ErrDuplicateRepository is returned when a repository name is registered twice.
	ErrDuplicateRepository = errors.New("repository already registered")
	// ErrRepositoryNotFound is returned when a repository name is unknown.
	ErrRepositoryNotFound = errors.New("repository not found")
)

// Credential is read-only basic auth material. It never prints its password.
type Credential struct {
	username string
	password string
}

// NewCredential creates a credential.
func NewCredential(username, password string) Credential {
	return Credential{username: username, password: password}
}

// Username returns the user name.
func (c Credential) Username() string { return c.username }

// Password returns the secret.
func (c Credential) Password() string { return c.password }

// IsZero reports whether no credential is configured.
func (c Credential) IsZero() bool { return c.username == "" && c.password == "" }

// String implements fmt.Stringer.
func (c Credential) String() string {
	if c.password == "" {
		return c.username
	}

	return c.username + ":" + redacted
}

// LogValue implements slog.LogValuer.
func (c Credential) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("username", c.username),
		slog.String("password", redacted),
	)
}

// MarshalJSON implements json.Marshaler.
func (c Credential) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(map[string]string{"username": c.username, "password": redacted})
	if err != nil {
		return nil, fmt.Errorf("marshal credential: %w", err)
	}

	return data, nil
}

// Repository is a tracked Git source.
type Repository struct {
	Name       string     `json:"name"`
	URL        string     `json:"url"`
	Branch     string     `json:"branch"`
	Credential Credential `json:"credential"`
}

// SecretName is the name of the secret holding the repository credential.
func (r Repository) SecretName() string { return secretPrefix + r.Name }

// SourceName is the name of the exported Flux GitRepository.
func (r Repository) SourceName() string { return sourcePrefix + r.Name }

// Registry is an ordered, concurrency-safe set of repositories keyed by name.
type Registry struct {
	mu    sync.RWMutex
	order []string
	repos map[string]Repository
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{repos: map[string]Repository{}}
}

// Add registers a repository. Names must be unique.
func (r *Registry) Add(repo Repository) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.repos[repo.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateRepository, repo.Name)
	}

	r.repos[repo.Name] = repo
	r.order = append(r.order, repo.Name)

	return nil
}

// Get returns the repository with the given name.
func (r *Registry) Get(name string) (Repository, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	repo, ok := r.repos[name]
	if !ok {
		return Repository{}, fmt.Errorf("%w: %s", ErrRepositoryNotFound, name)
	}

	return repo, nil
}

// List returns the repositories in registration order.
func (r *Registry) List() []Repository {
	r.mu.RLock()
	defer r.mu.RUnlock()

	repos := make([]Repository, 0, len(r.order))
	for _, name := range r.order {
		repos = append(repos, r.repos[name])
	}

	return repos
}

// Len returns the number of registered repositories.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.order)
}
