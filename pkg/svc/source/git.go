package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/cheap-k8s/stageflow/pkg/svc/planner"
	"github.com/cheap-k8s/stageflow/pkg/svc/registry"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/memory"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

const (
	remoteName     = "origin"
	revisionMarker = "@sha1:"
)

var (
	// ErrBranchNotFound is returned when the tracked branch does not exist on the remote.
	ErrBranchNotFound = errors.New("branch not found")
	// ErrInvalidRevision is returned for a revision not produced by Resolve.
	ErrInvalidRevision = errors.New("invalid revision")
	// ErrPathNotFound is returned when the stage path does not exist at a revision.
	ErrPathNotFound = errors.New("path not found")
)

// CredentialFunc returns the credential used to reach a repository.
type CredentialFunc func(ctx context.Context, repo registry.Repository) (registry.Credential, error)

// GitSource resolves branches and reads manifests from Git repositories.
type GitSource struct {
	registry    *registry.Registry
	credentials CredentialFunc
	logger      *slog.Logger

	mu        sync.Mutex
	clones    map[string]*clone
	revisions map[string]string
}

type clone struct {
	mu   sync.Mutex
	repo *git.Repository
}

// NewGitSource creates a GitSource for the repositories of a registry. A nil
// credentials function uses the credential stored in the registry.
func NewGitSource(reg *registry.Registry, credentials CredentialFunc, logger *slog.Logger) *GitSource {
	if credentials == nil {
		credentials = func(_ context.Context, repo registry.Repository) (registry.Credential, error) {
			return repo.Credential, nil
		}
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &GitSource{
		registry:    reg,
		credentials: credentials,
		logger:      logger,
		clones:      map[string]*clone{},
		revisions:   map[string]string{},
	}
}

// FormatRevision builds a revision string.
func FormatRevision(branch string, hash plumbing.Hash) string {
	return branch + revisionMarker + hash.String()
}

// ParseRevision extracts the commit hash of a revision.
func ParseRevision(revision string) (plumbing.Hash, error) {
	_, hex, found := strings.Cut(revision, revisionMarker)
	if !found || !plumbing.IsHash(hex) {
		return plumbing.ZeroHash, fmt.Errorf("%w: %q", ErrInvalidRevision, revision)
	}

	return plumbing.NewHash(hex), nil
}

// Resolve lists the remote references and returns the revision of the tracked branch.
func (s *GitSource) Resolve(ctx context.Context, repo registry.Repository) (string, error) {
	auth, err := s.auth(ctx, repo)
	if err != nil {
		return "", err
	}

	remote := git.NewRemote(memory.NewStorage(), &config.RemoteConfig{
		Name: remoteName,
		URLs: []string{repo.URL},
	})

	refs, err := remote.ListContext(ctx, &git.ListOptions{Auth: auth})
	if err != nil {
		return "", fmt.Errorf("list remote %s: %w", repo.Name, err)
	}

	branch := plumbing.NewBranchReferenceName(repo.Branch)

	for _, ref := range refs {
		if ref.Name() == branch {
			return FormatRevision(repo.Branch, ref.Hash()), nil
		}
	}

	return "", fmt.Errorf("%w: %s in %s", ErrBranchNotFound, repo.Branch, repo.Name)
}

// Fetch returns the objects stored at path in the given revision.
func (s *GitSource) Fetch(
	ctx context.Context,
	repo registry.Repository,
	revision, path string,
) ([]*unstructured.Unstructured, error) {
	hash, err := ParseRevision(revision)
	if err != nil {
		return nil, err
	}

	commit, err := s.commit(ctx, repo, hash)
	if err != nil {
		return nil, err
	}

	root, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("read tree of %s: %w", revision, err)
	}

	objects, err := renderTree(root, cleanPath(path))
	if err != nil {
		return nil, fmt.Errorf("render %s at %s: %w", path, revision, err)
	}

	return objects, nil
}

// Revision implements the driver renderer contract. The last polled revision
// is returned when available; otherwise the branch is resolved.
func (s *GitSource) Revision(ctx context.Context, stage planner.Stage) (string, error) {
	s.mu.Lock()
	revision, ok := s.revisions[stage.ID.Repository]
	s.mu.Unlock()

	if ok {
		return revision, nil
	}

	repo, err := s.repository(stage.ID.Repository)
	if err != nil {
		return "", err
	}

	revision, err = s.Resolve(ctx, repo)
	if err != nil {
		return "", err
	}

	s.remember(repo.Name, revision)

	return revision, nil
}

// Render implements the driver renderer contract.
func (s *GitSource) Render(
	ctx context.Context,
	stage planner.Stage,
	revision string,
) ([]*unstructured.Unstructured, error) {
	repo, err := s.repository(stage.ID.Repository)
	if err != nil {
		return nil, err
	}

	return s.Fetch(ctx, repo, revision, stage.Path)
}

// SetRegistry replaces the tracked repositories. Clones of repositories whose
// URL or branch changed are dropped.
func (s *GitSource) SetRegistry(reg *registry.Registry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name := range s.clones {
		previous, prevErr := s.registry.Get(name)
		next, err := reg.Get(name)

		if err != nil || prevErr != nil || previous.URL != next.URL || previous.Branch != next.Branch {
			delete(s.clones, name)
			delete(s.revisions, name)
		}
	}

	s.registry = reg
}

func (s *GitSource) repository(name string) (registry.Repository, error) {
	s.mu.Lock()
	reg := s.registry
	s.mu.Unlock()

	return reg.Get(name)
}

func (s *GitSource) repositories() []registry.Repository {
	s.mu.Lock()
	reg := s.registry
	s.mu.Unlock()

	return reg.List()
}

// remember stores a revision and reports whether it changed.
func (s *GitSource) remember(repository, revision string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous, ok := s.revisions[repository]
	s.revisions[repository] = revision

	return !ok || previous != revision
}

func (s *GitSource) commit(ctx context.Context, repo registry.Repository, hash plumbing.Hash) (*object.Commit, error) {
	entry := s.cloneFor(repo.Name)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.repo == nil {
		cloned, err := s.clone(ctx, repo)
		if err != nil {
			return nil, err
		}

		entry.repo = cloned
	}

	commit, err := entry.repo.CommitObject(hash)
	if err == nil {
		return commit, nil
	}

	if !errors.Is(err, plumbing.ErrObjectNotFound) {
		return nil, fmt.Errorf("read commit %s: %w", hash, err)
	}

	auth, err := s.auth(ctx, repo)
	if err != nil {
		return nil, err
	}

	refSpec := config.RefSpec(fmt.Sprintf("+refs/heads/%s:refs/remotes/%s/%s", repo.Branch, remoteName, repo.Branch))

	err = entry.repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: remoteName,
		RefSpecs:   []config.RefSpec{refSpec},
		Auth:       auth,
		Tags:       git.NoTags,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil, fmt.Errorf("fetch %s: %w", repo.Name, err)
	}

	commit, err = entry.repo.CommitObject(hash)
	if err != nil {
		return nil, fmt.Errorf("read commit %s after fetch: %w", hash, err)
	}

	return commit, nil
}

func (s *GitSource) cloneFor(name string) *clone {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.clones[name]
	if !ok {
		entry = &clone{}
		s.clones[name] = entry
	}

	return entry
}

func (s *GitSource) clone(ctx context.Context, repo registry.Repository) (*git.Repository, error) {
	auth, err := s.auth(ctx, repo)
	if err != nil {
		return nil, err
	}

	cloned, err := git.CloneContext(ctx, memory.NewStorage(), nil, &git.CloneOptions{
		URL:           repo.URL,
		Auth:          auth,
		RemoteName:    remoteName,
		ReferenceName: plumbing.NewBranchReferenceName(repo.Branch),
		SingleBranch:  true,
		Tags:          git.NoTags,
	})
	if err != nil {
		return nil, fmt.Errorf("clone %s: %w", repo.Name, err)
	}

	s.logger.Debug("cloned repository", "repository", repo.Name)

	return cloned, nil
}

func (s *GitSource) auth(ctx context.Context, repo registry.Repository) (transport.AuthMethod, error) {
	credential, err := s.credentials(ctx, repo)
	if err != nil {
		return nil, fmt.Errorf("credential for %s: %w", repo.Name, err)
	}

	if credential.IsZero() {
		return nil, nil //nolint:nilnil // anonymous access
	}

	return &http.BasicAuth{Username: credential.Username(), Password: credential.Password()}, nil
}

func cleanPath(path string) string {
	path = strings.TrimPrefix(strings.TrimSpace(path), "./")
	path = strings.Trim(path, "/")

	if path == "." {
		return ""
	}

	return path
}
