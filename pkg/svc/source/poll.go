package source

import (
	"context"
	"time"

	"github.com/cheap-k8s/stageflow/pkg/utils/parallel"
)

// DefaultPollInterval matches the interval of the generated GitRepository sources.
const DefaultPollInterval = time.Minute

// ChangeFunc is called with the repository name and its new revision.
type ChangeFunc func(repository, revision string)

// Poll resolves every registered repository once per interval until ctx is
// done and calls onChange for each revision that differs from the last one
// seen. Resolution errors are logged and retried on the next tick.
func (s *GitSource) Poll(ctx context.Context, interval time.Duration, onChange ChangeFunc) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		s.PollOnce(ctx, onChange)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// PollOnce resolves every registered repository concurrently.
func (s *GitSource) PollOnce(ctx context.Context, onChange ChangeFunc) {
	repos := s.repositories()
	tasks := make([]parallel.Task, 0, len(repos))

	for _, repo := range repos {
		tasks = append(tasks, func(ctx context.Context) error {
			revision, err := s.Resolve(ctx, repo)
			if err != nil {
				s.logger.Warn("resolve revision failed", "repository", repo.Name, "error", err)

				return err
			}

			if s.remember(repo.Name, revision) {
				s.logger.Info("new revision", "repository", repo.Name, "revision", revision)

				if onChange != nil {
					onChange(repo.Name, revision)
				}
			}

			return nil
		})
	}

	_ = parallel.NewExecutor(0).ExecuteAll(ctx, tasks...)
}
