package driver

import (
	"context"
	"time"

	"github.com/cheap-k8s/stageflow/pkg/svc/planner"
)

// PollCopies checks the source secrets of copy stages every interval until
// ctx is cancelled, see CheckCopies.
func (d *Driver) PollCopies(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultRetry
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.CheckCopies(ctx)
		}
	}
}

// CheckCopies triggers every copy stage whose source secret revision differs
// from the revision it last applied. Stages that never applied a revision
// are left to their own schedule. It returns the number of triggered stages.
func (d *Driver) CheckCopies(ctx context.Context) int {
	if d.copies == nil {
		return 0
	}

	triggered := 0

	for _, stage := range d.copyStages() {
		record, ok := d.hub.get(stage.ID)
		if !ok || record.Revision == "" {
			continue
		}

		revision, err := d.copies.Revision(ctx, stage)
		if err != nil {
			d.logger.Debug("copy source unavailable", "stage", stage.Name(), "error", err)

			continue
		}

		if revision == record.Revision {
			continue
		}

		if d.Trigger(stage.ID) {
			d.logger.Info("copy source changed", "stage", stage.Name(), "revision", revision)

			triggered++
		}
	}

	return triggered
}

func (d *Driver) copyStages() []planner.Stage {
	d.mu.Lock()
	defer d.mu.Unlock()

	var stages []planner.Stage

	for _, stage := range d.graph.Stages() {
		if stage.ID.Kind == planner.KindCopy {
			stages = append(stages, stage)
		}
	}

	return stages
}
