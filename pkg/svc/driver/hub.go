package driver

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cheap-k8s/stageflow/pkg/svc/planner"
)

var errStopped = errors.New("stage stopped")

// hub owns the reconciliation records and broadcasts every change so that
// stages blocked on their dependencies wake up.
type hub struct {
	mu       sync.Mutex
	order    []planner.ID
	records  map[planner.ID]*Record
	changed  chan struct{}
	observer Observer
	now      func() time.Time
}

func newHub(observer Observer, now func() time.Time) *hub {
	return &hub{
		records:  map[planner.ID]*Record{},
		changed:  make(chan struct{}),
		observer: observer,
		now:      now,
	}
}

// register creates a Pending record, or revives a retired one.
func (h *hub) register(stage planner.Stage) {
	h.update(stage.ID, func(record *Record) {
		record.Namespace = stage.Namespace
		record.Retired = false
	})
}

func (h *hub) get(id planner.ID) (Record, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	record, ok := h.records[id]
	if !ok {
		return Record{}, false
	}

	return record.clone(), true
}

func (h *hub) list() []Record {
	h.mu.Lock()
	defer h.mu.Unlock()

	records := make([]Record, 0, len(h.order))
	for _, id := range h.order {
		records = append(records, h.records[id].clone())
	}

	return records
}

// update mutates a record, creating it when absent, and broadcasts the change.
func (h *hub) update(id planner.ID, mutate func(record *Record)) Record {
	h.mu.Lock()
	snapshot := h.mutateLocked(id, mutate)
	h.mu.Unlock()

	h.notify(snapshot)

	return snapshot
}

func (h *hub) mutateLocked(id planner.ID, mutate func(record *Record)) Record {
	record, ok := h.records[id]
	if !ok {
		record = &Record{
			ID:             id,
			Name:           id.String(),
			Health:         HealthPending,
			LastTransition: h.now(),
		}
		h.records[id] = record
		h.order = append(h.order, id)
	}

	previous := record.Health
	mutate(record)

	if record.Health != previous {
		record.LastTransition = h.now()
	}

	h.broadcastLocked()

	return record.clone()
}

func (h *hub) notify(snapshot Record) {
	if h.observer != nil {
		h.observer.Observe(snapshot)
	}
}

func (h *hub) broadcastLocked() {
	close(h.changed)
	h.changed = make(chan struct{})
}

// acquire blocks until every dependency is Ready and then moves the stage to
// Progressing. The readiness check and the transition happen under one lock.
// It returns the record as it was before the transition.
func (h *hub) acquire(ctx context.Context, stop <-chan struct{}, id planner.ID, deps []planner.ID) (Record, error) {
	for {
		h.mu.Lock()

		if h.readyLocked(deps) {
			var previous Record

			snapshot := h.mutateLocked(id, func(record *Record) {
				previous = record.clone()
				record.Health = HealthProgressing
				record.LastAttempt = h.now()
				record.Attempts++
			})
			h.mu.Unlock()

			h.notify(snapshot)

			return previous, nil
		}

		changed := h.changed
		h.mu.Unlock()

		select {
		case <-ctx.Done():
			return Record{}, ctx.Err()
		case <-stop:
			return Record{}, errStopped
		case <-changed:
		}
	}
}

func (h *hub) readyLocked(deps []planner.ID) bool {
	for _, dep := range deps {
		record, ok := h.records[dep]
		if !ok || record.Retired || record.Health != HealthReady {
			return false
		}
	}

	return true
}
