package checkpoint

import (
	"context"
	"fmt"
	"time"
)

// SnapshotFunc captures the current projection state and the event
// sequence it reflects. Implementations must return a consistent pair:
// the state must include every event up to and including the sequence.
type SnapshotFunc func() (seq uint64, state []byte, err error)

// Manager creates checkpoints on demand or on a timer and keeps the
// retention window trimmed.
type Manager struct {
	store    Store
	snapshot SnapshotFunc
	retain   int

	// OnCreated, when set, is invoked after each successful checkpoint.
	// The daemon uses it to append a checkpoint.created event.
	OnCreated func(cp *Checkpoint)
}

func NewManager(store Store, snapshot SnapshotFunc, retain int) *Manager {
	if retain < 1 {
		retain = 1
	}
	return &Manager{store: store, snapshot: snapshot, retain: retain}
}

// Create takes a snapshot, persists it, and prunes older checkpoints.
func (m *Manager) Create() (*Checkpoint, error) {
	seq, state, err := m.snapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshotting state: %w", err)
	}
	cp := New(seq, state)
	if err := m.store.Save(cp); err != nil {
		return nil, fmt.Errorf("saving checkpoint at seq %d: %w", seq, err)
	}
	if err := m.store.Prune(m.retain); err != nil {
		return nil, fmt.Errorf("pruning checkpoints: %w", err)
	}
	if m.OnCreated != nil {
		m.OnCreated(cp)
	}
	return cp, nil
}

// Latest returns the most recent persisted checkpoint.
func (m *Manager) Latest() (*Checkpoint, error) {
	return m.store.Latest()
}

// Run checkpoints on the given interval until ctx is cancelled. Failures
// are reported through errs and do not stop the loop; the next tick tries
// again.
func (m *Manager) Run(ctx context.Context, interval time.Duration, errs func(error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Create(); err != nil && errs != nil {
				errs(err)
			}
		}
	}
}
