// Package reconcile drives observed bead state toward desired state.
// Each pass diffs the two, applies corrective actions through an
// executor, and reports whether the system has converged.
package reconcile

import (
	"context"
	"sort"
	"sync"

	"github.com/weftworks/weft/internal/bead"
	"github.com/weftworks/weft/internal/lifecycle"
	"github.com/weftworks/weft/internal/projection"
)

// Config bounds a reconciliation pass.
type Config struct {
	// MaxConcurrent caps how many beads may run at once.
	MaxConcurrent int
	// AutoStart starts ready beads when slots are free.
	AutoStart bool
	// AutoRetry reschedules failed beads below MaxRetries.
	AutoRetry bool
	// MaxRetries is the retry budget per bead before it is stopped.
	MaxRetries int
}

// DefaultConfig matches the daemon's defaults.
func DefaultConfig() Config {
	return Config{MaxConcurrent: 10, AutoStart: true, AutoRetry: true, MaxRetries: 3}
}

// DesiredState is the target the reconciler converges toward.
type DesiredState struct {
	mu    sync.RWMutex
	beads map[bead.ID]bead.Spec
}

func NewDesiredState() *DesiredState {
	return &DesiredState{beads: make(map[bead.ID]bead.Spec)}
}

// AddBead declares that a bead with this spec should exist.
func (d *DesiredState) AddBead(id bead.ID, spec bead.Spec) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.beads[id] = spec
}

// RemoveBead withdraws a bead. The next pass will cancel it if it still
// exists.
func (d *DesiredState) RemoveBead(id bead.ID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.beads, id)
}

// SetDependencies updates the dependency set of a desired bead.
func (d *DesiredState) SetDependencies(id bead.ID, deps []bead.ID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	spec, ok := d.beads[id]
	if !ok {
		return false
	}
	spec.Dependencies = deps
	d.beads[id] = spec
	return true
}

// Beads returns a copy of the desired bead set.
func (d *DesiredState) Beads() map[bead.ID]bead.Spec {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[bead.ID]bead.Spec, len(d.beads))
	for id, spec := range d.beads {
		out[id] = spec
	}
	return out
}

// Executor applies one action. Implementations append the events that
// realize the action; failures are isolated per action by the reconciler.
type Executor interface {
	Execute(ctx context.Context, a Action) error
}

// ActionFailure pairs a failed action with its error.
type ActionFailure struct {
	Action Action
	Err    error
}

// Result summarizes one reconciliation pass. Converged is derived: a
// pass with nothing to do and nothing failing means desired and actual
// agree.
type Result struct {
	Taken     []Action
	Failed    []ActionFailure
	Converged bool
}

// Reconciler computes and applies the diff between desired and actual
// bead state.
type Reconciler struct {
	cfg     Config
	desired *DesiredState
	exec    Executor
}

func New(cfg Config, desired *DesiredState, exec Executor) *Reconciler {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	return &Reconciler{cfg: cfg, desired: desired, exec: exec}
}

// Plan computes the actions a pass would take without applying them.
func (r *Reconciler) Plan(actual *projection.BeadStateProjection) []Action {
	desired := r.desired.Beads()
	var actions []Action

	// Orphans first so their slots free up within the same pass's
	// accounting.
	for id, s := range actual.Beads {
		if _, ok := desired[id]; ok {
			continue
		}
		if s.State == lifecycle.Completed {
			continue
		}
		actions = append(actions, DeleteBead{ID: id})
	}

	running, _, _ := actual.Counts()
	slots := r.cfg.MaxConcurrent - running

	for id, spec := range desired {
		s, ok := actual.Beads[id]
		if !ok {
			actions = append(actions, CreateBead{ID: id, Spec: spec})
			continue
		}
		depsChanged := s.State != lifecycle.Completed && !depsEqual(spec.Dependencies, s.Spec.Dependencies)
		if depsChanged {
			actions = append(actions, UpdateDependencies{ID: id, Dependencies: spec.Dependencies})
		}
		switch s.State {
		case lifecycle.Pending:
			// A bead whose dependency set is changing this pass is not
			// scheduled until the new set has been applied.
			if !s.Blocked() && !depsChanged {
				actions = append(actions, ScheduleBead{ID: id, WorkflowID: s.WorkflowID})
			}
		case lifecycle.Scheduled:
			// Scheduled and unblocked means ready to run: start it
			// whether or not a worker has claimed it yet.
			if r.cfg.AutoStart && !s.Blocked() && slots > 0 {
				actions = append(actions, StartBead{ID: id, Spec: spec, WorkerID: s.WorkerID})
				slots--
			}
		case lifecycle.Ready:
			if r.cfg.AutoStart && slots > 0 {
				actions = append(actions, StartBead{ID: id, Spec: spec, WorkerID: s.WorkerID})
				slots--
			}
		case lifecycle.BackingOff:
			if !r.cfg.AutoRetry {
				break
			}
			if s.RetryCount >= r.cfg.MaxRetries {
				actions = append(actions, StopBead{ID: id, Reason: "retry budget exhausted"})
			} else if slots > 0 {
				actions = append(actions, RetryBead{ID: id, Spec: spec, Attempt: s.RetryCount})
				slots--
			}
		}
	}

	// Deterministic order keeps passes reproducible and logs readable.
	sort.Slice(actions, func(i, j int) bool {
		a, b := actions[i].BeadID(), actions[j].BeadID()
		if a != b {
			return a.String() < b.String()
		}
		return actions[i].Description() < actions[j].Description()
	})
	return actions
}

func depsEqual(a, b []bead.ID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Reconcile runs one pass: plan the diff, apply every action, and report
// the outcome. A failing action does not stop the rest of the pass.
func (r *Reconciler) Reconcile(ctx context.Context, actual *projection.BeadStateProjection) Result {
	var res Result
	for _, a := range r.Plan(actual) {
		if ctx.Err() != nil {
			res.Failed = append(res.Failed, ActionFailure{Action: a, Err: ctx.Err()})
			continue
		}
		if err := r.exec.Execute(ctx, a); err != nil {
			res.Failed = append(res.Failed, ActionFailure{Action: a, Err: err})
			continue
		}
		res.Taken = append(res.Taken, a)
	}
	res.Converged = len(res.Taken) == 0 && len(res.Failed) == 0
	return res
}
