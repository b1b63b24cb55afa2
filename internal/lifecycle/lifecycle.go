// Package lifecycle implements the eight-state bead lifecycle state
// machine. Transitions are validated against a fixed adjacency table;
// illegal transitions and no-op transitions (state == target) are errors,
// never silent successes.
package lifecycle

import (
	"fmt"

	"github.com/weftworks/weft/internal/bead"
)

// State is a bead lifecycle state.
type State string

const (
	// Pending: waiting for dependencies.
	Pending State = "pending"
	// Scheduled: dependencies satisfied, eligible for claiming.
	Scheduled State = "scheduled"
	// Ready: claimed and about to start.
	Ready State = "ready"
	// Running: actively executing.
	Running State = "running"
	// Suspended: paused by user request.
	Suspended State = "suspended"
	// BackingOff: waiting after a failure before retry.
	BackingOff State = "backing_off"
	// Paused: system-level pause (resource limits).
	Paused State = "paused"
	// Completed: terminal; success or failure.
	Completed State = "completed"
)

// transitions is the adjacency table: from -> allowed targets.
var transitions = map[State][]State{
	Pending:    {Scheduled, Completed},
	Scheduled:  {Ready, Pending, Completed},
	Ready:      {Running, Scheduled, Completed},
	Running:    {Suspended, BackingOff, Paused, Completed},
	Suspended:  {Running, Completed},
	BackingOff: {Running, Completed},
	Paused:     {Running, Completed},
	Completed:  {},
}

// IsTerminal reports whether s is a terminal state.
func (s State) IsTerminal() bool {
	return s == Completed
}

// IsActive reports whether s holds a claim on some resource. Every
// non-terminal state other than Pending is active.
func (s State) IsActive() bool {
	switch s {
	case Scheduled, Ready, Running, Suspended, BackingOff, Paused:
		return true
	}
	return false
}

// CanTransitionTo reports whether the adjacency table permits s -> target.
func (s State) CanTransitionTo(target State) bool {
	for _, t := range transitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// ValidTransitions returns the allowed targets from s. The returned slice
// is shared; callers must not modify it.
func (s State) ValidTransitions() []State {
	return transitions[s]
}

// ReportState is the coarser six-state external reporting view of a
// lifecycle state. The worker lifecycle is the canonical machine; this
// mapping exists only for status surfaces and event projections.
type ReportState string

const (
	ReportPending   ReportState = "pending"
	ReportScheduled ReportState = "scheduled"
	ReportRunning   ReportState = "running"
	ReportCompleted ReportState = "completed"
	ReportFailed    ReportState = "failed"
	ReportCancelled ReportState = "cancelled"
)

// Report maps a canonical state (plus the recorded result, for terminal
// states) to the reporting view. A nil result on Completed reports
// ReportCompleted.
func Report(s State, result *bead.Result) ReportState {
	switch s {
	case Pending:
		return ReportPending
	case Scheduled, Ready:
		return ReportScheduled
	case Running, Suspended, Paused:
		return ReportRunning
	case BackingOff:
		// A bead backing off has failed and is awaiting retry.
		return ReportFailed
	case Completed:
		if result != nil {
			if result.Cancelled {
				return ReportCancelled
			}
			if !result.Success {
				return ReportFailed
			}
		}
		return ReportCompleted
	}
	return ReportPending
}

// StateTransition describes a successful state change.
type StateTransition struct {
	BeadID bead.ID `json:"bead_id"`
	From   State   `json:"from"`
	To     State   `json:"to"`
}

// TransitionError reports an illegal or no-op transition attempt. The
// lifecycle is left unchanged when one is returned.
type TransitionError struct {
	BeadID bead.ID
	From   State
	To     State
}

func (e *TransitionError) Error() string {
	if e.From == e.To {
		return fmt.Sprintf("bead %s is already in state %s", e.BeadID, e.To)
	}
	return fmt.Sprintf("bead %s cannot transition from %s to %s", e.BeadID, e.From, e.To)
}

// Lifecycle tracks the validated state of a single bead.
type Lifecycle struct {
	beadID bead.ID
	state  State
}

// New creates a lifecycle for the given bead starting in Pending.
func New(id bead.ID) *Lifecycle {
	return &Lifecycle{beadID: id, state: Pending}
}

// FromState rehydrates a lifecycle from a persisted state.
func FromState(id bead.ID, state State) *Lifecycle {
	return &Lifecycle{beadID: id, state: state}
}

// BeadID returns the bead this lifecycle tracks.
func (l *Lifecycle) BeadID() bead.ID { return l.beadID }

// State returns the current state.
func (l *Lifecycle) State() State { return l.state }

// TransitionTo moves the lifecycle to target if the adjacency table
// allows it. On success it mutates the state and returns the transition;
// on failure it returns a *TransitionError without mutating.
func (l *Lifecycle) TransitionTo(target State) (StateTransition, error) {
	from := l.state
	if from == target || !from.CanTransitionTo(target) {
		return StateTransition{}, &TransitionError{BeadID: l.beadID, From: from, To: target}
	}
	l.state = target
	return StateTransition{BeadID: l.beadID, From: from, To: target}, nil
}

// Schedule moves Pending -> Scheduled.
func (l *Lifecycle) Schedule() (StateTransition, error) { return l.TransitionTo(Scheduled) }

// MarkReady moves Scheduled -> Ready.
func (l *Lifecycle) MarkReady() (StateTransition, error) { return l.TransitionTo(Ready) }

// Start moves Ready -> Running.
func (l *Lifecycle) Start() (StateTransition, error) { return l.TransitionTo(Running) }

// Suspend moves Running -> Suspended.
func (l *Lifecycle) Suspend() (StateTransition, error) { return l.TransitionTo(Suspended) }

// Backoff moves Running -> BackingOff.
func (l *Lifecycle) Backoff() (StateTransition, error) { return l.TransitionTo(BackingOff) }

// Pause moves Running -> Paused.
func (l *Lifecycle) Pause() (StateTransition, error) { return l.TransitionTo(Paused) }

// Resume moves back to Running from any of Suspended, BackingOff, or
// Paused.
func (l *Lifecycle) Resume() (StateTransition, error) { return l.TransitionTo(Running) }

// Complete moves to the terminal Completed state.
func (l *Lifecycle) Complete() (StateTransition, error) { return l.TransitionTo(Completed) }
