package projection

import (
	"encoding/json"

	"github.com/weftworks/weft/internal/bead"
	"github.com/weftworks/weft/internal/events"
	"github.com/weftworks/weft/internal/lifecycle"
)

// BeadSnapshot is the projected view of one bead: its canonical
// lifecycle state, what still blocks it, and its retry history.
type BeadSnapshot struct {
	BeadID     bead.ID
	Spec       bead.Spec
	State      lifecycle.State
	BlockedBy  []bead.ID
	RetryCount int
	Result     *bead.Result
	WorkflowID string
	WorkerID   string
}

// Blocked reports whether any dependency is still unsatisfied.
func (s *BeadSnapshot) Blocked() bool { return len(s.BlockedBy) > 0 }

// Report returns the six-state external reporting view for the snapshot.
func (s *BeadSnapshot) Report() lifecycle.ReportState {
	return lifecycle.Report(s.State, s.Result)
}

// BeadStateProjection folds bead events into per-bead snapshots plus
// aggregate counts. It is the source of the reconciler's ActualState.
type BeadStateProjection struct {
	Beads map[bead.ID]*BeadSnapshot

	// dependents is the reverse dependency index: completing a bead
	// unblocks the beads listed here.
	dependents map[bead.ID][]bead.ID
}

// NewBeadState returns an empty bead state projection.
func NewBeadState() *BeadStateProjection {
	p := &BeadStateProjection{}
	p.Reset()
	return p
}

// Reset clears all tracked beads.
func (p *BeadStateProjection) Reset() {
	p.Beads = make(map[bead.ID]*BeadSnapshot)
	p.dependents = make(map[bead.ID][]bead.ID)
}

// snapshot returns the tracked snapshot for id, creating one in Pending
// if the bead has not been seen before. Events can arrive for beads
// whose BeadCreated predates the replay horizon.
func (p *BeadStateProjection) snapshot(id bead.ID) *BeadSnapshot {
	s, ok := p.Beads[id]
	if !ok {
		s = &BeadSnapshot{BeadID: id, State: lifecycle.Pending}
		p.Beads[id] = s
	}
	return s
}

// Apply folds one event into the bead view.
func (p *BeadStateProjection) Apply(e events.Event) {
	switch ev := e.(type) {
	case *events.BeadCreated:
		s := p.snapshot(ev.BeadID)
		s.Spec = ev.Spec
		p.setDependencies(s, ev.Spec.Dependencies)
	case *events.BeadDependenciesSet:
		p.setDependencies(p.snapshot(ev.BeadID), ev.Dependencies)
	case *events.BeadScheduled:
		s := p.snapshot(ev.BeadID)
		s.State = lifecycle.Scheduled
		if ev.WorkflowID != "" {
			s.WorkflowID = ev.WorkflowID
		}
	case *events.BeadClaimed:
		s := p.snapshot(ev.BeadID)
		s.State = lifecycle.Ready
		s.WorkerID = ev.WorkerID
	case *events.BeadStarted:
		p.snapshot(ev.BeadID).State = lifecycle.Running
	case *events.BeadFailed:
		s := p.snapshot(ev.BeadID)
		s.State = lifecycle.BackingOff
		s.RetryCount++
		s.Result = &bead.Result{Success: false, Error: ev.Error}
	case *events.BeadCompleted:
		s := p.snapshot(ev.BeadID)
		s.State = lifecycle.Completed
		r := ev.Result
		s.Result = &r
		p.unblockDependents(ev.BeadID)
	case *events.BeadCancelled:
		s := p.snapshot(ev.BeadID)
		s.State = lifecycle.Completed
		s.Result = &bead.Result{Success: false, Cancelled: true, Error: ev.Reason}
		p.unblockDependents(ev.BeadID)
	}
}

// setDependencies records deps as blocking, except those already
// completed, and indexes the reverse edges.
func (p *BeadStateProjection) setDependencies(s *BeadSnapshot, deps []bead.ID) {
	s.BlockedBy = nil
	for _, dep := range deps {
		if d, ok := p.Beads[dep]; ok && d.State == lifecycle.Completed {
			continue
		}
		s.BlockedBy = append(s.BlockedBy, dep)
		p.dependents[dep] = append(p.dependents[dep], s.BeadID)
	}
}

// unblockDependents removes id from every dependent's BlockedBy list.
func (p *BeadStateProjection) unblockDependents(id bead.ID) {
	for _, depID := range p.dependents[id] {
		s, ok := p.Beads[depID]
		if !ok {
			continue
		}
		kept := s.BlockedBy[:0]
		for _, b := range s.BlockedBy {
			if b != id {
				kept = append(kept, b)
			}
		}
		s.BlockedBy = kept
	}
	delete(p.dependents, id)
}

// Snapshot serializes the projection for checkpointing.
func (p *BeadStateProjection) Snapshot() ([]byte, error) {
	return json.Marshal(p.Beads)
}

// Restore replaces the projection's contents with a serialized snapshot
// and rebuilds the reverse dependency index from the blocked edges.
func (p *BeadStateProjection) Restore(data []byte) error {
	beads := make(map[bead.ID]*BeadSnapshot)
	if err := json.Unmarshal(data, &beads); err != nil {
		return err
	}
	p.Reset()
	p.Beads = beads
	for _, s := range beads {
		for _, dep := range s.BlockedBy {
			p.dependents[dep] = append(p.dependents[dep], s.BeadID)
		}
	}
	return nil
}

// InState returns the snapshots currently in the given state.
func (p *BeadStateProjection) InState(state lifecycle.State) []*BeadSnapshot {
	var out []*BeadSnapshot
	for _, s := range p.Beads {
		if s.State == state {
			out = append(out, s)
		}
	}
	return out
}

// ReadyToRun returns scheduled beads with no unsatisfied dependencies.
func (p *BeadStateProjection) ReadyToRun() []*BeadSnapshot {
	var out []*BeadSnapshot
	for _, s := range p.Beads {
		if s.State == lifecycle.Scheduled && !s.Blocked() {
			out = append(out, s)
		}
	}
	return out
}

// Counts returns the aggregate running/pending/completed totals.
func (p *BeadStateProjection) Counts() (running, pending, completed int) {
	for _, s := range p.Beads {
		switch s.State {
		case lifecycle.Running:
			running++
		case lifecycle.Pending:
			pending++
		case lifecycle.Completed:
			completed++
		}
	}
	return running, pending, completed
}
