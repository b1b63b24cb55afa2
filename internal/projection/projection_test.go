package projection

import (
	"testing"
	"time"

	"github.com/weftworks/weft/internal/bead"
	"github.com/weftworks/weft/internal/events"
	"github.com/weftworks/weft/internal/lifecycle"
)

func TestBeadStateLifecycleFold(t *testing.T) {
	p := NewBeadState()
	id := bead.NewID()

	stream := []events.Event{
		&events.BeadCreated{BeadID: id, Spec: bead.Spec{Title: "build"}},
		&events.BeadScheduled{BeadID: id, WorkflowID: "wf-1"},
		&events.BeadClaimed{BeadID: id, WorkerID: "worker-1"},
		&events.BeadStarted{BeadID: id, StartedAt: time.Now()},
		&events.BeadCompleted{BeadID: id, Result: bead.Result{Success: true}},
	}
	wantStates := []lifecycle.State{
		lifecycle.Pending, lifecycle.Scheduled, lifecycle.Ready,
		lifecycle.Running, lifecycle.Completed,
	}
	for i, e := range stream {
		p.Apply(e)
		if got := p.Beads[id].State; got != wantStates[i] {
			t.Errorf("after event %d: state = %s, want %s", i, got, wantStates[i])
		}
	}
	if p.Beads[id].WorkflowID != "wf-1" {
		t.Errorf("workflow = %q, want wf-1", p.Beads[id].WorkflowID)
	}
	if p.Beads[id].WorkerID != "worker-1" {
		t.Errorf("worker = %q, want worker-1", p.Beads[id].WorkerID)
	}
}

func TestBeadStateFailureIncrementsRetryCount(t *testing.T) {
	p := NewBeadState()
	id := bead.NewID()

	p.Apply(&events.BeadCreated{BeadID: id, Spec: bead.Spec{Title: "flaky"}})
	for i := 1; i <= 3; i++ {
		p.Apply(&events.BeadFailed{BeadID: id, Error: "boom", FailedAt: time.Now()})
		if p.Beads[id].RetryCount != i {
			t.Errorf("retry count = %d, want %d", p.Beads[id].RetryCount, i)
		}
		if p.Beads[id].State != lifecycle.BackingOff {
			t.Errorf("state = %s, want %s", p.Beads[id].State, lifecycle.BackingOff)
		}
	}
}

func TestBeadStateDependencyUnblocking(t *testing.T) {
	p := NewBeadState()
	dep := bead.NewID()
	dependent := bead.NewID()

	p.Apply(&events.BeadCreated{BeadID: dep, Spec: bead.Spec{Title: "dep"}})
	p.Apply(&events.BeadCreated{BeadID: dependent, Spec: bead.Spec{
		Title:        "dependent",
		Dependencies: []bead.ID{dep},
	}})

	if !p.Beads[dependent].Blocked() {
		t.Fatal("dependent should be blocked before dep completes")
	}

	p.Apply(&events.BeadCompleted{BeadID: dep, Result: bead.Result{Success: true}})
	if p.Beads[dependent].Blocked() {
		t.Errorf("dependent still blocked by %v after dep completed", p.Beads[dependent].BlockedBy)
	}
}

func TestBeadStateDependencyOnCompletedBead(t *testing.T) {
	p := NewBeadState()
	dep := bead.NewID()
	late := bead.NewID()

	p.Apply(&events.BeadCreated{BeadID: dep, Spec: bead.Spec{Title: "dep"}})
	p.Apply(&events.BeadCompleted{BeadID: dep, Result: bead.Result{Success: true}})
	p.Apply(&events.BeadCreated{BeadID: late, Spec: bead.Spec{
		Title:        "late",
		Dependencies: []bead.ID{dep},
	}})

	if p.Beads[late].Blocked() {
		t.Error("dependency on an already-completed bead should not block")
	}
}

func TestBeadStateReplayFromScratchMatches(t *testing.T) {
	a, b := bead.NewID(), bead.NewID()
	stream := []events.Event{
		&events.BeadCreated{BeadID: a, Spec: bead.Spec{Title: "a"}},
		&events.BeadCreated{BeadID: b, Spec: bead.Spec{Title: "b", Dependencies: []bead.ID{a}}},
		&events.BeadScheduled{BeadID: a},
		&events.BeadClaimed{BeadID: a, WorkerID: "w1"},
		&events.BeadStarted{BeadID: a, StartedAt: time.Now()},
		&events.BeadFailed{BeadID: a, Error: "x", FailedAt: time.Now()},
		&events.BeadStarted{BeadID: a, StartedAt: time.Now()},
		&events.BeadCompleted{BeadID: a, Result: bead.Result{Success: true}},
	}

	p := NewBeadState()
	for _, e := range stream {
		p.Apply(e)
	}

	// A reset projection replaying the same history must agree.
	q := NewBeadState()
	for _, e := range stream {
		q.Apply(e)
	}
	p.Reset()
	for _, e := range stream {
		p.Apply(e)
	}

	for id, want := range q.Beads {
		got, ok := p.Beads[id]
		if !ok {
			t.Fatalf("bead %s missing after reset+replay", id)
		}
		if got.State != want.State || got.RetryCount != want.RetryCount || got.Blocked() != want.Blocked() {
			t.Errorf("bead %s: reset+replay mismatch: %+v vs %+v", id, got, want)
		}
	}
}

func TestBeadStateCounts(t *testing.T) {
	p := NewBeadState()
	ids := make([]bead.ID, 4)
	for i := range ids {
		ids[i] = bead.NewID()
		p.Apply(&events.BeadCreated{BeadID: ids[i], Spec: bead.Spec{Title: "t"}})
	}
	p.Apply(&events.BeadScheduled{BeadID: ids[1]})
	p.Apply(&events.BeadScheduled{BeadID: ids[2]})
	p.Apply(&events.BeadClaimed{BeadID: ids[2], WorkerID: "w"})
	p.Apply(&events.BeadStarted{BeadID: ids[2], StartedAt: time.Now()})
	p.Apply(&events.BeadCompleted{BeadID: ids[3], Result: bead.Result{Success: true}})

	running, pending, completed := p.Counts()
	if running != 1 || pending != 1 || completed != 1 {
		t.Errorf("counts = %d/%d/%d, want 1/1/1", running, pending, completed)
	}
}

func TestBeadStateIgnoresUnrelatedEvents(t *testing.T) {
	p := NewBeadState()
	p.Apply(&events.AgentRegistered{AgentID: "a"})
	p.Apply(&events.WorkflowRegistered{WorkflowID: "wf"})
	if len(p.Beads) != 0 {
		t.Errorf("unrelated events created beads: %d", len(p.Beads))
	}
}

func TestWorkflowStatusProjection(t *testing.T) {
	p := NewWorkflowStatus()
	p.Apply(&events.WorkflowRegistered{WorkflowID: "wf-1", Name: "deploy", DAG: "{}"})

	if s, _ := p.Status("wf-1"); s != WorkflowPending {
		t.Errorf("status = %s, want %s", s, WorkflowPending)
	}

	p.Apply(&events.WorkflowStatusChanged{WorkflowID: "wf-1", Status: "running"})
	if s, _ := p.Status("wf-1"); s != WorkflowRunning {
		t.Errorf("status = %s, want %s", s, WorkflowRunning)
	}

	// Unknown status strings are ignored.
	p.Apply(&events.WorkflowStatusChanged{WorkflowID: "wf-1", Status: "exploded"})
	if s, _ := p.Status("wf-1"); s != WorkflowRunning {
		t.Errorf("status after bogus change = %s, want %s", s, WorkflowRunning)
	}

	p.Apply(&events.WorkflowUnregistered{WorkflowID: "wf-1"})
	if _, ok := p.Status("wf-1"); ok {
		t.Error("workflow still present after unregister")
	}
}

func TestAgentHealthProjection(t *testing.T) {
	p := NewAgentHealth()
	now := time.Now()

	p.Apply(&events.AgentRegistered{AgentID: "fresh", Capabilities: []string{"build"}})
	p.Apply(&events.AgentRegistered{AgentID: "stale"})
	p.Apply(&events.AgentHeartbeat{AgentID: "fresh", At: now.Add(-10 * time.Second)})
	p.Apply(&events.AgentHeartbeat{AgentID: "stale", At: now.Add(-10 * time.Minute)})

	healthy := p.Healthy(now, time.Minute)
	if len(healthy) != 1 || healthy[0] != "fresh" {
		t.Errorf("healthy = %v, want [fresh]", healthy)
	}

	p.Apply(&events.AgentUnregistered{AgentID: "fresh"})
	if p.IsRegistered("fresh") {
		t.Error("fresh still registered after unregister")
	}
	if len(p.Healthy(now, time.Minute)) != 0 {
		t.Error("unregistered agent reported healthy")
	}
}
