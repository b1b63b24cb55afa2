package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/weftworks/weft/internal/bead"
	"github.com/weftworks/weft/internal/checkpoint"
	"github.com/weftworks/weft/internal/events"
	"github.com/weftworks/weft/internal/lifecycle"
	"github.com/weftworks/weft/internal/projection"
	"github.com/weftworks/weft/internal/replay"
)

type harness struct {
	eng     *replay.Engine
	proj    *projection.BeadStateProjection
	desired *DesiredState
	rec     *Reconciler
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	eng, err := replay.NewEngine(events.NewMemStore(), checkpoint.NewMemStore(), nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	desired := NewDesiredState()
	return &harness{
		eng:     eng,
		proj:    projection.NewBeadState(),
		desired: desired,
		rec:     New(cfg, desired, NewEventExecutor(eng)),
	}
}

// refold rebuilds the projection from the log so the next pass sees the
// effect of the previous one.
func (h *harness) refold(t *testing.T) {
	t.Helper()
	if _, err := h.eng.Recover(h.proj); err != nil {
		t.Fatalf("Recover: %v", err)
	}
}

func (h *harness) pass(t *testing.T) Result {
	t.Helper()
	h.refold(t)
	return h.rec.Reconcile(context.Background(), h.proj)
}

func TestReconcileCreatesMissingBeads(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	a, b := bead.NewID(), bead.NewID()
	h.desired.AddBead(a, bead.Spec{Title: "a"})
	h.desired.AddBead(b, bead.Spec{Title: "b"})

	res := h.pass(t)
	if len(res.Taken) != 2 || res.Converged {
		t.Fatalf("taken=%d converged=%v, want 2 creates", len(res.Taken), res.Converged)
	}
	for _, act := range res.Taken {
		if _, ok := act.(CreateBead); !ok {
			t.Errorf("unexpected action %T: %s", act, act.Description())
		}
	}

	h.refold(t)
	if len(h.proj.Beads) != 2 {
		t.Errorf("projection has %d beads, want 2", len(h.proj.Beads))
	}
}

func TestReconcileDeletesOrphans(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	id := bead.NewID()
	h.desired.AddBead(id, bead.Spec{Title: "wanted"})
	h.pass(t)
	h.pass(t) // schedule

	h.desired.RemoveBead(id)
	res := h.pass(t)
	if len(res.Taken) != 1 {
		t.Fatalf("taken = %v, want one delete", res.Taken)
	}
	if _, ok := res.Taken[0].(DeleteBead); !ok {
		t.Fatalf("got %T, want DeleteBead", res.Taken[0])
	}

	h.refold(t)
	s := h.proj.Beads[id]
	if s.State != lifecycle.Completed || s.Result == nil || !s.Result.Cancelled {
		t.Errorf("orphan not cancelled: state=%s result=%+v", s.State, s.Result)
	}
}

func TestReconcileConvergesToSteadyState(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	id := bead.NewID()
	h.desired.AddBead(id, bead.Spec{Title: "job"})

	// create, then schedule, then start, then quiesce: the bead runs
	// until a worker reports its outcome.
	for i := 0; i < 3; i++ {
		if res := h.pass(t); res.Converged {
			t.Fatalf("pass %d converged early", i)
		}
	}
	res := h.pass(t)
	if !res.Converged {
		t.Errorf("not converged: taken=%v failed=%v", res.Taken, res.Failed)
	}

	h.refold(t)
	if h.proj.Beads[id].State != lifecycle.Running {
		t.Errorf("state = %s, want %s", h.proj.Beads[id].State, lifecycle.Running)
	}
}

func TestReconcileStartsUnblockedScheduled(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	id := bead.NewID()
	h.desired.AddBead(id, bead.Spec{Title: "job"})
	if _, err := h.eng.RecordEvent(&events.BeadCreated{BeadID: id, Spec: bead.Spec{Title: "job"}}); err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}
	if _, err := h.eng.RecordEvent(&events.BeadScheduled{BeadID: id}); err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}

	res := h.pass(t)
	if len(res.Taken) != 1 {
		t.Fatalf("taken = %v, want one start", res.Taken)
	}
	start, ok := res.Taken[0].(StartBead)
	if !ok {
		t.Fatalf("got %T, want StartBead", res.Taken[0])
	}
	if start.ID != id || start.Spec.Title != "job" {
		t.Errorf("start = %+v", start)
	}

	h.refold(t)
	if h.proj.Beads[id].State != lifecycle.Running {
		t.Errorf("state = %s, want %s", h.proj.Beads[id].State, lifecycle.Running)
	}
}

func TestReconcileLeavesBlockedScheduledAlone(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	dep, id := bead.NewID(), bead.NewID()
	h.desired.AddBead(dep, bead.Spec{Title: "dep"})
	h.desired.AddBead(id, bead.Spec{Title: "job", Dependencies: []bead.ID{dep}})
	if _, err := h.eng.RecordEvent(&events.BeadCreated{BeadID: dep, Spec: bead.Spec{Title: "dep"}}); err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}
	if _, err := h.eng.RecordEvent(&events.BeadCreated{BeadID: id, Spec: bead.Spec{Title: "job", Dependencies: []bead.ID{dep}}}); err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}
	if _, err := h.eng.RecordEvent(&events.BeadScheduled{BeadID: id}); err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}

	res := h.pass(t)
	for _, a := range res.Taken {
		if s, ok := a.(StartBead); ok && s.ID == id {
			t.Errorf("blocked scheduled bead was started: %v", res.Taken)
		}
	}
}

func TestReconcileAutoStartDisabledKeepsScheduled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AutoStart = false
	h := newHarness(t, cfg)
	id := bead.NewID()
	h.desired.AddBead(id, bead.Spec{Title: "job"})
	h.pass(t) // create
	h.pass(t) // schedule

	res := h.pass(t)
	if !res.Converged {
		t.Errorf("taken = %v, want nothing with AutoStart off", res.Taken)
	}
	h.refold(t)
	if h.proj.Beads[id].State != lifecycle.Scheduled {
		t.Errorf("state = %s, want %s", h.proj.Beads[id].State, lifecycle.Scheduled)
	}
}

func TestReconcileSchedulesOnlyUnblockedPending(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	dep, dependent := bead.NewID(), bead.NewID()
	h.desired.AddBead(dep, bead.Spec{Title: "dep"})
	h.desired.AddBead(dependent, bead.Spec{Title: "dependent", Dependencies: []bead.ID{dep}})

	h.pass(t) // creates both
	res := h.pass(t)
	if len(res.Taken) != 1 {
		t.Fatalf("taken = %v, want only dep scheduled", res.Taken)
	}
	if res.Taken[0].BeadID() != dep {
		t.Errorf("scheduled %s, want %s", res.Taken[0].BeadID(), dep)
	}

	// Completing the dependency unblocks the dependent.
	if _, err := h.eng.RecordEvent(&events.BeadCompleted{BeadID: dep, Result: bead.Result{Success: true}}); err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}
	h.desired.RemoveBead(dep)
	res = h.pass(t)
	if len(res.Taken) != 1 || res.Taken[0].BeadID() != dependent {
		t.Errorf("taken = %v, want dependent scheduled", res.Taken)
	}
}

func TestReconcileAutoStartRespectsConcurrencyCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrent = 2
	h := newHarness(t, cfg)

	ids := make([]bead.ID, 4)
	for i := range ids {
		ids[i] = bead.NewID()
		h.desired.AddBead(ids[i], bead.Spec{Title: "t"})
	}
	h.pass(t) // create
	h.pass(t) // schedule
	h.refold(t)
	for _, id := range ids {
		if _, err := h.eng.RecordEvent(&events.BeadClaimed{BeadID: id, WorkerID: "w"}); err != nil {
			t.Fatalf("RecordEvent: %v", err)
		}
	}

	res := h.pass(t)
	starts := 0
	for _, a := range res.Taken {
		if _, ok := a.(StartBead); ok {
			starts++
		}
	}
	if starts != 2 {
		t.Errorf("started %d, want 2 (cap)", starts)
	}

	h.refold(t)
	running, _, _ := h.proj.Counts()
	if running != 2 {
		t.Errorf("running = %d, want 2", running)
	}

	// No further starts while the cap is saturated.
	res = h.pass(t)
	for _, a := range res.Taken {
		if _, ok := a.(StartBead); ok {
			t.Errorf("started %s past the cap", a.BeadID())
		}
	}
}

func TestReconcileRetriesThenStops(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRetries = 2
	h := newHarness(t, cfg)
	id := bead.NewID()
	h.desired.AddBead(id, bead.Spec{Title: "flaky"})
	h.pass(t)

	fail := func() {
		if _, err := h.eng.RecordEvent(&events.BeadFailed{BeadID: id, Error: "boom", FailedAt: time.Now()}); err != nil {
			t.Fatalf("RecordEvent: %v", err)
		}
	}

	fail()
	res := h.pass(t)
	if len(res.Taken) != 1 {
		t.Fatalf("taken = %v", res.Taken)
	}
	if _, ok := res.Taken[0].(RetryBead); !ok {
		t.Fatalf("got %T, want RetryBead", res.Taken[0])
	}

	fail()
	res = h.pass(t)
	if len(res.Taken) != 1 {
		t.Fatalf("taken = %v", res.Taken)
	}
	if _, ok := res.Taken[0].(StopBead); !ok {
		t.Errorf("got %T after budget exhausted, want StopBead", res.Taken[0])
	}
}

func TestReconcileAutoRetryDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AutoRetry = false
	h := newHarness(t, cfg)
	id := bead.NewID()
	h.desired.AddBead(id, bead.Spec{Title: "manual"})
	h.pass(t)
	if _, err := h.eng.RecordEvent(&events.BeadFailed{BeadID: id, Error: "x", FailedAt: time.Now()}); err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}

	res := h.pass(t)
	if !res.Converged {
		t.Errorf("taken = %v, want nothing with AutoRetry off", res.Taken)
	}
}

func TestReconcileUpdatesChangedDependencies(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	dep, id := bead.NewID(), bead.NewID()
	h.desired.AddBead(dep, bead.Spec{Title: "dep"})
	h.desired.AddBead(id, bead.Spec{Title: "job"})
	h.pass(t)

	if !h.desired.SetDependencies(id, []bead.ID{dep}) {
		t.Fatal("SetDependencies returned false")
	}
	res := h.pass(t)
	var updated bool
	for _, a := range res.Taken {
		if u, ok := a.(UpdateDependencies); ok && u.ID == id {
			updated = true
		}
	}
	if !updated {
		t.Errorf("no UpdateDependencies in %v", res.Taken)
	}

	h.refold(t)
	if !h.proj.Beads[id].Blocked() {
		t.Error("bead not blocked after dependency update")
	}
}

type failingExecutor struct {
	inner Executor
	fail  bead.ID
}

func (f *failingExecutor) Execute(ctx context.Context, a Action) error {
	if a.BeadID() == f.fail {
		return errors.New("executor rejected action")
	}
	return f.inner.Execute(ctx, a)
}

func TestReconcileIsolatesActionFailures(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	good, bad := bead.NewID(), bead.NewID()
	h.desired.AddBead(good, bead.Spec{Title: "good"})
	h.desired.AddBead(bad, bead.Spec{Title: "bad"})
	h.rec = New(DefaultConfig(), h.desired, &failingExecutor{inner: NewEventExecutor(h.eng), fail: bad})

	res := h.pass(t)
	if len(res.Taken) != 1 || res.Taken[0].BeadID() != good {
		t.Errorf("taken = %v, want create for good bead only", res.Taken)
	}
	if len(res.Failed) != 1 || res.Failed[0].Action.BeadID() != bad {
		t.Errorf("failed = %v, want failure for bad bead", res.Failed)
	}
	if res.Converged {
		t.Error("pass with failures reported converged")
	}
}
