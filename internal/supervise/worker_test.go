package supervise

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/weftworks/weft/internal/bead"
	"github.com/weftworks/weft/internal/events"
	"github.com/weftworks/weft/internal/lifecycle"
)

// memRecorder captures recorded events in order. With fail set it
// rejects appends, all of them or just failKind.
type memRecorder struct {
	mu       sync.Mutex
	seq      uint64
	evs      []events.Event
	fail     error
	failKind string
}

func (r *memRecorder) RecordEvent(ev events.Event) (events.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil && (r.failKind == "" || ev.Kind() == r.failKind) {
		return events.Record{}, r.fail
	}
	r.seq++
	r.evs = append(r.evs, ev)
	return events.Record{Sequence: r.seq, Event: ev}, nil
}

func (r *memRecorder) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.evs))
	for i, ev := range r.evs {
		out[i] = ev.Kind()
	}
	return out
}

func runWorker(t *testing.T, w *Worker) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx, func() {})
	t.Cleanup(cancel)
	return cancel
}

func waitKinds(t *testing.T, rec *memRecorder, want ...string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got := rec.kinds()
		if len(got) >= len(want) {
			for i, k := range want {
				if got[i] != k {
					t.Fatalf("event %d = %s, want %s (all: %v)", i, got[i], k, got)
				}
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out; recorded %v, want %v", rec.kinds(), want)
}

func TestWorkerRunsBeadToCompletion(t *testing.T) {
	rec := &memRecorder{}
	w := NewWorker("w1", rec, func(ctx context.Context, id bead.ID, spec bead.Spec) bead.Result {
		return bead.Result{Success: true, Output: "done"}
	}, nil)
	runWorker(t, w)

	id := bead.NewID()
	if err := w.Send(Start{BeadID: id, Spec: bead.Spec{Title: "job"}}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	waitKinds(t, rec, events.KindBeadClaimed, events.KindBeadStarted, events.KindBeadCompleted)

	rec.mu.Lock()
	completed := rec.evs[2].(*events.BeadCompleted)
	rec.mu.Unlock()
	if completed.BeadID != id || !completed.Result.Success {
		t.Errorf("completed = %+v", completed)
	}
}

func TestWorkerFailureBacksOff(t *testing.T) {
	rec := &memRecorder{}
	w := NewWorker("w1", rec, func(ctx context.Context, id bead.ID, spec bead.Spec) bead.Result {
		return bead.Result{Success: false, Error: "handler blew up"}
	}, nil)
	runWorker(t, w)

	if err := w.Send(Start{BeadID: bead.NewID()}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	waitKinds(t, rec, events.KindBeadClaimed, events.KindBeadStarted, events.KindBeadFailed)

	rec.mu.Lock()
	failed := rec.evs[2].(*events.BeadFailed)
	rec.mu.Unlock()
	if failed.Error != "handler blew up" {
		t.Errorf("error = %q", failed.Error)
	}
}

func TestWorkerResumeSkipsClaim(t *testing.T) {
	rec := &memRecorder{}
	w := NewWorker("w1", rec, func(ctx context.Context, id bead.ID, spec bead.Spec) bead.Result {
		return bead.Result{Success: true}
	}, nil)
	runWorker(t, w)

	if err := w.Send(Start{BeadID: bead.NewID(), From: lifecycle.BackingOff}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	waitKinds(t, rec, events.KindBeadStarted, events.KindBeadCompleted)
}

func TestWorkerStopCancelsBead(t *testing.T) {
	rec := &memRecorder{}
	started := make(chan struct{})
	w := NewWorker("w1", rec, func(ctx context.Context, id bead.ID, spec bead.Spec) bead.Result {
		close(started)
		<-ctx.Done()
		return bead.Result{Success: false, Cancelled: true}
	}, nil)
	runWorker(t, w)

	id := bead.NewID()
	if err := w.Send(Start{BeadID: id}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	<-started
	if err := w.Send(StopWork{Reason: "operator request"}); err != nil {
		t.Fatalf("Send stop: %v", err)
	}
	waitKinds(t, rec, events.KindBeadClaimed, events.KindBeadStarted, events.KindBeadCancelled)

	rec.mu.Lock()
	cancelled := rec.evs[2].(*events.BeadCancelled)
	rec.mu.Unlock()
	if cancelled.BeadID != id || cancelled.Reason != "operator request" {
		t.Errorf("cancelled = %+v", cancelled)
	}
}

func TestWorkerExternalFailInterruptsTask(t *testing.T) {
	rec := &memRecorder{}
	started := make(chan struct{})
	w := NewWorker("w1", rec, func(ctx context.Context, id bead.ID, spec bead.Spec) bead.Result {
		close(started)
		<-ctx.Done()
		return bead.Result{}
	}, nil)
	runWorker(t, w)

	if err := w.Send(Start{BeadID: bead.NewID()}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	<-started
	if err := w.Send(Fail{Err: errors.New("agent heartbeat lost")}); err != nil {
		t.Fatalf("Send fail: %v", err)
	}
	waitKinds(t, rec, events.KindBeadClaimed, events.KindBeadStarted, events.KindBeadFailed)
}

func TestWorkerRejectsSecondBeadWhileBusy(t *testing.T) {
	rec := &memRecorder{}
	started := make(chan struct{})
	release := make(chan struct{})
	w := NewWorker("w1", rec, func(ctx context.Context, id bead.ID, spec bead.Spec) bead.Result {
		close(started)
		<-release
		return bead.Result{Success: true}
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- w.Run(ctx, func() {}) }()

	if err := w.Send(Start{BeadID: bead.NewID()}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	<-started
	if err := w.Send(Start{BeadID: bead.NewID()}); err != nil {
		t.Fatalf("Send second: %v", err)
	}

	// The loop treats a double assignment as a worker failure so the
	// supervisor can restart it.
	select {
	case err := <-errc:
		if err == nil {
			t.Error("Run returned nil, want busy error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not fail on double assignment")
	}
	close(release)
}

func TestWorkerCheckpointTick(t *testing.T) {
	var ticks int
	done := make(chan struct{})
	w := NewWorker("w1", &memRecorder{}, nil, func() error {
		ticks++
		close(done)
		return nil
	})
	runWorker(t, w)

	if err := w.Send(CheckpointTick{}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("checkpoint callback not invoked")
	}
	if ticks != 1 {
		t.Errorf("ticks = %d", ticks)
	}
}

func TestWorkerMailboxFull(t *testing.T) {
	w := NewWorker("w1", &memRecorder{}, nil, nil)
	// Not running: fill the mailbox.
	for i := 0; i < cap(w.mailbox); i++ {
		if err := w.Send(CheckpointTick{}); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}
	if err := w.Send(CheckpointTick{}); err == nil {
		t.Error("Send on full mailbox succeeded")
	}
}

func TestWorkerFailsWhenCompletionRecordFails(t *testing.T) {
	rec := &memRecorder{fail: errors.New("log unavailable"), failKind: events.KindBeadCompleted}
	w := NewWorker("w1", rec, func(ctx context.Context, id bead.ID, spec bead.Spec) bead.Result {
		return bead.Result{Success: true}
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- w.Run(ctx, func() {}) }()

	if err := w.Send(Start{BeadID: bead.NewID()}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	// The claim and start appends succeed; the lost completion must
	// surface as an actor failure, never vanish.
	select {
	case err := <-errc:
		if err == nil || !errors.Is(err, rec.fail) {
			t.Errorf("Run = %v, want wrapped record error", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not fail on a lost terminal append")
	}
	waitKinds(t, rec, events.KindBeadClaimed, events.KindBeadStarted)
}

func TestWorkerFreeAfterFailure(t *testing.T) {
	rec := &memRecorder{}
	var first sync.Once
	w := NewWorker("w1", rec, func(ctx context.Context, id bead.ID, spec bead.Spec) bead.Result {
		res := bead.Result{Success: true}
		first.Do(func() { res = bead.Result{Success: false, Error: "transient"} })
		return res
	}, nil)
	runWorker(t, w)

	if err := w.Send(Start{BeadID: bead.NewID()}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	waitKinds(t, rec, events.KindBeadClaimed, events.KindBeadStarted, events.KindBeadFailed)

	// The backed-off bead left the worker, so a new assignment lands.
	if err := w.Send(Start{BeadID: bead.NewID()}); err != nil {
		t.Fatalf("Send after failure: %v", err)
	}
	waitKinds(t, rec,
		events.KindBeadClaimed, events.KindBeadStarted, events.KindBeadFailed,
		events.KindBeadClaimed, events.KindBeadStarted, events.KindBeadCompleted)
}
