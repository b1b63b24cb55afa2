package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/weftworks/weft/internal/bead"
	"github.com/weftworks/weft/internal/events"
	"github.com/weftworks/weft/internal/reconcile"
	"github.com/weftworks/weft/internal/supervise"
)

// captureRecorder satisfies both the reconcile and supervise recorder
// interfaces.
type captureRecorder struct {
	mu  sync.Mutex
	seq uint64
	evs []events.Event
}

func (r *captureRecorder) RecordEvent(ev events.Event) (events.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	r.evs = append(r.evs, ev)
	return events.Record{Sequence: r.seq, Event: ev}, nil
}

func (r *captureRecorder) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.evs))
	for i, ev := range r.evs {
		out[i] = ev.Kind()
	}
	return out
}

func waitForKinds(t *testing.T, rec *captureRecorder, want ...string) {
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

func TestPoolExecutorRoutesStartsToWorkers(t *testing.T) {
	rec := &captureRecorder{}
	w := supervise.NewWorker("worker-0", rec, beadHandler, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx, func() {})

	x := poolExecutor{
		pool:  supervise.NewPool([]*supervise.Worker{w}),
		inner: reconcile.NewEventExecutor(rec),
	}

	id := bead.NewID()
	start := reconcile.StartBead{ID: id, Spec: bead.Spec{Title: "declaration only"}}
	if err := x.Execute(ctx, start); err != nil {
		t.Fatalf("Execute start: %v", err)
	}
	waitForKinds(t, rec, events.KindBeadClaimed, events.KindBeadStarted, events.KindBeadCompleted)
}

func TestPoolExecutorStopFallsThroughWhenUnassigned(t *testing.T) {
	rec := &captureRecorder{}
	x := poolExecutor{
		pool:  supervise.NewPool(nil),
		inner: reconcile.NewEventExecutor(rec),
	}

	stop := reconcile.StopBead{ID: bead.NewID(), Reason: "removed"}
	if err := x.Execute(context.Background(), stop); err != nil {
		t.Fatalf("Execute stop: %v", err)
	}
	if got := rec.kinds(); len(got) != 1 || got[0] != events.KindBeadCancelled {
		t.Errorf("kinds = %v, want one cancelled", got)
	}
}

func TestPoolExecutorPassesPlanningActionsThrough(t *testing.T) {
	rec := &captureRecorder{}
	x := poolExecutor{
		pool:  supervise.NewPool(nil),
		inner: reconcile.NewEventExecutor(rec),
	}

	id := bead.NewID()
	if err := x.Execute(context.Background(), reconcile.ScheduleBead{ID: id}); err != nil {
		t.Fatalf("Execute schedule: %v", err)
	}
	if got := rec.kinds(); len(got) != 1 || got[0] != events.KindBeadScheduled {
		t.Errorf("kinds = %v, want one scheduled", got)
	}
}

func TestBeadHandlerRunsExecMetadata(t *testing.T) {
	res := beadHandler(context.Background(), bead.NewID(), bead.Spec{
		Metadata: map[string]string{"exec": "echo woven"},
	})
	if !res.Success || res.Output != "woven" {
		t.Errorf("result = %+v", res)
	}

	res = beadHandler(context.Background(), bead.NewID(), bead.Spec{Title: "no command"})
	if !res.Success || res.Output != "" {
		t.Errorf("declaration-only result = %+v", res)
	}

	res = beadHandler(context.Background(), bead.NewID(), bead.Spec{
		Metadata: map[string]string{"exec": "exit 3"},
	})
	if res.Success || res.Error == "" {
		t.Errorf("failing command result = %+v", res)
	}
}
