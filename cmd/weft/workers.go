package main

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/weftworks/weft/internal/bead"
	"github.com/weftworks/weft/internal/events"
	"github.com/weftworks/weft/internal/lifecycle"
	"github.com/weftworks/weft/internal/reconcile"
	"github.com/weftworks/weft/internal/replay"
	"github.com/weftworks/weft/internal/supervise"
)

// lockedRecorder serializes appends from the worker actors and the
// controller loops onto one engine. RecordEvent on the engine is not
// safe for concurrent use.
type lockedRecorder struct {
	mu  *sync.Mutex
	eng *replay.Engine
}

func (r lockedRecorder) RecordEvent(ev events.Event) (events.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.eng.RecordEvent(ev)
}

// beadHandler runs a bead's declared command. Beads carry their command
// in the "exec" metadata key; a bead without one is a pure declaration
// and completes immediately.
func beadHandler(ctx context.Context, id bead.ID, spec bead.Spec) bead.Result {
	cmdline := spec.Metadata["exec"]
	if cmdline == "" {
		return bead.Result{Success: true}
	}
	cmd := exec.CommandContext(ctx, "sh", "-c", cmdline)
	out, err := cmd.CombinedOutput()
	output := strings.TrimRight(string(out), "\n")
	if ctx.Err() != nil {
		return bead.Result{Cancelled: true, Output: output}
	}
	if err != nil {
		return bead.Result{Success: false, Output: output, Error: err.Error()}
	}
	return bead.Result{Success: true, Output: output}
}

// poolExecutor routes run and stop actions to the worker pool and
// everything else to the event executor. Workers record the lifecycle
// events themselves as the bead moves through them.
type poolExecutor struct {
	pool  *supervise.Pool
	inner reconcile.Executor
}

func (x poolExecutor) Execute(ctx context.Context, a reconcile.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	switch act := a.(type) {
	case reconcile.StartBead:
		if err := x.pool.Assign(act.ID, act.Spec, lifecycle.Scheduled); err != nil {
			return fmt.Errorf("%s: %w", a.Description(), err)
		}
		return nil
	case reconcile.RetryBead:
		if err := x.pool.Assign(act.ID, act.Spec, lifecycle.BackingOff); err != nil {
			return fmt.Errorf("%s: %w", a.Description(), err)
		}
		return nil
	case reconcile.StopBead:
		held, err := x.pool.StopBead(act.ID, act.Reason)
		if err != nil {
			return fmt.Errorf("%s: %w", a.Description(), err)
		}
		if held {
			return nil
		}
		// Not on a worker; cancel it in the log directly.
		return x.inner.Execute(ctx, a)
	default:
		return x.inner.Execute(ctx, a)
	}
}
