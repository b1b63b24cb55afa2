package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/weftworks/weft/internal/events"
)

// Recorder appends an event to the durable log. *replay.Engine
// satisfies it.
type Recorder interface {
	RecordEvent(ev events.Event) (events.Record, error)
}

// EventExecutor realizes actions by appending the corresponding events.
// The projection picks them up on the next fold, so the following pass
// sees the corrected state.
type EventExecutor struct {
	rec Recorder
	now func() time.Time
}

func NewEventExecutor(rec Recorder) *EventExecutor {
	return &EventExecutor{rec: rec, now: time.Now}
}

func (x *EventExecutor) Execute(ctx context.Context, a Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var ev events.Event
	switch act := a.(type) {
	case CreateBead:
		ev = &events.BeadCreated{BeadID: act.ID, Spec: act.Spec}
	case ScheduleBead:
		ev = &events.BeadScheduled{BeadID: act.ID, WorkflowID: act.WorkflowID}
	case StartBead:
		ev = &events.BeadStarted{BeadID: act.ID, StartedAt: x.now()}
	case StopBead:
		ev = &events.BeadCancelled{BeadID: act.ID, Reason: act.Reason}
	case RetryBead:
		ev = &events.BeadStarted{BeadID: act.ID, StartedAt: x.now()}
	case MarkComplete:
		ev = &events.BeadCompleted{BeadID: act.ID, Result: act.Result, CompletedAt: x.now()}
	case UpdateDependencies:
		ev = &events.BeadDependenciesSet{BeadID: act.ID, Dependencies: act.Dependencies}
	case DeleteBead:
		ev = &events.BeadCancelled{BeadID: act.ID, Reason: "removed from desired state"}
	default:
		return fmt.Errorf("unknown action %T", a)
	}
	if _, err := x.rec.RecordEvent(ev); err != nil {
		return fmt.Errorf("%s: %w", a.Description(), err)
	}
	return nil
}
