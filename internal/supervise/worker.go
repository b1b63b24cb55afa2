package supervise

import (
	"context"
	"fmt"
	"time"

	"github.com/weftworks/weft/internal/bead"
	"github.com/weftworks/weft/internal/events"
	"github.com/weftworks/weft/internal/lifecycle"
)

// Recorder appends events to the durable log. *replay.Engine satisfies
// it.
type Recorder interface {
	RecordEvent(ev events.Event) (events.Record, error)
}

// Handler executes the work for one bead. It must honor ctx
// cancellation.
type Handler func(ctx context.Context, id bead.ID, spec bead.Spec) bead.Result

// Worker messages. Each message type drives one lifecycle edge.

// Start assigns a bead to the worker. From tells the worker which state
// the bead is resuming from; zero means a fresh Ready bead.
type Start struct {
	BeadID bead.ID
	Spec   bead.Spec
	From   lifecycle.State
}

// Fail reports an externally observed failure of the current bead.
type Fail struct {
	Err error
}

// CheckpointTick asks the worker to trigger a checkpoint.
type CheckpointTick struct{}

// StopWork cancels the current bead.
type StopWork struct {
	Reason string
}

type taskDone struct {
	beadID bead.ID
	result bead.Result
}

// Worker is the actor that runs beads. It owns the bead's lifecycle
// while the bead is assigned to it: every transition it makes is
// validated and recorded as an event before the next message is
// processed.
type Worker struct {
	id      string
	rec     Recorder
	handler Handler
	mailbox chan any

	// onCheckpoint handles CheckpointTick; nil ticks are ignored.
	onCheckpoint func() error

	lc         *lifecycle.Lifecycle
	spec       bead.Spec
	taskCancel context.CancelFunc
}

// NewWorker builds a worker actor. Send messages with Send; run the
// actor loop under a supervisor via Run.
func NewWorker(id string, rec Recorder, handler Handler, onCheckpoint func() error) *Worker {
	return &Worker{
		id:           id,
		rec:          rec,
		handler:      handler,
		mailbox:      make(chan any, 32),
		onCheckpoint: onCheckpoint,
	}
}

// ID returns the worker's name.
func (w *Worker) ID() string { return w.id }

// Send delivers a message to the worker's mailbox. It fails rather than
// blocks when the mailbox is full.
func (w *Worker) Send(msg any) error {
	select {
	case w.mailbox <- msg:
		return nil
	default:
		return fmt.Errorf("worker %s mailbox full", w.id)
	}
}

// Run is the actor loop; it satisfies ChildFunc. The worker processes
// one message at a time, so lifecycle transitions never race.
func (w *Worker) Run(ctx context.Context, ready func()) error {
	ready()
	done := make(chan taskDone, 1)
	for {
		select {
		case <-ctx.Done():
			w.cancelTask()
			return nil
		case msg := <-w.mailbox:
			if err := w.handle(ctx, msg, done); err != nil {
				return err
			}
		case td := <-done:
			if err := w.finishTask(td); err != nil {
				return err
			}
		}
	}
}

func (w *Worker) handle(ctx context.Context, msg any, done chan taskDone) error {
	switch m := msg.(type) {
	case Start:
		return w.startBead(ctx, m, done)
	case Fail:
		return w.failBead(m.Err)
	case CheckpointTick:
		if w.onCheckpoint != nil {
			if err := w.onCheckpoint(); err != nil {
				return fmt.Errorf("worker %s checkpoint: %w", w.id, err)
			}
		}
	case StopWork:
		return w.stopBead(m.Reason)
	default:
		return fmt.Errorf("worker %s: unknown message %T", w.id, msg)
	}
	return nil
}

// startBead claims the bead, transitions it to Running, and launches the
// handler.
func (w *Worker) startBead(ctx context.Context, m Start, done chan taskDone) error {
	if w.lc != nil && !w.lc.State().IsTerminal() {
		return fmt.Errorf("worker %s already running bead %s", w.id, w.lc.BeadID())
	}

	from := m.From
	if from == "" {
		from = lifecycle.Scheduled
	}
	lc := lifecycle.FromState(m.BeadID, from)

	// A fresh bead is claimed first; a resumed one goes straight back
	// to Running.
	if from == lifecycle.Scheduled {
		if _, err := lc.MarkReady(); err != nil {
			return err
		}
		if _, err := w.rec.RecordEvent(&events.BeadClaimed{BeadID: m.BeadID, WorkerID: w.id}); err != nil {
			return err
		}
	}
	if _, err := lc.TransitionTo(lifecycle.Running); err != nil {
		return err
	}
	if _, err := w.rec.RecordEvent(&events.BeadStarted{BeadID: m.BeadID, StartedAt: time.Now()}); err != nil {
		return err
	}

	w.lc = lc
	w.spec = m.Spec

	taskCtx, cancel := context.WithCancel(ctx)
	w.taskCancel = cancel
	go func() {
		defer cancel()
		res := w.handler(taskCtx, m.BeadID, m.Spec)
		select {
		case done <- taskDone{beadID: m.BeadID, result: res}:
		case <-ctx.Done():
		}
	}()
	return nil
}

// finishTask records the handler's outcome. Failures back the bead off
// instead of completing it so the reconciler can retry. A record error
// is fatal for the actor: the terminal state did not persist.
func (w *Worker) finishTask(td taskDone) error {
	if w.lc == nil || w.lc.BeadID() != td.beadID || w.lc.State() != lifecycle.Running {
		return nil
	}
	w.taskCancel = nil
	if td.result.Success || td.result.Cancelled {
		if _, err := w.lc.Complete(); err != nil {
			return err
		}
		if _, err := w.rec.RecordEvent(&events.BeadCompleted{
			BeadID:      td.beadID,
			Result:      td.result,
			CompletedAt: time.Now(),
		}); err != nil {
			return fmt.Errorf("worker %s recording completion of %s: %w", w.id, td.beadID, err)
		}
		return nil
	}
	if _, err := w.lc.Backoff(); err != nil {
		return err
	}
	// A backed-off bead leaves the worker; the reconciler reassigns it.
	w.lc = nil
	if _, err := w.rec.RecordEvent(&events.BeadFailed{
		BeadID:   td.beadID,
		Error:    td.result.Error,
		FailedAt: time.Now(),
	}); err != nil {
		return fmt.Errorf("worker %s recording failure of %s: %w", w.id, td.beadID, err)
	}
	return nil
}

// failBead handles an externally reported failure.
func (w *Worker) failBead(cause error) error {
	if w.lc == nil || w.lc.State() != lifecycle.Running {
		return nil
	}
	w.cancelTask()
	if _, err := w.lc.Backoff(); err != nil {
		return err
	}
	id := w.lc.BeadID()
	w.lc = nil
	if _, err := w.rec.RecordEvent(&events.BeadFailed{
		BeadID:   id,
		Error:    cause.Error(),
		FailedAt: time.Now(),
	}); err != nil {
		return fmt.Errorf("worker %s recording failure of %s: %w", w.id, id, err)
	}
	return nil
}

// stopBead cancels the current bead and records the cancellation.
func (w *Worker) stopBead(reason string) error {
	if w.lc == nil || w.lc.State().IsTerminal() {
		return nil
	}
	w.cancelTask()
	if _, err := w.lc.Complete(); err != nil {
		return err
	}
	if _, err := w.rec.RecordEvent(&events.BeadCancelled{BeadID: w.lc.BeadID(), Reason: reason}); err != nil {
		return fmt.Errorf("worker %s recording cancellation of %s: %w", w.id, w.lc.BeadID(), err)
	}
	return nil
}

func (w *Worker) cancelTask() {
	if w.taskCancel != nil {
		w.taskCancel()
		w.taskCancel = nil
	}
}
