// Package replay rebuilds projection state from the event log, starting
// from the latest checkpoint when one exists.
package replay

import (
	"context"
	"errors"
	"fmt"

	"github.com/weftworks/weft/internal/checkpoint"
	"github.com/weftworks/weft/internal/events"
	"github.com/weftworks/weft/internal/projection"
	"github.com/weftworks/weft/internal/telemetry"
)

// Restorable is a projection that can be captured into and restored from
// checkpoint bytes.
type Restorable interface {
	projection.Projection
	Snapshot() ([]byte, error)
	Restore(data []byte) error
}

// RecoveryResult describes one completed recovery pass.
type RecoveryResult struct {
	// CheckpointID is empty when recovery replayed the full log.
	CheckpointID   string
	EventsReplayed int
	FinalSequence  uint64
}

// Engine couples an event store with a checkpoint store. All writes go
// through RecordEvent so the log stays the single source of truth.
type Engine struct {
	store   events.Store
	cps     checkpoint.Store
	bus     *events.Bus
	lastSeq uint64
}

// NewEngine builds an engine over the given stores. bus may be nil when
// no live subscribers are needed, as in one-shot CLI commands.
func NewEngine(store events.Store, cps checkpoint.Store, bus *events.Bus) (*Engine, error) {
	seq, err := store.LatestSeq()
	if err != nil {
		return nil, fmt.Errorf("reading log head: %w", err)
	}
	return &Engine{store: store, cps: cps, bus: bus, lastSeq: seq}, nil
}

// RecordEvent appends e to the durable log and then fans it out to live
// subscribers. The record is returned after the append has committed.
func (e *Engine) RecordEvent(ev events.Event) (events.Record, error) {
	rec, err := e.store.Append(ev)
	telemetry.RecordEventAppend(context.Background(), ev.Kind(), rec.Sequence, err)
	if err != nil {
		return events.Record{}, fmt.Errorf("appending %s: %w", ev.Kind(), err)
	}
	e.lastSeq = rec.Sequence
	if e.bus != nil {
		e.bus.Publish(ev)
	}
	return rec, nil
}

// EventsSince returns all records with a sequence strictly greater than
// seq, in sequence order.
func (e *Engine) EventsSince(seq uint64) ([]events.Record, error) {
	return e.store.QuerySince(seq)
}

// LastSequence returns the sequence of the most recent append seen by
// this engine.
func (e *Engine) LastSequence() uint64 { return e.lastSeq }

// Recover resets p, restores the latest checkpoint if one exists, and
// replays every event past it. A missing checkpoint is not an error:
// recovery simply replays the full log.
func (e *Engine) Recover(p Restorable) (RecoveryResult, error) {
	p.Reset()

	var res RecoveryResult
	cp, err := e.cps.Latest()
	switch {
	case errors.Is(err, checkpoint.ErrNoCheckpoint):
		// Full replay from the start of the log.
	case err != nil:
		return res, fmt.Errorf("loading checkpoint: %w", err)
	default:
		if err := p.Restore(cp.State); err != nil {
			return res, fmt.Errorf("restoring checkpoint %s: %w", cp.ID, err)
		}
		res.CheckpointID = cp.ID
		res.FinalSequence = cp.EventSequence
	}

	records, err := e.store.QuerySince(res.FinalSequence)
	if err != nil {
		return res, fmt.Errorf("reading events after seq %d: %w", res.FinalSequence, err)
	}
	for _, rec := range records {
		p.Apply(rec.Event)
		res.FinalSequence = rec.Sequence
	}
	res.EventsReplayed = len(records)
	e.lastSeq = res.FinalSequence
	return res, nil
}

// SnapshotFunc adapts p into the checkpoint manager's snapshot callback,
// pairing the serialized projection with the engine's current sequence.
func (e *Engine) SnapshotFunc(p Restorable) checkpoint.SnapshotFunc {
	return func() (uint64, []byte, error) {
		state, err := p.Snapshot()
		if err != nil {
			return 0, nil, err
		}
		return e.lastSeq, state, nil
	}
}
