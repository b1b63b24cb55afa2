package supervise

import (
	"errors"
	"sync"

	"github.com/weftworks/weft/internal/bead"
	"github.com/weftworks/weft/internal/lifecycle"
)

// ErrNoFreeWorker means every worker in the pool is busy.
var ErrNoFreeWorker = errors.New("no free worker")

// Pool routes beads across a fixed set of worker actors. The pool only
// tracks assignments; the workers themselves record lifecycle events.
// Callers release an assignment once the bead's folded state shows it
// left the worker (completed, backed off, or cancelled).
type Pool struct {
	mu      sync.Mutex
	workers []*Worker
	next    int
	busy    map[string]bead.ID // worker id -> assigned bead
	byBead  map[bead.ID]*Worker
}

// NewPool builds a pool over the given workers.
func NewPool(workers []*Worker) *Pool {
	return &Pool{
		workers: workers,
		busy:    make(map[string]bead.ID),
		byBead:  make(map[bead.ID]*Worker),
	}
}

// Assign hands a bead to a free worker. Assigning a bead that is
// already held is a no-op: the planner re-emits starts until the
// worker's events fold into the observed state.
func (p *Pool) Assign(id bead.ID, spec bead.Spec, from lifecycle.State) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.byBead[id]; ok {
		return nil
	}
	for range p.workers {
		w := p.workers[p.next]
		p.next = (p.next + 1) % len(p.workers)
		if _, taken := p.busy[w.ID()]; taken {
			continue
		}
		if err := w.Send(Start{BeadID: id, Spec: spec, From: from}); err != nil {
			return err
		}
		p.busy[w.ID()] = id
		p.byBead[id] = w
		return nil
	}
	return ErrNoFreeWorker
}

// StopBead cancels the bead on whichever worker holds it. It reports
// whether the bead was assigned at all.
func (p *Pool) StopBead(id bead.ID, reason string) (bool, error) {
	p.mu.Lock()
	w, ok := p.byBead[id]
	p.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, w.Send(StopWork{Reason: reason})
}

// Release forgets a bead's assignment, freeing its worker.
func (p *Pool) Release(id bead.ID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if w, ok := p.byBead[id]; ok {
		delete(p.busy, w.ID())
		delete(p.byBead, id)
	}
}

// ReleaseWorker forgets whatever bead a worker holds. A supervisor
// restart callback uses this: the replacement actor starts idle.
func (p *Pool) ReleaseWorker(workerID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if id, ok := p.busy[workerID]; ok {
		delete(p.busy, workerID)
		delete(p.byBead, id)
	}
}

// Assigned lists the beads currently held by workers.
func (p *Pool) Assigned() []bead.ID {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]bead.ID, 0, len(p.byBead))
	for id := range p.byBead {
		ids = append(ids, id)
	}
	return ids
}
