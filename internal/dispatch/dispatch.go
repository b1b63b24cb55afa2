// Package dispatch routes beads onto work queues exactly once. A
// dispatched set guards against double-routing: a bead id is accepted
// the first time and rejected on every later attempt until cleared.
package dispatch

import (
	"errors"
	"fmt"
	"sync"

	"github.com/weftworks/weft/internal/bead"
)

// Strategy selects the queue a bead is routed to.
type Strategy string

const (
	// Fifo routes to the shared first-in-first-out queue.
	Fifo Strategy = "fifo"
	// Lifo routes to the shared last-in-first-out queue.
	Lifo Strategy = "lifo"
	// RoundRobin routes to a per-tenant queue and requires a tenant id.
	RoundRobin Strategy = "round_robin"
	// Priority routes to the priority queue.
	Priority Strategy = "priority"
)

// Valid reports whether s names a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case Fifo, Lifo, RoundRobin, Priority:
		return true
	}
	return false
}

// ErrAlreadyDispatched rejects a bead id that was dispatched before.
var ErrAlreadyDispatched = errors.New("bead already dispatched")

// ErrTenantRequired rejects round-robin dispatch without a tenant.
var ErrTenantRequired = errors.New("round_robin dispatch requires a tenant id")

// Result records where one bead was routed.
type Result struct {
	BeadID    bead.ID
	QueueName string
	TenantID  string
}

// BatchItem pairs a per-bead outcome inside a batch: exactly one of
// Result and Err is meaningful.
type BatchItem struct {
	BeadID bead.ID
	Result Result
	Err    error
}

// Stats is a point-in-time view of dispatcher activity.
type Stats struct {
	Dispatched uint64
	Rejected   uint64
	Pending    int
}

// Dispatcher assigns queue names and enforces exactly-once dispatch.
type Dispatcher struct {
	mu         sync.Mutex
	strategy   Strategy
	tenant     string
	dispatched map[bead.ID]string
	total      uint64
	rejected   uint64
}

// New builds a dispatcher. tenant may be empty except for RoundRobin,
// where it is the default tenant used when a dispatch names none.
func New(strategy Strategy, tenant string) (*Dispatcher, error) {
	if !strategy.Valid() {
		return nil, fmt.Errorf("unknown dispatch strategy %q", strategy)
	}
	return &Dispatcher{
		strategy:   strategy,
		tenant:     tenant,
		dispatched: make(map[bead.ID]string),
	}, nil
}

// QueueName resolves the queue for the configured strategy. RoundRobin
// queues are per tenant.
func (d *Dispatcher) QueueName(tenant string) (string, error) {
	switch d.strategy {
	case Fifo:
		return "fifo", nil
	case Lifo:
		return "lifo", nil
	case Priority:
		return "priority", nil
	case RoundRobin:
		if tenant == "" {
			tenant = d.tenant
		}
		if tenant == "" {
			return "", ErrTenantRequired
		}
		return "round-robin:" + tenant, nil
	}
	return "", fmt.Errorf("unknown dispatch strategy %q", d.strategy)
}

// Dispatch routes one bead. A second dispatch of the same id fails with
// ErrAlreadyDispatched and does not change any state.
func (d *Dispatcher) Dispatch(id bead.ID, tenant string) (Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dispatchLocked(id, tenant)
}

func (d *Dispatcher) dispatchLocked(id bead.ID, tenant string) (Result, error) {
	if queue, dup := d.dispatched[id]; dup {
		d.rejected++
		return Result{}, fmt.Errorf("%w: %s already on %s", ErrAlreadyDispatched, id, queue)
	}
	queue, err := d.QueueName(tenant)
	if err != nil {
		d.rejected++
		return Result{}, err
	}
	d.dispatched[id] = queue
	d.total++
	if tenant == "" {
		tenant = d.tenant
	}
	if d.strategy != RoundRobin {
		tenant = ""
	}
	return Result{BeadID: id, QueueName: queue, TenantID: tenant}, nil
}

// DispatchBatch routes each id independently: one duplicate or failure
// never blocks the rest of the batch. Items come back in input order.
func (d *Dispatcher) DispatchBatch(ids []bead.ID, tenant string) []BatchItem {
	d.mu.Lock()
	defer d.mu.Unlock()

	items := make([]BatchItem, 0, len(ids))
	for _, id := range ids {
		res, err := d.dispatchLocked(id, tenant)
		items = append(items, BatchItem{BeadID: id, Result: res, Err: err})
	}
	return items
}

// Dispatched reports whether id is currently in the dispatched set.
func (d *Dispatcher) Dispatched(id bead.ID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.dispatched[id]
	return ok
}

// ClearDispatched removes id from the dispatched set, allowing a
// re-dispatch. It reports whether the id was present.
func (d *Dispatcher) ClearDispatched(id bead.ID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.dispatched[id]
	delete(d.dispatched, id)
	return ok
}

// ResetDispatched empties the whole dispatched set, as after a queue
// drain or a replay from scratch. It returns how many ids were cleared.
func (d *Dispatcher) ResetDispatched() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.dispatched)
	d.dispatched = make(map[bead.ID]string)
	return n
}

// Stats returns dispatch counters and the size of the dispatched set.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{Dispatched: d.total, Rejected: d.rejected, Pending: len(d.dispatched)}
}
