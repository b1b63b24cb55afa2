// Package projection provides pure folds of the event stream into
// queryable views. A projection holds no information that cannot be
// recovered by replaying the full event history; Reset followed by
// re-applying every event must always reproduce the same state.
package projection

import (
	"time"

	"github.com/weftworks/weft/internal/events"
)

// Projection builds a view of state from events. Events a given
// projection does not care about are no-ops.
type Projection interface {
	// Apply folds one event into the projection's state.
	Apply(e events.Event)

	// Reset returns the projection to its initial empty state.
	Reset()
}

// WorkflowStatus is the coarse status of a workflow.
type WorkflowStatus string

const (
	WorkflowPending   WorkflowStatus = "pending"
	WorkflowRunning   WorkflowStatus = "running"
	WorkflowCompleted WorkflowStatus = "completed"
	WorkflowFailed    WorkflowStatus = "failed"
)

// WorkflowStatusProjection tracks the status and DAG of each workflow.
type WorkflowStatusProjection struct {
	Statuses map[string]WorkflowStatus
	DAGs     map[string]string
}

// NewWorkflowStatus returns an empty workflow status projection.
func NewWorkflowStatus() *WorkflowStatusProjection {
	p := &WorkflowStatusProjection{}
	p.Reset()
	return p
}

// Apply folds one event into the workflow view.
func (p *WorkflowStatusProjection) Apply(e events.Event) {
	switch ev := e.(type) {
	case *events.WorkflowRegistered:
		p.Statuses[ev.WorkflowID] = WorkflowPending
		p.DAGs[ev.WorkflowID] = ev.DAG
	case *events.WorkflowUnregistered:
		delete(p.Statuses, ev.WorkflowID)
		delete(p.DAGs, ev.WorkflowID)
	case *events.WorkflowStatusChanged:
		switch WorkflowStatus(ev.Status) {
		case WorkflowPending, WorkflowRunning, WorkflowCompleted, WorkflowFailed:
			p.Statuses[ev.WorkflowID] = WorkflowStatus(ev.Status)
		}
	}
}

// Reset clears all tracked workflows.
func (p *WorkflowStatusProjection) Reset() {
	p.Statuses = make(map[string]WorkflowStatus)
	p.DAGs = make(map[string]string)
}

// Status returns a workflow's current status.
func (p *WorkflowStatusProjection) Status(workflowID string) (WorkflowStatus, bool) {
	s, ok := p.Statuses[workflowID]
	return s, ok
}

// Counts returns the number of workflows in each status.
func (p *WorkflowStatusProjection) Counts() map[WorkflowStatus]int {
	counts := make(map[WorkflowStatus]int)
	for _, s := range p.Statuses {
		counts[s]++
	}
	return counts
}

// AgentHealthProjection tracks agent registration, capabilities, and
// heartbeats.
type AgentHealthProjection struct {
	Registered     map[string]bool
	Capabilities   map[string][]string
	LastHeartbeats map[string]time.Time
}

// NewAgentHealth returns an empty agent health projection.
func NewAgentHealth() *AgentHealthProjection {
	p := &AgentHealthProjection{}
	p.Reset()
	return p
}

// Apply folds one event into the agent view.
func (p *AgentHealthProjection) Apply(e events.Event) {
	switch ev := e.(type) {
	case *events.AgentRegistered:
		p.Registered[ev.AgentID] = true
		p.Capabilities[ev.AgentID] = ev.Capabilities
	case *events.AgentUnregistered:
		delete(p.Registered, ev.AgentID)
		delete(p.Capabilities, ev.AgentID)
		delete(p.LastHeartbeats, ev.AgentID)
	case *events.AgentHeartbeat:
		p.LastHeartbeats[ev.AgentID] = ev.At
	}
}

// Reset clears all tracked agents.
func (p *AgentHealthProjection) Reset() {
	p.Registered = make(map[string]bool)
	p.Capabilities = make(map[string][]string)
	p.LastHeartbeats = make(map[string]time.Time)
}

// IsRegistered reports whether the agent is currently registered.
func (p *AgentHealthProjection) IsRegistered(agentID string) bool {
	return p.Registered[agentID]
}

// Healthy returns the agents whose last heartbeat is within the window,
// measured against now.
func (p *AgentHealthProjection) Healthy(now time.Time, within time.Duration) []string {
	var out []string
	for id := range p.Registered {
		if hb, ok := p.LastHeartbeats[id]; ok && now.Sub(hb) <= within {
			out = append(out, id)
		}
	}
	return out
}
