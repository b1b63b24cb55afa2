// Package events provides the append-only durable event history for the
// orchestrator. Events are the sole source of truth: every projection and
// every recovery path is a fold over the records in a Store.
//
// Sequence numbers are assigned by the store, strictly increasing and
// gap-free within a single log. They are the only ordering authority for
// replay; timestamps are informational.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/weftworks/weft/internal/bead"
)

// Event is one occurrence in the system. The set of implementations is
// closed; stores persist events by Kind and rehydrate them through the
// registry below.
type Event interface {
	// Kind returns the stable wire name of the event type.
	Kind() string
}

// Event kind constants.
const (
	KindWorkflowRegistered    = "workflow.registered"
	KindWorkflowUnregistered  = "workflow.unregistered"
	KindWorkflowStatusChanged = "workflow.status_changed"
	KindBeadCreated           = "bead.created"
	KindBeadScheduled         = "bead.scheduled"
	KindBeadClaimed           = "bead.claimed"
	KindBeadStarted           = "bead.started"
	KindBeadCompleted         = "bead.completed"
	KindBeadFailed            = "bead.failed"
	KindBeadCancelled         = "bead.cancelled"
	KindBeadDependenciesSet   = "bead.dependencies_set"
	KindAgentRegistered       = "agent.registered"
	KindAgentUnregistered     = "agent.unregistered"
	KindAgentHeartbeat        = "agent.heartbeat"
	KindCheckpointCreated     = "checkpoint.created"
)

// WorkflowRegistered announces a new workflow and its serialized DAG.
type WorkflowRegistered struct {
	WorkflowID string `json:"workflow_id"`
	Name       string `json:"name"`
	DAG        string `json:"dag,omitempty"`
}

func (WorkflowRegistered) Kind() string { return KindWorkflowRegistered }

// WorkflowUnregistered removes a workflow.
type WorkflowUnregistered struct {
	WorkflowID string `json:"workflow_id"`
}

func (WorkflowUnregistered) Kind() string { return KindWorkflowUnregistered }

// WorkflowStatusChanged records a workflow status transition.
type WorkflowStatusChanged struct {
	WorkflowID string `json:"workflow_id"`
	Status     string `json:"status"`
}

func (WorkflowStatusChanged) Kind() string { return KindWorkflowStatusChanged }

// BeadCreated records a bead entering the system with its spec.
type BeadCreated struct {
	BeadID bead.ID   `json:"bead_id"`
	Spec   bead.Spec `json:"spec"`
}

func (BeadCreated) Kind() string { return KindBeadCreated }

// BeadScheduled records a bead becoming eligible for claiming.
type BeadScheduled struct {
	BeadID     bead.ID `json:"bead_id"`
	WorkflowID string  `json:"workflow_id,omitempty"`
}

func (BeadScheduled) Kind() string { return KindBeadScheduled }

// BeadClaimed records a worker claiming a bead.
type BeadClaimed struct {
	BeadID   bead.ID `json:"bead_id"`
	WorkerID string  `json:"worker_id"`
}

func (BeadClaimed) Kind() string { return KindBeadClaimed }

// BeadStarted records execution beginning.
type BeadStarted struct {
	BeadID    bead.ID   `json:"bead_id"`
	StartedAt time.Time `json:"started_at"`
}

func (BeadStarted) Kind() string { return KindBeadStarted }

// BeadCompleted records a bead reaching its terminal state.
type BeadCompleted struct {
	BeadID      bead.ID     `json:"bead_id"`
	Result      bead.Result `json:"result"`
	CompletedAt time.Time   `json:"completed_at"`
}

func (BeadCompleted) Kind() string { return KindBeadCompleted }

// BeadFailed records an execution failure. The bead may still be retried;
// failure is not terminal until a BeadCompleted is recorded.
type BeadFailed struct {
	BeadID   bead.ID   `json:"bead_id"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}

func (BeadFailed) Kind() string { return KindBeadFailed }

// BeadCancelled records a cancellation with its reason.
type BeadCancelled struct {
	BeadID bead.ID `json:"bead_id"`
	Reason string  `json:"reason"`
}

func (BeadCancelled) Kind() string { return KindBeadCancelled }

// BeadDependenciesSet records the dependency list declared for a bead.
type BeadDependenciesSet struct {
	BeadID       bead.ID   `json:"bead_id"`
	Dependencies []bead.ID `json:"dependencies"`
}

func (BeadDependenciesSet) Kind() string { return KindBeadDependenciesSet }

// AgentRegistered announces an agent and its capabilities.
type AgentRegistered struct {
	AgentID      string   `json:"agent_id"`
	Capabilities []string `json:"capabilities,omitempty"`
}

func (AgentRegistered) Kind() string { return KindAgentRegistered }

// AgentUnregistered removes an agent.
type AgentUnregistered struct {
	AgentID string `json:"agent_id"`
}

func (AgentUnregistered) Kind() string { return KindAgentUnregistered }

// AgentHeartbeat records agent liveness.
type AgentHeartbeat struct {
	AgentID string    `json:"agent_id"`
	At      time.Time `json:"at"`
}

func (AgentHeartbeat) Kind() string { return KindAgentHeartbeat }

// CheckpointCreated records that a checkpoint was written at a sequence.
type CheckpointCreated struct {
	CheckpointID  string `json:"checkpoint_id"`
	EventSequence uint64 `json:"event_sequence"`
}

func (CheckpointCreated) Kind() string { return KindCheckpointCreated }

// registry maps event kinds to payload constructors for decoding.
var registry = map[string]func() Event{
	KindWorkflowRegistered:    func() Event { return &WorkflowRegistered{} },
	KindWorkflowUnregistered:  func() Event { return &WorkflowUnregistered{} },
	KindWorkflowStatusChanged: func() Event { return &WorkflowStatusChanged{} },
	KindBeadCreated:           func() Event { return &BeadCreated{} },
	KindBeadScheduled:         func() Event { return &BeadScheduled{} },
	KindBeadClaimed:           func() Event { return &BeadClaimed{} },
	KindBeadStarted:           func() Event { return &BeadStarted{} },
	KindBeadCompleted:         func() Event { return &BeadCompleted{} },
	KindBeadFailed:            func() Event { return &BeadFailed{} },
	KindBeadCancelled:         func() Event { return &BeadCancelled{} },
	KindBeadDependenciesSet:   func() Event { return &BeadDependenciesSet{} },
	KindAgentRegistered:       func() Event { return &AgentRegistered{} },
	KindAgentUnregistered:     func() Event { return &AgentUnregistered{} },
	KindAgentHeartbeat:        func() Event { return &AgentHeartbeat{} },
	KindCheckpointCreated:     func() Event { return &CheckpointCreated{} },
}

// Record is a persisted event: the event payload plus the identity and
// ordering the store assigned to it. Immutable once written.
type Record struct {
	ID        string    `json:"id"`
	Sequence  uint64    `json:"seq"`
	Timestamp time.Time `json:"ts"`
	Event     Event     `json:"-"`
}

// recordWire is the serialized form of a Record: the kind discriminator
// plus the raw payload.
type recordWire struct {
	ID        string          `json:"id"`
	Sequence  uint64          `json:"seq"`
	Kind      string          `json:"kind"`
	Timestamp time.Time       `json:"ts"`
	Event     json.RawMessage `json:"event"`
}

// MarshalJSON encodes the record with its kind discriminator.
func (r Record) MarshalJSON() ([]byte, error) {
	payload, err := json.Marshal(r.Event)
	if err != nil {
		return nil, fmt.Errorf("marshaling event payload: %w", err)
	}
	return json.Marshal(recordWire{
		ID:        r.ID,
		Sequence:  r.Sequence,
		Kind:      r.Event.Kind(),
		Timestamp: r.Timestamp,
		Event:     payload,
	})
}

// UnmarshalJSON decodes a record, rehydrating the payload via the kind
// registry.
func (r *Record) UnmarshalJSON(data []byte) error {
	var w recordWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	mk, ok := registry[w.Kind]
	if !ok {
		return fmt.Errorf("unknown event kind %q", w.Kind)
	}
	ev := mk()
	if err := json.Unmarshal(w.Event, ev); err != nil {
		return fmt.Errorf("unmarshaling %s payload: %w", w.Kind, err)
	}
	r.ID = w.ID
	r.Sequence = w.Sequence
	r.Timestamp = w.Timestamp
	r.Event = ev
	return nil
}
