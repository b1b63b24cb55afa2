package reconcile

import (
	"fmt"

	"github.com/weftworks/weft/internal/bead"
)

// Action is one corrective step the reconciler wants applied. Actions
// are values describing intent; the executor turns them into events.
type Action interface {
	BeadID() bead.ID
	Description() string
}

// CreateBead materializes a bead that is desired but unknown.
type CreateBead struct {
	ID   bead.ID
	Spec bead.Spec
}

func (a CreateBead) BeadID() bead.ID { return a.ID }
func (a CreateBead) Description() string {
	return fmt.Sprintf("create bead %s (%s)", a.ID, a.Spec.Title)
}

// ScheduleBead moves a pending bead onto the schedule.
type ScheduleBead struct {
	ID         bead.ID
	WorkflowID string
}

func (a ScheduleBead) BeadID() bead.ID     { return a.ID }
func (a ScheduleBead) Description() string { return fmt.Sprintf("schedule bead %s", a.ID) }

// StartBead starts a runnable bead. Spec rides along so an executor can
// hand the work to a worker without another lookup.
type StartBead struct {
	ID       bead.ID
	Spec     bead.Spec
	WorkerID string
}

func (a StartBead) BeadID() bead.ID     { return a.ID }
func (a StartBead) Description() string { return fmt.Sprintf("start bead %s", a.ID) }

// StopBead cancels a bead that should no longer run.
type StopBead struct {
	ID     bead.ID
	Reason string
}

func (a StopBead) BeadID() bead.ID { return a.ID }
func (a StopBead) Description() string {
	return fmt.Sprintf("stop bead %s: %s", a.ID, a.Reason)
}

// RetryBead reschedules a bead that is backing off after a failure.
type RetryBead struct {
	ID      bead.ID
	Spec    bead.Spec
	Attempt int
}

func (a RetryBead) BeadID() bead.ID { return a.ID }
func (a RetryBead) Description() string {
	return fmt.Sprintf("retry bead %s (attempt %d)", a.ID, a.Attempt)
}

// MarkComplete records a terminal result for a bead.
type MarkComplete struct {
	ID     bead.ID
	Result bead.Result
}

func (a MarkComplete) BeadID() bead.ID     { return a.ID }
func (a MarkComplete) Description() string { return fmt.Sprintf("complete bead %s", a.ID) }

// UpdateDependencies replaces a bead's dependency set.
type UpdateDependencies struct {
	ID           bead.ID
	Dependencies []bead.ID
}

func (a UpdateDependencies) BeadID() bead.ID { return a.ID }
func (a UpdateDependencies) Description() string {
	return fmt.Sprintf("update dependencies of bead %s (%d deps)", a.ID, len(a.Dependencies))
}

// DeleteBead cancels an orphan: a bead present in actual state but no
// longer desired.
type DeleteBead struct {
	ID bead.ID
}

func (a DeleteBead) BeadID() bead.ID     { return a.ID }
func (a DeleteBead) Description() string { return fmt.Sprintf("delete orphan bead %s", a.ID) }
