// Package bead defines the core identity and declaration types for units
// of work. A bead is a discrete unit of work tracked through the lifecycle;
// everything the orchestrator schedules, supervises, or replays is keyed by
// a BeadID.
package bead

import (
	"fmt"

	"github.com/google/uuid"
)

// ID is the opaque unique identifier for a bead. IDs are 128-bit,
// time-sortable (UUIDv7), assigned once at creation, and never mutated.
type ID = uuid.UUID

// NewID returns a fresh time-ordered bead ID. Falls back to a random
// UUIDv4 only if the system clock/entropy source misbehaves, which keeps
// ID assignment infallible for callers.
func NewID() ID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}

// ParseID parses a bead ID from its canonical string form.
func ParseID(s string) (ID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parsing bead id %q: %w", s, err)
	}
	return id, nil
}

// Complexity classifies how heavy a bead's work is expected to be.
// It feeds queue selection and concurrency budgeting, nothing more.
type Complexity string

const (
	Trivial  Complexity = "trivial"
	Simple   Complexity = "simple"
	Moderate Complexity = "moderate"
	Complex  Complexity = "complex"
)

// Spec is the immutable declaration of a unit of work. Specs are authored
// by whoever declares desired state and are never mutated after being
// placed into it.
type Spec struct {
	Title        string            `json:"title" toml:"title"`
	Complexity   Complexity        `json:"complexity,omitempty" toml:"complexity,omitempty"`
	Dependencies []ID              `json:"dependencies,omitempty" toml:"dependencies,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty" toml:"metadata,omitempty"`
}

// Result records the outcome of a bead's execution.
type Result struct {
	Success bool   `json:"success"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
	// Cancelled marks a completion that was forced by cancellation
	// rather than reached by the worker.
	Cancelled bool `json:"cancelled,omitempty"`
}
