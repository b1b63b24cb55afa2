// Package eventstest provides a conformance suite run against every
// events.Store implementation so behavior stays identical across the
// file, memory, and SQL providers.
package eventstest

import (
	"testing"
	"time"

	"github.com/weftworks/weft/internal/bead"
	"github.com/weftworks/weft/internal/events"
)

// RunStoreTests exercises the Store contract: monotonic gap-free
// sequences, QuerySince semantics, and payload round-tripping.
func RunStoreTests(t *testing.T, factory func() events.Store) {
	t.Helper()

	t.Run("SequencesAreGapFree", func(t *testing.T) {
		s := factory()
		defer s.Close() //nolint:errcheck // test cleanup

		for i := 1; i <= 5; i++ {
			rec, err := s.Append(&events.AgentHeartbeat{AgentID: "agent-1", At: time.Now().UTC()})
			if err != nil {
				t.Fatalf("Append: %v", err)
			}
			if rec.Sequence != uint64(i) {
				t.Errorf("sequence = %d, want %d", rec.Sequence, i)
			}
			if rec.ID == "" {
				t.Error("record ID is empty")
			}
		}
	})

	t.Run("QuerySinceOrdering", func(t *testing.T) {
		s := factory()
		defer s.Close() //nolint:errcheck // test cleanup

		ids := make([]bead.ID, 4)
		for i := range ids {
			ids[i] = bead.NewID()
			if _, err := s.Append(&events.BeadCreated{BeadID: ids[i], Spec: bead.Spec{Title: "t"}}); err != nil {
				t.Fatalf("Append: %v", err)
			}
		}

		recs, err := s.QuerySince(2)
		if err != nil {
			t.Fatalf("QuerySince: %v", err)
		}
		if len(recs) != 2 {
			t.Fatalf("len(recs) = %d, want 2", len(recs))
		}
		if recs[0].Sequence != 3 || recs[1].Sequence != 4 {
			t.Errorf("sequences = %d, %d, want 3, 4", recs[0].Sequence, recs[1].Sequence)
		}
		got, ok := recs[0].Event.(*events.BeadCreated)
		if !ok {
			t.Fatalf("event type = %T, want *BeadCreated", recs[0].Event)
		}
		if got.BeadID != ids[2] {
			t.Errorf("bead id = %s, want %s", got.BeadID, ids[2])
		}
	})

	t.Run("QuerySinceZeroReturnsAll", func(t *testing.T) {
		s := factory()
		defer s.Close() //nolint:errcheck // test cleanup

		if _, err := s.Append(&events.AgentRegistered{AgentID: "a", Capabilities: []string{"build"}}); err != nil {
			t.Fatalf("Append: %v", err)
		}
		recs, err := s.QuerySince(0)
		if err != nil {
			t.Fatalf("QuerySince(0): %v", err)
		}
		if len(recs) != 1 {
			t.Fatalf("len(recs) = %d, want 1", len(recs))
		}
		ar, ok := recs[0].Event.(*events.AgentRegistered)
		if !ok {
			t.Fatalf("event type = %T, want *AgentRegistered", recs[0].Event)
		}
		if len(ar.Capabilities) != 1 || ar.Capabilities[0] != "build" {
			t.Errorf("capabilities = %v, want [build]", ar.Capabilities)
		}
	})

	t.Run("LatestSeq", func(t *testing.T) {
		s := factory()
		defer s.Close() //nolint:errcheck // test cleanup

		seq, err := s.LatestSeq()
		if err != nil {
			t.Fatalf("LatestSeq: %v", err)
		}
		if seq != 0 {
			t.Errorf("empty store LatestSeq = %d, want 0", seq)
		}
		for i := 0; i < 3; i++ {
			if _, err := s.Append(&events.AgentHeartbeat{AgentID: "a", At: time.Now().UTC()}); err != nil {
				t.Fatalf("Append: %v", err)
			}
		}
		seq, err = s.LatestSeq()
		if err != nil {
			t.Fatalf("LatestSeq: %v", err)
		}
		if seq != 3 {
			t.Errorf("LatestSeq = %d, want 3", seq)
		}
	})

	t.Run("EmptyQueryIsNotError", func(t *testing.T) {
		s := factory()
		defer s.Close() //nolint:errcheck // test cleanup

		recs, err := s.QuerySince(100)
		if err != nil {
			t.Fatalf("QuerySince on empty store: %v", err)
		}
		if len(recs) != 0 {
			t.Errorf("len(recs) = %d, want 0", len(recs))
		}
	})
}
