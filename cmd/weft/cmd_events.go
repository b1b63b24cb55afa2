package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/weftworks/weft/internal/events"
)

// newEventsCmd creates the "weft events" subcommand for inspecting the log.
func newEventsCmd(stdout, stderr io.Writer) *cobra.Command {
	var since uint64
	var limit int
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List events from the durable log",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if doEvents(since, limit, asJSON, stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
	cmd.Flags().Uint64Var(&since, "since", 0, "only show events after this sequence number")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "show at most the last N matching events (0 = all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw JSON records")
	return cmd
}

func doEvents(since uint64, limit int, asJSON bool, stdout, stderr io.Writer) int {
	ws, cfg, err := loadWorkspace()
	if err != nil {
		fmt.Fprintf(stderr, "weft events: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	store, err := openEventStore(ws, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "weft events: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	defer store.Close() //nolint:errcheck // best-effort cleanup

	records, err := store.QuerySince(since)
	if err != nil {
		fmt.Fprintf(stderr, "weft events: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}

	for _, r := range records {
		if asJSON {
			data, err := json.Marshal(r)
			if err != nil {
				fmt.Fprintf(stderr, "weft events: %v\n", err) //nolint:errcheck // best-effort stderr
				return 1
			}
			fmt.Fprintln(stdout, string(data)) //nolint:errcheck // best-effort stdout
			continue
		}
		fmt.Fprintf(stdout, "%6d  %s  %s  %s\n", //nolint:errcheck // best-effort stdout
			r.Sequence, r.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
			r.Event.Kind(), summarizeEvent(r.Event))
	}
	return 0
}

// summarizeEvent renders a one-line human summary of an event payload.
func summarizeEvent(e events.Event) string {
	switch ev := e.(type) {
	case *events.BeadCreated:
		return fmt.Sprintf("bead %s %q", ev.BeadID, ev.Spec.Title)
	case *events.BeadScheduled:
		return fmt.Sprintf("bead %s", ev.BeadID)
	case *events.BeadClaimed:
		return fmt.Sprintf("bead %s by %s", ev.BeadID, ev.WorkerID)
	case *events.BeadStarted:
		return fmt.Sprintf("bead %s", ev.BeadID)
	case *events.BeadCompleted:
		if ev.Result.Success {
			return fmt.Sprintf("bead %s ok", ev.BeadID)
		}
		return fmt.Sprintf("bead %s failed", ev.BeadID)
	case *events.BeadFailed:
		return fmt.Sprintf("bead %s: %s", ev.BeadID, ev.Error)
	case *events.BeadCancelled:
		return fmt.Sprintf("bead %s: %s", ev.BeadID, ev.Reason)
	case *events.BeadDependenciesSet:
		return fmt.Sprintf("bead %s (%d deps)", ev.BeadID, len(ev.Dependencies))
	case *events.WorkflowRegistered:
		return fmt.Sprintf("workflow %s %q", ev.WorkflowID, ev.Name)
	case *events.WorkflowStatusChanged:
		return fmt.Sprintf("workflow %s -> %s", ev.WorkflowID, ev.Status)
	case *events.WorkflowUnregistered:
		return fmt.Sprintf("workflow %s", ev.WorkflowID)
	case *events.AgentRegistered:
		return fmt.Sprintf("agent %s", ev.AgentID)
	case *events.AgentHeartbeat:
		return fmt.Sprintf("agent %s", ev.AgentID)
	case *events.AgentUnregistered:
		return fmt.Sprintf("agent %s", ev.AgentID)
	case *events.CheckpointCreated:
		return fmt.Sprintf("checkpoint %s at seq %d", ev.CheckpointID, ev.EventSequence)
	default:
		return ""
	}
}
