package main

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"github.com/weftworks/weft/internal/lifecycle"
	"github.com/weftworks/weft/internal/projection"
)

// newStatusCmd creates the "weft status" subcommand.
func newStatusCmd(stdout, stderr io.Writer) *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show workspace status (beads, workflows, agents)",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if doStatus(verbose, stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "list every bead")
	return cmd
}

// doStatus rebuilds the projections from the event log and prints a
// summary. Recovery goes through the checkpoint path, so this doubles as
// a cheap end-to-end check that the log and latest checkpoint agree.
func doStatus(verbose bool, stdout, stderr io.Writer) int {
	ws, cfg, err := loadWorkspace()
	if err != nil {
		fmt.Fprintf(stderr, "weft status: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	eng, store, err := openEngine(ws, cfg, nil)
	if err != nil {
		fmt.Fprintf(stderr, "weft status: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	defer store.Close() //nolint:errcheck // best-effort cleanup

	beads := projection.NewBeadState()
	res, err := eng.Recover(beads)
	if err != nil {
		fmt.Fprintf(stderr, "weft status: recovering state: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	// Workflow and agent views fold the full log; they carry no snapshot.
	workflows := projection.NewWorkflowStatus()
	agents := projection.NewAgentHealth()
	records, err := eng.EventsSince(0)
	if err != nil {
		fmt.Fprintf(stderr, "weft status: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	for _, r := range records {
		workflows.Apply(r.Event)
		agents.Apply(r.Event)
	}

	fmt.Fprintf(stdout, "Workspace: %s\n", cfg.Workspace.Name) //nolint:errcheck // best-effort stdout
	if res.CheckpointID != "" {
		fmt.Fprintf(stdout, "Recovered from checkpoint %s (+%d events, seq %d)\n", //nolint:errcheck // best-effort stdout
			res.CheckpointID, res.EventsReplayed, res.FinalSequence)
	} else {
		fmt.Fprintf(stdout, "Replayed %d events (seq %d)\n", res.EventsReplayed, res.FinalSequence) //nolint:errcheck // best-effort stdout
	}

	running, pending, completed := beads.Counts()
	fmt.Fprintf(stdout, "\nBeads: %d running, %d pending, %d completed\n", running, pending, completed) //nolint:errcheck // best-effort stdout
	printReportTally(stdout, beads)
	if verbose {
		printBeadLines(stdout, beads)
	}

	wfCounts := workflows.Counts()
	if len(wfCounts) > 0 {
		fmt.Fprintf(stdout, "\nWorkflows:\n") //nolint:errcheck // best-effort stdout
		for _, st := range []projection.WorkflowStatus{
			projection.WorkflowPending, projection.WorkflowRunning,
			projection.WorkflowCompleted, projection.WorkflowFailed,
		} {
			if n := wfCounts[st]; n > 0 {
				fmt.Fprintf(stdout, "  %-10s %d\n", st, n) //nolint:errcheck // best-effort stdout
			}
		}
	}

	healthy := agents.Healthy(time.Now(), 2*time.Minute)
	sort.Strings(healthy)
	fmt.Fprintf(stdout, "\nAgents healthy: %d\n", len(healthy)) //nolint:errcheck // best-effort stdout
	for _, a := range healthy {
		fmt.Fprintf(stdout, "  %s\n", a) //nolint:errcheck // best-effort stdout
	}
	return 0
}

// reportOrder fixes the display order of the external status states.
var reportOrder = []lifecycle.ReportState{
	lifecycle.ReportPending,
	lifecycle.ReportScheduled,
	lifecycle.ReportRunning,
	lifecycle.ReportFailed,
	lifecycle.ReportCompleted,
	lifecycle.ReportCancelled,
}

// printReportTally prints bead counts grouped by external report state.
func printReportTally(stdout io.Writer, beads *projection.BeadStateProjection) {
	tally := make(map[lifecycle.ReportState]int)
	for _, s := range beads.Beads {
		tally[s.Report()]++
	}
	for _, rs := range reportOrder {
		if n := tally[rs]; n > 0 {
			fmt.Fprintf(stdout, "  %-10s %d\n", rs, n) //nolint:errcheck // best-effort stdout
		}
	}
}

// printBeadLines prints one line per bead, sorted by ID.
func printBeadLines(stdout io.Writer, beads *projection.BeadStateProjection) {
	snaps := make([]*projection.BeadSnapshot, 0, len(beads.Beads))
	for _, s := range beads.Beads {
		snaps = append(snaps, s)
	}
	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].BeadID.String() < snaps[j].BeadID.String()
	})
	for _, s := range snaps {
		line := fmt.Sprintf("  %s  %-10s %s", s.BeadID, s.Report(), s.Spec.Title)
		if s.RetryCount > 0 {
			line += fmt.Sprintf("  (retries: %d)", s.RetryCount)
		}
		fmt.Fprintln(stdout, line) //nolint:errcheck // best-effort stdout
	}
}
