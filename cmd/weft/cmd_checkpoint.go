package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/weftworks/weft/internal/checkpoint"
	"github.com/weftworks/weft/internal/config"
	"github.com/weftworks/weft/internal/events"
	"github.com/weftworks/weft/internal/projection"
	"github.com/weftworks/weft/internal/replay"
	"github.com/weftworks/weft/internal/telemetry"
)

// newCheckpointCmd creates the "weft checkpoint" command group.
func newCheckpointCmd(stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Manage state checkpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(
		newCheckpointCreateCmd(stdout, stderr),
		newCheckpointShowCmd(stdout, stderr),
	)
	return cmd
}

func newCheckpointCreateCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Snapshot current state into a new checkpoint",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if doCheckpointCreate(stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
}

func doCheckpointCreate(stdout, stderr io.Writer) int {
	ws, cfg, err := loadWorkspace()
	if err != nil {
		fmt.Fprintf(stderr, "weft checkpoint create: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	eng, store, err := openEngine(ws, cfg, nil)
	if err != nil {
		fmt.Fprintf(stderr, "weft checkpoint create: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	defer store.Close() //nolint:errcheck // best-effort cleanup

	beads := projection.NewBeadState()
	if _, err := eng.Recover(beads); err != nil {
		fmt.Fprintf(stderr, "weft checkpoint create: recovering state: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	mgr, err := newCheckpointManager(ws, cfg, eng, beads)
	if err != nil {
		fmt.Fprintf(stderr, "weft checkpoint create: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	cp, err := mgr.Create()
	telemetry.RecordCheckpoint(context.Background(), checkpointID(cp), checkpointSeq(cp), err)
	if err != nil {
		fmt.Fprintf(stderr, "weft checkpoint create: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	// Record the checkpoint in the log so replay can see cadence.
	if _, err := eng.RecordEvent(&events.CheckpointCreated{
		CheckpointID:  cp.ID,
		EventSequence: cp.EventSequence,
	}); err != nil {
		fmt.Fprintf(stderr, "weft checkpoint create: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	fmt.Fprintf(stdout, "Checkpoint %s at seq %d\n", cp.ID, cp.EventSequence) //nolint:errcheck // best-effort stdout
	return 0
}

func newCheckpointShowCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the latest checkpoint",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if doCheckpointShow(stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
}

func doCheckpointShow(stdout, stderr io.Writer) int {
	ws, cfg, err := loadWorkspace()
	if err != nil {
		fmt.Fprintf(stderr, "weft checkpoint show: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	cps, err := checkpoint.NewFileStore(wsPath(ws, cfg.Checkpoint.Dir))
	if err != nil {
		fmt.Fprintf(stderr, "weft checkpoint show: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	cp, err := cps.Latest()
	if errors.Is(err, checkpoint.ErrNoCheckpoint) {
		fmt.Fprintln(stdout, "No checkpoints yet.") //nolint:errcheck // best-effort stdout
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "weft checkpoint show: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	fmt.Fprintf(stdout, "Checkpoint %s\n  sequence: %d\n  created:  %s\n  state:    %d bytes\n", //nolint:errcheck // best-effort stdout
		cp.ID, cp.EventSequence, cp.CreatedAt.Format("2006-01-02T15:04:05Z07:00"), len(cp.State))
	return 0
}

// newCheckpointManager builds a manager whose snapshots pair the bead
// projection with the engine's last recorded sequence.
func newCheckpointManager(
	ws string,
	cfg *config.Weft,
	eng *replay.Engine,
	beads *projection.BeadStateProjection,
) (*checkpoint.Manager, error) {
	cps, err := checkpoint.NewFileStore(wsPath(ws, cfg.Checkpoint.Dir))
	if err != nil {
		return nil, err
	}
	return checkpoint.NewManager(cps, eng.SnapshotFunc(beads), cfg.Checkpoint.Retention), nil
}

// checkpointID and checkpointSeq tolerate a nil checkpoint from a failed
// Create when recording telemetry.
func checkpointID(cp *checkpoint.Checkpoint) string {
	if cp == nil {
		return ""
	}
	return cp.ID
}

func checkpointSeq(cp *checkpoint.Checkpoint) uint64 {
	if cp == nil {
		return 0
	}
	return cp.EventSequence
}
