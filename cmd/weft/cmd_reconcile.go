package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/weftworks/weft/internal/config"
	"github.com/weftworks/weft/internal/fsys"
	"github.com/weftworks/weft/internal/projection"
	"github.com/weftworks/weft/internal/reconcile"
	"github.com/weftworks/weft/internal/replay"
	"github.com/weftworks/weft/internal/telemetry"
)

// newReconcileCmd creates the "weft reconcile" subcommand: a single
// reconciliation pass against the declared bead set.
func newReconcileCmd(stdout, stderr io.Writer) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation pass (desired vs. actual)",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if doReconcile(dryRun, stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the plan without recording events")
	return cmd
}

// reconcileConfig maps the loop tuning from weft.toml onto the planner.
func reconcileConfig(cfg *config.Weft) reconcile.Config {
	return reconcile.Config{
		MaxConcurrent: cfg.Reconcile.MaxConcurrent,
		AutoStart:     cfg.AutoStart(),
		AutoRetry:     cfg.AutoRetry(),
		MaxRetries:    cfg.Reconcile.MaxRetries,
	}
}

func doReconcile(dryRun bool, stdout, stderr io.Writer) int {
	ws, cfg, err := loadWorkspace()
	if err != nil {
		fmt.Fprintf(stderr, "weft reconcile: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	desired, err := loadDesired(fsys.OSFS{}, desiredPath(ws, cfg))
	if err != nil {
		fmt.Fprintf(stderr, "weft reconcile: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	eng, store, err := openEngine(ws, cfg, nil)
	if err != nil {
		fmt.Fprintf(stderr, "weft reconcile: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	defer store.Close() //nolint:errcheck // best-effort cleanup

	actual := projection.NewBeadState()
	if _, err := eng.Recover(actual); err != nil {
		fmt.Fprintf(stderr, "weft reconcile: recovering state: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	r := reconcile.New(reconcileConfig(cfg), desired, reconcile.NewEventExecutor(eng))
	if dryRun {
		plan := r.Plan(actual)
		if len(plan) == 0 {
			fmt.Fprintln(stdout, "Converged: nothing to do.") //nolint:errcheck // best-effort stdout
			return 0
		}
		for _, a := range plan {
			fmt.Fprintf(stdout, "would %s\n", a.Description()) //nolint:errcheck // best-effort stdout
		}
		return 0
	}

	return runReconcilePass(context.Background(), r, actual, stdout, stderr)
}

// runReconcilePass executes one pass and prints its outcome. Shared by
// the one-shot command and the controller loop.
func runReconcilePass(
	ctx context.Context,
	r *reconcile.Reconciler,
	actual *projection.BeadStateProjection,
	stdout, stderr io.Writer,
) int {
	start := time.Now()
	res := r.Reconcile(ctx, actual)
	telemetry.RecordReconcileCycle(ctx, len(res.Taken), len(res.Failed), res.Converged,
		float64(time.Since(start).Milliseconds()))

	for _, a := range res.Taken {
		fmt.Fprintf(stdout, "%s\n", a.Description()) //nolint:errcheck // best-effort stdout
	}
	for _, f := range res.Failed {
		fmt.Fprintf(stderr, "weft reconcile: %s: %v\n", f.Action.Description(), f.Err) //nolint:errcheck // best-effort stderr
	}
	if res.Converged {
		fmt.Fprintln(stdout, "Converged.") //nolint:errcheck // best-effort stdout
	}
	if len(res.Failed) > 0 {
		return 1
	}
	return 0
}

// refoldBeadState rebuilds the bead projection between controller ticks.
func refoldBeadState(eng *replay.Engine) (*projection.BeadStateProjection, error) {
	p := projection.NewBeadState()
	if _, err := eng.Recover(p); err != nil {
		return nil, err
	}
	return p, nil
}
