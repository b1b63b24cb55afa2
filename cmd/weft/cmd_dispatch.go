package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/weftworks/weft/internal/bead"
	"github.com/weftworks/weft/internal/dispatch"
	"github.com/weftworks/weft/internal/idempotency"
	"github.com/weftworks/weft/internal/telemetry"
)

const dispatchIdemFile = "dispatch.idem"

// newDispatchCmd creates the "weft dispatch" subcommand: routes bead IDs
// to queues under the configured strategy.
func newDispatchCmd(stdout, stderr io.Writer) *cobra.Command {
	var tenant string
	cmd := &cobra.Command{
		Use:   "dispatch <bead-id>...",
		Short: "Route beads to work queues",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if doDispatch(args, tenant, stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant for round_robin routing")
	return cmd
}

func doDispatch(args []string, tenant string, stdout, stderr io.Writer) int {
	ws, cfg, err := loadWorkspace()
	if err != nil {
		fmt.Fprintf(stderr, "weft dispatch: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	ids, err := parseBeadIDs(args)
	if err != nil {
		fmt.Fprintf(stderr, "weft dispatch: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	d, err := dispatch.New(dispatch.Strategy(cfg.Dispatch.Strategy), cfg.Dispatch.Tenant)
	if err != nil {
		fmt.Fprintf(stderr, "weft dispatch: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	// Routing results persist under the state dir so a re-run of the
	// same dispatch returns the recorded queue instead of routing twice.
	idemPath := filepath.Join(wsPath(ws, cfg.Workspace.StateDir), dispatchIdemFile)
	store, err := idempotency.NewFileStore(idemPath)
	if err != nil {
		fmt.Fprintf(stderr, "weft dispatch: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	exec := idempotency.NewExecutor(idempotency.NewMemCache(), store)

	ctx := context.Background()
	code := 0
	for _, id := range ids {
		queue, dup, err := dispatchOnce(ctx, exec, d, id, tenant)
		telemetry.RecordDispatch(ctx, queue, err)
		switch {
		case err != nil:
			fmt.Fprintf(stderr, "weft dispatch: %s: %v\n", id, err) //nolint:errcheck // best-effort stderr
			code = 1
		case dup:
			fmt.Fprintf(stdout, "%s -> %s (already dispatched)\n", id, queue) //nolint:errcheck // best-effort stdout
		default:
			fmt.Fprintf(stdout, "%s -> %s\n", id, queue) //nolint:errcheck // best-effort stdout
		}
	}
	return code
}

// dispatchOnce routes id under an idempotency key of bead and tenant.
// A repeat of the same dispatch reports dup with the queue recorded the
// first time.
func dispatchOnce(ctx context.Context, exec *idempotency.Executor, d *dispatch.Dispatcher, id bead.ID, tenant string) (queue string, dup bool, err error) {
	type dispatchInput struct {
		BeadID string
		Tenant string
	}
	key, err := idempotency.KeyFor("dispatch", dispatchInput{BeadID: id.String(), Tenant: tenant})
	if err != nil {
		return "", false, err
	}

	data, err := exec.ExecuteKeyed(ctx, key, func(context.Context) (any, error) {
		res, err := d.Dispatch(id, tenant)
		if err != nil {
			return nil, err
		}
		return res.QueueName, nil
	})

	var dupErr *idempotency.DuplicateExecution
	if errors.As(err, &dupErr) {
		dup = true
	} else if err != nil {
		var ie *idempotency.Error
		if errors.As(err, &ie) && ie.Kind == idempotency.ExecutionFailed {
			return "", false, ie.Err
		}
		return "", false, err
	}
	if derr := idempotency.Decode(data, &queue); derr != nil {
		return "", dup, derr
	}
	return queue, dup, nil
}
