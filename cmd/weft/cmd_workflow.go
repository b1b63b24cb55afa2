package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"
	"github.com/google/uuid"
	"github.com/weftworks/weft/internal/events"
	"github.com/weftworks/weft/internal/projection"
)

// newWorkflowCmd creates the "weft workflow" command group.
func newWorkflowCmd(stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Register and track workflows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(
		newWorkflowRegisterCmd(stdout, stderr),
		newWorkflowStatusCmd(stdout, stderr),
		newWorkflowListCmd(stdout, stderr),
		newWorkflowUnregisterCmd(stdout, stderr),
	)
	return cmd
}

func newWorkflowRegisterCmd(stdout, stderr io.Writer) *cobra.Command {
	var dag string
	cmd := &cobra.Command{
		Use:   "register <name>",
		Short: "Register a new workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if doWorkflowRegister(args[0], dag, stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dag, "dag", "", "serialized DAG definition")
	return cmd
}

func doWorkflowRegister(name, dag string, stdout, stderr io.Writer) int {
	eng, store, code := openWorkspaceEngine("weft workflow register", stderr)
	if code != 0 {
		return code
	}
	defer store.Close() //nolint:errcheck // best-effort cleanup

	id := uuid.NewString()
	if _, err := eng.RecordEvent(&events.WorkflowRegistered{
		WorkflowID: id,
		Name:       name,
		DAG:        dag,
	}); err != nil {
		fmt.Fprintf(stderr, "weft workflow register: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	fmt.Fprintf(stdout, "Registered workflow %s (%s)\n", name, id) //nolint:errcheck // best-effort stdout
	return 0
}

func newWorkflowStatusCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "status <id> <status>",
		Short: "Set a workflow's status (pending, running, completed, failed)",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			if doWorkflowStatus(args[0], args[1], stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
}

func doWorkflowStatus(id, status string, stdout, stderr io.Writer) int {
	switch projection.WorkflowStatus(status) {
	case projection.WorkflowPending, projection.WorkflowRunning,
		projection.WorkflowCompleted, projection.WorkflowFailed:
	default:
		fmt.Fprintf(stderr, "weft workflow status: unknown status %q\n", status) //nolint:errcheck // best-effort stderr
		return 1
	}

	eng, store, code := openWorkspaceEngine("weft workflow status", stderr)
	if code != 0 {
		return code
	}
	defer store.Close() //nolint:errcheck // best-effort cleanup

	if _, err := eng.RecordEvent(&events.WorkflowStatusChanged{
		WorkflowID: id,
		Status:     status,
	}); err != nil {
		fmt.Fprintf(stderr, "weft workflow status: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	fmt.Fprintf(stdout, "Workflow %s -> %s\n", id, status) //nolint:errcheck // best-effort stdout
	return 0
}

func newWorkflowListCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List workflows and their statuses",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if doWorkflowList(stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
}

func doWorkflowList(stdout, stderr io.Writer) int {
	eng, store, code := openWorkspaceEngine("weft workflow list", stderr)
	if code != 0 {
		return code
	}
	defer store.Close() //nolint:errcheck // best-effort cleanup

	wf := projection.NewWorkflowStatus()
	records, err := eng.EventsSince(0)
	if err != nil {
		fmt.Fprintf(stderr, "weft workflow list: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	for _, r := range records {
		wf.Apply(r.Event)
	}

	if len(wf.Statuses) == 0 {
		fmt.Fprintln(stdout, "No workflows registered.") //nolint:errcheck // best-effort stdout
		return 0
	}
	ids := make([]string, 0, len(wf.Statuses))
	for id := range wf.Statuses {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(stdout, "%s  %s\n", id, wf.Statuses[id]) //nolint:errcheck // best-effort stdout
	}
	return 0
}

func newWorkflowUnregisterCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "unregister <id>",
		Short: "Unregister a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if doWorkflowUnregister(args[0], stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
}

func doWorkflowUnregister(id string, stdout, stderr io.Writer) int {
	eng, store, code := openWorkspaceEngine("weft workflow unregister", stderr)
	if code != 0 {
		return code
	}
	defer store.Close() //nolint:errcheck // best-effort cleanup

	if _, err := eng.RecordEvent(&events.WorkflowUnregistered{WorkflowID: id}); err != nil {
		fmt.Fprintf(stderr, "weft workflow unregister: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	fmt.Fprintf(stdout, "Unregistered workflow %s\n", id) //nolint:errcheck // best-effort stdout
	return 0
}
