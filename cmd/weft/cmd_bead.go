package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/weftworks/weft/internal/bead"
	"github.com/weftworks/weft/internal/fsys"
	"github.com/weftworks/weft/internal/lifecycle"
	"github.com/weftworks/weft/internal/reconcile"
)

// newBeadCmd creates the "weft bead" command group for editing the
// declared bead set.
func newBeadCmd(stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bead",
		Short: "Declare and inspect beads (units of work)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(
		newBeadAddCmd(stdout, stderr),
		newBeadListCmd(stdout, stderr),
		newBeadRemoveCmd(stdout, stderr),
		newBeadDepsCmd(stdout, stderr),
		newBeadCompleteCmd(stdout, stderr),
	)
	return cmd
}

func newBeadAddCmd(stdout, stderr io.Writer) *cobra.Command {
	var complexity string
	var deps []string
	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Declare a new bead",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if doBeadAdd(args[0], complexity, deps, stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&complexity, "complexity", string(bead.Simple),
		"expected complexity (trivial, simple, moderate, complex)")
	cmd.Flags().StringSliceVar(&deps, "depends-on", nil,
		"bead IDs this bead is blocked by (can be repeated)")
	return cmd
}

func doBeadAdd(title, complexity string, deps []string, stdout, stderr io.Writer) int {
	ws, cfg, err := loadWorkspace()
	if err != nil {
		fmt.Fprintf(stderr, "weft bead add: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	depIDs, err := parseBeadIDs(deps)
	if err != nil {
		fmt.Fprintf(stderr, "weft bead add: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	path := desiredPath(ws, cfg)
	desired, err := loadDesired(fsys.OSFS{}, path)
	if err != nil {
		fmt.Fprintf(stderr, "weft bead add: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	id := bead.NewID()
	desired.AddBead(id, bead.Spec{
		Title:        title,
		Complexity:   bead.Complexity(complexity),
		Dependencies: depIDs,
	})
	if err := saveDesired(fsys.OSFS{}, path, desired); err != nil {
		fmt.Fprintf(stderr, "weft bead add: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	fmt.Fprintf(stdout, "Declared bead %s: %s\n", id, title) //nolint:errcheck // best-effort stdout
	return 0
}

func newBeadListCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List declared beads",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if doBeadList(stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
}

func doBeadList(stdout, stderr io.Writer) int {
	ws, cfg, err := loadWorkspace()
	if err != nil {
		fmt.Fprintf(stderr, "weft bead list: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	desired, err := loadDesired(fsys.OSFS{}, desiredPath(ws, cfg))
	if err != nil {
		fmt.Fprintf(stderr, "weft bead list: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	beads := desired.Beads()
	if len(beads) == 0 {
		fmt.Fprintln(stdout, "No beads declared.") //nolint:errcheck // best-effort stdout
		return 0
	}
	for _, id := range sortedDesired(desired) {
		spec := beads[id]
		line := fmt.Sprintf("%s  %-10s %s", id, spec.Complexity, spec.Title)
		if len(spec.Dependencies) > 0 {
			depStrs := make([]string, len(spec.Dependencies))
			for i, d := range spec.Dependencies {
				depStrs[i] = d.String()
			}
			line += "  (blocked by " + strings.Join(depStrs, ", ") + ")"
		}
		fmt.Fprintln(stdout, line) //nolint:errcheck // best-effort stdout
	}
	return 0
}

func newBeadRemoveCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a bead from the declared set",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if doBeadRemove(args[0], stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
}

func doBeadRemove(idStr string, stdout, stderr io.Writer) int {
	ws, cfg, err := loadWorkspace()
	if err != nil {
		fmt.Fprintf(stderr, "weft bead remove: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	id, err := bead.ParseID(idStr)
	if err != nil {
		fmt.Fprintf(stderr, "weft bead remove: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	path := desiredPath(ws, cfg)
	desired, err := loadDesired(fsys.OSFS{}, path)
	if err != nil {
		fmt.Fprintf(stderr, "weft bead remove: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	if _, ok := desired.Beads()[id]; !ok {
		fmt.Fprintf(stderr, "weft bead remove: bead %s not declared\n", id) //nolint:errcheck // best-effort stderr
		return 1
	}
	desired.RemoveBead(id)
	if err := saveDesired(fsys.OSFS{}, path, desired); err != nil {
		fmt.Fprintf(stderr, "weft bead remove: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	fmt.Fprintf(stdout, "Removed bead %s\n", id) //nolint:errcheck // best-effort stdout
	return 0
}

func newBeadDepsCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "deps <id> [dep-id...]",
		Short: "Replace a bead's dependency list",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if doBeadDeps(args[0], args[1:], stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
}

func doBeadDeps(idStr string, depStrs []string, stdout, stderr io.Writer) int {
	ws, cfg, err := loadWorkspace()
	if err != nil {
		fmt.Fprintf(stderr, "weft bead deps: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	id, err := bead.ParseID(idStr)
	if err != nil {
		fmt.Fprintf(stderr, "weft bead deps: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	deps, err := parseBeadIDs(depStrs)
	if err != nil {
		fmt.Fprintf(stderr, "weft bead deps: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	path := desiredPath(ws, cfg)
	desired, err := loadDesired(fsys.OSFS{}, path)
	if err != nil {
		fmt.Fprintf(stderr, "weft bead deps: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	if !desired.SetDependencies(id, deps) {
		fmt.Fprintf(stderr, "weft bead deps: bead %s not declared\n", id) //nolint:errcheck // best-effort stderr
		return 1
	}
	if err := saveDesired(fsys.OSFS{}, path, desired); err != nil {
		fmt.Fprintf(stderr, "weft bead deps: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	fmt.Fprintf(stdout, "Bead %s now blocked by %d bead(s)\n", id, len(deps)) //nolint:errcheck // best-effort stdout
	return 0
}

func newBeadCompleteCmd(stdout, stderr io.Writer) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Mark a bead completed by hand",
		Long: "Mark a bead completed by hand. Completion normally comes from the\n" +
			"worker that ran the bead; this records it directly for work finished\n" +
			"outside the daemon.",
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if doBeadComplete(args[0], output, stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&output, "output", "", "result output to record with the completion")
	return cmd
}

func doBeadComplete(idStr, output string, stdout, stderr io.Writer) int {
	id, err := bead.ParseID(idStr)
	if err != nil {
		fmt.Fprintf(stderr, "weft bead complete: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	eng, store, code := openWorkspaceEngine("weft bead complete", stderr)
	if code != 0 {
		return code
	}
	defer store.Close() //nolint:errcheck // best-effort cleanup

	actual, err := refoldBeadState(eng)
	if err != nil {
		fmt.Fprintf(stderr, "weft bead complete: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	s, ok := actual.Beads[id]
	if !ok {
		fmt.Fprintf(stderr, "weft bead complete: bead %s has no recorded events\n", id) //nolint:errcheck // best-effort stderr
		return 1
	}
	if s.State == lifecycle.Completed {
		fmt.Fprintf(stderr, "weft bead complete: bead %s is already completed\n", id) //nolint:errcheck // best-effort stderr
		return 1
	}

	x := reconcile.NewEventExecutor(eng)
	act := reconcile.MarkComplete{ID: id, Result: bead.Result{Success: true, Output: output}}
	if err := x.Execute(context.Background(), act); err != nil {
		fmt.Fprintf(stderr, "weft bead complete: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	fmt.Fprintf(stdout, "Completed bead %s\n", id) //nolint:errcheck // best-effort stdout
	return 0
}

// parseBeadIDs parses a list of bead ID strings, failing on the first
// malformed entry.
func parseBeadIDs(strs []string) ([]bead.ID, error) {
	if len(strs) == 0 {
		return nil, nil
	}
	ids := make([]bead.ID, 0, len(strs))
	for _, s := range strs {
		id, err := bead.ParseID(s)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
