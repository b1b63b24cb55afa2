package main

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/weftworks/weft/internal/config"
	"github.com/weftworks/weft/internal/fsys"
)

// newInitCmd creates the "weft init" subcommand.
func newInitCmd(stdout, stderr io.Writer) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Initialize a new weft workspace",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			if doInit(fsys.OSFS{}, dir, name, stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "workspace name (default: directory basename)")
	return cmd
}

// doInit creates .weft/ and writes a default weft.toml. Refuses to
// overwrite an existing config so a stray re-run cannot clobber tuning.
func doInit(fs fsys.FS, dir, name string, stdout, stderr io.Writer) int {
	abs, err := filepath.Abs(dir)
	if err != nil {
		fmt.Fprintf(stderr, "weft init: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	if name == "" {
		name = filepath.Base(abs)
	}

	cfgPath := filepath.Join(abs, "weft.toml")
	if _, err := fs.Stat(cfgPath); err == nil {
		fmt.Fprintf(stderr, "weft init: %s already exists\n", cfgPath) //nolint:errcheck // best-effort stderr
		return 1
	}

	cfg := config.Default(name)
	data, err := cfg.Marshal()
	if err != nil {
		fmt.Fprintf(stderr, "weft init: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	stateDir := filepath.Join(abs, cfg.Workspace.StateDir)
	for _, sub := range []string{stateDir, filepath.Join(stateDir, "checkpoints")} {
		if err := fs.MkdirAll(sub, 0o755); err != nil {
			fmt.Fprintf(stderr, "weft init: %v\n", err) //nolint:errcheck // best-effort stderr
			return 1
		}
	}
	if err := fs.WriteFile(cfgPath, data, 0o644); err != nil {
		fmt.Fprintf(stderr, "weft init: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	fmt.Fprintf(stdout, "Initialized weft workspace %q in %s\n", name, abs) //nolint:errcheck // best-effort stdout
	return 0
}
