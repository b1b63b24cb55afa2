// weft is the orchestration CLI: a durable, event-sourced coordinator for
// multi-agent software delivery.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/weftworks/weft/internal/checkpoint"
	"github.com/weftworks/weft/internal/config"
	"github.com/weftworks/weft/internal/events"
	"github.com/weftworks/weft/internal/fsys"
	"github.com/weftworks/weft/internal/replay"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// errExit is a sentinel error returned by cobra RunE functions to signal
// non-zero exit. The command has already written its own error to stderr.
var errExit = errors.New("exit")

// workspaceFlag holds the value of the --workspace persistent flag.
// Empty means "discover from cwd."
var workspaceFlag string

// run executes the weft CLI with the given args, writing output to stdout
// and errors to stderr. Returns the exit code.
func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	if args == nil {
		args = []string{}
	}
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.Execute(); err != nil {
		return 1
	}
	return 0
}

// newRootCmd creates the root cobra command with all subcommands.
func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "weft",
		Short:         "weft: durable orchestration for multi-agent workflows",
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			fmt.Fprintf(stderr, "weft: unknown command %q\n", args[0]) //nolint:errcheck // best-effort stderr
			return errExit
		},
	}
	addWorkspaceFlag(root.PersistentFlags())
	root.CompletionOptions.DisableDefaultCmd = true
	root.AddCommand(
		newInitCmd(stdout, stderr),
		newStatusCmd(stdout, stderr),
		newBeadCmd(stdout, stderr),
		newReconcileCmd(stdout, stderr),
		newEventsCmd(stdout, stderr),
		newCheckpointCmd(stdout, stderr),
		newWorkflowCmd(stdout, stderr),
		newAgentCmd(stdout, stderr),
		newDispatchCmd(stdout, stderr),
		newDaemonCmd(stdout, stderr),
		newVersionCmd(stdout),
	)
	return root
}

// addWorkspaceFlag registers the shared --workspace flag on a flag set.
// Kept separate so the daemon child-process argv builder and the root
// command agree on the flag's name and semantics.
func addWorkspaceFlag(fs *pflag.FlagSet) {
	fs.StringVar(&workspaceFlag, "workspace", "",
		"path to the workspace directory (default: walk up from cwd)")
}

// findWorkspace walks dir upward looking for a directory containing .weft/.
// Returns the workspace root path or an error.
func findWorkspace(dir string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	for {
		if fi, err := os.Stat(filepath.Join(dir, ".weft")); err == nil && fi.IsDir() {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("not in a weft workspace (no .weft/ found)")
		}
		dir = parent
	}
}

// resolveWorkspace returns the workspace root path. If --workspace was
// provided, it verifies .weft/ exists there. Otherwise falls back to
// os.Getwd() → findWorkspace().
func resolveWorkspace() (string, error) {
	if workspaceFlag != "" {
		p, err := filepath.Abs(workspaceFlag)
		if err != nil {
			return "", err
		}
		if fi, err := os.Stat(filepath.Join(p, ".weft")); err != nil || !fi.IsDir() {
			return "", fmt.Errorf("not a weft workspace: %s (no .weft/ found)", p)
		}
		return p, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return findWorkspace(cwd)
}

// loadWorkspace resolves the workspace root and loads its weft.toml.
func loadWorkspace() (string, *config.Weft, error) {
	ws, err := resolveWorkspace()
	if err != nil {
		return "", nil, err
	}
	cfg, err := config.Load(fsys.OSFS{}, filepath.Join(ws, "weft.toml"))
	if err != nil {
		return "", nil, err
	}
	return ws, cfg, nil
}

// wsPath resolves a config path against the workspace root. Paths in
// weft.toml are workspace-relative unless absolute.
func wsPath(ws, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(ws, p)
}

// openEventStore opens the configured event log backend.
func openEventStore(ws string, cfg *config.Weft) (events.Store, error) {
	switch cfg.Events.Provider {
	case "sql":
		return events.NewSQLStore(cfg.Events.DSN)
	default: // "file"
		return events.NewFileStore(wsPath(ws, cfg.Events.Path))
	}
}

// openWorkspaceEngine resolves the workspace and opens its replay engine.
// On error it writes to stderr and returns a non-zero exit code: commands
// that only need a recorder go through here.
func openWorkspaceEngine(cmdName string, stderr io.Writer) (*replay.Engine, events.Store, int) {
	ws, cfg, err := loadWorkspace()
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", cmdName, err) //nolint:errcheck // best-effort stderr
		return nil, nil, 1
	}
	eng, store, err := openEngine(ws, cfg, nil)
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", cmdName, err) //nolint:errcheck // best-effort stderr
		return nil, nil, 1
	}
	return eng, store, 0
}

// openEngine opens the event store and checkpoint store for the workspace
// and wraps them in a replay engine. The caller closes the returned store.
func openEngine(ws string, cfg *config.Weft, bus *events.Bus) (*replay.Engine, events.Store, error) {
	store, err := openEventStore(ws, cfg)
	if err != nil {
		return nil, nil, err
	}
	cps, err := checkpoint.NewFileStore(wsPath(ws, cfg.Checkpoint.Dir))
	if err != nil {
		store.Close() //nolint:errcheck // closing after open failure
		return nil, nil, err
	}
	eng, err := replay.NewEngine(store, cps, bus)
	if err != nil {
		store.Close() //nolint:errcheck // closing after open failure
		return nil, nil, err
	}
	return eng, store, nil
}
