package main

import (
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/weftworks/weft/internal/config"
	"github.com/weftworks/weft/internal/fsys"
)

// newDaemonCmd creates the "weft daemon" command group with run, start,
// stop, and status subcommands.
func newDaemonCmd(stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the workspace daemon (background controller)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(
		newDaemonRunCmd(stdout, stderr),
		newDaemonStartCmd(stdout, stderr),
		newDaemonStopCmd(stdout, stderr),
		newDaemonStatusCmd(stdout, stderr),
	)
	return cmd
}

// resolveDaemonDir resolves the workspace root for a daemon subcommand:
// positional path argument first, then the usual --workspace / cwd walk.
func resolveDaemonDir(args []string) (string, error) {
	if len(args) > 0 {
		return findWorkspace(args[0])
	}
	return resolveWorkspace()
}

// newDaemonRunCmd creates the "weft daemon run" subcommand: foreground
// controller with log file output.
func newDaemonRunCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "run [path]",
		Short: "Run the controller in the foreground (with log file)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if doDaemonRun(args, stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
}

// doDaemonRun runs the controller in the foreground, tee-ing output to
// both stdout and the daemon log.
func doDaemonRun(args []string, stdout, stderr io.Writer) int {
	ws, err := resolveDaemonDir(args)
	if err != nil {
		fmt.Fprintf(stderr, "weft daemon run: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	cfg, err := config.Load(fsys.OSFS{}, filepath.Join(ws, "weft.toml"))
	if err != nil {
		fmt.Fprintf(stderr, "weft daemon run: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	stateDir := wsPath(ws, cfg.Workspace.StateDir)
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		fmt.Fprintf(stderr, "weft daemon run: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	logFile, err := os.OpenFile(filepath.Join(stateDir, "daemon.log"),
		os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		fmt.Fprintf(stderr, "weft daemon run: opening log: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	defer logFile.Close() //nolint:errcheck // best-effort cleanup

	logWriter := io.MultiWriter(stdout, logFile)
	return runController(ws, cfg, logWriter, stderr)
}

// newDaemonStartCmd creates the "weft daemon start" subcommand, a
// background fork.
func newDaemonStartCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "start [path]",
		Short: "Start the daemon in the background",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if doDaemonStart(args, stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
}

// doDaemonStart forks a background "weft daemon run" process.
func doDaemonStart(args []string, stdout, stderr io.Writer) int {
	ws, err := resolveDaemonDir(args)
	if err != nil {
		fmt.Fprintf(stderr, "weft daemon start: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	cfg, err := config.Load(fsys.OSFS{}, filepath.Join(ws, "weft.toml"))
	if err != nil {
		fmt.Fprintf(stderr, "weft daemon start: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	// Pre-check: take and release the lock to see whether a controller is
	// already running. The child re-acquires it for real.
	lock, err := acquireControllerLock(ws, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "weft daemon start: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	releaseControllerLock(lock)

	weftPath, err := os.Executable()
	if err != nil {
		fmt.Fprintf(stderr, "weft daemon start: finding executable: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	child := exec.Command(weftPath, "--workspace", ws, "daemon", "run")
	child.SysProcAttr = daemonSysProcAttr()
	child.Stdin = nil
	child.Stdout = nil
	child.Stderr = nil

	if err := child.Start(); err != nil {
		fmt.Fprintf(stderr, "weft daemon start: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	childPID := child.Process.Pid

	// Brief pause then verify the child took the lock.
	time.Sleep(200 * time.Millisecond)
	lock2, err := acquireControllerLock(ws, cfg)
	if err == nil {
		releaseControllerLock(lock2)
		fmt.Fprintf(stderr, "weft daemon start: child process failed to acquire lock\n") //nolint:errcheck // best-effort stderr
		return 1
	}

	fmt.Fprintf(stdout, "Daemon started (PID %d)\n", childPID) //nolint:errcheck // best-effort stdout
	return 0
}

// newDaemonStopCmd creates the "weft daemon stop" subcommand.
func newDaemonStopCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "stop [path]",
		Short: "Stop the running daemon",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if doDaemonStop(args, stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
}

// doDaemonStop signals the running controller to shut down via its socket.
func doDaemonStop(args []string, stdout, stderr io.Writer) int {
	ws, err := resolveDaemonDir(args)
	if err != nil {
		fmt.Fprintf(stderr, "weft daemon stop: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	cfg, err := config.Load(fsys.OSFS{}, filepath.Join(ws, "weft.toml"))
	if err != nil {
		fmt.Fprintf(stderr, "weft daemon stop: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	if !tryStopController(ws, cfg, stdout) {
		fmt.Fprintf(stderr, "weft daemon stop: no controller is running\n") //nolint:errcheck // best-effort stderr
		return 1
	}
	return 0
}

// tryStopController sends "stop" to the controller socket. Returns false
// if no controller answered.
func tryStopController(ws string, cfg *config.Weft, stdout io.Writer) bool {
	sockPath := controllerSockPath(ws, cfg)
	conn, err := net.DialTimeout("unix", sockPath, 2*time.Second)
	if err != nil {
		return false
	}
	defer conn.Close() //nolint:errcheck // best-effort cleanup

	if _, err := conn.Write([]byte("stop\n")); err != nil {
		return false
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // best-effort deadline
	buf := make([]byte, 8)
	n, _ := conn.Read(buf)
	if strings.TrimSpace(string(buf[:n])) == "ok" {
		fmt.Fprintln(stdout, "Daemon stopping.") //nolint:errcheck // best-effort stdout
		return true
	}
	return false
}

// newDaemonStatusCmd creates the "weft daemon status" subcommand.
func newDaemonStatusCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "status [path]",
		Short: "Show daemon status (PID)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if doDaemonStatus(args, stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
}

// doDaemonStatus shows whether the daemon is running and its PID.
func doDaemonStatus(args []string, stdout, stderr io.Writer) int {
	ws, err := resolveDaemonDir(args)
	if err != nil {
		fmt.Fprintf(stderr, "weft daemon status: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	cfg, err := config.Load(fsys.OSFS{}, filepath.Join(ws, "weft.toml"))
	if err != nil {
		fmt.Fprintf(stderr, "weft daemon status: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	pid := readDaemonPID(ws, cfg)
	if pid == 0 || !isDaemonAlive(pid) {
		if pid != 0 {
			os.Remove(daemonPIDPath(ws, cfg)) //nolint:errcheck // stale pid cleanup
		}
		fmt.Fprintln(stdout, "Daemon is not running") //nolint:errcheck // best-effort stdout
		return 1
	}
	fmt.Fprintf(stdout, "Daemon is running (PID %d)\n", pid) //nolint:errcheck // best-effort stdout
	return 0
}

// daemonPIDPath returns the daemon PID file path.
func daemonPIDPath(ws string, cfg *config.Weft) string {
	return filepath.Join(wsPath(ws, cfg.Workspace.StateDir), "daemon.pid")
}

// writeDaemonPID records the controller's PID for status checks.
func writeDaemonPID(ws string, cfg *config.Weft) error {
	return os.WriteFile(daemonPIDPath(ws, cfg), []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// readDaemonPID reads the recorded daemon PID, or 0 if absent/garbled.
func readDaemonPID(ws string, cfg *config.Weft) int {
	data, err := os.ReadFile(daemonPIDPath(ws, cfg))
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}
