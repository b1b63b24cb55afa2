package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/flock"
	"github.com/weftworks/weft/internal/checkpoint"
	"github.com/weftworks/weft/internal/config"
	"github.com/weftworks/weft/internal/events"
	"github.com/weftworks/weft/internal/fsys"
	"github.com/weftworks/weft/internal/lifecycle"
	"github.com/weftworks/weft/internal/projection"
	"github.com/weftworks/weft/internal/reconcile"
	"github.com/weftworks/weft/internal/replay"
	"github.com/weftworks/weft/internal/supervise"
	"github.com/weftworks/weft/internal/telemetry"
)

// controllerLockPath returns the exclusive-lock file guarding against
// concurrent controllers on one workspace.
func controllerLockPath(ws string, cfg *config.Weft) string {
	return filepath.Join(wsPath(ws, cfg.Workspace.StateDir), "controller.lock")
}

// controllerSockPath returns the Unix control socket path.
func controllerSockPath(ws string, cfg *config.Weft) string {
	return filepath.Join(wsPath(ws, cfg.Workspace.StateDir), "controller.sock")
}

// acquireControllerLock takes a non-blocking exclusive lock on the
// controller lock file. Returns an error if another controller holds it.
func acquireControllerLock(ws string, cfg *config.Weft) (*flock.Flock, error) {
	lock := flock.New(controllerLockPath(ws, cfg))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring controller lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("controller already running")
	}
	return lock, nil
}

// releaseControllerLock unlocks and closes a controller lock.
func releaseControllerLock(lock *flock.Flock) {
	lock.Close() //nolint:errcheck // best-effort release
}

// startControllerSocket listens on the Unix control socket. When a client
// sends "stop\n", cancelFn shuts down the controller loop.
func startControllerSocket(ws string, cfg *config.Weft, cancelFn context.CancelFunc) (net.Listener, error) {
	sockPath := controllerSockPath(ws, cfg)
	// Remove stale socket from a previous crash.
	os.Remove(sockPath) //nolint:errcheck // stale socket cleanup
	lis, err := net.Listen("unix", sockPath)
	if err != nil {
		return nil, fmt.Errorf("listening on controller socket: %w", err)
	}
	go func() {
		for {
			conn, err := lis.Accept()
			if err != nil {
				return // listener closed
			}
			go handleControllerConn(conn, cancelFn)
		}
	}()
	return lis, nil
}

// handleControllerConn reads from a connection and calls cancelFn if the
// client sends "stop".
func handleControllerConn(conn net.Conn, cancelFn context.CancelFunc) {
	defer conn.Close() //nolint:errcheck // best-effort cleanup
	scanner := bufio.NewScanner(conn)
	if scanner.Scan() {
		if scanner.Text() == "stop" {
			cancelFn()
			conn.Write([]byte("ok\n")) //nolint:errcheck // best-effort ack
		}
	}
}

// strategyFromConfig maps the configured strategy name onto a restart
// strategy. For rest_for_one the checkpointer is registered as dependent
// on the reconciler: a reconciler restart invalidates in-flight snapshots.
func strategyFromConfig(cfg *config.Weft) supervise.Strategy {
	switch cfg.Supervisor.Strategy {
	case "one_for_all":
		return supervise.OneForAll{}
	case "rest_for_one":
		s := supervise.NewRestForOne()
		s.AddDependent("reconciler", "checkpointer")
		return s
	default:
		return supervise.OneForOne{}
	}
}

// supervisorConfig maps supervisor tuning from weft.toml. Zero fields
// fall back to supervise defaults.
func supervisorConfig(cfg *config.Weft) supervise.Config {
	return supervise.Config{
		MaxRestarts:    cfg.Supervisor.MaxRestarts,
		MeltdownWindow: cfg.Supervisor.MeltdownWindow.Duration,
		MeltdownLimit:  cfg.Supervisor.MeltdownLimit,
		BackoffBase:    cfg.Supervisor.BackoffBase.Duration,
		BackoffMax:     cfg.Supervisor.BackoffMax.Duration,
		ShutdownGrace:  cfg.Supervisor.ShutdownGrace.Duration,
	}
}

// runController runs the persistent controller: lock, control socket,
// reconcile loop, checkpoint loop, and config watcher under one
// supervisor. Returns an exit code.
func runController(ws string, cfg *config.Weft, stdout, stderr io.Writer) int {
	lock, err := acquireControllerLock(ws, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "weft daemon: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	defer releaseControllerLock(lock)

	if err := writeDaemonPID(ws, cfg); err != nil {
		fmt.Fprintf(stderr, "weft daemon: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	defer os.Remove(daemonPIDPath(ws, cfg)) //nolint:errcheck // best-effort cleanup

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Telemetry is wired only when the workspace opts in.
	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.Init(ctx, cfg.Workspace.Name,
			telemetry.Endpoint(cfg.Telemetry.Endpoint))
		if err != nil {
			fmt.Fprintf(stderr, "weft daemon: telemetry: %v\n", err) //nolint:errcheck // best-effort stderr
		} else {
			defer func() {
				sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer scancel()
				shutdown(sctx) //nolint:errcheck // best-effort flush
			}()
		}
	}

	// Signal handler: SIGINT/SIGTERM -> cancel.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		cancel()
	}()

	lis, err := startControllerSocket(ws, cfg, cancel)
	if err != nil {
		fmt.Fprintf(stderr, "weft daemon: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	defer lis.Close()                            //nolint:errcheck // best-effort cleanup
	defer os.Remove(controllerSockPath(ws, cfg)) //nolint:errcheck // best-effort cleanup

	bus := events.NewBus()
	defer bus.Close()
	eng, store, err := openEngine(ws, cfg, bus)
	if err != nil {
		fmt.Fprintf(stderr, "weft daemon: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	defer store.Close() //nolint:errcheck // best-effort cleanup

	// Prove the log folds cleanly before supervising anything.
	beads := projection.NewBeadState()
	res, err := eng.Recover(beads)
	telemetry.RecordRecovery(ctx, res.CheckpointID, res.EventsReplayed, res.FinalSequence, err)
	if err != nil {
		fmt.Fprintf(stderr, "weft daemon: recovering state: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	c := &controllerState{
		ws:     ws,
		eng:    eng,
		bus:    bus,
		stdout: stdout,
		stderr: stderr,
	}
	c.cfg.Store(cfg)

	// Worker actors share the engine with the loops through one lock.
	rec := lockedRecorder{mu: &c.engMu, eng: eng}
	workers := make([]*supervise.Worker, cfg.Supervisor.Workers)
	for i := range workers {
		workers[i] = supervise.NewWorker(fmt.Sprintf("worker-%d", i), rec, beadHandler, nil)
	}
	c.pool = supervise.NewPool(workers)

	sup, err := supervise.New(supervisorConfig(cfg), strategyFromConfig(cfg))
	if err != nil {
		fmt.Fprintf(stderr, "weft daemon: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	sup.OnRestart = func(child string, attempt int, cause error) {
		// A replacement actor starts idle; its bead goes back to the
		// planner on the next pass.
		c.pool.ReleaseWorker(child)
		telemetry.RecordWorkerRestart(ctx, child, attempt, cause)
		fmt.Fprintf(stderr, "weft daemon: restarted %s (attempt %d): %v\n", child, attempt, cause) //nolint:errcheck // best-effort stderr
	}
	if err := sup.Start(ctx); err != nil {
		fmt.Fprintf(stderr, "weft daemon: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	children := []supervise.ChildSpec{
		{Name: "reconciler", Run: c.reconcileLoop},
		{Name: "checkpointer", Run: c.checkpointLoop},
		{Name: "config-watch", Run: c.watchConfig},
	}
	for _, w := range workers {
		w := w
		children = append(children, supervise.ChildSpec{Name: w.ID(), Run: w.Run})
	}
	for _, spec := range children {
		if err := sup.Add(spec); err != nil {
			fmt.Fprintf(stderr, "weft daemon: %v\n", err) //nolint:errcheck // best-effort stderr
			sup.Stop() //nolint:errcheck // already failing
			return 1
		}
	}

	telemetry.RecordDaemonLifecycle(ctx, "started")
	fmt.Fprintln(stdout, "Controller started.") //nolint:errcheck // best-effort stdout

	select {
	case <-ctx.Done():
	case <-sup.Done():
		// Meltdown or budget exhaustion brought the tree down.
	}
	cancel()
	if err := sup.Stop(); err != nil {
		fmt.Fprintf(stderr, "weft daemon: %v\n", err) //nolint:errcheck // best-effort stderr
	}

	telemetry.RecordDaemonLifecycle(context.Background(), "stopped")
	fmt.Fprintln(stdout, "Controller stopped.") //nolint:errcheck // best-effort stdout
	return 0
}

// controllerState is the shared state of the supervised controller loops.
type controllerState struct {
	ws     string
	cfg    atomic.Pointer[config.Weft]
	eng    *replay.Engine
	bus    *events.Bus
	pool   *supervise.Pool
	engMu  sync.Mutex // serializes engine access across loops
	stdout io.Writer
	stderr io.Writer
}

// reconcileLoop runs reconciliation passes on the configured interval.
// The declared bead set is reloaded from disk each tick so edits made
// while the daemon runs take effect without a restart.
func (c *controllerState) reconcileLoop(ctx context.Context, ready func()) error {
	ready()
	interval := c.cfg.Load().ReconcileInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		cfg := c.cfg.Load()
		if ri := cfg.ReconcileInterval(); ri != interval {
			interval = ri
			ticker.Reset(interval)
		}

		desired, err := loadDesired(fsys.OSFS{}, desiredPath(c.ws, cfg))
		if err != nil {
			fmt.Fprintf(c.stderr, "weft daemon: %v\n", err) //nolint:errcheck // best-effort stderr
			continue
		}

		c.engMu.Lock()
		actual, err := refoldBeadState(c.eng)
		c.engMu.Unlock()
		if err != nil {
			return fmt.Errorf("refolding bead state: %w", err)
		}

		// Free workers whose beads have moved on since the last pass.
		// Scheduled stays held: the claim may not have folded in yet.
		for _, id := range c.pool.Assigned() {
			s, ok := actual.Beads[id]
			if !ok {
				c.pool.Release(id)
				continue
			}
			switch s.State {
			case lifecycle.Scheduled, lifecycle.Ready, lifecycle.Running:
			default:
				c.pool.Release(id)
			}
		}

		exec := poolExecutor{pool: c.pool, inner: reconcile.NewEventExecutor(lockedRecorder{mu: &c.engMu, eng: c.eng})}
		r := reconcile.New(reconcileConfig(cfg), desired, exec)
		start := time.Now()
		res := r.Reconcile(ctx, actual)

		telemetry.RecordReconcileCycle(ctx, len(res.Taken), len(res.Failed), res.Converged,
			float64(time.Since(start).Milliseconds()))
		telemetry.RecordBusDrops(ctx, c.bus.Dropped())
		for _, a := range res.Taken {
			fmt.Fprintf(c.stdout, "%s\n", a.Description()) //nolint:errcheck // best-effort stdout
		}
		for _, f := range res.Failed {
			fmt.Fprintf(c.stderr, "weft daemon: %s: %v\n", f.Action.Description(), f.Err) //nolint:errcheck // best-effort stderr
		}
	}
}

// checkpointLoop snapshots state on the configured cadence. Each
// checkpoint is also recorded in the event log.
func (c *controllerState) checkpointLoop(ctx context.Context, ready func()) error {
	cfg := c.cfg.Load()
	cps, err := checkpoint.NewFileStore(wsPath(c.ws, cfg.Checkpoint.Dir))
	if err != nil {
		return err
	}

	snap := func() (uint64, []byte, error) {
		c.engMu.Lock()
		defer c.engMu.Unlock()
		p, err := refoldBeadState(c.eng)
		if err != nil {
			return 0, nil, err
		}
		state, err := p.Snapshot()
		return c.eng.LastSequence(), state, err
	}

	mgr := checkpoint.NewManager(cps, snap, cfg.Checkpoint.Retention)
	mgr.OnCreated = func(cp *checkpoint.Checkpoint) {
		telemetry.RecordCheckpoint(ctx, cp.ID, cp.EventSequence, nil)
		c.engMu.Lock()
		_, err := c.eng.RecordEvent(&events.CheckpointCreated{
			CheckpointID:  cp.ID,
			EventSequence: cp.EventSequence,
		})
		c.engMu.Unlock()
		if err != nil {
			fmt.Fprintf(c.stderr, "weft daemon: recording checkpoint: %v\n", err) //nolint:errcheck // best-effort stderr
		}
	}

	ready()
	mgr.Run(ctx, cfg.CheckpointInterval(), func(err error) {
		telemetry.RecordCheckpoint(ctx, "", 0, err)
		fmt.Fprintf(c.stderr, "weft daemon: checkpoint: %v\n", err) //nolint:errcheck // best-effort stderr
	})
	return nil
}

// watchConfig reloads weft.toml when it changes on disk. Only loop
// tuning picked up through c.cfg takes effect live; backend changes
// still need a daemon restart.
func (c *controllerState) watchConfig(ctx context.Context, ready func()) error {
	cfgPath := filepath.Join(c.ws, "weft.toml")
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("starting config watcher: %w", err)
	}
	defer watcher.Close() //nolint:errcheck // best-effort cleanup

	// Watch the directory: editors replace the file, which drops a watch
	// on the file itself.
	if err := watcher.Add(c.ws); err != nil {
		return fmt.Errorf("watching %s: %w", c.ws, err)
	}

	ready()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("config watcher closed")
			}
			if ev.Name != cfgPath || !(ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create)) {
				continue
			}
			cfg, err := config.Load(fsys.OSFS{}, cfgPath)
			telemetry.RecordConfigReload(ctx, cfgPath, err)
			if err != nil {
				fmt.Fprintf(c.stderr, "weft daemon: reloading config: %v\n", err) //nolint:errcheck // best-effort stderr
				continue
			}
			c.cfg.Store(cfg)
			fmt.Fprintln(c.stdout, "Config reloaded.") //nolint:errcheck // best-effort stdout
		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("config watcher closed")
			}
			fmt.Fprintf(c.stderr, "weft daemon: config watcher: %v\n", err) //nolint:errcheck // best-effort stderr
		}
	}
}
