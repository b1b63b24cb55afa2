package supervise

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Supervisor lifecycle states.
type SupervisorState string

const (
	StateRunning  SupervisorState = "running"
	StateStopping SupervisorState = "stopping"
	StateStopped  SupervisorState = "stopped"
)

// ErrMeltdown is the stop cause when failures arrive faster than the
// meltdown window allows.
var ErrMeltdown = errors.New("supervisor meltdown: too many failures in window")

// ErrSpawnTimeout is the failure recorded when a child does not confirm
// startup in time.
var ErrSpawnTimeout = errors.New("child did not confirm spawn in time")

// ChildFunc runs a child. It must call ready once the child is serving,
// and return when ctx is cancelled. A non-nil return is a failure.
type ChildFunc func(ctx context.Context, ready func()) error

// ChildSpec names a child and how to run it.
type ChildSpec struct {
	Name string
	Run  ChildFunc
}

// Config bounds the supervisor's restart behavior.
type Config struct {
	// MaxRestarts is the per-child restart budget before the strategy
	// gives up.
	MaxRestarts int
	// MeltdownWindow and MeltdownLimit stop the whole tree when
	// MeltdownLimit failures land inside the window.
	MeltdownWindow time.Duration
	MeltdownLimit  int
	// BackoffBase and BackoffMax shape the delay between restarts.
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// SpawnTimeout is how long a child has to confirm startup.
	SpawnTimeout time.Duration
	// ShutdownGrace is how long Stop waits for children to exit before
	// abandoning them.
	ShutdownGrace time.Duration
}

// DefaultConfig returns the daemon's supervision defaults.
func DefaultConfig() Config {
	return Config{
		MaxRestarts:    5,
		MeltdownWindow: 10 * time.Second,
		MeltdownLimit:  10,
		BackoffBase:    DefaultBackoffBase,
		BackoffMax:     DefaultBackoffMax,
		SpawnTimeout:   5 * time.Second,
		ShutdownGrace:  5 * time.Second,
	}
}

type childInfo struct {
	spec     ChildSpec
	cancel   context.CancelFunc
	done     chan struct{}
	restarts int
}

type childFailure struct {
	name string
	err  error
}

// Supervisor runs children as goroutines and applies its strategy when
// one fails. All child bookkeeping happens on the supervisor goroutine;
// callers interact through Add and Stop.
type Supervisor struct {
	cfg      Config
	strategy Strategy

	mu       sync.Mutex
	state    SupervisorState
	children map[string]*childInfo

	ctx      context.Context
	cancel   context.CancelFunc
	failures chan childFailure
	adds     chan ChildSpec
	respawns chan ChildSpec
	stopped  chan struct{}
	stopErr  error

	failureTimes []time.Time

	// OnRestart, when set, observes every restart the supervisor
	// performs. Used for telemetry.
	OnRestart func(child string, attempt int, cause error)
}

// New validates the strategy and returns a supervisor ready to Start.
func New(cfg Config, strategy Strategy) (*Supervisor, error) {
	if err := strategy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s strategy: %w", strategy.Name(), err)
	}
	if cfg.MaxRestarts <= 0 {
		cfg.MaxRestarts = DefaultConfig().MaxRestarts
	}
	if cfg.MeltdownWindow <= 0 {
		cfg.MeltdownWindow = DefaultConfig().MeltdownWindow
	}
	if cfg.MeltdownLimit <= 0 {
		cfg.MeltdownLimit = DefaultConfig().MeltdownLimit
	}
	if cfg.SpawnTimeout <= 0 {
		cfg.SpawnTimeout = DefaultConfig().SpawnTimeout
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = DefaultConfig().ShutdownGrace
	}
	return &Supervisor{
		cfg:      cfg,
		strategy: strategy,
		state:    StateStopped,
		children: make(map[string]*childInfo),
		failures: make(chan childFailure, 64),
		adds:     make(chan ChildSpec, 16),
		respawns: make(chan ChildSpec, 16),
		stopped:  make(chan struct{}),
	}, nil
}

// State returns the supervisor's current lifecycle state.
func (s *Supervisor) State() SupervisorState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start launches the supervision loop. ctx cancellation triggers a
// graceful stop.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateStopped {
		s.mu.Unlock()
		return fmt.Errorf("supervisor already %s", s.state)
	}
	s.state = StateRunning
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	go s.loop()
	return nil
}

// Add registers and spawns a child. It fails once the supervisor is
// stopping.
func (s *Supervisor) Add(spec ChildSpec) error {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return fmt.Errorf("supervisor is %s", s.state)
	}
	if _, dup := s.children[spec.Name]; dup {
		s.mu.Unlock()
		return fmt.Errorf("child %q already supervised", spec.Name)
	}
	s.mu.Unlock()

	select {
	case s.adds <- spec:
		return nil
	case <-s.stopped:
		return fmt.Errorf("supervisor stopped")
	}
}

// Stop shuts the tree down: cancel every child, wait up to the grace
// period, then return. It is safe to call more than once.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return s.stopErr
	}
	s.state = StateStopping
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	select {
	case <-s.stopped:
	case <-time.After(s.cfg.ShutdownGrace + time.Second):
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopErr
}

// Done is closed once the supervision loop has exited.
func (s *Supervisor) Done() <-chan struct{} { return s.stopped }

func (s *Supervisor) loop() {
	defer func() {
		s.shutdownChildren()
		s.mu.Lock()
		s.state = StateStopped
		s.mu.Unlock()
		close(s.stopped)
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		case spec := <-s.adds:
			s.spawn(spec)
		case spec := <-s.respawns:
			s.spawn(spec)
		case f := <-s.failures:
			if stop := s.handleFailure(f); stop {
				return
			}
		}
	}
}

// spawn starts one child goroutine and watches its spawn confirmation.
func (s *Supervisor) spawn(spec ChildSpec) {
	ctx, cancel := context.WithCancel(s.ctx)
	info := &childInfo{spec: spec, cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	if prev, ok := s.children[spec.Name]; ok {
		info.restarts = prev.restarts
	}
	s.children[spec.Name] = info
	s.mu.Unlock()

	ready := make(chan struct{})
	var readyOnce sync.Once
	confirm := func() { readyOnce.Do(func() { close(ready) }) }

	go func() {
		defer close(info.done)
		err := spec.Run(ctx, confirm)
		if err != nil && ctx.Err() == nil {
			select {
			case s.failures <- childFailure{name: spec.Name, err: err}:
			case <-s.ctx.Done():
			}
		}
	}()

	go func() {
		select {
		case <-ready:
		case <-info.done:
		case <-ctx.Done():
		case <-time.After(s.cfg.SpawnTimeout):
			cancel()
			select {
			case s.failures <- childFailure{name: spec.Name, err: ErrSpawnTimeout}:
			case <-s.ctx.Done():
			}
		}
	}()
}

func (s *Supervisor) handleFailure(f childFailure) (stop bool) {
	now := time.Now()
	s.pruneWindow(now)
	s.failureTimes = append(s.failureTimes, now)
	if len(s.failureTimes) >= s.cfg.MeltdownLimit {
		s.mu.Lock()
		s.stopErr = fmt.Errorf("%w (%d failures, last from %q: %v)",
			ErrMeltdown, len(s.failureTimes), f.name, f.err)
		s.mu.Unlock()
		return true
	}

	s.mu.Lock()
	info, ok := s.children[f.name]
	var siblings []string
	for name := range s.children {
		siblings = append(siblings, name)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}

	decision := s.strategy.Decide(RestartContext{
		Child:        f.name,
		Siblings:     siblings,
		RestartCount: info.restarts,
		MaxRestarts:  s.cfg.MaxRestarts,
		Err:          f.err,
	})
	if decision.Stop {
		s.mu.Lock()
		s.stopErr = fmt.Errorf("child %q exhausted restarts: %v", f.name, f.err)
		s.mu.Unlock()
		return true
	}

	for _, name := range decision.Restart {
		s.restart(name, f)
	}
	return false
}

// restart tears a child down and hands its backoff wait to a goroutine
// that feeds the respawn back through the loop. The loop never sleeps,
// so other failures and Add calls are served while a child backs off.
func (s *Supervisor) restart(name string, cause childFailure) {
	s.mu.Lock()
	info, ok := s.children[name]
	s.mu.Unlock()
	if !ok {
		return
	}

	info.cancel()
	info.restarts++
	if s.OnRestart != nil {
		s.OnRestart(name, info.restarts, cause.err)
	}
	delay := Backoff(info.restarts-1, s.cfg.BackoffBase, s.cfg.BackoffMax)

	go func() {
		select {
		case <-info.done:
		case <-time.After(s.cfg.ShutdownGrace):
		}
		select {
		case <-time.After(delay):
		case <-s.ctx.Done():
			return
		}
		select {
		case s.respawns <- info.spec:
		case <-s.ctx.Done():
		}
	}()
}

func (s *Supervisor) pruneWindow(now time.Time) {
	cutoff := now.Add(-s.cfg.MeltdownWindow)
	kept := s.failureTimes[:0]
	for _, t := range s.failureTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.failureTimes = kept
}

// shutdownChildren cancels every child and waits up to the grace period
// for each to exit.
func (s *Supervisor) shutdownChildren() {
	s.mu.Lock()
	children := make([]*childInfo, 0, len(s.children))
	for _, info := range s.children {
		children = append(children, info)
	}
	s.mu.Unlock()

	for _, info := range children {
		info.cancel()
	}
	deadline := time.After(s.cfg.ShutdownGrace)
	for _, info := range children {
		select {
		case <-info.done:
		case <-deadline:
			return
		}
	}
}
