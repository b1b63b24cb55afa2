// Package config handles loading and parsing weft.toml configuration
// files.
package config

import (
	"bytes"
	"fmt"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/weftworks/weft/internal/dispatch"
	"github.com/weftworks/weft/internal/fsys"
)

// Weft is the top-level configuration for one orchestrator instance.
type Weft struct {
	Workspace  Workspace        `toml:"workspace"`
	Events     EventsConfig     `toml:"events,omitempty"`
	Reconcile  ReconcileConfig  `toml:"reconcile,omitempty"`
	Checkpoint CheckpointConfig `toml:"checkpoint,omitempty"`
	Supervisor SupervisorConfig `toml:"supervisor,omitempty"`
	Dispatch   DispatchConfig   `toml:"dispatch,omitempty"`
	Telemetry  TelemetryConfig  `toml:"telemetry,omitempty"`
}

// Workspace names the instance and its state directory.
type Workspace struct {
	Name     string `toml:"name"`
	StateDir string `toml:"state_dir,omitempty"` // default ".weft"
}

// EventsConfig selects the event log backend.
type EventsConfig struct {
	// Provider is "file" (default) or "sql".
	Provider string `toml:"provider,omitempty"`
	// Path is the JSONL log path for the file provider.
	Path string `toml:"path,omitempty"`
	// DSN is the database connection string for the sql provider.
	DSN string `toml:"dsn,omitempty"`
}

// ReconcileConfig tunes the reconciliation loop.
type ReconcileConfig struct {
	Interval      duration `toml:"interval,omitempty"` // default 5s
	MaxConcurrent int      `toml:"max_concurrent,omitempty"`
	AutoStart     *bool    `toml:"auto_start,omitempty"`
	AutoRetry     *bool    `toml:"auto_retry,omitempty"`
	MaxRetries    int      `toml:"max_retries,omitempty"`
}

// CheckpointConfig tunes checkpoint cadence and retention.
type CheckpointConfig struct {
	Interval  duration `toml:"interval,omitempty"` // default 1m
	Retention int      `toml:"retention,omitempty"`
	Dir       string   `toml:"dir,omitempty"`
}

// SupervisorConfig tunes worker supervision.
type SupervisorConfig struct {
	Strategy       string   `toml:"strategy,omitempty"` // one_for_one, one_for_all, rest_for_one
	MaxRestarts    int      `toml:"max_restarts,omitempty"`
	MeltdownWindow duration `toml:"meltdown_window,omitempty"`
	MeltdownLimit  int      `toml:"meltdown_limit,omitempty"`
	BackoffBase    duration `toml:"backoff_base,omitempty"`
	BackoffMax     duration `toml:"backoff_max,omitempty"`
	ShutdownGrace  duration `toml:"shutdown_grace,omitempty"`
	Workers        int      `toml:"workers,omitempty"`
}

// DispatchConfig selects the queue routing strategy.
type DispatchConfig struct {
	Strategy string `toml:"strategy,omitempty"` // fifo, lifo, round_robin, priority
	Tenant   string `toml:"tenant,omitempty"`
}

// TelemetryConfig points the OTLP exporters at a collector.
type TelemetryConfig struct {
	Enabled  bool   `toml:"enabled,omitempty"`
	Endpoint string `toml:"endpoint,omitempty"`
}

// duration wraps time.Duration with TOML string encoding ("5s", "1m").
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults applied by Parse when a field is zero.
const (
	DefaultStateDir           = ".weft"
	DefaultEventsProvider     = "file"
	DefaultReconcileInterval  = 5 * time.Second
	DefaultMaxConcurrent      = 10
	DefaultMaxRetries         = 3
	DefaultCheckpointInterval = time.Minute
	DefaultCheckpointKeep     = 5
	DefaultStrategy           = "one_for_one"
	DefaultWorkers            = 4
)

// Default returns the config written by "weft init".
func Default(name string) Weft {
	cfg := Weft{Workspace: Workspace{Name: name}}
	cfg.applyDefaults()
	return cfg
}

func (c *Weft) applyDefaults() {
	if c.Workspace.StateDir == "" {
		c.Workspace.StateDir = DefaultStateDir
	}
	if c.Events.Provider == "" {
		c.Events.Provider = DefaultEventsProvider
	}
	if c.Events.Path == "" {
		c.Events.Path = c.Workspace.StateDir + "/events.jsonl"
	}
	if c.Reconcile.Interval.Duration == 0 {
		c.Reconcile.Interval.Duration = DefaultReconcileInterval
	}
	if c.Reconcile.MaxConcurrent == 0 {
		c.Reconcile.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.Reconcile.MaxRetries == 0 {
		c.Reconcile.MaxRetries = DefaultMaxRetries
	}
	if c.Checkpoint.Interval.Duration == 0 {
		c.Checkpoint.Interval.Duration = DefaultCheckpointInterval
	}
	if c.Checkpoint.Retention == 0 {
		c.Checkpoint.Retention = DefaultCheckpointKeep
	}
	if c.Checkpoint.Dir == "" {
		c.Checkpoint.Dir = c.Workspace.StateDir + "/checkpoints"
	}
	if c.Supervisor.Strategy == "" {
		c.Supervisor.Strategy = DefaultStrategy
	}
	if c.Supervisor.Workers == 0 {
		c.Supervisor.Workers = DefaultWorkers
	}
	if c.Dispatch.Strategy == "" {
		c.Dispatch.Strategy = string(dispatch.Fifo)
	}
}

// Validate rejects configurations the daemon cannot run with.
func (c *Weft) Validate() error {
	if c.Workspace.Name == "" {
		return fmt.Errorf("workspace.name is required")
	}
	switch c.Events.Provider {
	case "file":
	case "sql":
		if c.Events.DSN == "" {
			return fmt.Errorf("events.dsn is required for the sql provider")
		}
	default:
		return fmt.Errorf("unknown events.provider %q", c.Events.Provider)
	}
	switch c.Supervisor.Strategy {
	case "one_for_one", "one_for_all", "rest_for_one":
	default:
		return fmt.Errorf("unknown supervisor.strategy %q", c.Supervisor.Strategy)
	}
	if !dispatch.Strategy(c.Dispatch.Strategy).Valid() {
		return fmt.Errorf("unknown dispatch.strategy %q", c.Dispatch.Strategy)
	}
	if dispatch.Strategy(c.Dispatch.Strategy) == dispatch.RoundRobin && c.Dispatch.Tenant == "" {
		return fmt.Errorf("dispatch.tenant is required for round_robin")
	}
	if c.Reconcile.MaxConcurrent < 1 {
		return fmt.Errorf("reconcile.max_concurrent must be at least 1")
	}
	if c.Checkpoint.Retention < 1 {
		return fmt.Errorf("checkpoint.retention must be at least 1")
	}
	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return fmt.Errorf("telemetry.endpoint is required when telemetry is enabled")
	}
	return nil
}

// AutoStart returns reconcile.auto_start, defaulting to true.
func (c *Weft) AutoStart() bool {
	return c.Reconcile.AutoStart == nil || *c.Reconcile.AutoStart
}

// AutoRetry returns reconcile.auto_retry, defaulting to true.
func (c *Weft) AutoRetry() bool {
	return c.Reconcile.AutoRetry == nil || *c.Reconcile.AutoRetry
}

// ReconcileInterval returns the reconcile loop period.
func (c *Weft) ReconcileInterval() time.Duration { return c.Reconcile.Interval.Duration }

// CheckpointInterval returns the checkpoint loop period.
func (c *Weft) CheckpointInterval() time.Duration { return c.Checkpoint.Interval.Duration }

// Marshal encodes the config to TOML bytes.
func (c *Weft) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.Indent = ""
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}
	return buf.Bytes(), nil
}

// Load reads and parses a weft.toml file at the given path. All file
// I/O goes through fs for testability.
func Load(fs fsys.FS, path string) (*Weft, error) {
	data, err := fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading config %q: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes TOML data, applies defaults, and validates.
func Parse(data []byte) (*Weft, error) {
	var cfg Weft
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
