package config

import (
	"strings"
	"testing"
	"time"

	"github.com/weftworks/weft/internal/fsys"
)

const sample = `
[workspace]
name = "delivery"
state_dir = "/var/lib/weft"

[events]
provider = "sql"
dsn = "weft:weft@tcp(localhost:3306)/weft"

[reconcile]
interval = "2s"
max_concurrent = 4
auto_start = false
max_retries = 7

[checkpoint]
interval = "30s"
retention = 2

[supervisor]
strategy = "rest_for_one"
max_restarts = 8
workers = 2

[dispatch]
strategy = "round_robin"
tenant = "acme"

[telemetry]
enabled = true
endpoint = "localhost:4318"
`

func TestParseFullConfig(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Workspace.Name != "delivery" || cfg.Workspace.StateDir != "/var/lib/weft" {
		t.Errorf("workspace = %+v", cfg.Workspace)
	}
	if cfg.Events.Provider != "sql" || cfg.Events.DSN == "" {
		t.Errorf("events = %+v", cfg.Events)
	}
	if cfg.ReconcileInterval() != 2*time.Second {
		t.Errorf("reconcile interval = %v", cfg.ReconcileInterval())
	}
	if cfg.Reconcile.MaxConcurrent != 4 || cfg.Reconcile.MaxRetries != 7 {
		t.Errorf("reconcile = %+v", cfg.Reconcile)
	}
	if cfg.AutoStart() {
		t.Error("auto_start = true, want false")
	}
	if !cfg.AutoRetry() {
		t.Error("auto_retry defaulted to false")
	}
	if cfg.CheckpointInterval() != 30*time.Second || cfg.Checkpoint.Retention != 2 {
		t.Errorf("checkpoint = %+v", cfg.Checkpoint)
	}
	if cfg.Supervisor.Strategy != "rest_for_one" || cfg.Supervisor.Workers != 2 {
		t.Errorf("supervisor = %+v", cfg.Supervisor)
	}
	if cfg.Dispatch.Strategy != "round_robin" || cfg.Dispatch.Tenant != "acme" {
		t.Errorf("dispatch = %+v", cfg.Dispatch)
	}
	if !cfg.Telemetry.Enabled || cfg.Telemetry.Endpoint != "localhost:4318" {
		t.Errorf("telemetry = %+v", cfg.Telemetry)
	}
}

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte("[workspace]\nname = \"minimal\"\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Workspace.StateDir != DefaultStateDir {
		t.Errorf("state_dir = %q", cfg.Workspace.StateDir)
	}
	if cfg.Events.Provider != "file" || cfg.Events.Path != ".weft/events.jsonl" {
		t.Errorf("events = %+v", cfg.Events)
	}
	if cfg.ReconcileInterval() != DefaultReconcileInterval {
		t.Errorf("interval = %v", cfg.ReconcileInterval())
	}
	if cfg.Reconcile.MaxConcurrent != DefaultMaxConcurrent || cfg.Reconcile.MaxRetries != DefaultMaxRetries {
		t.Errorf("reconcile = %+v", cfg.Reconcile)
	}
	if !cfg.AutoStart() || !cfg.AutoRetry() {
		t.Error("auto flags defaulted to false")
	}
	if cfg.Checkpoint.Dir != ".weft/checkpoints" || cfg.Checkpoint.Retention != DefaultCheckpointKeep {
		t.Errorf("checkpoint = %+v", cfg.Checkpoint)
	}
	if cfg.Supervisor.Strategy != DefaultStrategy || cfg.Supervisor.Workers != DefaultWorkers {
		t.Errorf("supervisor = %+v", cfg.Supervisor)
	}
	if cfg.Dispatch.Strategy != "fifo" {
		t.Errorf("dispatch = %+v", cfg.Dispatch)
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		toml string
		want string
	}{
		{"missing name", "[workspace]\n", "workspace.name"},
		{"bad events provider", "[workspace]\nname=\"x\"\n[events]\nprovider=\"redis\"\n", "events.provider"},
		{"sql without dsn", "[workspace]\nname=\"x\"\n[events]\nprovider=\"sql\"\n", "events.dsn"},
		{"bad strategy", "[workspace]\nname=\"x\"\n[supervisor]\nstrategy=\"two_for_one\"\n", "supervisor.strategy"},
		{"bad dispatch", "[workspace]\nname=\"x\"\n[dispatch]\nstrategy=\"random\"\n", "dispatch.strategy"},
		{"round robin no tenant", "[workspace]\nname=\"x\"\n[dispatch]\nstrategy=\"round_robin\"\n", "dispatch.tenant"},
		{"telemetry no endpoint", "[workspace]\nname=\"x\"\n[telemetry]\nenabled=true\n", "telemetry.endpoint"},
		{"bad toml", "not toml at all [", "parsing"},
		{"bad duration", "[workspace]\nname=\"x\"\n[reconcile]\ninterval=\"fast\"\n", "parsing"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.toml))
			if err == nil {
				t.Fatal("Parse succeeded")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("err = %v, want mention of %q", err, tc.want)
			}
		})
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	cfg := Default("roundtrip")
	cfg.Dispatch.Strategy = "priority"
	data, err := cfg.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	back, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if back.Workspace.Name != "roundtrip" || back.Dispatch.Strategy != "priority" {
		t.Errorf("round trip = %+v", back)
	}
	if back.ReconcileInterval() != DefaultReconcileInterval {
		t.Errorf("interval = %v", back.ReconcileInterval())
	}
}

func TestLoadThroughFS(t *testing.T) {
	fs := fsys.NewFake()
	fs.Files["weft.toml"] = []byte("[workspace]\nname = \"fromdisk\"\n")

	cfg, err := Load(fs, "weft.toml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Workspace.Name != "fromdisk" {
		t.Errorf("name = %q", cfg.Workspace.Name)
	}

	if _, err := Load(fs, "missing.toml"); err == nil {
		t.Error("Load of missing file succeeded")
	}
}
