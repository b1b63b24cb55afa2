package checkpoint

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cp := New(42, []byte(`{"beads":{}}`))
	cp.Workflows = map[string][]byte{"wf-1": []byte(`{"status":"running"}`)}

	data, err := Encode(cp)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.ID != cp.ID || got.EventSequence != 42 {
		t.Errorf("got id=%s seq=%d, want id=%s seq=42", got.ID, got.EventSequence, cp.ID)
	}
	if !bytes.Equal(got.State, cp.State) {
		t.Errorf("state mismatch: %q vs %q", got.State, cp.State)
	}
	if !bytes.Equal(got.Workflows["wf-1"], cp.Workflows["wf-1"]) {
		t.Error("workflow snapshot mismatch")
	}
	if !got.CreatedAt.Equal(cp.CreatedAt) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, cp.CreatedAt)
	}
}

func TestEncodeCompressesRepetitiveState(t *testing.T) {
	state := []byte(strings.Repeat(`{"bead":"pending","deps":[]},`, 2000))
	data, err := Encode(New(1, state))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(data) > len(state)/2 {
		t.Errorf("encoded %d bytes from %d, want at least 2x compression", len(data), len(state))
	}
}

func TestDecodeRejectsBadInput(t *testing.T) {
	good, err := Encode(New(1, []byte("state")))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	badMagic := append([]byte("NOTCPT00"), good[len(magic):]...)
	badVersion := append([]byte(magic), 0xFF, 0xFF, 0xFF, 0xFF)
	badVersion = append(badVersion, good[headerLen:]...)

	cases := []struct {
		name string
		data []byte
	}{
		{"truncated", good[:4]},
		{"bad magic", badMagic},
		{"bad version", badVersion},
		{"corrupt body", append(append([]byte(nil), good[:headerLen]...), 'x', 'y', 'z')},
	}
	for _, tc := range cases {
		if _, err := Decode(tc.data); err == nil {
			t.Errorf("%s: Decode succeeded, want error", tc.name)
		}
	}
}

func TestFileStoreSaveLatestPrune(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	if _, err := store.Latest(); !errors.Is(err, ErrNoCheckpoint) {
		t.Fatalf("Latest on empty store: %v, want ErrNoCheckpoint", err)
	}

	for seq := uint64(10); seq <= 50; seq += 10 {
		if err := store.Save(New(seq, []byte("state"))); err != nil {
			t.Fatalf("Save seq %d: %v", seq, err)
		}
	}

	latest, err := store.Latest()
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest.EventSequence != 50 {
		t.Errorf("latest seq = %d, want 50", latest.EventSequence)
	}

	if err := store.Prune(2); err != nil {
		t.Fatalf("Prune: %v", err)
	}
	names, err := store.list()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(names) != 2 {
		t.Errorf("after prune: %d files, want 2", len(names))
	}
	latest, err = store.Latest()
	if err != nil || latest.EventSequence != 50 {
		t.Errorf("latest after prune: seq=%d err=%v, want 50", latest.EventSequence, err)
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if err := store.Save(New(7, []byte("persisted"))); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reopened, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	cp, err := reopened.Latest()
	if err != nil {
		t.Fatalf("Latest after reopen: %v", err)
	}
	if cp.EventSequence != 7 || string(cp.State) != "persisted" {
		t.Errorf("got seq=%d state=%q", cp.EventSequence, cp.State)
	}
}

func TestManagerCreateAndRetention(t *testing.T) {
	store := NewMemStore()
	seq := uint64(0)
	mgr := NewManager(store, func() (uint64, []byte, error) {
		seq += 5
		return seq, []byte("snap"), nil
	}, 3)

	var created []*Checkpoint
	mgr.OnCreated = func(cp *Checkpoint) { created = append(created, cp) }

	for i := 0; i < 5; i++ {
		if _, err := mgr.Create(); err != nil {
			t.Fatalf("Create %d: %v", i, err)
		}
	}
	if len(created) != 5 {
		t.Errorf("OnCreated fired %d times, want 5", len(created))
	}
	if len(store.cps) != 3 {
		t.Errorf("retained %d checkpoints, want 3", len(store.cps))
	}
	latest, err := mgr.Latest()
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest.EventSequence != 25 {
		t.Errorf("latest seq = %d, want 25", latest.EventSequence)
	}
}

func TestManagerCreateSnapshotError(t *testing.T) {
	wantErr := errors.New("projection busy")
	mgr := NewManager(NewMemStore(), func() (uint64, []byte, error) {
		return 0, nil, wantErr
	}, 1)
	if _, err := mgr.Create(); !errors.Is(err, wantErr) {
		t.Errorf("Create: %v, want wrapped %v", err, wantErr)
	}
}

func TestCheckpointTimestampsAreUTC(t *testing.T) {
	cp := New(1, nil)
	if cp.CreatedAt.Location() != time.UTC {
		t.Errorf("CreatedAt location = %v, want UTC", cp.CreatedAt.Location())
	}
}
