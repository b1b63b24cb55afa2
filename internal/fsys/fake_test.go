package fsys

import (
	"errors"
	"os"
	"testing"
)

func TestFakeWriteThenRead(t *testing.T) {
	f := NewFake()
	if err := f.WriteFile("weft/weft.toml", []byte("[reconcile]"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	data, err := f.ReadFile("weft/weft.toml")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "[reconcile]" {
		t.Errorf("data = %q", data)
	}
}

func TestFakeReadMissingFile(t *testing.T) {
	f := NewFake()
	if _, err := f.ReadFile("absent"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want ErrNotExist", err)
	}
}

func TestFakeErrorInjection(t *testing.T) {
	f := NewFake()
	boom := errors.New("disk full")
	f.Errors["weft.toml"] = boom
	if err := f.WriteFile("weft.toml", nil, 0o644); !errors.Is(err, boom) {
		t.Errorf("err = %v, want injected error", err)
	}
}

func TestFakeMkdirAllRecordsParents(t *testing.T) {
	f := NewFake()
	if err := f.MkdirAll("a/b/c", 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	for _, dir := range []string{"a", "a/b", "a/b/c"} {
		if !f.Dirs[dir] {
			t.Errorf("dir %q not recorded", dir)
		}
	}
}

func TestFakeReadDirListsDirectChildren(t *testing.T) {
	f := NewFake()
	f.MkdirAll("root/sub", 0o755)
	f.WriteFile("root/a.txt", []byte("x"), 0o644)
	f.WriteFile("root/sub/nested.txt", []byte("y"), 0o644)

	entries, err := f.ReadDir("root")
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2 (a.txt, sub)", len(entries))
	}
	if entries[0].Name() != "a.txt" || entries[0].IsDir() {
		t.Errorf("entry 0 = %s dir=%v", entries[0].Name(), entries[0].IsDir())
	}
	if entries[1].Name() != "sub" || !entries[1].IsDir() {
		t.Errorf("entry 1 = %s dir=%v", entries[1].Name(), entries[1].IsDir())
	}
}

func TestFakeCallLog(t *testing.T) {
	f := NewFake()
	f.WriteFile("x", nil, 0o644)
	f.ReadFile("x")
	f.Stat("x")

	want := []string{"WriteFile", "ReadFile", "Stat"}
	if len(f.Calls) != len(want) {
		t.Fatalf("calls = %v", f.Calls)
	}
	for i, m := range want {
		if f.Calls[i].Method != m || f.Calls[i].Path != "x" {
			t.Errorf("call %d = %+v, want %s x", i, f.Calls[i], m)
		}
	}
}
