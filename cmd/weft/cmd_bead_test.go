package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/weftworks/weft/internal/bead"
)

// declareBead runs "weft bead add" and returns the new bead's ID parsed
// from the confirmation line.
func declareBead(t *testing.T, title string) string {
	t.Helper()
	var stdout, stderr bytes.Buffer
	if code := run([]string{"bead", "add", title}, &stdout, &stderr); code != 0 {
		t.Fatalf("bead add = %d; stderr: %s", code, stderr.String())
	}
	line := strings.TrimSpace(stdout.String())
	fields := strings.Fields(line)
	if len(fields) < 3 {
		t.Fatalf("unexpected add output: %q", line)
	}
	return strings.TrimSuffix(fields[2], ":")
}

func TestBeadCompleteRecordsCompletion(t *testing.T) {
	t.Chdir(t.TempDir())
	if code := run([]string{"init", "--name", "demo"}, &bytes.Buffer{}, &bytes.Buffer{}); code != 0 {
		t.Fatal("init failed")
	}
	id := declareBead(t, "handled out of band")

	// Fold the bead into the log before completing it.
	for i := 0; i < 2; i++ {
		if code := run([]string{"reconcile"}, &bytes.Buffer{}, &bytes.Buffer{}); code != 0 {
			t.Fatalf("reconcile pass %d failed", i+1)
		}
	}

	var stdout, stderr bytes.Buffer
	if code := run([]string{"bead", "complete", id, "--output", "merged upstream"}, &stdout, &stderr); code != 0 {
		t.Fatalf("bead complete = %d; stderr: %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "Completed bead "+id) {
		t.Errorf("stdout = %q, want completion confirmation", stdout.String())
	}

	stdout.Reset()
	if code := run([]string{"status"}, &stdout, &bytes.Buffer{}); code != 0 {
		t.Fatal("status failed")
	}
	if !strings.Contains(stdout.String(), "1 completed") {
		t.Errorf("status = %q, want a completed bead", stdout.String())
	}
}

func TestBeadCompleteRejectsCompletedBead(t *testing.T) {
	t.Chdir(t.TempDir())
	if code := run([]string{"init"}, &bytes.Buffer{}, &bytes.Buffer{}); code != 0 {
		t.Fatal("init failed")
	}
	id := declareBead(t, "once only")
	for i := 0; i < 2; i++ {
		if code := run([]string{"reconcile"}, &bytes.Buffer{}, &bytes.Buffer{}); code != 0 {
			t.Fatalf("reconcile pass %d failed", i+1)
		}
	}
	if code := run([]string{"bead", "complete", id}, &bytes.Buffer{}, &bytes.Buffer{}); code != 0 {
		t.Fatal("first complete failed")
	}

	var stderr bytes.Buffer
	if code := run([]string{"bead", "complete", id}, &bytes.Buffer{}, &stderr); code != 1 {
		t.Errorf("second complete = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "already completed") {
		t.Errorf("stderr = %q, want 'already completed'", stderr.String())
	}
}

func TestBeadCompleteUnknownBead(t *testing.T) {
	t.Chdir(t.TempDir())
	if code := run([]string{"init"}, &bytes.Buffer{}, &bytes.Buffer{}); code != 0 {
		t.Fatal("init failed")
	}

	var stderr bytes.Buffer
	if code := run([]string{"bead", "complete", bead.NewID().String()}, &bytes.Buffer{}, &stderr); code != 1 {
		t.Errorf("complete unknown = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "no recorded events") {
		t.Errorf("stderr = %q, want 'no recorded events'", stderr.String())
	}
}
