package bead

import (
	"strings"
	"testing"
)

func TestNewIDIsTimeOrdered(t *testing.T) {
	a := NewID()
	b := NewID()
	if a == b {
		t.Fatal("two fresh IDs collided")
	}
	if a.Version() != 7 {
		t.Errorf("version = %d, want 7", a.Version())
	}
	if strings.Compare(a.String(), b.String()) >= 0 {
		t.Errorf("later ID %s does not sort after %s", b, a)
	}
}

func TestParseIDRoundTrip(t *testing.T) {
	id := NewID()
	got, err := ParseID(id.String())
	if err != nil {
		t.Fatalf("ParseID: %v", err)
	}
	if got != id {
		t.Errorf("ParseID = %s, want %s", got, id)
	}
}

func TestParseIDRejectsGarbage(t *testing.T) {
	if _, err := ParseID("not-a-bead-id"); err == nil {
		t.Error("ParseID accepted garbage")
	}
}
