package echo

import (
	"fmt"
	"testing"
)

func TestShouldSuppressIsOneShot(t *testing.T) {
	g := New(0)
	g.RecordSent("hello")

	if !g.ShouldSuppress("hello") {
		t.Fatal("first echo should be suppressed")
	}
	if g.ShouldSuppress("hello") {
		t.Fatal("second identical message must pass through")
	}
	if g.ShouldSuppress("never sent") {
		t.Fatal("unknown body must not be suppressed")
	}
}

func TestEvictsOldest(t *testing.T) {
	g := New(3)
	for i := 0; i < 5; i++ {
		g.RecordSent(fmt.Sprintf("m%d", i))
	}
	if g.Len() != 3 {
		t.Fatalf("Len = %d, want 3", g.Len())
	}
	if g.ShouldSuppress("m0") || g.ShouldSuppress("m1") {
		t.Error("evicted bodies should not be suppressed")
	}
	for _, b := range []string{"m2", "m3", "m4"} {
		if !g.ShouldSuppress(b) {
			t.Errorf("%s should be suppressed", b)
		}
	}
}

func TestDuplicateRecordDoesNotGrow(t *testing.T) {
	g := New(2)
	g.RecordSent("a")
	g.RecordSent("a")
	g.RecordSent("b")
	if g.Len() != 2 {
		t.Fatalf("Len = %d, want 2", g.Len())
	}
	if !g.ShouldSuppress("a") {
		t.Error("a should still be remembered")
	}
}
