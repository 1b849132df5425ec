package grouphistory

import (
	"fmt"
	"strings"
	"testing"
)

func TestFIFOCap(t *testing.T) {
	b := New(3)
	for i := 1; i <= 5; i++ {
		b.Append("g1", Entry{Sender: "alice", Body: fmt.Sprintf("msg %d", i)})
	}
	got := b.Snapshot("g1")
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, want := range []string{"msg 3", "msg 4", "msg 5"} {
		if got[i].Body != want {
			t.Errorf("entry %d = %q, want %q", i, got[i].Body, want)
		}
	}
}

func TestConversationsAreIsolated(t *testing.T) {
	b := New(0)
	b.Append("g1", Entry{Body: "a"})
	b.Append("g2", Entry{Body: "b"})
	b.ClearThrough("g1", 100)
	if b.Len("g1") != 0 || b.Len("g2") != 1 {
		t.Fatalf("g1=%d g2=%d", b.Len("g1"), b.Len("g2"))
	}
}

func TestClearThroughKeepsLaterEntries(t *testing.T) {
	b := New(0)
	b.Append("g", Entry{Body: "before"})
	cut := b.Append("g", Entry{Body: "trigger"})
	b.Append("g", Entry{Body: "arrived during reply"})

	b.ClearThrough("g", cut)

	got := b.Snapshot("g")
	if len(got) != 1 || got[0].Body != "arrived during reply" {
		t.Fatalf("remaining = %+v", got)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	b := New(0)
	b.Append("g", Entry{Body: "x"})
	snap := b.Snapshot("g")
	snap[0].Body = "mutated"
	if b.Snapshot("g")[0].Body != "x" {
		t.Fatal("snapshot aliases buffer")
	}
}

func TestCompose(t *testing.T) {
	if Compose(nil, "hi") != "hi" {
		t.Error("no history should leave the message unchanged")
	}
	out := Compose([]Entry{{Sender: "bob", Body: "earlier"}}, "now")
	if !strings.HasPrefix(out, ContextHeader) {
		t.Errorf("missing context header: %q", out)
	}
	if !strings.Contains(out, "bob: earlier") {
		t.Errorf("missing prior line: %q", out)
	}
	if !strings.HasSuffix(out, CurrentHeader+"\nnow") {
		t.Errorf("missing current block: %q", out)
	}
}

func TestTrimToBudget(t *testing.T) {
	entries := []Entry{
		{Sender: "a", Body: "oldest message"},
		{Sender: "b", Body: "middle"},
		{Sender: "c", Body: "newest"},
	}
	count := func(s string) int { return len(s) }

	if got := TrimToBudget(entries, 0, count); len(got) != 3 {
		t.Errorf("zero budget should keep all, got %d", len(got))
	}

	budget := len(ContextHeader) + len("b: middle") + len("c: newest")
	got := TrimToBudget(entries, budget, count)
	if len(got) != 2 || got[0].Sender != "b" || got[1].Sender != "c" {
		t.Errorf("trimmed = %+v", got)
	}

	if got := TrimToBudget(entries, 1, count); len(got) != 0 {
		t.Errorf("tiny budget should drop all, got %+v", got)
	}
}
