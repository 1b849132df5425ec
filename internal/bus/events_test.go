package bus

import (
	"testing"
	"time"
)

func TestPublishReachesTopicAndWildcard(t *testing.T) {
	b := New()
	got := make(chan string, 4)
	b.Subscribe("channels.whatsapp.status", func(e Event) { got <- "topic:" + e.Source })
	b.Subscribe(Wildcard, func(e Event) { got <- "wild:" + e.Topic })
	b.Subscribe("other", func(e Event) { got <- "other" })

	b.Publish(StatusTopic("whatsapp"), nil, "monitor")

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case s := <-got:
			seen[s] = true
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for handlers")
		}
	}
	if !seen["topic:monitor"] || !seen["wild:channels.whatsapp.status"] {
		t.Fatalf("seen = %v", seen)
	}
	select {
	case s := <-got:
		t.Fatalf("unexpected delivery %q", s)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPanickingHandlerIsIsolated(t *testing.T) {
	b := New()
	ok := make(chan struct{}, 1)
	b.Subscribe("t", func(Event) { panic("boom") })
	b.Subscribe("t", func(Event) { ok <- struct{}{} })

	b.Publish("t", nil, "test")
	select {
	case <-ok:
	case <-time.After(time.Second):
		t.Fatal("healthy handler did not run")
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	id := b.Subscribe("t", func(Event) {})
	if !b.Unsubscribe(id) {
		t.Fatal("expected removal")
	}
	if b.Count("t") != 0 {
		t.Fatal("subscriber still registered")
	}
	if b.Unsubscribe(id) {
		t.Fatal("second removal should report false")
	}
}
