package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/roelfdiedericks/clawrelay/internal/types"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })
	return map[string]Store{"sqlite": sqlite, "memory": NewMemoryStore()}
}

func TestStoreActivationAndRoute(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			key := Key("whatsapp", types.ChatGroup, "123@g.us")

			mode, err := s.GetActivation(ctx, key)
			if err != nil || mode != "" {
				t.Fatalf("unset activation = %q, %v", mode, err)
			}
			if err := s.SetActivation(ctx, key, "always"); err != nil {
				t.Fatal(err)
			}
			if mode, _ := s.GetActivation(ctx, key); mode != "always" {
				t.Fatalf("activation = %q", mode)
			}

			if r, err := s.GetLastRoute(ctx, key); err != nil || r != nil {
				t.Fatalf("unset route = %+v, %v", r, err)
			}
			route := Route{Surface: "whatsapp", To: "123@g.us", MessageID: "m1", At: time.Now().Truncate(time.Millisecond)}
			if err := s.SetLastRoute(ctx, key, route); err != nil {
				t.Fatal(err)
			}
			got, err := s.GetLastRoute(ctx, key)
			if err != nil || got == nil || got.MessageID != "m1" || !got.At.Equal(route.At) {
				t.Fatalf("route = %+v, %v", got, err)
			}

			// Setting the route keeps the activation
			if mode, _ := s.GetActivation(ctx, key); mode != "always" {
				t.Fatalf("activation lost: %q", mode)
			}
		})
	}
}

func TestStoreTouchIsMonotonic(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			later := time.Now().Truncate(time.Millisecond)
			earlier := later.Add(-time.Hour)
			s.Touch(ctx, "k", later)
			s.Touch(ctx, "k", earlier)

			list, err := s.ListSessions(ctx)
			if err != nil || len(list) != 1 {
				t.Fatalf("list = %+v, %v", list, err)
			}
			if !list[0].LastMessageAt.Equal(later) {
				t.Fatalf("LastMessageAt = %v, want %v", list[0].LastMessageAt, later)
			}
		})
	}
}

func TestStoreHeartbeat(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if hb, err := s.LastHeartbeat(ctx, "whatsapp"); err != nil || hb != nil {
				t.Fatalf("empty heartbeat = %+v, %v", hb, err)
			}
			s.RecordHeartbeat(ctx, Heartbeat{Surface: "whatsapp", MessagesHandled: 1, At: time.Now()})
			s.RecordHeartbeat(ctx, Heartbeat{Surface: "whatsapp", MessagesHandled: 7, Connected: true, At: time.Now()})
			hb, err := s.LastHeartbeat(ctx, "whatsapp")
			if err != nil || hb == nil || hb.MessagesHandled != 7 || !hb.Connected {
				t.Fatalf("heartbeat = %+v, %v", hb, err)
			}
		})
	}
}

func TestStorePrune(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			s.SetActivation(ctx, "old", "mention")
			n, err := s.Prune(ctx, time.Now().Add(-time.Hour))
			if err != nil || n != 0 {
				t.Fatalf("pruned fresh session: n=%d err=%v", n, err)
			}
			n, err = s.Prune(ctx, time.Now().Add(time.Hour))
			if err != nil || n != 1 {
				t.Fatalf("prune = %d, %v", n, err)
			}
		})
	}
}

func TestSQLiteReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "s.db")
	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatal(err)
	}
	s.SetActivation(ctx, "k", "always")
	s.Close()

	s, err = NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	if mode, _ := s.GetActivation(ctx, "k"); mode != "always" {
		t.Fatalf("activation after reopen = %q", mode)
	}
}

func TestKey(t *testing.T) {
	if got := Key("WhatsApp", types.ChatGroup, "1@g.us"); got != "whatsapp:group:1@g.us" {
		t.Errorf("Key = %q", got)
	}
	if got := Key("telegram", types.ChatDirect, "42"); got != "telegram:dm:42" {
		t.Errorf("Key = %q", got)
	}
}
