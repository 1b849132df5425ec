package telegram

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"
)

func TestPollerDeliversUpdatesAndReportsFailures(t *testing.T) {
	var mu sync.Mutex
	var offsets []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var params map[string]string
		_ = json.NewDecoder(r.Body).Decode(&params)
		mu.Lock()
		offsets = append(offsets, params["offset"])
		n := len(offsets)
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if n == 1 {
			w.Write([]byte(`{"ok":true,"result":[{"update_id":7,"message":{"message_id":1,"date":1700000000,"chat":{"id":42,"type":"private"},"text":"hi"}}]}`))
			return
		}
		w.Write([]byte(`{"ok":false,"error_code":502,"description":"Bad Gateway"}`))
	}))
	defer srv.Close()

	bot, err := tele.NewBot(tele.Settings{URL: srv.URL, Token: "TOKEN", Offline: true})
	if err != nil {
		t.Fatalf("NewBot: %v", err)
	}

	failures := make(chan int, 10)
	p := &poller{onError: func(err error, consecutive int) { failures <- consecutive }}

	dest := make(chan tele.Update, 1)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		p.Poll(bot, dest, stop)
		close(done)
	}()

	select {
	case u := <-dest:
		if u.ID != 7 || u.Message == nil || u.Message.Text != "hi" {
			t.Errorf("update = %+v", u)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no update delivered")
	}

	select {
	case n := <-failures:
		if n != 1 {
			t.Errorf("consecutive = %d, want 1", n)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("failure not reported")
	}

	close(stop)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("poller did not stop")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(offsets) < 2 || offsets[0] != "1" || offsets[1] != "8" {
		t.Errorf("offsets = %v, want [1 8 ...]", offsets)
	}
}
