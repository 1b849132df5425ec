package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roelfdiedericks/clawrelay/internal/bus"
	"github.com/roelfdiedericks/clawrelay/internal/channels"
	"github.com/roelfdiedericks/clawrelay/internal/monitor"
)

type staticSource map[string]channels.ChannelStatus

func (s staticSource) Status() map[string]channels.ChannelStatus { return s }

func newTestServer(t *testing.T, token string, source StatusSource) (*Server, *httptest.Server, *bus.Bus) {
	t.Helper()
	b := bus.New()
	s := NewServer(ServerConfig{Token: token, Version: "test", Bus: b}, source)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts, b
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name   string
		source staticSource
		code   int
		status string
	}{
		{"ok", staticSource{"whatsapp": {Running: true}}, http.StatusOK, "ok"},
		{"degraded", staticSource{"whatsapp": {Running: false, Error: "session logged out"}}, http.StatusServiceUnavailable, "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ts, _ := newTestServer(t, "secret", tt.source)
			resp, err := http.Get(ts.URL + "/healthz")
			if err != nil {
				t.Fatalf("GET: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.code {
				t.Errorf("code = %d, want %d", resp.StatusCode, tt.code)
			}
			var body HealthResponse
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Status != tt.status || body.Version != "test" || body.Surfaces != 1 {
				t.Errorf("body = %+v", body)
			}
		})
	}
}

func TestStatusRequiresToken(t *testing.T) {
	source := staticSource{"telegram": {Running: true, Connected: true, Info: "@relay_bot"}}
	_, ts, _ := newTestServer(t, "secret", source)

	resp, err := http.Get(ts.URL + "/status")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no token: code = %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/status", nil)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("with token: code = %d", resp.StatusCode)
	}
	var body StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st := body.Surfaces["telegram"]; !st.Connected || st.Info != "@relay_bot" {
		t.Errorf("surfaces = %+v", body.Surfaces)
	}
}

func TestBadTokenIsRateLimited(t *testing.T) {
	_, ts, _ := newTestServer(t, "secret", staticSource{})
	codes := make([]int, 0, 2)
	var retryAfter string
	for i := 0; i < 2; i++ {
		resp, err := http.Get(ts.URL + "/status?token=wrong")
		if err != nil {
			t.Fatalf("GET: %v", err)
		}
		resp.Body.Close()
		codes = append(codes, resp.StatusCode)
		retryAfter = resp.Header.Get("Retry-After")
	}
	if codes[0] != http.StatusUnauthorized || codes[1] != http.StatusTooManyRequests {
		t.Errorf("codes = %v", codes)
	}
	if retryAfter != "10" {
		t.Errorf("Retry-After = %q, want 10", retryAfter)
	}
}

func TestAuthLimiter(t *testing.T) {
	now := time.Unix(1700000000, 0)
	a := newAuthLimiter(10 * time.Second)
	a.now = func() time.Time { return now }

	a.fail("10.0.0.1")
	if got := a.retryAfter("10.0.0.1"); got != 10*time.Second {
		t.Errorf("retryAfter = %v", got)
	}
	if a.retryAfter("10.0.0.2") != 0 {
		t.Error("other clients must not be limited")
	}

	now = now.Add(11 * time.Second)
	a.fail("10.0.0.2")
	if len(a.blocked) != 1 {
		t.Errorf("expired lockouts not swept: %v", a.blocked)
	}
	if a.retryAfter("10.0.0.1") != 0 {
		t.Error("lockout should have ended")
	}

	a.clear("10.0.0.2")
	if a.retryAfter("10.0.0.2") != 0 {
		t.Error("clear should lift the lockout")
	}
}

func TestStatusStream(t *testing.T) {
	source := staticSource{"whatsapp": {Running: true}}
	_, ts, b := newTestServer(t, "", source)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/status/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var ev StreamEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if ev.Type != "snapshot" || ev.Surface != "whatsapp" {
		t.Errorf("snapshot = %+v", ev)
	}

	// The subscription is registered before the snapshot is written
	b.Publish("config.reloaded", nil, "test")
	b.Publish(bus.StatusTopic("whatsapp"), monitor.Status{Surface: "whatsapp", State: monitor.StateReconnecting}, "monitor")

	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read status: %v", err)
	}
	if ev.Type != "status" || ev.Surface != "whatsapp" {
		t.Errorf("event = %+v", ev)
	}
	data, _ := ev.Data.(map[string]any)
	if data["state"] != "reconnecting" {
		t.Errorf("data = %v", ev.Data)
	}
}

func TestStatusSurface(t *testing.T) {
	tests := map[string]string{
		"channels.whatsapp.status":  "whatsapp",
		"channels.telegram.status":  "telegram",
		"channels.whatsapp.started": "",
		"config.reloaded":           "",
		"channels..status":          "",
	}
	for topic, want := range tests {
		got, ok := statusSurface(topic)
		if got != want || ok != (want != "") {
			t.Errorf("statusSurface(%q) = %q, %v", topic, got, ok)
		}
	}
}
