package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roelfdiedericks/clawrelay/internal/bus"
	. "github.com/roelfdiedericks/clawrelay/internal/logging"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = pongWait * 9 / 10
	streamBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// StreamEvent is one frame on /status/ws.
type StreamEvent struct {
	Type    string    `json:"type"` // "snapshot" or "status"
	Surface string    `json:"surface"`
	At      time.Time `json:"at"`
	Data    any       `json:"data"`
}

// handleStatusStream sends the current status of every surface, then every
// status change as it is published. Slow clients lose frames rather than
// stalling the bus.
func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		L_debug("http: websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	events := make(chan StreamEvent, streamBuffer)
	sub := s.bus.Subscribe(bus.Wildcard, func(e bus.Event) {
		surface, ok := statusSurface(e.Topic)
		if !ok {
			return
		}
		select {
		case events <- StreamEvent{Type: "status", Surface: surface, At: e.Timestamp, Data: e.Data}:
		default:
			L_trace("http: status stream client lagging, frame dropped", "surface", surface)
		}
	})
	defer s.bus.Unsubscribe(sub)

	L_debug("http: status stream connected", "ip", getClientIP(r))

	now := time.Now()
	for name, st := range s.source.Status() {
		if err := writeFrame(conn, StreamEvent{Type: "snapshot", Surface: name, At: now, Data: st}); err != nil {
			return
		}
	}

	// Reader: handles pongs and notices the client going away
	gone := make(chan struct{})
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-s.shutdown:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server stopping"),
				time.Now().Add(writeWait))
			return
		case <-r.Context().Done():
			return
		case <-gone:
			L_debug("http: status stream closed by client")
			return
		case ev := <-events:
			if err := writeFrame(conn, ev); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func writeFrame(conn *websocket.Conn, ev StreamEvent) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(ev); err != nil {
		L_debug("http: status stream write failed", "error", err)
		return err
	}
	return nil
}

// statusSurface extracts the surface from a status topic.
func statusSurface(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, "channels.")
	if !ok {
		return "", false
	}
	surface, ok := strings.CutSuffix(rest, ".status")
	if !ok || surface == "" {
		return "", false
	}
	return surface, true
}
