package monitor

import (
	"fmt"
	"strings"
	"time"

	"github.com/roelfdiedericks/clawrelay/internal/bus"
)

// State is the supervisor's lifecycle state.
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateClosing      State = "closing"
	StateReconnecting State = "reconnecting"
	StateStopped      State = "stopped"
)

// Disconnect records the most recent disconnect.
type Disconnect struct {
	At        time.Time `json:"at"`
	Status    int       `json:"status,omitempty"`
	Error     string    `json:"error,omitempty"`
	LoggedOut bool      `json:"loggedOut,omitempty"`
}

// Status is a snapshot of one surface's connection. While Connected is
// true, LastDisconnect describes the previous connection's end.
type Status struct {
	Surface           string      `json:"surface"`
	Running           bool        `json:"running"`
	Connected         bool        `json:"connected"`
	State             State       `json:"state"`
	ReconnectAttempts int         `json:"reconnectAttempts"`
	LastConnectedAt   time.Time   `json:"lastConnectedAt,omitempty"`
	LastDisconnect    *Disconnect `json:"lastDisconnect,omitempty"`
	LastMessageAt     time.Time   `json:"lastMessageAt,omitempty"`
	LastEventAt       time.Time   `json:"lastEventAt,omitempty"`
	LastError         string      `json:"lastError,omitempty"`
	MessagesHandled   int64       `json:"messagesHandled"`
}

// Status returns the current snapshot.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Monitor) snapshotLocked() Status {
	s := m.status
	if s.LastDisconnect != nil {
		d := *s.LastDisconnect
		s.LastDisconnect = &d
	}
	s.MessagesHandled = m.handled.Load()
	return s
}

// update applies fn to the status and emits the new snapshot to the sink
// and the bus. Only the monitor writes its status.
func (m *Monitor) update(fn func(*Status)) {
	m.mu.Lock()
	fn(&m.status)
	m.status.LastEventAt = time.Now()
	snap := m.snapshotLocked()
	m.mu.Unlock()

	if m.opts.StatusSink != nil {
		m.opts.StatusSink(snap)
	}
	bus.PublishEvent(bus.StatusTopic(m.opts.Surface), snap, "monitor")
}

// Summary renders the status for the /status command.
func (s Status) Summary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %s", s.Surface, s.State)
	if s.Connected && !s.LastConnectedAt.IsZero() {
		fmt.Fprintf(&sb, ", up %s", time.Since(s.LastConnectedAt).Round(time.Second))
	}
	fmt.Fprintf(&sb, "\nMessages this connection: %d", s.MessagesHandled)
	if !s.LastMessageAt.IsZero() {
		fmt.Fprintf(&sb, "\nLast message: %s ago", time.Since(s.LastMessageAt).Round(time.Second))
	}
	if s.ReconnectAttempts > 0 {
		fmt.Fprintf(&sb, "\nReconnect attempts: %d", s.ReconnectAttempts)
	}
	if d := s.LastDisconnect; d != nil {
		fmt.Fprintf(&sb, "\nLast disconnect: %s ago", time.Since(d.At).Round(time.Second))
		if d.Error != "" {
			fmt.Fprintf(&sb, " (%s)", d.Error)
		}
	}
	return sb.String()
}
