package channels

import (
	"time"

	"github.com/roelfdiedericks/clawrelay/internal/monitor"
)

// Surface is one configured surface the manager should run.
type Surface struct {
	Name        string
	Options     monitor.Options
	Info        string // Human-readable detail (e.g. "@botname", the command)
	Fingerprint string // Changes whenever the surface must be restarted
}

// ChannelStatus represents the current state of a managed surface
type ChannelStatus struct {
	Running   bool           `json:"running"`         // Monitor goroutine alive
	Connected bool           `json:"connected"`       // Listener currently connected
	Error     string         `json:"error,omitempty"` // Why the monitor stopped, if it did
	StartedAt time.Time      `json:"startedAt"`       // When the current monitor was started
	Info      string         `json:"info,omitempty"`
	Monitor   monitor.Status `json:"monitor"`
}
