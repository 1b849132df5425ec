// Package channels owns the per-surface connection monitors.
package channels

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/roelfdiedericks/clawrelay/internal/bus"
	. "github.com/roelfdiedericks/clawrelay/internal/logging"
	"github.com/roelfdiedericks/clawrelay/internal/monitor"
)

// managed is one surface's slot and bookkeeping.
type managed struct {
	slot        monitor.Slot
	info        string
	fingerprint string
	startedAt   time.Time

	mu     sync.Mutex
	handle *monitor.Handle
	err    error // Terminal error of the last monitor, if it stopped on its own
}

// Manager owns the lifecycle of all surfaces
type Manager struct {
	ctx context.Context

	mu       sync.RWMutex
	surfaces map[string]*managed
}

// NewManager creates a manager whose monitors run under ctx.
func NewManager(ctx context.Context) *Manager {
	return &Manager{
		ctx:      ctx,
		surfaces: make(map[string]*managed),
	}
}

// Apply brings the running surfaces in line with want: new surfaces start,
// surfaces whose fingerprint changed (or whose monitor stopped) restart,
// and surfaces no longer wanted stop.
func (m *Manager) Apply(want []Surface) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	wanted := make(map[string]bool, len(want))
	var errs []error
	for _, s := range want {
		wanted[s.Name] = true
		cur, ok := m.surfaces[s.Name]
		if ok && cur.fingerprint == s.Fingerprint && !finished(cur.current()) {
			L_debug("channels: unchanged", "surface", s.Name)
			continue
		}
		if !ok {
			cur = &managed{}
			m.surfaces[s.Name] = cur
		}
		if err := m.start(cur, s); err != nil {
			L_error("channels: start failed", "surface", s.Name, "error", err)
			errs = append(errs, err)
		}
	}

	for name, cur := range m.surfaces {
		if wanted[name] {
			continue
		}
		L_info("channels: surface disabled by config", "surface", name)
		_ = cur.slot.Stop()
		delete(m.surfaces, name)
		bus.PublishEvent("channels."+name+".stopped", nil, "channels")
	}
	return errors.Join(errs...)
}

func (m *Manager) start(cur *managed, s Surface) error {
	h, err := cur.slot.Replace(m.ctx, s.Options)
	if err != nil {
		return err
	}
	cur.info = s.Info
	cur.fingerprint = s.Fingerprint
	cur.startedAt = time.Now()
	cur.mu.Lock()
	cur.handle = h
	cur.err = nil
	cur.mu.Unlock()

	go m.watch(s.Name, cur, h)
	bus.PublishEvent("channels."+s.Name+".started", nil, "channels")
	L_info("channels: surface started", "surface", s.Name, "info", s.Info)
	return nil
}

// watch records why a monitor ended. Cancellation is not an error.
func (m *Manager) watch(name string, cur *managed, h *monitor.Handle) {
	err := h.Wait()
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	cur.mu.Lock()
	current := cur.handle == h
	if current {
		cur.err = err
	}
	cur.mu.Unlock()
	if !current {
		return
	}

	switch {
	case errors.Is(err, monitor.ErrLoggedOut):
		L_error("channels: surface logged out, re-link required", "surface", name)
	case errors.Is(err, monitor.ErrReconnectExhausted):
		L_error("channels: surface gave up reconnecting", "surface", name)
	default:
		L_error("channels: surface stopped", "surface", name, "error", err)
	}
}

func (cur *managed) current() *monitor.Handle {
	cur.mu.Lock()
	defer cur.mu.Unlock()
	return cur.handle
}

func finished(h *monitor.Handle) bool {
	if h == nil {
		return true
	}
	select {
	case <-h.Done():
		return true
	default:
		return false
	}
}

// StopAll gracefully shuts down all running surfaces
func (m *Manager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	var wg sync.WaitGroup
	for name, cur := range m.surfaces {
		wg.Add(1)
		go func(name string, cur *managed) {
			defer wg.Done()
			L_debug("channels: stopping", "surface", name)
			_ = cur.slot.Stop()
			bus.PublishEvent("channels."+name+".stopped", nil, "channels")
		}(name, cur)
	}
	wg.Wait()
	m.surfaces = make(map[string]*managed)
}

// Names returns the managed surface names, sorted.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.surfaces))
	for name := range m.surfaces {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Status returns the status of all surfaces
func (m *Manager) Status() map[string]ChannelStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]ChannelStatus, len(m.surfaces))
	for name, cur := range m.surfaces {
		st := ChannelStatus{StartedAt: cur.startedAt, Info: cur.info}
		cur.mu.Lock()
		h := cur.handle
		if cur.err != nil {
			st.Error = cur.err.Error()
		}
		cur.mu.Unlock()
		if h != nil {
			st.Monitor = h.Status()
			st.Running = !finished(h)
			st.Connected = st.Monitor.Connected
		}
		result[name] = st
	}
	return result
}
