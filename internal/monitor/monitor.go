// Package monitor supervises one surface's listener connection: it connects,
// watches health with heartbeat and watchdog timers, reconnects with backoff,
// and runs every inbound message through activation, the resolver and the
// delivery engine.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roelfdiedericks/clawrelay/internal/activation"
	"github.com/roelfdiedericks/clawrelay/internal/backoff"
	"github.com/roelfdiedericks/clawrelay/internal/delivery"
	"github.com/roelfdiedericks/clawrelay/internal/echo"
	"github.com/roelfdiedericks/clawrelay/internal/grouphistory"
	. "github.com/roelfdiedericks/clawrelay/internal/logging"
	. "github.com/roelfdiedericks/clawrelay/internal/metrics"
	"github.com/roelfdiedericks/clawrelay/internal/resolver"
	"github.com/roelfdiedericks/clawrelay/internal/session"
	"github.com/roelfdiedericks/clawrelay/internal/tasks"
	"github.com/roelfdiedericks/clawrelay/internal/tokens"
	"github.com/roelfdiedericks/clawrelay/internal/types"
)

var (
	// ErrLoggedOut means the platform revoked the session. Terminal.
	ErrLoggedOut = errors.New("session logged out")
	// ErrReconnectExhausted means the reconnect budget was used up.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
)

// Defaults for Options left at zero.
const (
	DefaultHeartbeat       = 60 * time.Second
	DefaultWatchdogCheck   = 60 * time.Second
	DefaultWatchdogTimeout = 30 * time.Minute
	DefaultStaleWarn       = 30 * time.Minute
	DefaultDrainTimeout    = 10 * time.Second
)

// DisconnectReason describes why a listener closed.
type DisconnectReason struct {
	Status    int    // Platform status code, 0 when unknown
	Error     string // Human-readable cause
	LoggedOut bool   // Terminal: credentials revoked
}

// MessageHandler receives every inbound message from a listener. It returns
// once the message has been accepted; the reply runs in the background.
type MessageHandler func(ctx context.Context, msg types.InboundMessage)

// Listener is one established connection to a surface.
type Listener interface {
	delivery.Sender

	// Identity is our own address on the surface.
	Identity() types.Identity
	// Closed fires exactly once when the transport drops.
	Closed() <-chan DisconnectReason
	// SignalClose asks the listener to close with the given reason.
	SignalClose(reason DisconnectReason)
	// Close releases the connection. Safe to call more than once.
	Close() error
}

// ListenerFactory establishes a new connection, delivering inbound messages
// to onMessage until the listener closes.
type ListenerFactory func(ctx context.Context, onMessage MessageHandler) (Listener, error)

// Options configure a Monitor. They are fixed for the monitor's lifetime;
// a config change starts a new monitor.
type Options struct {
	Surface    string
	Factory    ListenerFactory
	Resolver   resolver.Resolver
	Activation *activation.Resolver
	Store      session.Store         // Optional
	Loader     delivery.MediaLoader  // Optional; media replies fail without it
	StatusSink func(Status)          // Optional; called after every status change

	// RequireMention reports whether a group needs an explicit mention when
	// no mode is persisted. Nil means every group requires one.
	RequireMention func(conversationID string) bool

	Policy          backoff.Policy
	Heartbeat       time.Duration
	WatchdogCheck   time.Duration
	WatchdogTimeout time.Duration
	StaleWarn       time.Duration
	DrainTimeout    time.Duration

	HistoryLimit     int
	HistoryMaxTokens int              // 0 = no token budget
	TokenCounter     func(string) int // Defaults to tokens.Estimate

	Delivery delivery.Options
}

func (o *Options) applyDefaults() error {
	if o.Surface == "" {
		return errors.New("monitor: surface is required")
	}
	if o.Factory == nil {
		return errors.New("monitor: listener factory is required")
	}
	if o.Resolver == nil {
		return errors.New("monitor: resolver is required")
	}
	if o.Activation == nil {
		act, err := activation.New(activation.Options{})
		if err != nil {
			return err
		}
		o.Activation = act
	}
	if o.RequireMention == nil {
		o.RequireMention = func(string) bool { return true }
	}
	if o.Policy.Initial <= 0 {
		o.Policy = backoff.Default
	}
	if o.Heartbeat < 0 {
		o.Heartbeat = 0
	} else if o.Heartbeat == 0 {
		o.Heartbeat = DefaultHeartbeat
	}
	if o.WatchdogCheck <= 0 {
		o.WatchdogCheck = DefaultWatchdogCheck
	}
	if o.WatchdogTimeout <= 0 {
		o.WatchdogTimeout = DefaultWatchdogTimeout
	}
	if o.StaleWarn <= 0 {
		o.StaleWarn = DefaultStaleWarn
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = DefaultDrainTimeout
	}
	if o.HistoryMaxTokens > 0 && o.TokenCounter == nil {
		o.TokenCounter = tokens.Estimate
	}
	o.Delivery.Surface = o.Surface
	return nil
}

// Monitor owns one surface's connection lifecycle. Echo and history state
// survive reconnects.
type Monitor struct {
	opts    Options
	echo    *echo.Guard
	history *grouphistory.Buffer
	writes  *tasks.Group // store writes, drained before each close
	turns   *tasks.Group // in-flight replies, drained when the monitor stops

	mu      sync.Mutex
	status  Status
	conn    *connection
	handled atomic.Int64
}

// connection is the per-connect state shared with the message handler.
type connection struct {
	ready       chan struct{} // closed once listener is set
	listener    Listener
	engine      *delivery.Engine
	self        types.Identity
	connectedAt time.Time
}

// New validates opts and returns a Monitor ready to Run.
func New(opts Options) (*Monitor, error) {
	if err := opts.applyDefaults(); err != nil {
		return nil, err
	}
	m := &Monitor{
		opts:    opts,
		echo:    echo.New(echo.MaxRecent),
		history: grouphistory.New(opts.HistoryLimit),
		writes:  tasks.NewGroup(),
		turns:   tasks.NewGroup(),
	}
	m.status = Status{Surface: opts.Surface, State: StateStopped}
	return m, nil
}

// Run connects and keeps the listener alive until ctx is cancelled (nil),
// the session is logged out (ErrLoggedOut) or the reconnect budget is
// exhausted (ErrReconnectExhausted).
func (m *Monitor) Run(ctx context.Context) error {
	surface := m.opts.Surface
	policy := m.opts.Policy
	L_info("monitor: starting", "surface", surface, "maxAttempts", policy.MaxAttempts, "heartbeat", m.opts.Heartbeat)

	m.update(func(s *Status) {
		s.Running = true
		s.State = StateConnecting
		s.LastError = ""
	})
	defer m.stopped()

	attempts := 0
	for {
		if ctx.Err() != nil {
			L_info("monitor: stopping", "surface", surface)
			return nil
		}

		reason, uptime := m.connectOnce(ctx)

		if ctx.Err() != nil {
			L_info("monitor: connection closed for shutdown", "surface", surface)
			return nil
		}

		m.recordDisconnect(reason)

		if reason.LoggedOut {
			L_error("monitor: session logged out, not reconnecting. Pair the device again, then restart clawrelay",
				"surface", surface, "status", reason.Status)
			MetricInc(surface, "logged_out")
			return ErrLoggedOut
		}

		// A healthy stretch forgives earlier failures
		if m.opts.Heartbeat > 0 && uptime > m.opts.Heartbeat {
			if attempts > 0 {
				L_debug("monitor: backoff reset (healthy run)", "surface", surface, "uptime", uptime)
			}
			attempts = 0
		}
		attempts++
		m.update(func(s *Status) { s.ReconnectAttempts = attempts })
		MetricInc(surface, "reconnects")

		if backoff.Exhausted(policy, attempts) {
			L_error("monitor: reconnect attempts exhausted, surface is offline (degraded mode)",
				"surface", surface, "attempts", attempts-1, "maxAttempts", policy.MaxAttempts)
			m.update(func(s *Status) { s.LastError = ErrReconnectExhausted.Error() })
			return ErrReconnectExhausted
		}

		delay := backoff.Compute(policy, attempts)
		m.update(func(s *Status) { s.State = StateReconnecting })
		L_warn("monitor: connection closed, reconnecting",
			"surface", surface,
			"status", reason.Status,
			"error", reason.Error,
			"attempt", attempts,
			"backoff", delay,
		)

		if err := backoff.Sleep(ctx, delay); err != nil {
			L_info("monitor: stopping during backoff", "surface", surface)
			return nil
		}
	}
}

// connectOnce runs one CONNECTING → CONNECTED → CLOSING cycle and reports
// why it ended and how long the connection was up.
func (m *Monitor) connectOnce(ctx context.Context) (DisconnectReason, time.Duration) {
	surface := m.opts.Surface
	m.update(func(s *Status) { s.State = StateConnecting })

	conn := &connection{ready: make(chan struct{})}
	handler := func(hctx context.Context, msg types.InboundMessage) {
		select {
		case <-conn.ready:
		case <-ctx.Done():
			return
		}
		if conn.listener == nil {
			return
		}
		m.accept(ctx, conn, msg)
	}

	start := time.Now()
	listener, err := m.opts.Factory(ctx, handler)
	if err != nil {
		close(conn.ready)
		L_warn("monitor: connect failed", "surface", surface, "error", err)
		MetricFailWithReason(surface, "connect", "factory")
		m.update(func(s *Status) { s.LastError = err.Error() })
		// Factories report missing or revoked credentials as ErrLoggedOut
		return DisconnectReason{Error: fmt.Sprintf("connect: %v", err), LoggedOut: errors.Is(err, ErrLoggedOut)}, 0
	}
	MetricSince(surface, "connect", start)
	MetricSuccess(surface, "connect")

	conn.listener = listener
	conn.self = listener.Identity()
	conn.engine = delivery.New(listener, m.opts.Loader, m.echo, m.opts.Delivery)
	conn.connectedAt = time.Now()
	m.handled.Store(0)

	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()
	close(conn.ready)

	m.update(func(s *Status) {
		s.Connected = true
		s.State = StateConnected
		s.LastConnectedAt = conn.connectedAt
		s.LastError = ""
	})
	L_info("monitor: connected", "surface", surface, "self", conn.self.JID, "e164", conn.self.E164)

	var heartbeat, watchdog <-chan time.Time
	if m.opts.Heartbeat > 0 {
		hb := time.NewTicker(m.opts.Heartbeat)
		defer hb.Stop()
		heartbeat = hb.C

		wd := time.NewTicker(m.opts.WatchdogCheck)
		defer wd.Stop()
		watchdog = wd.C
	}

	var reason DisconnectReason
loop:
	for {
		select {
		case <-ctx.Done():
			reason = DisconnectReason{Error: "stopped"}
			break loop
		case r := <-listener.Closed():
			reason = r
			break loop
		case <-heartbeat:
			m.heartbeat(ctx, conn)
		case <-watchdog:
			idle := time.Since(m.lastActivity(conn))
			if idle > m.opts.WatchdogTimeout {
				reason = DisconnectReason{Error: fmt.Sprintf("watchdog: no messages for %s", idle.Round(time.Second))}
				L_warn("monitor: watchdog timeout, forcing reconnect", "surface", surface, "idle", idle.Round(time.Second))
				MetricInc(surface, "watchdog_timeouts")
				listener.SignalClose(reason)
				break loop
			}
		}
	}

	uptime := time.Since(conn.connectedAt)
	m.update(func(s *Status) {
		s.Connected = false
		s.State = StateClosing
	})

	// Settle pending store writes before the transport goes away
	drainCtx, cancel := context.WithTimeout(context.Background(), m.opts.DrainTimeout)
	m.writes.Drain(drainCtx)
	cancel()

	if err := listener.Close(); err != nil {
		L_debug("monitor: listener close", "surface", surface, "error", err)
	}
	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
	}
	m.mu.Unlock()

	L_info("monitor: disconnected", "surface", surface, "uptime", uptime.Round(time.Second), "reason", reason.Error)
	return reason, uptime
}

// lastActivity is the later of connect time and the last inbound message.
func (m *Monitor) lastActivity(conn *connection) time.Time {
	m.mu.Lock()
	last := m.status.LastMessageAt
	m.mu.Unlock()
	if last.After(conn.connectedAt) {
		return last
	}
	return conn.connectedAt
}

func (m *Monitor) heartbeat(ctx context.Context, conn *connection) {
	surface := m.opts.Surface
	st := m.Status()
	uptime := time.Since(conn.connectedAt)
	handled := m.handled.Load()

	var lastAge time.Duration
	if !st.LastMessageAt.IsZero() {
		lastAge = time.Since(st.LastMessageAt)
	}
	L_debug("monitor: heartbeat",
		"surface", surface,
		"uptime", uptime.Round(time.Second),
		"messages", handled,
		"lastMessageAge", lastAge.Round(time.Second),
		"pendingWrites", m.writes.Pending(),
	)
	MetricSet(surface, "uptime_seconds", int64(uptime.Seconds()))
	MetricSet(surface, "messages_handled", handled)

	if idle := time.Since(m.lastActivity(conn)); idle > m.opts.StaleWarn {
		L_warn("monitor: no messages received recently", "surface", surface, "idle", idle.Round(time.Minute))
	}

	if m.opts.Store != nil {
		hb := session.Heartbeat{
			Surface:           surface,
			Connected:         st.Connected,
			Uptime:            int64(uptime.Seconds()),
			MessagesHandled:   handled,
			ReconnectAttempts: st.ReconnectAttempts,
			LastMessageAt:     st.LastMessageAt,
			At:                time.Now(),
		}
		m.writes.Go("heartbeat snapshot", func() error {
			return m.opts.Store.RecordHeartbeat(context.WithoutCancel(ctx), hb)
		})
	}
}

func (m *Monitor) recordDisconnect(reason DisconnectReason) {
	m.update(func(s *Status) {
		s.Connected = false
		s.LastDisconnect = &Disconnect{
			At:        time.Now(),
			Status:    reason.Status,
			Error:     reason.Error,
			LoggedOut: reason.LoggedOut,
		}
		if reason.Error != "" {
			s.LastError = reason.Error
		}
	})
}

// stopped settles in-flight work and emits the final status.
func (m *Monitor) stopped() {
	drainCtx, cancel := context.WithTimeout(context.Background(), m.opts.DrainTimeout)
	defer cancel()
	m.turns.Drain(drainCtx)
	m.writes.Drain(drainCtx)

	m.update(func(s *Status) {
		s.Running = false
		s.Connected = false
		s.State = StateStopped
	})
	L_info("monitor: stopped", "surface", m.opts.Surface)
}
