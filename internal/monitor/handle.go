package monitor

import (
	"context"
	"sync"

	. "github.com/roelfdiedericks/clawrelay/internal/logging"
)

// Handle is the explicit owner's grip on a running monitor.
type Handle struct {
	monitor *Monitor
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
}

// Start builds a monitor from opts and runs it in the background.
func Start(ctx context.Context, opts Options) (*Handle, error) {
	m, err := New(opts)
	if err != nil {
		return nil, err
	}
	return run(ctx, m), nil
}

func run(ctx context.Context, m *Monitor) *Handle {
	runCtx, cancel := context.WithCancel(ctx)
	h := &Handle{monitor: m, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		defer cancel()
		h.err = m.Run(runCtx)
	}()
	return h
}

// Stop cancels the monitor. It does not wait; use Wait.
func (h *Handle) Stop() {
	h.cancel()
}

// Wait blocks until the monitor has stopped and returns Run's result.
func (h *Handle) Wait() error {
	<-h.done
	return h.err
}

// Done is closed when the monitor has stopped.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Status returns the monitor's current snapshot.
func (h *Handle) Status() Status {
	return h.monitor.Status()
}

// Slot holds the active monitor for one surface. Replacing it stops the
// previous monitor before the new one connects, so a surface never has two
// live listeners.
type Slot struct {
	mu      sync.Mutex
	current *Handle
}

// Replace stops the current monitor (if any), waits for it, then starts a
// new one from opts.
func (s *Slot) Replace(ctx context.Context, opts Options) (*Handle, error) {
	m, err := New(opts)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev := s.current; prev != nil {
		L_info("monitor: superseding running monitor", "surface", opts.Surface)
		prev.Stop()
		prev.Wait()
	}
	s.current = run(ctx, m)
	return s.current, nil
}

// Current returns the active handle, or nil.
func (s *Slot) Current() *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Stop stops and waits for the active monitor.
func (s *Slot) Stop() error {
	s.mu.Lock()
	h := s.current
	s.current = nil
	s.mu.Unlock()

	if h == nil {
		return nil
	}
	h.Stop()
	return h.Wait()
}
