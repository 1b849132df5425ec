// Package tasks tracks fire-and-forget background writes so they can be
// settled before a connection is torn down.
package tasks

import (
	"context"
	"fmt"
	"sync"

	. "github.com/roelfdiedericks/clawrelay/internal/logging"
)

// Group is a set of pending background tasks.
type Group struct {
	mu      sync.Mutex
	wg      sync.WaitGroup
	pending map[uint64]string
	nextID  uint64
	errs    int
}

// NewGroup returns an empty Group.
func NewGroup() *Group {
	return &Group{pending: make(map[uint64]string)}
}

// Go runs fn in the background and tracks it until it returns.
// Errors and panics are logged, never propagated.
func (g *Group) Go(name string, fn func() error) {
	g.mu.Lock()
	g.nextID++
	id := g.nextID
	g.pending[id] = name
	g.wg.Add(1)
	g.mu.Unlock()

	go func() {
		defer g.wg.Done()
		defer func() {
			g.mu.Lock()
			delete(g.pending, id)
			g.mu.Unlock()
		}()

		err := run(fn)
		if err != nil {
			g.mu.Lock()
			g.errs++
			g.mu.Unlock()
			L_warn("tasks: background write failed", "task", name, "error", err)
		}
	}()
}

func run(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

// Pending returns the number of tasks still running.
func (g *Group) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}

// Failed returns how many tasks have returned an error so far.
func (g *Group) Failed() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.errs
}

// Drain waits for all pending tasks or until ctx is done.
// Shutdown is never failed: stragglers are logged and abandoned.
func (g *Group) Drain(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		L_trace("tasks: drained")
	case <-ctx.Done():
		g.mu.Lock()
		names := make([]string, 0, len(g.pending))
		for _, n := range g.pending {
			names = append(names, n)
		}
		g.mu.Unlock()
		L_warn("tasks: drain timed out, abandoning pending writes", "pending", names)
	}
}
