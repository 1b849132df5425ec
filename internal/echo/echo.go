// Package echo suppresses inbound copies of messages we sent ourselves.
package echo

import "sync"

// MaxRecent is the default number of remembered bodies.
const MaxRecent = 100

// Guard is a bounded, insertion-ordered set of recently sent bodies.
// A match is consumed: each recorded body suppresses at most one echo.
type Guard struct {
	mu    sync.Mutex
	max   int
	order []string
	set   map[string]struct{}
}

// New returns a Guard remembering up to max bodies (MaxRecent if max <= 0).
func New(max int) *Guard {
	if max <= 0 {
		max = MaxRecent
	}
	return &Guard{max: max, set: make(map[string]struct{})}
}

// RecordSent remembers a body we just sent.
func (g *Guard) RecordSent(body string) {
	if body == "" {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.set[body]; ok {
		return
	}
	g.set[body] = struct{}{}
	g.order = append(g.order, body)
	for len(g.order) > g.max {
		oldest := g.order[0]
		g.order = g.order[1:]
		delete(g.set, oldest)
	}
}

// ShouldSuppress reports whether body is an echo and forgets it if so.
func (g *Guard) ShouldSuppress(body string) bool {
	if body == "" {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.set[body]; !ok {
		return false
	}
	delete(g.set, body)
	for i, b := range g.order {
		if b == body {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	return true
}

// Len returns the number of remembered bodies.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.order)
}
