package httpapi

import (
	"sync"
	"time"
)

// authLimiter locks out a client address for a while after a bad token.
// Entries expire on their own; a successful request clears them early.
type authLimiter struct {
	mu      sync.Mutex
	blocked map[string]time.Time // client -> lockout end
	lockout time.Duration
	now     func() time.Time
}

func newAuthLimiter(lockout time.Duration) *authLimiter {
	return &authLimiter{
		blocked: make(map[string]time.Time),
		lockout: lockout,
		now:     time.Now,
	}
}

// fail starts a lockout for client and drops lockouts that have ended, so
// scans from many addresses do not grow the map without bound.
func (a *authLimiter) fail(client string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()
	for c, until := range a.blocked {
		if !now.Before(until) {
			delete(a.blocked, c)
		}
	}
	a.blocked[client] = now.Add(a.lockout)
}

func (a *authLimiter) clear(client string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.blocked, client)
}

// retryAfter reports how long client stays locked out, 0 if it is not.
func (a *authLimiter) retryAfter(client string) time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	until, ok := a.blocked[client]
	if !ok {
		return 0
	}
	left := until.Sub(a.now())
	if left <= 0 {
		delete(a.blocked, client)
		return 0
	}
	return left
}
