// Package backoff computes reconnect delays.
package backoff

import (
	"context"
	"math"
	"time"
)

// Policy is an immutable reconnect policy.
type Policy struct {
	Initial     time.Duration
	Max         time.Duration
	Factor      float64
	MaxAttempts int // 0 = unlimited
}

// Default matches the shipped config defaults.
var Default = Policy{
	Initial:     2 * time.Second,
	Max:         30 * time.Second,
	Factor:      1.8,
	MaxAttempts: 12,
}

// Compute returns min(Max, Initial * Factor^(attempt-1)).
// Attempts below 1 are treated as 1. There is no jitter.
func Compute(p Policy, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	factor := p.Factor
	if factor < 1 {
		factor = 1
	}
	d := float64(p.Initial) * math.Pow(factor, float64(attempt-1))
	if p.Max > 0 && (d > float64(p.Max) || math.IsInf(d, 1) || math.IsNaN(d)) {
		return p.Max
	}
	return time.Duration(d)
}

// Exhausted reports whether attempts reconnects exceed the budget.
func Exhausted(p Policy, attempts int) bool {
	return p.MaxAttempts > 0 && attempts > p.MaxAttempts
}

// Sleep waits for d or until ctx is cancelled.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
