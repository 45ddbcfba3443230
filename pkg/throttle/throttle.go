// Package throttle spaces outbound calls per platform by a minimum interval.
package throttle

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle holds one limiter per platform. A platform without a configured
// interval is not limited.
type Throttle struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func New(intervals map[string]time.Duration) *Throttle {
	t := &Throttle{limiters: make(map[string]*rate.Limiter, len(intervals))}
	for platform, interval := range intervals {
		t.Set(platform, interval)
	}
	return t
}

// Set replaces the minimum interval for platform. A non-positive interval
// removes the limit.
func (t *Throttle) Set(platform string, interval time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if interval <= 0 {
		delete(t.limiters, platform)
		return
	}
	// burst 1: the first call passes, each later one waits out the interval
	t.limiters[platform] = rate.NewLimiter(rate.Every(interval), 1)
}

// Wait blocks until a call to platform is allowed or ctx is done.
func (t *Throttle) Wait(ctx context.Context, platform string) error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	l := t.limiters[platform]
	t.mu.Unlock()
	if l == nil {
		return nil
	}
	return l.Wait(ctx)
}
