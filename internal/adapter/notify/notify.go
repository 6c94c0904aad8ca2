// Package notify delivers failure notifications for job runs.
package notify

import (
	"context"
	"sync"
	"time"

	"krontab/internal/adapter/journal"
)

// Notifier reports a failed run somewhere a human will see it.
type Notifier interface {
	Notify(ctx context.Context, run journal.Run) error
}

// Nop drops every notification.
type Nop struct{}

func (Nop) Notify(context.Context, journal.Run) error { return nil }

// Cooldown restricts notification frequency per job.
type Cooldown struct {
	mu     sync.Mutex
	last   map[string]time.Time
	period time.Duration
	now    func() time.Time
}

// NewCooldown creates a limiter that lets one notification per job through
// every period. A zero period disables limiting.
func NewCooldown(period time.Duration) *Cooldown {
	return &Cooldown{last: make(map[string]time.Time), period: period, now: time.Now}
}

// Allow returns false if job was notified less than period ago.
func (c *Cooldown) Allow(job string) bool {
	if c == nil || c.period <= 0 {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if t, ok := c.last[job]; ok && now.Sub(t) < c.period {
		return false
	}
	c.last[job] = now
	return true
}
