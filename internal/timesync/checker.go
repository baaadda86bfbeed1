// Package timesync samples NTP to detect wall-clock skew. Cooldowns,
// daily caps and idle thresholds all compare wall-clock instants, so a
// skewed host silently distorts activation timing. The checker only
// observes and warns; it never blocks activations.
package timesync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/beevik/ntp"

	"covey/internal/check"
	"covey/internal/event"
)

const (
	defaultPool      = "pool.ntp.org"
	defaultInterval  = 10 * time.Minute
	defaultThreshold = 500 * time.Millisecond
)

type Phase uint8

const (
	Unchecked Phase = iota + 1
	Healthy
	Skewed
	Errored
)

func (p Phase) String() string {
	switch p {
	case Unchecked:
		return "unchecked"
	case Healthy:
		return "healthy"
	case Skewed:
		return "skewed"
	case Errored:
		return "error"
	default:
		return "unknown"
	}
}

type Status struct {
	Offset    time.Duration
	Phase     Phase
	Error     string
	CheckedAt time.Time
}

type Checker struct {
	mu        sync.RWMutex
	status    Status
	pool      string
	interval  time.Duration
	threshold time.Duration
	clock     event.Clock

	CheckFunc func() Status
}

func NewChecker(clock event.Clock) *Checker {
	check.Assert(clock != nil, "timesync.NewChecker: clock must not be nil")
	return &Checker{
		pool:      defaultPool,
		interval:  defaultInterval,
		threshold: defaultThreshold,
		status:    Status{Phase: Unchecked},
		clock:     clock,
	}
}

// Run samples once immediately, then on every interval tick until the
// context is cancelled.
func (c *Checker) Run(ctx context.Context) {
	c.sample()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sample()
		}
	}
}

func (c *Checker) sample() {
	if c.CheckFunc != nil {
		c.mu.Lock()
		c.status = c.CheckFunc()
		c.mu.Unlock()
		return
	}

	resp, err := ntp.Query(c.pool)

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if err != nil {
		c.status = Status{Error: err.Error(), Phase: Errored, CheckedAt: now}
		slog.Debug("ntp query failed", "component", "timesync", "pool", c.pool, "err", err)
		return
	}

	phase := Skewed
	if resp.ClockOffset.Abs() < c.threshold {
		phase = Healthy
	}
	c.status = Status{Offset: resp.ClockOffset, Phase: phase, CheckedAt: now}
	if phase == Skewed {
		slog.Warn("wall clock skewed, activation timing may drift",
			"component", "timesync", "offset", resp.ClockOffset, "threshold", c.threshold)
	}
}

func (c *Checker) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}
