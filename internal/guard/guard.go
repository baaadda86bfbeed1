// Package guard rate-limits bot activations: a per-bot cooldown between
// runs and a per-bot daily cap that resets at UTC midnight.
//
// State is in-memory only. After a restart the worst case is one extra
// run per bot, which the platform tolerates.
package guard

import (
	"log/slog"
	"sync"
	"time"

	"covey/internal/event"
	"covey/internal/intent"
)

const dateLayout = "2006-01-02"

// Guard tracks last activations and daily counts.
type Guard struct {
	clock event.Clock

	mu             sync.Mutex
	lastActivation map[string]time.Time
	dailyCounts    map[string]int
	resetDate      string
}

// Option configures a Guard.
type Option func(*Guard)

// WithClock substitutes the wall clock, for tests.
func WithClock(c event.Clock) Option {
	return func(g *Guard) { g.clock = c }
}

// New creates an empty guard.
func New(opts ...Option) *Guard {
	g := &Guard{
		clock:          event.RealClock{},
		lastActivation: make(map[string]time.Time),
		dailyCounts:    make(map[string]int),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.resetDate = g.clock.Now().UTC().Format(dateLayout)
	return g
}

// EffectiveCooldown halves the configured cooldown for high-priority
// signals (integer minute division); medium and low use it unchanged.
func EffectiveCooldown(cooldownMinutes int, p intent.Priority) time.Duration {
	if p == intent.PriorityHigh {
		return time.Duration(cooldownMinutes/2) * time.Minute
	}
	return time.Duration(cooldownMinutes) * time.Minute
}

// CanActivate reports whether the bot may run now. The daily counter is
// lazily reset when the UTC date has rolled over since the last call.
func (g *Guard) CanActivate(bot string, cooldownMinutes, maxPerDay int, p intent.Priority) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now().UTC()
	g.refreshDay(now)

	if maxPerDay > 0 && g.dailyCounts[bot] >= maxPerDay {
		slog.Debug("guard: daily cap reached", "bot", bot, "count", g.dailyCounts[bot], "max", maxPerDay)
		return false
	}

	if last, ok := g.lastActivation[bot]; ok {
		required := EffectiveCooldown(cooldownMinutes, p)
		if elapsed := now.Sub(last); elapsed < required {
			slog.Debug("guard: cooling down", "bot", bot, "elapsed", elapsed, "required", required)
			return false
		}
	}
	return true
}

// RecordActivation marks the bot as activated now and bumps its daily
// count. Callers serialize the check-then-record pair through the
// lifecycle manager's run lock.
func (g *Guard) RecordActivation(bot string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now().UTC()
	g.refreshDay(now)
	g.lastActivation[bot] = now
	g.dailyCounts[bot]++
}

// CooldownUntil returns when the bot's base cooldown expires. The bool is
// false when the bot has never been activated.
func (g *Guard) CooldownUntil(bot string, cooldownMinutes int) (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	last, ok := g.lastActivation[bot]
	if !ok {
		return time.Time{}, false
	}
	return last.Add(time.Duration(cooldownMinutes) * time.Minute), true
}

// DailyCount returns the bot's accepted activations so far today (UTC).
func (g *Guard) DailyCount(bot string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refreshDay(g.clock.Now().UTC())
	return g.dailyCounts[bot]
}

// refreshDay clears all daily counters when the observed UTC date changed.
// Caller holds g.mu.
func (g *Guard) refreshDay(now time.Time) {
	today := now.Format(dateLayout)
	if today == g.resetDate {
		return
	}
	g.dailyCounts = make(map[string]int)
	g.resetDate = today
}
