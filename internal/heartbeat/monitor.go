// Package heartbeat watches for bots that have gone quiet. It only
// publishes nudge events; whether a nudge becomes an activation is the
// router's call, via the bot's own intent signals.
package heartbeat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"covey/internal/bus"
	"covey/internal/check"
	"covey/internal/event"
)

const (
	startupGrace  = 10 * time.Minute
	checkInterval = 30 * time.Minute
)

// LastRunFunc reports a bot's most recent run time. ok is false when the
// bot has never run.
type LastRunFunc func(bot string) (time.Time, bool)

// Monitor emits heartbeat:bot_idle events for bots idle past their
// configured threshold.
type Monitor struct {
	bus   *bus.Bus
	clock event.Clock

	mu         sync.Mutex
	thresholds map[string]time.Duration
	startedAt  time.Time
	cancel     context.CancelFunc
	done       chan struct{}
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock substitutes the time source, for tests.
func WithClock(c event.Clock) Option {
	return func(m *Monitor) { m.clock = c }
}

func New(b *bus.Bus, opts ...Option) *Monitor {
	check.Assert(b != nil, "heartbeat.New: bus must not be nil")
	m := &Monitor{
		bus:        b,
		clock:      event.RealClock{},
		thresholds: make(map[string]time.Duration),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Configure registers an idle threshold for a bot. hours <= 0 removes
// the bot from watching, matching the config semantics of 0 = disabled.
func (m *Monitor) Configure(bot string, hours int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hours <= 0 {
		delete(m.thresholds, bot)
		return
	}
	m.thresholds[bot] = time.Duration(hours) * time.Hour
}

// Remove unregisters a bot.
func (m *Monitor) Remove(bot string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.thresholds, bot)
}

// Start launches the check loop. lastRun supplies each bot's most
// recent run time; bots that never ran are measured against the
// monitor's own start time.
func (m *Monitor) Start(ctx context.Context, lastRun LastRunFunc) {
	check.Assert(lastRun != nil, "heartbeat.Start: lastRun must not be nil")
	m.mu.Lock()
	defer m.mu.Unlock()
	check.Assert(m.cancel == nil, "heartbeat.Start: already started")
	if m.cancel != nil {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.startedAt = m.clock.Now().UTC()
	go m.loop(loopCtx, lastRun)
}

// Stop cancels the check loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (m *Monitor) loop(ctx context.Context, lastRun LastRunFunc) {
	defer close(m.done)
	log := slog.With("component", "heartbeat")
	log.Debug("monitor started", "grace", startupGrace, "interval", checkInterval)

	// Grace period so a fresh daemon does not nudge everything at once.
	graceTimer := time.NewTimer(startupGrace)
	defer graceTimer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-graceTimer.C:
	}

	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()
	for {
		m.checkAll(lastRun, log)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// CheckNow runs one idle pass immediately. The loop calls it on every
// tick; tests call it directly.
func (m *Monitor) CheckNow(lastRun LastRunFunc) {
	m.checkAll(lastRun, slog.With("component", "heartbeat"))
}

func (m *Monitor) checkAll(lastRun LastRunFunc, log *slog.Logger) {
	now := m.clock.Now().UTC()

	m.mu.Lock()
	startedAt := m.startedAt
	if startedAt.IsZero() {
		startedAt = now
	}
	bots := make(map[string]time.Duration, len(m.thresholds))
	for bot, threshold := range m.thresholds {
		bots[bot] = threshold
	}
	m.mu.Unlock()

	for bot, threshold := range bots {
		since := startedAt
		if t, ok := lastRun(bot); ok {
			since = t
		}
		idle := now.Sub(since)
		if idle < threshold {
			continue
		}
		hoursIdle := idle.Hours()
		log.Info("bot idle past threshold", "bot", bot, "hours_idle", hoursIdle)
		m.bus.Publish(event.New(event.TypeBotIdle, map[string]any{
			"bot_name":        bot,
			"hours_idle":      hoursIdle,
			"heartbeat_hours": int(threshold / time.Hour),
		}))
	}
}
