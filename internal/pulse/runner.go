// Package pulse advances bot knowledge state on an activity-sensitive
// cadence. The runner owns only the scheduling: which bots, when, for
// which users. The pulse body is an injected function.
package pulse

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"covey/internal/check"
	"covey/internal/event"
	"covey/internal/store"
)

// Cadence tiers, chosen per pass from the time since last activity.
const (
	intervalBusy   = 5 * time.Minute
	intervalRecent = 15 * time.Minute
	intervalQuiet  = 30 * time.Minute

	busyWindow   = 15 * time.Minute
	recentWindow = 60 * time.Minute
)

// Func is one pulse body invocation for one bot and one user.
type Func func(ctx context.Context, bot, userID string) error

// window is a bot's active-hours gate in UTC hours, [start, end).
type window struct {
	start int
	end   int
}

// contains reports whether hour falls in the window. start > end wraps
// midnight.
func (w window) contains(hour int) bool {
	if w.start == w.end {
		return true
	}
	if w.start < w.end {
		return hour >= w.start && hour < w.end
	}
	return hour >= w.start || hour < w.end
}

// Runner drives periodic pulse passes over the configured bots.
type Runner struct {
	persist *store.Tolerant
	run     Func
	clock   event.Clock

	mu           sync.Mutex
	windows      map[string]window
	lastActivity time.Time
	cancel       context.CancelFunc
	done         chan struct{}
}

// Option configures a Runner.
type Option func(*Runner)

// WithClock substitutes the time source, for tests.
func WithClock(c event.Clock) Option {
	return func(r *Runner) { r.clock = c }
}

func New(persist *store.Tolerant, run Func, opts ...Option) *Runner {
	check.Assert(persist != nil, "pulse.New: persistence must not be nil")
	check.Assert(run != nil, "pulse.New: pulse func must not be nil")
	r := &Runner{
		persist: persist,
		run:     run,
		clock:   event.RealClock{},
		windows: make(map[string]window),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.lastActivity = r.clock.Now().UTC()
	return r
}

// Configure registers a bot's active-hours window.
func (r *Runner) Configure(bot string, activeStart, activeEnd int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.windows[bot] = window{start: activeStart, end: activeEnd}
}

// Remove unregisters a bot.
func (r *Runner) Remove(bot string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.windows, bot)
}

// NotifyActivity records that something happened. The next pass waits
// the short interval.
func (r *Runner) NotifyActivity() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastActivity = r.clock.Now().UTC()
}

// Interval returns the wait before the next pass given current
// activity recency.
func (r *Runner) Interval() time.Duration {
	r.mu.Lock()
	last := r.lastActivity
	r.mu.Unlock()

	idle := r.clock.Now().UTC().Sub(last)
	switch {
	case idle <= busyWindow:
		return intervalBusy
	case idle <= recentWindow:
		return intervalRecent
	default:
		return intervalQuiet
	}
}

// Start launches the single pass loop.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	check.Assert(r.cancel == nil, "pulse.Start: already started")
	if r.cancel != nil {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.loop(loopCtx)
}

// Stop cancels the pass loop and waits for it to exit.
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	done := r.done
	r.cancel = nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (r *Runner) loop(ctx context.Context) {
	defer close(r.done)
	log := slog.With("component", "pulse")
	log.Debug("runner started")

	for {
		wait := r.Interval()
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		r.Pass(ctx)
	}
}

// Pass runs one pulse sweep over all configured bots inside their
// active hours. One bot's failure never skips the rest.
func (r *Runner) Pass(ctx context.Context) {
	log := slog.With("component", "pulse")
	hour := r.clock.Now().UTC().Hour()

	r.mu.Lock()
	due := make([]string, 0, len(r.windows))
	for bot, w := range r.windows {
		if w.contains(hour) {
			due = append(due, bot)
		}
	}
	r.mu.Unlock()

	if len(due) == 0 {
		return
	}

	userIDs, err := r.persist.ListUserIDs(ctx)
	if err != nil {
		log.Warn("listing users failed, pulsing without user scope", "err", err)
		userIDs = nil
	}
	if len(userIDs) == 0 {
		userIDs = []string{""}
	}

	for _, bot := range due {
		for _, uid := range userIDs {
			if ctx.Err() != nil {
				return
			}
			if err := r.run(ctx, bot, uid); err != nil {
				log.Warn("pulse failed", "bot", bot, "user_id", uid, "err", err)
			}
		}
	}
}
