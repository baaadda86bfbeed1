// Package router is the bridge from events to activations: it consumes
// the bus, skips meta events, asks the intent matcher for candidates,
// consults the cooldown guard and starts the winners.
//
// The router holds a start function, not the lifecycle manager itself;
// the manager injects it at wiring time. This keeps the dependency edge
// one-way.
package router

import (
	"context"
	"log/slog"
	"sync"

	"covey/internal/bus"
	"covey/internal/check"
	"covey/internal/config"
	"covey/internal/event"
	"covey/internal/guard"
	"covey/internal/intent"
)

// StartFunc activates one bot run. It returns true when a run task was
// actually spawned; rejections (already running, paused, …) return false.
type StartFunc func(bot, trigger string) bool

// IntentLookup returns a bot's rate-limit configuration.
type IntentLookup func(bot string) (config.Intent, bool)

// Router consumes the bus and dispatches activations.
type Router struct {
	bus     *bus.Bus
	matcher *intent.Matcher
	guard   *guard.Guard
	start   StartFunc
	lookup  IntentLookup

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// New creates a router. Start launches the consume loop.
func New(b *bus.Bus, matcher *intent.Matcher, g *guard.Guard, start StartFunc, lookup IntentLookup) *Router {
	check.Assert(b != nil, "router.New: bus must not be nil")
	check.Assert(start != nil, "router.New: start func must not be nil")
	check.Assert(lookup != nil, "router.New: intent lookup must not be nil")
	return &Router{bus: b, matcher: matcher, guard: g, start: start, lookup: lookup}
}

// Start launches the single consume task. Calling Start twice is an
// error caught by assertion in debug builds and ignored otherwise.
func (r *Router) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	check.Assert(!r.started, "router.Start: already started")
	if r.started {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.started = true

	events := r.bus.Subscribe(loopCtx, bus.WithoutHeartbeats())
	go r.consume(loopCtx, events)
}

// Stop cancels the consume task and waits for it to exit. The bus
// subscription is released by the context cancellation.
func (r *Router) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	done := r.done
	r.cancel = nil
	r.started = false
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (r *Router) consume(ctx context.Context, events <-chan event.Event) {
	defer close(r.done)
	log := slog.With("component", "router")
	log.Debug("consume loop started")

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			r.dispatch(ev, log)
		}
	}
}

// dispatch runs one routing pass. Candidate starts are sequential and
// synchronous: back-pressure on event bursts is fine because every
// activation is rate-limited anyway.
func (r *Router) dispatch(ev event.Event, log *slog.Logger) {
	// Feedback-loop guard: the platform's own coordination events never
	// wake bots.
	if event.IsMeta(ev.Type) {
		return
	}

	for _, cand := range r.matcher.Match(ev) {
		ic, ok := r.lookup(cand.Bot)
		if !ok {
			log.Warn("matched bot has no intent config", "bot", cand.Bot)
			continue
		}
		if !r.guard.CanActivate(cand.Bot, ic.CooldownMinutes, ic.MaxRunsPerDay, cand.Priority) {
			continue
		}

		trigger := "event:" + ev.Type
		if r.start(cand.Bot, trigger) {
			r.guard.RecordActivation(cand.Bot)
			log.Info("routed activation", "bot", cand.Bot, "event_id", ev.ID, "type", ev.Type, "priority", cand.Priority.String())
		}
	}
}
