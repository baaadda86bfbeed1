// Package bus implements the in-process broadcast channel every core
// component coordinates through.
//
// Delivery model: publish stamps the event, appends it to a bounded replay
// ring and offers it to each subscriber's buffered queue without blocking.
// A subscriber that falls behind loses events (for itself only); the bus
// never blocks a publisher. Reconnecting subscribers drain the replay ring
// before seeing live events.
package bus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"covey/internal/check"
	"covey/internal/event"
)

const (
	// subscriberQueueCap bounds each subscriber's live queue. 512 is far
	// above the steady-state event rate; hitting it means the consumer
	// stopped draining.
	subscriberQueueCap = 512
	// replayCapacity bounds the replay ring. 256 events covers several
	// hours of normal traffic.
	replayCapacity = 256
	// heartbeatInterval is how long a subscriber waits without a live
	// event before receiving a synthetic heartbeat.
	heartbeatInterval = 15 * time.Second
)

type subscriber struct {
	id uint64
	ch chan event.Event
}

// Bus is a single-process broadcast channel with replay.
type Bus struct {
	clock      event.Clock
	hbInterval time.Duration

	mu      sync.Mutex
	counter uint64
	replay  []event.Event
	subs    map[uint64]*subscriber
	nextSub uint64
}

// Option configures a Bus.
type Option func(*Bus)

// WithClock substitutes the wall clock, for tests.
func WithClock(c event.Clock) Option {
	return func(b *Bus) { b.clock = c }
}

// WithHeartbeatInterval overrides the synthetic heartbeat cadence, for tests.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(b *Bus) { b.hbInterval = d }
}

// New creates an empty bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		clock:      event.RealClock{},
		hbInterval: heartbeatInterval,
		subs:       make(map[uint64]*subscriber),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish assigns the next event id, fills timestamp and source when the
// producer left them zero, records the event in the replay ring and offers
// it to every subscriber. Publish never fails: a full subscriber queue
// drops the event for that subscriber only.
//
// The returned copy carries the assigned id.
func (b *Bus) Publish(e event.Event) event.Event {
	b.mu.Lock()
	b.counter++
	e.ID = b.counter
	if e.Timestamp.IsZero() {
		e.Timestamp = b.clock.Now().UTC()
	}
	if e.Source == "" {
		e.Source = event.DefaultSource
	}

	b.replay = appendReplay(b.replay, e)

	for _, sub := range b.subs {
		select {
		case sub.ch <- e:
		default:
			slog.Warn("bus: subscriber queue full, dropping event",
				"subscriber", sub.id, "event_id", e.ID, "type", e.Type)
		}
	}
	b.mu.Unlock()
	return e
}

// Counter returns the id of the most recently published event.
func (b *Bus) Counter() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counter
}

// ReplayEvents returns buffered events with id greater than sinceID, in
// ascending id order.
func (b *Bus) ReplayEvents(sinceID uint64) []event.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]event.Event, 0, len(b.replay))
	for _, ev := range b.replay {
		if ev.ID > sinceID {
			out = append(out, ev)
		}
	}
	return out
}

type subscribeConfig struct {
	sinceID      uint64
	hasSince     bool
	noHeartbeats bool
}

// SubscribeOption configures a subscription.
type SubscribeOption func(*subscribeConfig)

// Since requests replay of buffered events with id greater than id before
// live delivery begins.
func Since(id uint64) SubscribeOption {
	return func(c *subscribeConfig) {
		c.sinceID = id
		c.hasSince = true
	}
}

// WithoutHeartbeats suppresses synthetic heartbeat events. Internal
// consumers (the activation router) use this; external stream consumers
// keep heartbeats to detect dead connections.
func WithoutHeartbeats() SubscribeOption {
	return func(c *subscribeConfig) { c.noHeartbeats = true }
}

// Subscribe returns an ordered event stream. The channel closes when ctx
// is cancelled. Replay events (if requested) are delivered first, each
// exactly once, before any live event or heartbeat.
func (b *Bus) Subscribe(ctx context.Context, opts ...SubscribeOption) <-chan event.Event {
	check.Assert(ctx != nil, "bus.Subscribe: ctx must not be nil")

	var cfg subscribeConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	// Snapshot replay and register under one critical section so no event
	// published in between is missed or duplicated.
	b.mu.Lock()
	var replay []event.Event
	if cfg.hasSince {
		for _, ev := range b.replay {
			if ev.ID > cfg.sinceID {
				replay = append(replay, ev)
			}
		}
	}
	b.nextSub++
	sub := &subscriber{id: b.nextSub, ch: make(chan event.Event, subscriberQueueCap)}
	b.subs[sub.id] = sub
	b.mu.Unlock()

	out := make(chan event.Event)
	go b.deliver(ctx, sub, replay, cfg.noHeartbeats, out)
	return out
}

func (b *Bus) deliver(ctx context.Context, sub *subscriber, replay []event.Event, noHeartbeats bool, out chan<- event.Event) {
	defer close(out)
	defer b.unsubscribe(sub.id)

	for _, ev := range replay {
		select {
		case out <- ev:
		case <-ctx.Done():
			return
		}
	}

	var hb *time.Timer
	var hbC <-chan time.Time
	if !noHeartbeats {
		hb = time.NewTimer(b.hbInterval)
		defer hb.Stop()
		hbC = hb.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.ch:
			if !ok {
				return
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
			if hb != nil {
				if !hb.Stop() {
					select {
					case <-hb.C:
					default:
					}
				}
				hb.Reset(b.hbInterval)
			}
		case <-hbC:
			// Synthetic keepalive: carries the current counter but does
			// not advance it.
			beat := event.Event{
				ID:        b.Counter(),
				Type:      event.TypeHeartbeat,
				Timestamp: b.clock.Now().UTC(),
				Source:    event.DefaultSource,
			}
			select {
			case out <- beat:
			case <-ctx.Done():
				return
			}
			hb.Reset(b.hbInterval)
		}
	}
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
		close(sub.ch)
	}
	b.mu.Unlock()
}

func appendReplay(replay []event.Event, e event.Event) []event.Event {
	if len(replay) < replayCapacity {
		return append(replay, e)
	}
	copy(replay, replay[1:])
	replay[len(replay)-1] = e
	return replay
}
