package heartbeat

import (
	"context"
	"sync"
	"testing"
	"time"

	"covey/internal/bus"
	"covey/internal/event"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func collect(t *testing.T, ch <-chan event.Event, wait time.Duration) []event.Event {
	t.Helper()
	var out []event.Event
	deadline := time.After(wait)
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		case <-deadline:
			return out
		}
	}
}

func TestIdleBotNudged(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: now}
	b := bus.New()
	m := New(b, WithClock(clock))
	m.Configure("heartbeat_checker", 6)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := b.Subscribe(ctx, bus.WithoutHeartbeats())

	lastRun := func(bot string) (time.Time, bool) {
		return now.Add(-7 * time.Hour), true
	}
	m.CheckNow(lastRun)

	events := collect(t, ch, 200*time.Millisecond)
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	ev := events[0]
	if ev.Type != event.TypeBotIdle {
		t.Errorf("type = %q, want %q", ev.Type, event.TypeBotIdle)
	}
	if got, _ := ev.String("bot_name"); got != "heartbeat_checker" {
		t.Errorf("bot_name = %q", got)
	}
	if got, ok := ev.Payload["hours_idle"].(float64); !ok || got != 7 {
		t.Errorf("hours_idle = %v, want 7", ev.Payload["hours_idle"])
	}
	if got, ok := ev.Payload["heartbeat_hours"].(int); !ok || got != 6 {
		t.Errorf("heartbeat_hours = %v, want 6", ev.Payload["heartbeat_hours"])
	}
}

func TestRecentlyRunBotNotNudged(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: now}
	b := bus.New()
	m := New(b, WithClock(clock))
	m.Configure("job_scout", 6)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := b.Subscribe(ctx, bus.WithoutHeartbeats())

	m.CheckNow(func(string) (time.Time, bool) {
		return now.Add(-5 * time.Hour), true
	})

	if events := collect(t, ch, 100*time.Millisecond); len(events) != 0 {
		t.Fatalf("bot below threshold nudged: %v", events)
	}
}

func TestNeverRunBotMeasuredFromMonitorStart(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: now}
	b := bus.New()
	m := New(b, WithClock(clock))
	m.Configure("fresh", 6)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := b.Subscribe(ctx, bus.WithoutHeartbeats())

	never := func(string) (time.Time, bool) { return time.Time{}, false }

	// Without Start the baseline is "now", so idle is zero.
	m.CheckNow(never)
	if events := collect(t, ch, 100*time.Millisecond); len(events) != 0 {
		t.Fatalf("fresh bot nudged immediately: %v", events)
	}
}

func TestZeroHoursDisables(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: now}
	b := bus.New()
	m := New(b, WithClock(clock))
	m.Configure("x", 6)
	m.Configure("x", 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := b.Subscribe(ctx, bus.WithoutHeartbeats())

	m.CheckNow(func(string) (time.Time, bool) {
		return now.Add(-100 * time.Hour), true
	})
	if events := collect(t, ch, 100*time.Millisecond); len(events) != 0 {
		t.Fatalf("disabled bot nudged: %v", events)
	}
}

func TestRemove(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: now}
	b := bus.New()
	m := New(b, WithClock(clock))
	m.Configure("x", 1)
	m.Remove("x")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := b.Subscribe(ctx, bus.WithoutHeartbeats())

	m.CheckNow(func(string) (time.Time, bool) {
		return now.Add(-10 * time.Hour), true
	})
	if events := collect(t, ch, 100*time.Millisecond); len(events) != 0 {
		t.Fatalf("removed bot nudged: %v", events)
	}
}

func TestStartStop(t *testing.T) {
	b := bus.New()
	m := New(b)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.Start(ctx, func(string) (time.Time, bool) { return time.Time{}, false })

	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return")
	}
}
