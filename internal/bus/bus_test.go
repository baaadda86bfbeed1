package bus

import (
	"context"
	"fmt"
	"testing"
	"time"

	"covey/internal/event"
)

func recvEvent(t *testing.T, ch <-chan event.Event) event.Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("channel closed unexpectedly")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return event.Event{}
	}
}

func TestPublishAssignsMonotonicIDs(t *testing.T) {
	b := New()
	for i := 1; i <= 5; i++ {
		ev := b.Publish(event.New("user:job_saved", nil))
		if ev.ID != uint64(i) {
			t.Errorf("event %d assigned id %d", i, ev.ID)
		}
	}
	if got := b.Counter(); got != 5 {
		t.Errorf("Counter = %d, want 5", got)
	}
}

func TestPublishStampsDefaults(t *testing.T) {
	b := New()
	ev := b.Publish(event.New("user:job_saved", nil))
	if ev.Source != event.DefaultSource {
		t.Errorf("Source = %q, want %q", ev.Source, event.DefaultSource)
	}
	if ev.Timestamp.IsZero() {
		t.Error("Timestamp not stamped")
	}

	custom := b.Publish(event.Event{Type: "user:x", Source: "api"})
	if custom.Source != "api" {
		t.Errorf("producer source overwritten: %q", custom.Source)
	}
}

func TestSubscriberReceivesInOrder(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := b.Subscribe(ctx, WithoutHeartbeats())
	for i := 0; i < 5; i++ {
		b.Publish(event.New(fmt.Sprintf("user:e%d", i), nil))
	}
	for i := 0; i < 5; i++ {
		ev := recvEvent(t, ch)
		if ev.ID != uint64(i+1) {
			t.Errorf("received id %d, want %d", ev.ID, i+1)
		}
	}
}

func TestReconnectWithReplay(t *testing.T) {
	b := New()

	// B subscribes for the whole run.
	ctxB, cancelB := context.WithCancel(context.Background())
	defer cancelB()
	chB := b.Subscribe(ctxB, WithoutHeartbeats())

	// A consumes 3 events, then disconnects.
	ctxA, cancelA := context.WithCancel(context.Background())
	chA := b.Subscribe(ctxA, WithoutHeartbeats())

	for i := 1; i <= 5; i++ {
		b.Publish(event.New(fmt.Sprintf("user:e%d", i), nil))
	}
	for i := 1; i <= 3; i++ {
		if ev := recvEvent(t, chA); ev.ID != uint64(i) {
			t.Fatalf("A received id %d, want %d", ev.ID, i)
		}
	}
	cancelA()

	for i := 6; i <= 9; i++ {
		b.Publish(event.New(fmt.Sprintf("user:e%d", i), nil))
	}

	// A reconnects with last_event_id = 3 and must see 4..9 exactly once.
	ctxA2, cancelA2 := context.WithCancel(context.Background())
	defer cancelA2()
	chA2 := b.Subscribe(ctxA2, Since(3), WithoutHeartbeats())
	for i := 4; i <= 9; i++ {
		if ev := recvEvent(t, chA2); ev.ID != uint64(i) {
			t.Errorf("A replay received id %d, want %d", ev.ID, i)
		}
	}

	// B saw everything in order.
	for i := 1; i <= 9; i++ {
		if ev := recvEvent(t, chB); ev.ID != uint64(i) {
			t.Errorf("B received id %d, want %d", ev.ID, i)
		}
	}
}

func TestReplayRingBounded(t *testing.T) {
	b := New()
	for i := 0; i < replayCapacity+10; i++ {
		b.Publish(event.New("user:x", nil))
	}

	events := b.ReplayEvents(0)
	if len(events) != replayCapacity {
		t.Fatalf("replay holds %d events, want %d", len(events), replayCapacity)
	}
	if events[0].ID != 11 {
		t.Errorf("oldest replay id = %d, want 11", events[0].ID)
	}
	if last := events[len(events)-1].ID; last != uint64(replayCapacity+10) {
		t.Errorf("newest replay id = %d, want %d", last, replayCapacity+10)
	}
}

func TestHeartbeatDoesNotAdvanceCounter(t *testing.T) {
	b := New(WithHeartbeatInterval(20 * time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b.Publish(event.New("user:x", nil))

	ch := b.Subscribe(ctx, Since(0))
	if ev := recvEvent(t, ch); ev.ID != 1 {
		t.Fatalf("replay id = %d, want 1", ev.ID)
	}

	beat := recvEvent(t, ch)
	if beat.Type != event.TypeHeartbeat {
		t.Fatalf("expected heartbeat, got %q", beat.Type)
	}
	if beat.ID != 1 {
		t.Errorf("heartbeat carries id %d, want current counter 1", beat.ID)
	}
	if got := b.Counter(); got != 1 {
		t.Errorf("Counter advanced to %d by heartbeat", got)
	}
}

func TestWithoutHeartbeats(t *testing.T) {
	b := New(WithHeartbeatInterval(10 * time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := b.Subscribe(ctx, WithoutHeartbeats())
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %q on silent bus", ev.Type)
	case <-time.After(60 * time.Millisecond):
	}
}

func TestSubscriptionClosesOnCancel(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	ch := b.Subscribe(ctx, WithoutHeartbeats())
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected closed channel after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel did not close after cancel")
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Subscribe but never drain; the out channel is unbuffered so the
	// queue fills at subscriberQueueCap + 1 in flight.
	_ = b.Subscribe(ctx, WithoutHeartbeats())

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberQueueCap+100; i++ {
			b.Publish(event.New("user:flood", nil))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}
