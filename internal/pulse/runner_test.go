package pulse

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"covey/internal/store"
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

func (c *fakeClock) set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type pulseRecorder struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func (r *pulseRecorder) run(_ context.Context, bot, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, bot+"/"+userID)
	if r.fail != nil {
		return r.fail[bot]
	}
	return nil
}

func (r *pulseRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}

func atHour(hour int) time.Time {
	return time.Date(2024, 3, 1, hour, 30, 0, 0, time.UTC)
}

func TestWindowWrapsMidnight(t *testing.T) {
	w := window{start: 22, end: 6}
	tests := []struct {
		hour int
		want bool
	}{
		{23, true},
		{5, true},
		{12, false},
		{22, true},
		{6, false},
	}
	for _, tt := range tests {
		if got := w.contains(tt.hour); got != tt.want {
			t.Errorf("window[22,6).contains(%d) = %v, want %v", tt.hour, got, tt.want)
		}
	}
}

func TestWindowPlain(t *testing.T) {
	w := window{start: 9, end: 17}
	tests := []struct {
		hour int
		want bool
	}{
		{9, true},
		{16, true},
		{17, false},
		{8, false},
	}
	for _, tt := range tests {
		if got := w.contains(tt.hour); got != tt.want {
			t.Errorf("window[9,17).contains(%d) = %v, want %v", tt.hour, got, tt.want)
		}
	}
}

func TestWindowDegenerateAlwaysActive(t *testing.T) {
	w := window{}
	for _, hour := range []int{0, 12, 23} {
		if !w.contains(hour) {
			t.Errorf("window[0,0).contains(%d) = false, want always active", hour)
		}
	}
}

func TestIntervalTiers(t *testing.T) {
	clock := &fakeClock{now: atHour(12)}
	rec := &pulseRecorder{}
	r := New(store.NewTolerant(nil), rec.run, WithClock(clock))

	r.NotifyActivity()
	if got := r.Interval(); got != intervalBusy {
		t.Errorf("fresh activity interval = %v, want %v", got, intervalBusy)
	}

	clock.set(clock.Now().Add(30 * time.Minute))
	if got := r.Interval(); got != intervalRecent {
		t.Errorf("30 min idle interval = %v, want %v", got, intervalRecent)
	}

	clock.set(clock.Now().Add(31 * time.Minute))
	if got := r.Interval(); got != intervalQuiet {
		t.Errorf("61 min idle interval = %v, want %v", got, intervalQuiet)
	}
}

func TestPassGatesOnActiveHours(t *testing.T) {
	clock := &fakeClock{now: atHour(12)}
	rec := &pulseRecorder{}
	r := New(store.NewTolerant(nil), rec.run, WithClock(clock))

	r.Configure("day_bot", 9, 17)
	r.Configure("night_bot", 22, 6)

	r.Pass(context.Background())
	calls := rec.snapshot()
	if len(calls) != 1 || calls[0] != "day_bot/" {
		t.Errorf("noon pass calls = %v, want [day_bot/]", calls)
	}

	clock.set(atHour(23))
	r.Pass(context.Background())
	calls = rec.snapshot()
	if len(calls) != 2 || calls[1] != "night_bot/" {
		t.Errorf("night pass calls = %v, want night_bot/ appended", calls)
	}
}

func TestPassFallsBackToEmptyUserID(t *testing.T) {
	clock := &fakeClock{now: atHour(12)}
	rec := &pulseRecorder{}
	r := New(store.NewTolerant(nil), rec.run, WithClock(clock))
	r.Configure("x", 0, 0)

	r.Pass(context.Background())
	calls := rec.snapshot()
	if len(calls) != 1 || calls[0] != "x/" {
		t.Errorf("calls = %v, want [x/] with empty user id", calls)
	}
}

func TestPassIsolatesFailures(t *testing.T) {
	clock := &fakeClock{now: atHour(12)}
	rec := &pulseRecorder{fail: map[string]error{"bad": errors.New("pulse exploded")}}
	r := New(store.NewTolerant(nil), rec.run, WithClock(clock))

	r.Configure("bad", 0, 0)
	r.Configure("good", 0, 0)

	r.Pass(context.Background())
	calls := rec.snapshot()
	if len(calls) != 2 {
		t.Fatalf("one bot's failure skipped the rest: calls = %v", calls)
	}
}

func TestRemoveStopsPulsing(t *testing.T) {
	clock := &fakeClock{now: atHour(12)}
	rec := &pulseRecorder{}
	r := New(store.NewTolerant(nil), rec.run, WithClock(clock))
	r.Configure("x", 0, 0)
	r.Remove("x")

	r.Pass(context.Background())
	if calls := rec.snapshot(); len(calls) != 0 {
		t.Errorf("removed bot pulsed: %v", calls)
	}
}

func TestStartStop(t *testing.T) {
	rec := &pulseRecorder{}
	r := New(store.NewTolerant(nil), rec.run)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)

	done := make(chan struct{})
	go func() {
		r.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestPassRespectsCancellation(t *testing.T) {
	clock := &fakeClock{now: atHour(12)}
	rec := &pulseRecorder{}
	r := New(store.NewTolerant(nil), rec.run, WithClock(clock))
	r.Configure("x", 0, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.Pass(ctx)
	if calls := rec.snapshot(); len(calls) != 0 {
		t.Errorf("cancelled pass still pulsed: %v", calls)
	}
}
