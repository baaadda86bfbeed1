package app

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"covey/internal/bus"
	"covey/internal/config"
	"covey/internal/executor"
	"covey/internal/guard"
	"covey/internal/heartbeat"
	"covey/internal/intent"
	"covey/internal/manager"
	"covey/internal/router"
	"covey/internal/store"
)

// --- fakes ---

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

const testBots = `
bots:
  - name: job_scout
    timeout_minutes: 5
    intent:
      signals:
        - pattern: "user:job_saved"
          priority: medium
      cooldown_minutes: 30
      max_runs_per_day: 2
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), "bots.yaml")
	if err := os.WriteFile(file, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return file
}

func TestNewRequiresExecutor(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("expected error without executor")
	}
}

func TestEventActivatesBotEndToEnd(t *testing.T) {
	ran := make(chan string, 8)
	exec := executor.Func(func(ctx context.Context, bot config.Bot, trigger string) (executor.Result, error) {
		ran <- bot.Name + "|" + trigger
		return executor.Result{OK: true}, nil
	})

	a, err := New(Options{
		ConfigFile:   writeConfig(t, testBots),
		DataDir:      t.TempDir(),
		Executor:     exec,
		SkipTimesync: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Run(ctx); err != nil {
		t.Fatal(err)
	}
	defer a.Shutdown(context.Background())

	a.Manager.HandleEvent("user:job_saved", map[string]any{"jobs_saved": 1})

	select {
	case got := <-ran:
		if want := "job_scout|event:user:job_saved"; got != want {
			t.Errorf("run = %q, want %q", got, want)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("event did not activate the bot")
	}

	// Second event inside the cooldown window must not run the bot again.
	a.Manager.HandleEvent("user:job_saved", map[string]any{"jobs_saved": 1})
	select {
	case got := <-ran:
		t.Errorf("cooldown ignored, extra run %q", got)
	case <-time.After(300 * time.Millisecond):
	}
}

// TestIdleNudgeActivatesBot drives the whole chain: the monitor notices
// an idle bot, publishes the nudge, the matcher's bot_name filter picks
// it up and the router starts a run.
func TestIdleNudgeActivatesBot(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	ran := make(chan string, 4)
	exec := executor.Func(func(_ context.Context, bot config.Bot, trigger string) (executor.Result, error) {
		ran <- bot.Name + "|" + trigger
		return executor.Result{OK: true}, nil
	})

	cfg, err := config.Parse([]byte(`
bots:
  - name: idle_bot
    heartbeat_hours: 6
    intent:
      signals:
        - pattern: "heartbeat:bot_idle"
          filter:
            bot_name: idle_bot
          priority: high
`))
	if err != nil {
		t.Fatal(err)
	}

	b := bus.New()
	matcher := intent.NewMatcher()
	g := guard.New()
	mgr := manager.New(b, matcher, g, exec, store.NewTolerant(nil))
	if err := mgr.Initialize(context.Background(), cfg); err != nil {
		t.Fatal(err)
	}
	defer mgr.Shutdown()

	rt := router.New(b, matcher, g,
		func(bot, trigger string) bool { return mgr.StartBot(bot, trigger).OK },
		mgr.IntentConfig,
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rt.Start(ctx)
	defer rt.Stop()

	mon := heartbeat.New(b, heartbeat.WithClock(clock))
	mon.Configure("idle_bot", 6)

	// Seven hours idle against a six hour threshold.
	mon.CheckNow(func(string) (time.Time, bool) {
		return clock.Now().Add(-7 * time.Hour), true
	})

	select {
	case got := <-ran:
		if want := "idle_bot|event:heartbeat:bot_idle"; got != want {
			t.Errorf("run = %q, want %q", got, want)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("idle nudge did not activate the bot")
	}
}

func TestRunFailsOnBadConfig(t *testing.T) {
	file := writeConfig(t, "bots:\n  - display_name: no-name\n")

	a, err := New(Options{
		ConfigFile:   file,
		Executor:     executor.Func(func(context.Context, config.Bot, string) (executor.Result, error) { return executor.Result{OK: true}, nil }),
		SkipTimesync: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Run(context.Background()); err == nil {
		t.Error("expected config validation error")
	}
}
