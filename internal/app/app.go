// Package app assembles the activation core: bus, matcher, guard,
// manager, router, heartbeat monitor, pulse runner, persistence and the
// clock-skew checker. One App per process, created at startup and
// passed to everything that needs a handle.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"covey/internal/bus"
	"covey/internal/config"
	"covey/internal/event"
	"covey/internal/executor"
	"covey/internal/guard"
	"covey/internal/heartbeat"
	"covey/internal/intent"
	"covey/internal/manager"
	"covey/internal/pulse"
	"covey/internal/router"
	"covey/internal/store"
	"covey/internal/telemetry"
	"covey/internal/timesync"
)

// Options configures an App.
type Options struct {
	// ConfigFile is the bot configuration document. Missing file means
	// an empty bot set.
	ConfigFile string

	// DataDir holds the SQLite store. Empty disables persistence.
	DataDir string

	// Executor runs bot bodies. Required.
	Executor executor.Executor

	// PulseFunc overrides the default pulse body.
	PulseFunc pulse.Func

	// SkipTimesync disables the NTP checker, for tests and air-gapped
	// hosts.
	SkipTimesync bool
}

// App owns every component of the activation core.
type App struct {
	Bus     *bus.Bus
	Manager *manager.Manager
	Store   *store.Store

	configFile string
	router     *router.Router
	monitor    *heartbeat.Monitor
	pulse      *pulse.Runner
	timesync   *timesync.Checker
	telemetry  *telemetry.Provider

	cancel context.CancelFunc
	done   chan struct{}
}

// New wires the components. Nothing starts running until Run.
func New(opts Options) (*App, error) {
	if opts.Executor == nil {
		return nil, fmt.Errorf("app: executor is required")
	}

	var st *store.Store
	if opts.DataDir != "" {
		var err error
		st, err = store.Open(filepath.Join(opts.DataDir, "covey.db"))
		if err != nil {
			return nil, fmt.Errorf("app: open store: %w", err)
		}
	}
	persist := store.NewTolerant(st)

	b := bus.New()
	matcher := intent.NewMatcher()
	g := guard.New()

	pulseFn := opts.PulseFunc
	if pulseFn == nil {
		pulseFn = defaultPulse(b)
	}
	runner := pulse.New(persist, pulseFn)
	monitor := heartbeat.New(b)

	mgr := manager.New(b, matcher, g, opts.Executor, persist,
		manager.WithActivityFunc(runner.NotifyActivity),
		manager.WithBotHooks(
			func(bot config.Bot) {
				monitor.Configure(bot.Name, bot.HeartbeatHours)
				if bot.Pulse.Enabled {
					runner.Configure(bot.Name, bot.Pulse.ActiveHoursStart, bot.Pulse.ActiveHoursEnd)
				}
			},
			func(name string) {
				monitor.Remove(name)
				runner.Remove(name)
			},
		),
	)

	rt := router.New(b, matcher, g,
		func(bot, trigger string) bool { return mgr.StartBot(bot, trigger).OK },
		mgr.IntentConfig,
	)

	a := &App{
		Bus:        b,
		Manager:    mgr,
		Store:      st,
		configFile: opts.ConfigFile,
		router:     rt,
		monitor:    monitor,
		pulse:      runner,
	}
	if !opts.SkipTimesync {
		a.timesync = timesync.NewChecker(event.RealClock{})
	}
	return a, nil
}

// defaultPulse publishes one knowledge-advancement event per pass. The
// bot's own intent signals decide whether the event wakes it.
func defaultPulse(b *bus.Bus) pulse.Func {
	return func(_ context.Context, bot, userID string) error {
		payload := map[string]any{"bot_name": bot}
		if userID != "" {
			payload["user_id"] = userID
		}
		b.Publish(event.New(event.TypeGeneExpressed, payload))
		return nil
	}
}

// Run loads the configuration, initializes the manager and starts every
// background task. It returns once startup is complete; Shutdown stops
// everything.
func (a *App) Run(ctx context.Context) error {
	cfg, err := config.Load(a.configFile)
	if err != nil {
		return err
	}

	a.telemetry = telemetry.Setup()

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})

	if err := a.Manager.Initialize(runCtx, cfg); err != nil {
		cancel()
		a.cancel = nil
		a.done = nil
		return err
	}

	a.router.Start(runCtx)
	a.monitor.Start(runCtx, a.Manager.LastRunTime)
	a.pulse.Start(runCtx)
	if a.timesync != nil {
		go a.timesync.Run(runCtx)
	}
	go a.watchReload(runCtx)

	slog.Info("activation core started", "bots", len(cfg.Bots), "config", a.configFile)
	return nil
}

// watchReload republishes the configuration on SIGHUP. The live bot set
// is not rebuilt; new bots take effect on restart, and the reload event
// lets interested bots refresh their own derived state.
func (a *App) watchReload(ctx context.Context) {
	defer close(a.done)

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if _, err := config.Load(a.configFile); err != nil {
				slog.Warn("config reload failed, keeping current config", "err", err)
				continue
			}
			slog.Info("config reloaded", "config", a.configFile)
			a.Bus.Publish(event.New(event.TypeConfigReloaded, map[string]any{
				"config_file": a.configFile,
			}))
		}
	}
}

// Shutdown stops background tasks in dependency order and closes the
// store. Safe to call after a failed Run.
func (a *App) Shutdown(ctx context.Context) {
	if a.cancel != nil {
		a.cancel()
		<-a.done
	}

	a.pulse.Stop()
	a.monitor.Stop()
	a.router.Stop()
	a.Manager.Shutdown()
	a.telemetry.Shutdown(ctx)

	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			slog.Warn("closing store failed", "err", err)
		}
	}
	slog.Info("activation core stopped")
}
