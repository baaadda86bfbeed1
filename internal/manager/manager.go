// Package manager owns bot lifecycle: one BotState per configured bot, a
// per-manager run lock serializing activation attempts, supervised run
// tasks with timeouts, and the lifecycle events the rest of the platform
// observes.
package manager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"covey/internal/bus"
	"covey/internal/check"
	"covey/internal/config"
	"covey/internal/event"
	"covey/internal/executor"
	"covey/internal/guard"
	"covey/internal/intent"
	"covey/internal/store"
)

type runHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager tracks every bot's state and supervises run tasks.
type Manager struct {
	bus     *bus.Bus
	matcher *intent.Matcher
	guard   *guard.Guard
	exec    executor.Executor
	persist *store.Tolerant
	clock   event.Clock
	tracer  trace.Tracer

	// onActivity, when set, is invoked on every accepted activation so
	// the pulse runner can tighten its cadence.
	onActivity func()

	// onBotAdded/onBotRemoved observe the live bot set so the heartbeat
	// monitor and pulse runner stay in sync with custom-bot churn.
	onBotAdded   func(config.Bot)
	onBotRemoved func(name string)

	// mu is the run lock: it serializes the test-and-set on activeRuns so
	// a manual trigger and a router trigger cannot both win.
	mu          sync.Mutex
	initialized bool
	rootCtx     context.Context
	configs     map[string]config.Bot
	builtin     map[string]struct{}
	states      map[string]*BotState
	paused      map[string]struct{}
	activeRuns  map[string]*runHandle
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock substitutes the wall clock, for tests.
func WithClock(c event.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithActivityFunc wires the pulse runner's activity notification.
func WithActivityFunc(fn func()) Option {
	return func(m *Manager) { m.onActivity = fn }
}

// WithBotHooks observes bot registration and removal.
func WithBotHooks(onAdded func(config.Bot), onRemoved func(name string)) Option {
	return func(m *Manager) {
		m.onBotAdded = onAdded
		m.onBotRemoved = onRemoved
	}
}

// New creates a manager. Call Initialize before starting bots.
func New(b *bus.Bus, matcher *intent.Matcher, g *guard.Guard, exec executor.Executor, persist *store.Tolerant, opts ...Option) *Manager {
	check.Assert(b != nil, "manager.New: bus must not be nil")
	check.Assert(matcher != nil, "manager.New: matcher must not be nil")
	check.Assert(g != nil, "manager.New: guard must not be nil")

	m := &Manager{
		bus:        b,
		matcher:    matcher,
		guard:      g,
		exec:       exec,
		persist:    persist,
		clock:      event.RealClock{},
		tracer:     otel.Tracer("covey/manager"),
		configs:    make(map[string]config.Bot),
		builtin:    make(map[string]struct{}),
		states:     make(map[string]*BotState),
		paused:     make(map[string]struct{}),
		activeRuns: make(map[string]*runHandle),
	}
	if persist == nil {
		m.persist = store.NewTolerant(nil)
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Initialize seeds bot state from the config, registers intents, persists
// bot records and publishes the initial full-state event. ctx bounds the
// lifetime of every run task the manager will spawn.
func (m *Manager) Initialize(ctx context.Context, cfg *config.Config) error {
	m.mu.Lock()
	if m.initialized {
		m.mu.Unlock()
		return fmt.Errorf("manager already initialized")
	}
	m.rootCtx = ctx
	for _, bot := range cfg.Bots {
		m.configs[bot.Name] = bot
		m.builtin[bot.Name] = struct{}{}
		st := &BotState{Name: bot.Name, Status: StatusWaiting, Enabled: bot.IsEnabled()}
		if !st.Enabled {
			st.Status = StatusDisabled
		}
		m.states[bot.Name] = st
		m.matcher.Register(bot.Name, bot.IntentSignals())
	}
	m.initialized = true
	m.mu.Unlock()

	for _, bot := range cfg.Bots {
		m.persist.UpsertBotRecord(ctx, bot.Name, bot.DisplayName, bot)
		if m.onBotAdded != nil {
			m.onBotAdded(bot)
		}
	}
	m.publishFullState()
	slog.Info("manager initialized", "bots", len(cfg.Bots))
	return nil
}

// StartBot activates one run of the named bot. The trigger tag records
// what woke it ("manual", "event:user:job_saved", …). Rejections are
// returned, not errors: they are normal outcomes.
func (m *Manager) StartBot(name, trigger string) StartResult {
	m.mu.Lock()
	if !m.initialized {
		m.mu.Unlock()
		return StartResult{Reason: RejectNotInitialized}
	}
	if m.rootCtx.Err() != nil {
		m.mu.Unlock()
		return StartResult{Reason: RejectShuttingDown}
	}
	cfg, ok := m.configs[name]
	if !ok {
		m.mu.Unlock()
		return StartResult{Reason: RejectUnknownBot}
	}
	st := m.states[name]
	if !st.Enabled {
		m.mu.Unlock()
		return StartResult{Status: StatusDisabled, Reason: RejectDisabled}
	}
	if _, isPaused := m.paused[name]; isPaused {
		m.mu.Unlock()
		return StartResult{Status: st.Status, Reason: RejectPaused}
	}
	if _, live := m.activeRuns[name]; live {
		m.mu.Unlock()
		return StartResult{Status: StatusRunning, Reason: RejectAlreadyRunning}
	}

	runCtx, cancel := context.WithCancel(m.rootCtx)
	handle := &runHandle{cancel: cancel, done: make(chan struct{})}
	m.activeRuns[name] = handle
	st.Status = StatusRunning
	st.LastActivatedBy = trigger
	snapshot := *st
	m.mu.Unlock()

	if m.onActivity != nil {
		m.onActivity()
	}

	go m.runBot(runCtx, handle, cfg, trigger)
	m.publishStateChange(snapshot)
	slog.Info("bot activated", "bot", name, "trigger", trigger)
	return StartResult{OK: true, Status: StatusRunning}
}

// StopBot cancels a live run (if any), marks the bot stopped and pauses
// it. An unknown bot is a silent no-op.
func (m *Manager) StopBot(name string) {
	m.mu.Lock()
	st, ok := m.states[name]
	if !ok {
		m.mu.Unlock()
		return
	}
	handle := m.activeRuns[name]
	m.mu.Unlock()

	if handle != nil {
		handle.cancel()
		<-handle.done
	}

	m.mu.Lock()
	// Stopping also pauses: the bot stays down until resumed. Pause alone
	// does not cancel a live run; this asymmetry is intentional.
	m.paused[name] = struct{}{}
	st.Status = StatusStopped
	snapshot := *st
	m.mu.Unlock()

	m.publishStateChange(snapshot)
	slog.Info("bot stopped", "bot", name)
}

// PauseBot blocks future activations without touching a live run.
func (m *Manager) PauseBot(name string) {
	m.mu.Lock()
	st, ok := m.states[name]
	if !ok {
		m.mu.Unlock()
		return
	}
	m.paused[name] = struct{}{}
	if st.Status != StatusRunning {
		st.Status = StatusPaused
	}
	snapshot := *st
	m.mu.Unlock()

	m.publishStateChange(snapshot)
}

// ResumeBot lifts a pause or stop.
func (m *Manager) ResumeBot(name string) {
	m.mu.Lock()
	st, ok := m.states[name]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.paused, name)
	if st.Status == StatusPaused || st.Status == StatusStopped {
		st.Status = StatusWaiting
	}
	snapshot := *st
	m.mu.Unlock()

	m.publishStateChange(snapshot)
}

// SetEnabled toggles a bot. Disabling cancels a live run; enabling clears
// any pause and returns the bot to waiting.
func (m *Manager) SetEnabled(name string, enabled bool) {
	m.mu.Lock()
	st, ok := m.states[name]
	if !ok {
		m.mu.Unlock()
		return
	}
	var handle *runHandle
	if !enabled {
		handle = m.activeRuns[name]
	}
	m.mu.Unlock()

	if handle != nil {
		handle.cancel()
		<-handle.done
	}

	m.mu.Lock()
	st.Enabled = enabled
	if enabled {
		delete(m.paused, name)
		st.Status = StatusWaiting
	} else {
		st.Status = StatusDisabled
	}
	snapshot := *st
	m.mu.Unlock()

	m.publishStateChange(snapshot)
	m.persist.UpdateBotState(context.Background(), name, string(snapshot.Status), nil)
}

// CreateCustomBot registers a runtime-created bot: state, intent signals
// and persistence, followed by a full-state event.
func (m *Manager) CreateCustomBot(bot config.Bot) error {
	// Same defaults as config loading: without them a custom bot would
	// run under a zero deadline and an unlimited daily cap.
	config.ApplyBotDefaults(&bot)
	if err := config.ValidateBot(bot); err != nil {
		return err
	}

	m.mu.Lock()
	if !m.initialized {
		m.mu.Unlock()
		return fmt.Errorf("manager not initialized")
	}
	if _, exists := m.configs[bot.Name]; exists {
		m.mu.Unlock()
		return fmt.Errorf("bot %q already exists", bot.Name)
	}
	m.configs[bot.Name] = bot
	st := &BotState{Name: bot.Name, Status: StatusWaiting, Enabled: bot.IsEnabled()}
	if !st.Enabled {
		st.Status = StatusDisabled
	}
	m.states[bot.Name] = st
	m.matcher.Register(bot.Name, bot.IntentSignals())
	m.mu.Unlock()

	m.persist.UpsertBotRecord(context.Background(), bot.Name, bot.DisplayName, bot)
	if m.onBotAdded != nil {
		m.onBotAdded(bot)
	}
	m.publishFullState()
	slog.Info("custom bot created", "bot", bot.Name)
	return nil
}

// DeleteCustomBot stops and removes a runtime-created bot. Built-in bots
// cannot be deleted.
func (m *Manager) DeleteCustomBot(name string) error {
	m.mu.Lock()
	if _, ok := m.states[name]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("bot %q not found", name)
	}
	if _, isBuiltin := m.builtin[name]; isBuiltin {
		m.mu.Unlock()
		return fmt.Errorf("bot %q is built-in", name)
	}
	m.mu.Unlock()

	m.StopBot(name)

	m.mu.Lock()
	m.matcher.Unregister(name)
	delete(m.configs, name)
	delete(m.states, name)
	delete(m.paused, name)
	m.mu.Unlock()

	m.persist.DeleteBotRecord(context.Background(), name)
	if m.onBotRemoved != nil {
		m.onBotRemoved(name)
	}
	m.publishFullState()
	slog.Info("custom bot deleted", "bot", name)
	return nil
}

// HandleEvent publishes a domain event onto the bus; the router picks it
// up downstream. It also counts as system activity for the pulse cadence.
func (m *Manager) HandleEvent(typ string, payload map[string]any) event.Event {
	if m.onActivity != nil {
		m.onActivity()
	}
	return m.bus.Publish(event.New(typ, payload))
}

// Shutdown cancels every live run and waits for the supervision tasks to
// finish. The caller cancels the root context first; StartBot rejects
// activations once it is cancelled.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	handles := make([]*runHandle, 0, len(m.activeRuns))
	for _, h := range m.activeRuns {
		handles = append(handles, h)
	}
	m.mu.Unlock()

	if len(handles) > 0 {
		slog.Info("cancelling live runs", "count", len(handles))
	}
	for _, h := range handles {
		h.cancel()
		<-h.done
	}
}

// State returns a copy of one bot's state.
func (m *Manager) State(name string) (BotState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[name]
	if !ok {
		return BotState{}, false
	}
	return *st, true
}

// States returns a copy of every bot's state.
func (m *Manager) States() []BotState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]BotState, 0, len(m.states))
	for _, st := range m.states {
		out = append(out, *st)
	}
	return out
}

// IntentConfig exposes a bot's rate-limit settings to the router.
func (m *Manager) IntentConfig(name string) (config.Intent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.configs[name]
	if !ok {
		return config.Intent{}, false
	}
	return cfg.Intent, true
}

// LastRunTime reports when the bot last completed a run. The bool is
// false when it has never run.
func (m *Manager) LastRunTime(name string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[name]
	if !ok || st.LastRunAt.IsZero() {
		return time.Time{}, false
	}
	return st.LastRunAt, true
}

func (m *Manager) publishStateChange(st BotState) {
	m.bus.Publish(event.New(event.TypeBotStateChange, st.payload()))
}

func (m *Manager) publishFullState() {
	states := m.States()
	bots := make([]any, 0, len(states))
	for _, st := range states {
		bots = append(bots, st.payload())
	}
	m.bus.Publish(event.New(event.TypeBotsState, map[string]any{"bots": bots}))
}
