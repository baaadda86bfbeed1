package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"covey/internal/config"
	"covey/internal/event"
	"covey/internal/executor"
)

// Persisted run statuses.
const (
	runStatusCompleted = "completed"
	runStatusErrored   = "errored"
	runStatusCancelled = "cancelled"
)

// runBot supervises one execution task: retry wrapping, the per-run
// timeout, outcome classification and all the bookkeeping around it. The
// active-runs slot is released in a deferred block so no outcome path can
// leak it.
func (m *Manager) runBot(ctx context.Context, handle *runHandle, cfg config.Bot, trigger string) {
	defer close(handle.done)
	// Backstop slot release; the outcome paths already release it under
	// the same lock that writes the final status. By then a new run may
	// own the slot, so only remove our own handle.
	defer func() {
		m.mu.Lock()
		if m.activeRuns[cfg.Name] == handle {
			delete(m.activeRuns, cfg.Name)
		}
		m.mu.Unlock()
	}()

	runID := uuid.NewString()
	started := m.clock.Now().UTC()
	log := slog.With("component", "manager", "bot", cfg.Name, "run_id", runID)

	// Persistence and final events must survive run cancellation.
	persistCtx := context.WithoutCancel(ctx)
	m.persist.CreateBotRun(persistCtx, runID, cfg.Name, trigger, started)
	m.bus.Publish(event.New(event.TypeBotRunStart, map[string]any{
		"bot_name": cfg.Name,
		"run_id":   runID,
		"trigger":  trigger,
	}))

	spanCtx, span := m.tracer.Start(ctx, "bot.run", trace.WithAttributes(
		attribute.String("bot.name", cfg.Name),
		attribute.String("bot.trigger", trigger),
		attribute.String("bot.run_id", runID),
	))
	defer span.End()

	runCtx, cancelTimeout := context.WithTimeout(spanCtx, cfg.Timeout())
	defer cancelTimeout()

	exec := executor.WithRetry(m.exec, executor.RetryConfig{
		OnRetry: func(attempt, maxRetries int, wait time.Duration, err error) {
			log.Warn("bot run retrying", "attempt", attempt, "wait", wait, "err", err)
			m.bus.Publish(event.New(event.TypeBotRunRetry, map[string]any{
				"bot_name":     cfg.Name,
				"run_id":       runID,
				"attempt":      attempt,
				"max_retries":  maxRetries,
				"wait_seconds": wait.Seconds(),
				"error":        err.Error(),
			}))
			m.persist.CreateBotLog(persistCtx, runID, "warn", event.TypeBotRunRetry, err.Error(), map[string]any{
				"attempt": attempt,
			})
		},
	})

	res, err := exec.Execute(runCtx, cfg, trigger)
	elapsed := m.clock.Now().UTC().Sub(started)

	if err == nil && !res.OK {
		err = errors.New("run reported failure")
	}
	if err == nil {
		m.finishSuccess(persistCtx, span, cfg, trigger, runID, res, elapsed)
		log.Info("bot run complete", "duration", elapsed)
		return
	}

	kind := executor.Classify(err)
	// The run deadline surfaces as context.Canceled inside nested calls;
	// only treat it as a cancellation when the supervising context itself
	// was cancelled (stop, disable, shutdown).
	if ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		kind = executor.KindTimeout
	}

	var reason, runStatus string
	status := StatusErrored
	switch kind {
	case executor.KindCancelled:
		reason = "Run was cancelled"
		runStatus = runStatusCancelled
		status = StatusStopped
	case executor.KindTimeout:
		reason = fmt.Sprintf("Timed out after %d minutes", cfg.TimeoutMinutes)
		runStatus = runStatusErrored
	default:
		reason = err.Error()
		runStatus = runStatusErrored
	}

	span.SetStatus(codes.Error, reason)
	log.Warn("bot run failed", "error_type", string(kind), "reason", reason)

	m.mu.Lock()
	st := m.states[cfg.Name]
	st.Status = status
	snapshot := *st
	// Release the run slot together with the status write so a caller
	// that observes the final status can immediately start a new run.
	delete(m.activeRuns, cfg.Name)
	m.mu.Unlock()

	m.bus.Publish(event.New(event.TypeBotRunError, map[string]any{
		"bot_name":   cfg.Name,
		"run_id":     runID,
		"error":      reason,
		"error_type": string(kind),
	}))
	m.publishStateChange(snapshot)

	m.persist.CompleteBotRun(persistCtx, runID, runStatus, "", 0, 0, 0)
	m.persist.CreateBotLog(persistCtx, runID, "error", event.TypeBotRunError, reason, map[string]any{
		"error_type": string(kind),
	})
	m.persist.UpdateBotState(persistCtx, cfg.Name, string(status), nil)
}

func (m *Manager) finishSuccess(ctx context.Context, span trace.Span, cfg config.Bot, trigger, runID string, res executor.Result, elapsed time.Duration) {
	now := m.clock.Now().UTC()

	m.mu.Lock()
	st := m.states[cfg.Name]
	st.LastRunAt = now
	st.TotalRuns++
	if until, ok := m.guard.CooldownUntil(cfg.Name, cfg.Intent.CooldownMinutes); ok {
		st.CooldownUntil = until
	}
	st.RunsToday = m.guard.DailyCount(cfg.Name)
	if _, isPaused := m.paused[cfg.Name]; isPaused {
		st.Status = StatusPaused
	} else {
		st.Status = StatusWaiting
	}
	snapshot := *st
	delete(m.activeRuns, cfg.Name)
	m.mu.Unlock()

	span.SetStatus(codes.Ok, "")
	span.SetAttributes(
		attribute.Int("bot.tokens_in", res.InputTokens),
		attribute.Int("bot.tokens_out", res.OutputTokens),
	)

	m.bus.Publish(event.New(event.TypeBotRunComplete, map[string]any{
		"bot_name":         cfg.Name,
		"run_id":           runID,
		"trigger":          trigger,
		"duration_seconds": elapsed.Seconds(),
	}))
	// Domain completion event: other bots may chain on it.
	m.bus.Publish(event.New(event.BotCompleted(cfg.Name), map[string]any{
		"bot_name": cfg.Name,
		"run_id":   runID,
	}))
	m.publishStateChange(snapshot)

	m.persist.CompleteBotRun(ctx, runID, runStatusCompleted, res.Output, res.InputTokens, res.OutputTokens, res.CostUSD)
	m.persist.UpdateBotState(ctx, cfg.Name, string(snapshot.Status), &now)
}
