package store

import (
	"context"
	"log/slog"
	"time"

	"covey/internal/config"
)

const (
	tolerantExtraAttempts = 2
	tolerantBackoffStep   = 500 * time.Millisecond
)

// Tolerant wraps a Store with the platform's persistence policy: every
// write is retried up to two extra times with linear backoff and finally
// logged and swallowed. A failed write must never fail an activation.
type Tolerant struct {
	store *Store
	sleep func(context.Context, time.Duration) bool
}

// NewTolerant wraps s. A nil s yields a wrapper whose methods all no-op,
// which keeps the core runnable without persistence.
func NewTolerant(s *Store) *Tolerant {
	return &Tolerant{store: s, sleep: sleepContext}
}

func (t *Tolerant) run(ctx context.Context, op string, fn func(context.Context) error) {
	if t.store == nil {
		return
	}
	var err error
	for attempt := 0; attempt <= tolerantExtraAttempts; attempt++ {
		if err = fn(ctx); err == nil {
			return
		}
		if attempt == tolerantExtraAttempts {
			break
		}
		// Linear backoff: 0.5s, 1s.
		if !t.sleep(ctx, tolerantBackoffStep*time.Duration(attempt+1)) {
			break
		}
	}
	slog.Warn("store: persistence failed, continuing without it", "op", op, "err", err)
}

func (t *Tolerant) CreateBotRun(ctx context.Context, runID, bot, trigger string, startedAt time.Time) {
	t.run(ctx, "create_bot_run", func(ctx context.Context) error {
		return t.store.CreateBotRun(ctx, runID, bot, trigger, startedAt)
	})
}

func (t *Tolerant) CompleteBotRun(ctx context.Context, runID, status, output string, inTokens, outTokens int, cost float64) {
	t.run(ctx, "complete_bot_run", func(ctx context.Context) error {
		return t.store.CompleteBotRun(ctx, runID, status, output, inTokens, outTokens, cost)
	})
}

func (t *Tolerant) CreateBotLog(ctx context.Context, runID, level, eventType, message string, data map[string]any) {
	t.run(ctx, "create_bot_log", func(ctx context.Context) error {
		return t.store.CreateBotLog(ctx, runID, level, eventType, message, data)
	})
}

func (t *Tolerant) UpsertBotRecord(ctx context.Context, name, displayName string, cfg config.Bot) {
	t.run(ctx, "upsert_bot_record", func(ctx context.Context) error {
		return t.store.UpsertBotRecord(ctx, name, displayName, cfg)
	})
}

func (t *Tolerant) UpdateBotState(ctx context.Context, name, status string, lastRunAt *time.Time) {
	t.run(ctx, "update_bot_state", func(ctx context.Context) error {
		return t.store.UpdateBotState(ctx, name, status, lastRunAt)
	})
}

func (t *Tolerant) DeleteBotRecord(ctx context.Context, name string) {
	t.run(ctx, "delete_bot_record", func(ctx context.Context) error {
		return t.store.DeleteBotRecord(ctx, name)
	})
}

// ListUserIDs is read-only and returns the error to the caller; the pulse
// runner decides the fallback.
func (t *Tolerant) ListUserIDs(ctx context.Context) ([]string, error) {
	if t.store == nil {
		return nil, nil
	}
	return t.store.ListUserIDs(ctx)
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
