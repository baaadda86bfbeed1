package executor

import (
	"context"
	"time"

	"covey/internal/config"
)

const (
	defaultMaxRetries  = 2
	defaultBaseBackoff = 5 * time.Second
)

// RetryConfig tunes the retrying wrapper.
type RetryConfig struct {
	// MaxRetries is the number of extra attempts after the first failure.
	MaxRetries int
	// BaseBackoff is doubled per attempt: base, base*2, base*4, …
	BaseBackoff time.Duration
	// OnRetry, when set, is called before each backoff sleep. The manager
	// wires it to publish bot_run_retry.
	OnRetry func(attempt, maxRetries int, wait time.Duration, err error)
}

type retryingExecutor struct {
	inner Executor
	cfg   RetryConfig
}

// WithRetry wraps an executor with the platform retry policy: retriable
// failures get up to MaxRetries extra attempts with exponential backoff.
// Cancellation and non-retriable errors return immediately.
func WithRetry(inner Executor, cfg RetryConfig) Executor {
	if inner == nil {
		return inner
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = defaultBaseBackoff
	}
	return &retryingExecutor{inner: inner, cfg: cfg}
}

func (r *retryingExecutor) Execute(ctx context.Context, bot config.Bot, trigger string) (Result, error) {
	var lastErr error

	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		res, err := r.inner.Execute(ctx, bot, trigger)
		if err == nil {
			return res, nil
		}
		lastErr = err

		kind := Classify(err)
		if kind == KindCancelled || !kind.Retriable() {
			return Result{}, err
		}
		if attempt == r.cfg.MaxRetries {
			break
		}
		// The deadline may have expired during the attempt. Bail out
		// before OnRetry so no retry is announced that cannot run.
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		wait := r.cfg.BaseBackoff << attempt
		if r.cfg.OnRetry != nil {
			r.cfg.OnRetry(attempt, r.cfg.MaxRetries, wait, err)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Result{}, ctx.Err()
		case <-timer.C:
		}
	}

	return Result{}, lastErr
}
