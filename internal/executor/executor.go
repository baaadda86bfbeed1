// Package executor defines the boundary between the activation core and
// the LLM-driven bot body. The core treats execution as opaque: it hands
// over the bot config and a trigger tag, and gets back a result or a
// classified error.
package executor

import (
	"context"

	"covey/internal/config"
)

// Result is the outcome of one bot run.
type Result struct {
	OK           bool
	Output       string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
}

// Executor runs one activation of a bot. Implementations must honor ctx
// cancellation and the deadline the manager attaches.
type Executor interface {
	Execute(ctx context.Context, bot config.Bot, trigger string) (Result, error)
}

// Func adapts a plain function to the Executor interface.
type Func func(ctx context.Context, bot config.Bot, trigger string) (Result, error)

func (f Func) Execute(ctx context.Context, bot config.Bot, trigger string) (Result, error) {
	return f(ctx, bot, trigger)
}
