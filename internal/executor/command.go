package executor

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"covey/internal/config"
)

// Command runs bot bodies as an external program: the agent runner
// binary receives the bot name and trigger as arguments and writes its
// result to stdout. This keeps the LLM side out of the daemon process.
type Command struct {
	// Path is the runner binary.
	Path string

	// Models is passed through as environment so the runner resolves
	// tiers itself.
	Models config.Models
}

func (c *Command) Execute(ctx context.Context, bot config.Bot, trigger string) (Result, error) {
	if c.Path == "" {
		return Result{}, fmt.Errorf("no runner binary configured")
	}

	cmd := exec.CommandContext(ctx, c.Path, "--bot", bot.Name, "--trigger", trigger)
	cmd.Env = append(cmd.Environ(),
		"COVEY_MODEL_FAST="+c.Models.Fast,
		"COVEY_MODEL_DEFAULT="+c.Models.Default,
		"COVEY_MODEL_STRONG="+c.Models.Strong,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return Result{Output: stdout.String()}, fmt.Errorf("runner: %s", msg)
	}
	return Result{OK: true, Output: stdout.String()}, nil
}
