package executor

import (
	"context"
	"errors"
	"strings"
)

// ErrorKind buckets run failures for retry policy and reporting.
type ErrorKind string

const (
	KindRateLimit  ErrorKind = "rate_limit"
	KindTimeout    ErrorKind = "timeout"
	KindAuth       ErrorKind = "auth"
	KindConnection ErrorKind = "connection"
	KindRuntime    ErrorKind = "runtime"
	KindCancelled  ErrorKind = "cancelled"
)

// Retriable reports whether the executor may schedule another attempt.
func (k ErrorKind) Retriable() bool {
	switch k {
	case KindRateLimit, KindTimeout, KindConnection:
		return true
	default:
		return false
	}
}

// Classify buckets an execution error by inspecting the error chain and
// message. Providers surface failures as free-text messages, so matching
// is substring-based; cancellation and deadline are detected structurally
// first.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindRuntime
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate_limit"), strings.Contains(msg, "429"):
		return KindRateLimit
	case strings.Contains(msg, "timeout"):
		return KindTimeout
	case strings.Contains(msg, "api_key"), strings.Contains(msg, "authentication"):
		return KindAuth
	case strings.Contains(msg, "connection"):
		return KindConnection
	default:
		return KindRuntime
	}
}
