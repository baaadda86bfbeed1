// Package telemetry installs the process-wide tracer provider. Spans
// stay in-process: a span processor mirrors run spans into the
// structured log instead of shipping them to a collector.
package telemetry

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

type Provider struct {
	provider *sdktrace.TracerProvider
}

// Setup builds a tracer provider backed by the log processor and
// registers it as the global provider.
func Setup() *Provider {
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(&logSpanProcessor{log: slog.With("component", "telemetry")}),
	)
	otel.SetTracerProvider(provider)
	return &Provider{provider: provider}
}

// Shutdown flushes and stops the provider.
func (p *Provider) Shutdown(ctx context.Context) {
	if p == nil || p.provider == nil {
		return
	}
	if err := p.provider.Shutdown(ctx); err != nil {
		slog.Warn("telemetry shutdown failed", "err", err)
	}
}

// logSpanProcessor writes one log line per finished span.
type logSpanProcessor struct {
	log *slog.Logger
}

func (p *logSpanProcessor) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (p *logSpanProcessor) OnEnd(span sdktrace.ReadOnlySpan) {
	attrs := make([]any, 0, 8)
	attrs = append(attrs,
		"span", span.Name(),
		"duration", span.EndTime().Sub(span.StartTime()).Round(time.Millisecond),
	)
	for _, kv := range span.Attributes() {
		attrs = append(attrs, string(kv.Key), kv.Value.Emit())
	}

	status := span.Status()
	if status.Code == codes.Error {
		attrs = append(attrs, "status", "error", "description", status.Description)
		p.log.Warn("span ended", attrs...)
		return
	}
	p.log.Debug("span ended", attrs...)
}

func (p *logSpanProcessor) Shutdown(context.Context) error   { return nil }
func (p *logSpanProcessor) ForceFlush(context.Context) error { return nil }
