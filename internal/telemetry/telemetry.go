// Package telemetry builds the structured logger and OpenTelemetry hooks
// shared by every component.
package telemetry

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentation = "github.com/rcliao/memoria"

// Options configures logging and tracing.
type Options struct {
	Level  string // debug | info | warn | error
	Format string // text | json
	// Trace exports finished spans to the logger at debug level.
	Trace bool
}

// Telemetry bundles the logger, tracer and meter handed to components.
type Telemetry struct {
	Logger *slog.Logger
	Tracer trace.Tracer
	Meter  metric.Meter

	provider *sdktrace.TracerProvider
}

// New builds telemetry writing logs to w.
func New(w io.Writer, opts Options) *Telemetry {
	logger := NewLogger(w, opts.Level, opts.Format)
	t := &Telemetry{
		Logger: logger,
		Tracer: tracenoop.NewTracerProvider().Tracer(instrumentation),
		Meter:  noop.NewMeterProvider().Meter(instrumentation),
	}
	if opts.Trace {
		t.provider = sdktrace.NewTracerProvider(
			sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(NewLogExporter(logger))),
		)
		t.Tracer = t.provider.Tracer(instrumentation)
	}
	return t
}

// Nop returns telemetry that discards everything.
func Nop() *Telemetry {
	return New(io.Discard, Options{Level: "error"})
}

// Shutdown flushes the tracer provider, if any.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// NewLogger creates a slog logger at the given level and format.
func NewLogger(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ParseLevel maps a level name to slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Component returns a child logger tagged with a component name.
func Component(l *slog.Logger, name string) *slog.Logger {
	if l == nil {
		l = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return l.With("component", name)
}
