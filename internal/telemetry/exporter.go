package telemetry

import (
	"context"
	"log/slog"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// LogExporter writes finished spans, with their events, to a logger.
type LogExporter struct {
	logger *slog.Logger
}

// NewLogExporter creates a span exporter backed by logger.
func NewLogExporter(logger *slog.Logger) *LogExporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogExporter{logger: logger}
}

func (e *LogExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, span := range spans {
		attrs := []any{
			"span", span.Name(),
			"duration", span.EndTime().Sub(span.StartTime()),
			"status", span.Status().Code.String(),
		}
		for _, kv := range span.Attributes() {
			attrs = append(attrs, string(kv.Key), kv.Value.Emit())
		}
		e.logger.Debug("span", attrs...)
		for _, ev := range span.Events() {
			evAttrs := []any{"span", span.Name(), "event", ev.Name}
			for _, kv := range ev.Attributes {
				evAttrs = append(evAttrs, string(kv.Key), kv.Value.Emit())
			}
			e.logger.Debug("span event", evAttrs...)
		}
	}
	return nil
}

func (e *LogExporter) Shutdown(ctx context.Context) error {
	return nil
}
