package main

import (
	"context"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// setupTracing installs an SDK tracer provider so mutation spans carry real
// trace and span ids into the observability log events. Ended spans are
// written to the debug log.
func setupTracing(ratio float64) func(context.Context) error {
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
		sdktrace.WithBatcher(&logSpanExporter{logger: log.StandardLogger()}),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown
}

// logSpanExporter writes finished spans to logrus at debug level.
type logSpanExporter struct {
	logger *log.Logger
}

func (e *logSpanExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	if !e.logger.IsLevelEnabled(log.DebugLevel) {
		return nil
	}
	for _, s := range spans {
		sc := s.SpanContext()
		e.logger.WithFields(log.Fields{
			"span":        s.Name(),
			"trace_id":    sc.TraceID().String(),
			"span_id":     sc.SpanID().String(),
			"duration_ms": s.EndTime().Sub(s.StartTime()).Milliseconds(),
			"status":      s.Status().Code.String(),
		}).Debug("span ended")
	}
	return nil
}

func (e *logSpanExporter) Shutdown(ctx context.Context) error { return nil }
