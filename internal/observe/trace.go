package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys set on exchange spans.
const (
	AttrExchangeID = attribute.Key("digibattle.exchange.id")
	AttrRole       = attribute.Key("digibattle.exchange.role")
	AttrMessages   = attribute.Key("digibattle.exchange.messages")
	AttrOutcome    = attribute.Key("digibattle.exchange.outcome")
	AttrPartitions = attribute.Key("digibattle.exchange.partitions")
)

// StartSpan starts a span on the global tracer provider. The caller ends it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(scopeName).Start(ctx, name, opts...)
}

// StartExchange starts the span that covers one exchange, from encoding to
// decoding. Finish it with [EndExchange].
func StartExchange(ctx context.Context, id, role string, messages int) (context.Context, trace.Span) {
	return StartSpan(ctx, "exchange",
		trace.WithAttributes(
			AttrExchangeID.String(id),
			AttrRole.String(role),
			AttrMessages.Int(messages),
		),
	)
}

// EndExchange records the outcome on span and ends it. A non-nil err marks
// the span as failed.
func EndExchange(span trace.Span, outcome string, partitions int, err error) {
	span.SetAttributes(AttrOutcome.String(outcome), AttrPartitions.Int(partitions))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// CorrelationID returns the trace ID of the span in ctx, or "" without one.
// The diagnostics server echoes it as X-Correlation-ID.
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns base with trace_id and span_id attached when ctx carries a
// valid span, so exchange logs can be matched to traces. A nil base means
// slog.Default().
func Logger(ctx context.Context, base *slog.Logger) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return base
	}
	return base.With("trace_id", sc.TraceID().String(), "span_id", sc.SpanID().String())
}
