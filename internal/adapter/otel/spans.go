package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "driftline"

// StartCommandSpan starts a span for one command execution.
func StartCommandSpan(ctx context.Context, aggregateType, aggregateID, correlationID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "command",
		trace.WithAttributes(
			attribute.String("aggregate.type", aggregateType),
			attribute.String("aggregate.id", aggregateID),
			attribute.String("correlation.id", correlationID),
		),
	)
}

// StartAppendSpan starts a span for an event store append attempt.
func StartAppendSpan(ctx context.Context, aggregateType, aggregateID string, expectedVersion uint64, attempt int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "append",
		trace.WithAttributes(
			attribute.String("aggregate.type", aggregateType),
			attribute.String("aggregate.id", aggregateID),
			attribute.Int64("aggregate.expected_version", int64(expectedVersion)),
			attribute.Int("append.attempt", attempt),
		),
	)
}

// StartReplaySpan starts a span for a historical replay (projection rebuild or
// stream catch-up).
func StartReplaySpan(ctx context.Context, consumer string, sinceGlobal uint64) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "replay",
		trace.WithAttributes(
			attribute.String("replay.consumer", consumer),
			attribute.Int64("replay.since_global", int64(sinceGlobal)),
		),
	)
}
