package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartRequestSpan starts a span for one IPC Hub request. Callers should
// defer EndRequestSpan with the resulting error.
func StartRequestSpan(ctx context.Context, tracer trace.Tracer, requestID, verb string) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, SpanPrefixRequest+verb, trace.WithSpanKind(trace.SpanKindServer))
	span.SetAttributes(
		attribute.String(AttrRequestID, requestID),
		attribute.String(AttrRequestVerb, verb),
	)
	return ctx, span
}

// EndRequestSpan records the outcome of a request span and ends it.
func EndRequestSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// StartTickSpan starts a span around one Task Coordinator scheduling tick.
func StartTickSpan(ctx context.Context, tracer trace.Tracer, roomID string) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, SpanPrefixTaskTick+"room", trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(attribute.String(AttrRoomID, roomID))
	return ctx, span
}

// EndTickSpan records the outcome of a scheduling tick span and ends it.
func EndTickSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
