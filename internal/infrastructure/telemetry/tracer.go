package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartHTTPSpan opens a server span for an incoming request.
func StartHTTPSpan(ctx context.Context, tracer trace.Tracer, method, target string) (context.Context, trace.Span) {
	return tracer.Start(ctx, method+" "+target,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.target", target),
		),
	)
}

// StartParseSpan opens an internal span covering one parser mode run.
func StartParseSpan(ctx context.Context, tracer trace.Tracer, analysisID, modeKey string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "parse "+modeKey,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("analysis.id", analysisID),
			attribute.String("analysis.mode_key", modeKey),
		),
	)
}

// EndSpan records err on the span, sets its status, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
