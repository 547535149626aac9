package telemetry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/loghawk/device-log-analysis-backend/internal/testutil"
)

func recordingTracer(t *testing.T) (trace.Tracer, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(testutil.TestContext(t)) })
	return provider.Tracer("test"), recorder
}

func attrValue(attrs []attribute.KeyValue, key attribute.Key) (string, bool) {
	for _, kv := range attrs {
		if kv.Key == key {
			return kv.Value.AsString(), true
		}
	}
	return "", false
}

func TestStartHTTPSpan(t *testing.T) {
	tracer, recorder := recordingTracer(t)

	_, span := StartHTTPSpan(testutil.TestContext(t), tracer, "GET", "/api/v1/modes")
	EndSpan(span, nil)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /api/v1/modes", spans[0].Name())
	assert.Equal(t, trace.SpanKindServer, spans[0].SpanKind())

	method, ok := attrValue(spans[0].Attributes(), "http.method")
	require.True(t, ok)
	assert.Equal(t, "GET", method)

	target, ok := attrValue(spans[0].Attributes(), "http.target")
	require.True(t, ok)
	assert.Equal(t, "/api/v1/modes", target)

	assert.Equal(t, codes.Unset, spans[0].Status().Code)
}

func TestStartParseSpan(t *testing.T) {
	tracer, recorder := recordingTracer(t)

	_, span := StartParseSpan(testutil.TestContext(t), tracer, "4fd1", "syslog")
	EndSpan(span, nil)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "parse syslog", spans[0].Name())
	assert.Equal(t, trace.SpanKindInternal, spans[0].SpanKind())

	mode, ok := attrValue(spans[0].Attributes(), "analysis.mode_key")
	require.True(t, ok)
	assert.Equal(t, "syslog", mode)
}

func TestEndSpanRecordsError(t *testing.T) {
	tracer, recorder := recordingTracer(t)

	_, span := StartParseSpan(testutil.TestContext(t), tracer, "4fd1", "syslog")
	EndSpan(span, errors.New("parser exited with status 2"))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "parser exited with status 2", spans[0].Status().Description)
	require.Len(t, spans[0].Events(), 1)
	assert.Equal(t, "exception", spans[0].Events()[0].Name)
}
