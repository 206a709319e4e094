package otelhelper

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func recordSpan(t *testing.T, err error) sdktrace.ReadOnlySpan {
	t.Helper()

	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	_, span := StartSpan(context.Background(), provider.Tracer("test"), "engine.execute",
		attribute.String(ExecutionIDKey, "exec-1"))
	SetError(span, err, attribute.Int(HTTPStatusKey, 503))
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)

	return spans[0]
}

func TestSetError_RecordsStatus(t *testing.T) {
	span := recordSpan(t, errors.New("boom"))

	assert.Equal(t, codes.Error, span.Status().Code)
	assert.Equal(t, "boom", span.Status().Description)
	assert.Contains(t, span.Attributes(), attribute.String(ErrorTypeKey, "*errors.errorString"))

	require.Len(t, span.Events(), 1)
	assert.Equal(t, "exception", span.Events()[0].Name)
	assert.Contains(t, span.Events()[0].Attributes, attribute.Int(HTTPStatusKey, 503))
}

func TestSetError_NilErrorLeavesSpanUnset(t *testing.T) {
	span := recordSpan(t, nil)

	assert.Equal(t, codes.Unset, span.Status().Code)
	assert.Empty(t, span.Events())
}

func TestStartSpan_NilTracer(t *testing.T) {
	ctx, span := StartSpan(context.Background(), nil, "noop")
	defer span.End()

	assert.NotNil(t, ctx)
	assert.False(t, span.SpanContext().IsValid())
}
