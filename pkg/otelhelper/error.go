package otelhelper

import (
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const ErrorTypeKey = "error.type"

// SetError marks span as failed. attrs are attached to the recorded exception event.
// A nil err leaves the span untouched.
func SetError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if err == nil {
		return
	}

	span.SetAttributes(attribute.String(ErrorTypeKey, fmt.Sprintf("%T", err)))
	span.RecordError(err, trace.WithAttributes(attrs...))
	span.SetStatus(codes.Error, err.Error())
}
