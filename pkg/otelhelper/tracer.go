// Package otelhelper provides distributed tracing for dispatch and healing.
package otelhelper

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otlptracehttp "go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	// Common attribute keys.
	WorkflowIDKey          = "flowmedic.workflow.id"
	ExecutionIDKey         = "flowmedic.execution.id"
	ExternalExecutionIDKey = "flowmedic.execution.external_id"
	AttemptKey             = "flowmedic.execution.attempt"
	PriorityKey            = "flowmedic.execution.priority"
	HealingErrorTypeKey    = "flowmedic.healing.error_type"
	StrategyIDKey          = "flowmedic.healing.strategy_id"
	WorkerIDKey            = "flowmedic.worker.id"
	HTTPStatusKey          = "http.response.status_code"
)

type ShutdownFunc func(ctx context.Context) error

// NewTracer exports spans over OTLP/HTTP. The exporter reads the standard
// OTEL_EXPORTER_OTLP_* variables.
// nolint:ireturn // Returning interface is intentional for OpenTelemetry tracing
func NewTracer(ctx context.Context, serviceName string) (trace.Tracer, ShutdownFunc, error) {
	provider, err := newTracerProvider(ctx, serviceName)
	if err != nil {
		return nil, nil, err
	}

	return provider.Tracer(serviceName), provider.Shutdown, nil
}

// NoopTracer is used when tracing is disabled and in tests.
// nolint:ireturn
func NoopTracer() trace.Tracer {
	return noop.NewTracerProvider().Tracer("flowmedic")
}

// nolint:ireturn,spancheck // Returning interface is intentional for OpenTelemetry tracing
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if tracer == nil {
		tracer = NoopTracer()
	}

	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func newTracerProvider(ctx context.Context, serviceName string) (*sdktrace.TracerProvider, error) {
	r, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, err
	}

	exporter, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(r),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp, nil
}
