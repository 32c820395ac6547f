// Package telemetry sets up the relay's tracer provider and holds its span and
// attribute helpers. Generic helpers come from jmap-service-libs/tracing.
package telemetry

import (
	"context"
	"fmt"
	"os"

	"github.com/jarrod-lowe/jmap-service-libs/tracing"
	"go.opentelemetry.io/contrib/propagators/aws/xray"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope for relay spans.
const TracerName = "github.com/stacklet/provider-relay"

// Init creates and registers a tracer provider. Spans are exported over OTLP
// gRPC only when an OTLP endpoint is configured in the environment.
// Unlike tracing.Init it attaches no Lambda resource detector.
func Init(ctx context.Context, serviceName string) (*sdktrace.TracerProvider, error) {
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", serviceName))),
		sdktrace.WithIDGenerator(xray.NewIDGenerator()),
	}

	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" || os.Getenv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT") != "" {
		exporter, err := otlptracegrpc.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	tracing.InitPropagator()

	return tp, nil
}

// StartInvocationSpan starts the span covering one queue message.
func StartInvocationSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(attrs...),
	)
}

// StartSpan starts an internal child span.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// InvocationID returns the host invocation id attribute.
func InvocationID(id string) attribute.KeyValue {
	return attribute.String("invocation_id", id)
}

// MessageID returns the queue message id attribute.
func MessageID(id string) attribute.KeyValue {
	return attribute.String("messaging.message.id", id)
}

// DequeueCount returns the delivery attempt attribute.
func DequeueCount(n int) attribute.KeyValue {
	return attribute.Int("messaging.dequeue_count", n)
}

// EventSource returns the derived event source attribute.
func EventSource(source string) attribute.KeyValue {
	return attribute.String("relay.event_source", source)
}

// EventBus returns the destination event bus attribute.
func EventBus(bus string) attribute.KeyValue {
	return attribute.String("relay.event_bus", bus)
}

// Outcome returns the relay outcome attribute.
func Outcome(outcome string) attribute.KeyValue {
	return attribute.String("relay.outcome", outcome)
}

// ErrorKind returns the failure kind attribute.
func ErrorKind(kind string) attribute.KeyValue {
	return attribute.String("relay.error_kind", kind)
}
