// Package otelhook wires the Decision Driver's tracing hook to an actual
// OpenTelemetry pipeline. The driver only depends on go.opentelemetry.io's
// stable trace.Tracer interface; this package is where a concrete
// TracerProvider gets constructed and registered.
package otelhook

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope name the decision driver's spans
// (accessrl.decision, policy.lookup, key.resolve, store.call) are recorded
// under.
const TracerName = "github.com/elfnet/accessrl"

// NewTracerProvider builds an SDK TracerProvider that exports spans to
// stdout, registers it as the global provider, and returns a Tracer ready
// to hand to decision.WithTracer plus a shutdown function the caller must
// invoke on process exit to flush pending spans.
func NewTracerProvider(ctx context.Context, serviceName string) (trace.Tracer, func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, nil, fmt.Errorf("otelhook: create stdout exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("otelhook: build resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	return provider.Tracer(TracerName), provider.Shutdown, nil
}
