package telemetry

import (
	"context"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// InitTracer builds an OTLP gRPC trace exporter pointed at
// OTEL_EXPORTER_OTLP_ENDPOINT (default localhost:4317), registers it as the
// global tracer provider, and returns its Shutdown func.
func InitTracer(ctx context.Context, service string) (func(context.Context) error, error) {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		endpoint = "localhost:4317"
	}

	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	exp, err := otlptracegrpc.New(dialCtx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return func(context.Context) error { return nil }, err
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(semconv.ServiceName(service)))
	if err != nil {
		res = resource.Default()
	}

	tp := trace.NewTracerProvider(trace.WithBatcher(exp), trace.WithResource(res))
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// WithSpan starts a span named name and returns ctx plus a func that ends it.
func WithSpan(ctx context.Context, name string) (context.Context, func()) {
	ctx, span := otel.Tracer("runner").Start(ctx, name)
	return ctx, func() { span.End() }
}

// Flush calls shutdown with a bounded timeout so process exit never hangs
// on a slow or unreachable collector.
func Flush(ctx context.Context, shutdown func(context.Context) error) error {
	sdCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return shutdown(sdCtx)
}
