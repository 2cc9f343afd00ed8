package telemetry

import (
	"context"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// Metrics holds the small set of cross-cutting instruments every runner
// process reports regardless of which workflow it's executing.
type Metrics struct {
	RetryAttempts          metric.Int64Counter
	CircuitOpenTransitions metric.Int64Counter
}

// InitMetrics builds an OTLP gRPC metrics exporter on a periodic reader,
// registers it as the global meter provider, and returns its Shutdown func
// alongside the common cross-cutting instruments.
func InitMetrics(ctx context.Context, service string) (func(context.Context) error, Metrics, error) {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT")
	if endpoint == "" {
		endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if endpoint == "" {
		endpoint = "localhost:4317"
	}

	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	exp, err := otlpmetricgrpc.New(dialCtx,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return func(context.Context) error { return nil }, Metrics{}, err
	}

	res, resErr := resource.Merge(resource.Default(), resource.NewSchemaless(semconv.ServiceName(service)))
	if resErr != nil {
		res = resource.Default()
	}

	reader := sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(10*time.Second))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(reader))
	otel.SetMeterProvider(mp)

	return mp.Shutdown, createCommonInstruments(), nil
}

func createCommonInstruments() Metrics {
	meter := otel.Meter("runner")
	retryAttempts, _ := meter.Int64Counter("runner_resilience_retry_attempts_total")
	circuitOpen, _ := meter.Int64Counter("runner_resilience_circuit_open_total")
	return Metrics{RetryAttempts: retryAttempts, CircuitOpenTransitions: circuitOpen}
}
