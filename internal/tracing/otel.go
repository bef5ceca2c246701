// Package tracing provides the OTel tracer used by the HTTP routes and the
// execution registry. Spans are exported over OTLP/HTTP when
// OTEL_EXPORTER_OTLP_ENDPOINT is set and dropped otherwise.
package tracing

import (
	"context"
	"net/url"
	"os"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const serviceName = "claude-remote"

var (
	setupOnce sync.Once
	provider  trace.TracerProvider = noop.NewTracerProvider()
	exporting *sdktrace.TracerProvider
)

func setup() {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		return
	}
	ctx := context.Background()

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpointHost(endpoint)),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return
	}
	res, err := resource.Merge(resource.Default(),
		resource.NewSchemaless(semconv.ServiceName(serviceName)))
	if err != nil {
		res = resource.Default()
	}

	exporting = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	provider = exporting
	otel.SetTracerProvider(exporting)
}

// endpointHost strips a scheme so the value fits WithEndpoint, which
// expects host:port.
func endpointHost(endpoint string) string {
	if u, err := url.Parse(endpoint); err == nil && u.Host != "" {
		return u.Host
	}
	return endpoint
}

// Tracer returns a named tracer from the process-wide provider.
func Tracer(name string) trace.Tracer {
	setupOnce.Do(setup)
	return provider.Tracer(name)
}

// Shutdown flushes and stops the exporter, if one was started.
func Shutdown(ctx context.Context) error {
	if exporting == nil {
		return nil
	}
	return exporting.Shutdown(ctx)
}
