package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/riverscan/riverscan"

// Span names, one per pipeline step.
const (
	SpanCorridorBuild  = "corridor.build"
	SpanCorridorWrite  = "corridor.write"
	SpanFetchAuth      = "fetch.authenticate"
	SpanFetchSearch    = "fetch.search"
	SpanFetchDownload  = "fetch.download"
	SpanMatchLoad      = "match.load_segments"
	SpanMatchScanTiles = "match.scan_tiles"
	SpanMatchJoin      = "match.join"
	SpanMatchWrite     = "match.write"
	SpanMatchExport    = "match.export"
)

// InitTracer installs a global tracer provider exporting over OTLP/gRPC to
// endpoint. The returned func flushes and shuts the provider down.
func InitTracer(ctx context.Context, service, endpoint string) (func(), error) {
	exp, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("otlp exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(),
		resource.NewSchemaless(attribute.String("service.name", service)))
	if err != nil {
		return nil, fmt.Errorf("resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(ctx)
	}, nil
}

// Tracer returns the pipeline tracer from the global provider, a no-op until
// InitTracer runs.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}
