package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope of every pdfrag span.
const TracerName = "github.com/54b3r/pdfrag-go"

// OTelConfig configures OpenTelemetry span export.
type OTelConfig struct {
	// ServiceName is reported as service.name (default: "pdfrag").
	ServiceName string
	// ServiceVersion is reported as service.version.
	ServiceVersion string
	// Endpoint is the OTLP/gRPC collector address, e.g. "localhost:4317".
	// Empty disables export and leaves the global no-op provider in place.
	Endpoint string
	// Insecure disables TLS to the collector.
	Insecure bool
}

// Provider owns the SDK tracer provider, if one was installed.
type Provider struct {
	sdk *sdktrace.TracerProvider
}

// InitOTel installs a global tracer provider exporting to cfg.Endpoint.
// With no endpoint it returns a Provider whose Shutdown is a no-op.
func InitOTel(ctx context.Context, cfg OTelConfig) (*Provider, error) {
	if cfg.Endpoint == "" {
		return &Provider{}, nil
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "pdfrag"
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("tracing: create OTLP exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("tracing: create resource: %w", err)
	}

	sdk := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(sdk)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return &Provider{sdk: sdk}, nil
}

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.sdk == nil {
		return nil
	}
	return p.sdk.Shutdown(ctx)
}

// Start opens a span on the global tracer.
func Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// End records err on span (if non-nil) and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
