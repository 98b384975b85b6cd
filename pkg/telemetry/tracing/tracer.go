// Package tracing sets up OpenTelemetry tracing for costgate.
//
// When enabled, spans are batched to an OTLP gRPC collector and the global
// tracer provider and W3C trace-context propagator are installed, so
// governed calls are traced end to end and outbound provider requests carry
// a traceparent header. When disabled every span is a no-op.
package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// InstrumentationName names costgate's tracer.
const InstrumentationName = "mercator-hq/costgate"

// Config configures tracing.
type Config struct {
	Enabled        bool
	Sampler        string
	SampleRatio    float64
	Endpoint       string
	Insecure       bool
	Timeout        time.Duration
	ServiceName    string
	ServiceVersion string
}

// Tracer owns the tracer provider.
type Tracer struct {
	provider trace.TracerProvider
	sdk      *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// Option configures New.
type Option func(*options)

type options struct {
	exporter sdktrace.SpanExporter
	global   bool
}

// WithExporter replaces the OTLP exporter.
func WithExporter(exp sdktrace.SpanExporter) Option {
	return func(o *options) { o.exporter = exp }
}

// WithoutGlobal leaves the global tracer provider and propagator untouched.
func WithoutGlobal() Option {
	return func(o *options) { o.global = false }
}

// New creates a Tracer. A disabled config returns a no-op tracer.
// The tracer must be shut down to flush pending spans:
//
//	defer tracer.Shutdown(context.Background())
func New(cfg Config, opts ...Option) (*Tracer, error) {
	if !cfg.Enabled {
		provider := noop.NewTracerProvider()
		return &Tracer{provider: provider, tracer: provider.Tracer(InstrumentationName)}, nil
	}

	o := options{global: true}
	for _, opt := range opts {
		opt(&o)
	}

	sampler, err := createSampler(cfg.Sampler, cfg.SampleRatio)
	if err != nil {
		return nil, fmt.Errorf("failed to create sampler: %w", err)
	}

	exporter := o.exporter
	if exporter == nil {
		exporter, err = newOTLPExporter(cfg)
		if err != nil {
			return nil, err
		}
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	sdk := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	if o.global {
		otel.SetTracerProvider(sdk)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
	}

	return &Tracer{provider: sdk, sdk: sdk, tracer: sdk.Tracer(InstrumentationName)}, nil
}

// newOTLPExporter dials lazily; an unreachable collector only drops spans.
func newOTLPExporter(cfg Config) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	if cfg.Timeout > 0 {
		opts = append(opts, otlptracegrpc.WithTimeout(cfg.Timeout))
	}

	exporter, err := otlptrace.New(context.Background(), otlptracegrpc.NewClient(opts...))
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}
	return exporter, nil
}

// Start creates a span as a child of any span in ctx.
func (t *Tracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// Provider returns the tracer provider for instrumented packages.
func (t *Tracer) Provider() trace.TracerProvider {
	return t.provider
}

// Enabled reports whether spans are exported.
func (t *Tracer) Enabled() bool {
	return t.sdk != nil
}

// Shutdown flushes pending spans and stops the exporter.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.sdk == nil {
		return nil
	}
	return t.sdk.Shutdown(ctx)
}
