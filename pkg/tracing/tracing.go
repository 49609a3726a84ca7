package tracing

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const tracerName = "github.com/odvcencio/visitbridge/pkg/visit"

// Common attribute keys for visit tracing
var (
	AttrSessionID = attribute.Key("visitbridge.session.id")
	AttrVisitID   = attribute.Key("visitbridge.visit.id")
	AttrLocation  = attribute.Key("visitbridge.visit.location")
	AttrAction    = attribute.Key("visitbridge.visit.action")
	AttrSnapshot  = attribute.Key("visitbridge.visit.has_cached_snapshot")
	AttrStatus    = attribute.Key("visitbridge.visit.status_code")
	AttrOutcome   = attribute.Key("visitbridge.visit.outcome")
)

// Provider holds the OpenTelemetry tracer provider.
type Provider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// Option configures a Provider.
type Option func(*options)

type options struct {
	writer   io.Writer
	exporter sdktrace.SpanExporter
	syncer   bool
}

// WithWriter sends stdout exporter output to w.
func WithWriter(w io.Writer) Option {
	return func(o *options) { o.writer = w }
}

// WithExporter replaces the stdout exporter. Spans are exported synchronously.
func WithExporter(exp sdktrace.SpanExporter) Option {
	return func(o *options) {
		o.exporter = exp
		o.syncer = true
	}
}

// NewProvider creates a tracer provider that exports visit spans.
func NewProvider(serviceName, version string, opts ...Option) (*Provider, error) {
	cfg := options{}
	for _, opt := range opts {
		opt(&cfg)
	}

	exporter := cfg.exporter
	if exporter == nil {
		stdoutOpts := []stdouttrace.Option{}
		if cfg.writer != nil {
			stdoutOpts = append(stdoutOpts, stdouttrace.WithWriter(cfg.writer))
		}
		exp, err := stdouttrace.New(stdoutOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
		exporter = exp
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	spanProcessor := sdktrace.WithBatcher(exporter)
	if cfg.syncer {
		spanProcessor = sdktrace.WithSyncer(exporter)
	}
	provider := sdktrace.NewTracerProvider(
		spanProcessor,
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	return &Provider{provider: provider, tracer: provider.Tracer(tracerName)}, nil
}

// Tracer returns the visit tracer. A nil provider yields a no-op tracer.
func (p *Provider) Tracer() trace.Tracer {
	if p == nil {
		return Noop()
	}
	return p.tracer
}

// Shutdown flushes and stops the provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	return p.provider.Shutdown(ctx)
}

// Noop returns a tracer that records nothing.
func Noop() trace.Tracer {
	return noop.NewTracerProvider().Tracer(tracerName)
}
