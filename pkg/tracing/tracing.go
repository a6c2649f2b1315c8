// Package tracing provides OpenTelemetry distributed tracing support.
package tracing

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Config holds tracing configuration.
type Config struct {
	Enabled        bool          `mapstructure:"enabled" jsonschema:"description=Enable OpenTelemetry distributed tracing.,default=false"`
	Endpoint       string        `mapstructure:"endpoint" jsonschema:"description=OTLP gRPC collector endpoint.,example=localhost:4317"`
	Insecure       bool          `mapstructure:"insecure" jsonschema:"description=Use insecure (non-TLS) connection to collector.,default=true"`
	ServiceName    string        `mapstructure:"service_name" jsonschema:"description=Service name for traces.,default=secgate"`
	ServiceVersion string        `mapstructure:"service_version" jsonschema:"description=Service version for traces."`
	Environment    string        `mapstructure:"environment" jsonschema:"description=Deployment environment.,default=development"`
	SampleRate     float64       `mapstructure:"sample_rate" jsonschema:"description=Trace sampling rate (0.0=none\\, 1.0=all).,default=1.0"`
	BatchTimeout   time.Duration `mapstructure:"batch_timeout" jsonschema:"description=Maximum time before exporting a trace batch.,default=5s"`
	ExportTimeout  time.Duration `mapstructure:"export_timeout" jsonschema:"description=Timeout for trace export operations.,default=30s"`
}

// Provider wraps the OpenTelemetry TracerProvider. A disabled provider
// hands out no-op spans so callers never branch on tracing being on.
type Provider struct {
	tp      *sdktrace.TracerProvider
	tracer  trace.Tracer
	enabled bool
}

// NewProvider creates a new tracing provider.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return Disabled(), nil
	}

	if cfg.ServiceName == "" {
		cfg.ServiceName = "secgate"
	}
	if cfg.BatchTimeout == 0 {
		cfg.BatchTimeout = 5 * time.Second
	}
	if cfg.ExportTimeout == 0 {
		cfg.ExportTimeout = 30 * time.Second
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, err
	}

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithTimeout(cfg.ExportTimeout),
	}
	if cfg.Insecure {
		opts = append(opts,
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
			otlptracegrpc.WithInsecure(),
		)
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(cfg.BatchTimeout)),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRate)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Provider{tp: tp, tracer: tp.Tracer(cfg.ServiceName), enabled: true}, nil
}

// NewWithTracerProvider wraps an existing SDK provider. Used by tests with
// an in-memory span recorder.
func NewWithTracerProvider(tp *sdktrace.TracerProvider, name string) *Provider {
	return &Provider{tp: tp, tracer: tp.Tracer(name), enabled: true}
}

// Disabled returns a provider that records nothing.
func Disabled() *Provider {
	return &Provider{tracer: noop.NewTracerProvider().Tracer(""), enabled: false}
}

func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1.0 || rate == 0:
		return sdktrace.AlwaysSample()
	case rate < 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

// Shutdown flushes and stops the exporter.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

// Enabled returns whether tracing is enabled.
func (p *Provider) Enabled() bool {
	return p != nil && p.enabled
}

// StartSpan starts a new span with the given name.
func (p *Provider) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if !p.Enabled() {
		return ctx, trace.SpanFromContext(ctx)
	}
	return p.tracer.Start(ctx, name, opts...)
}

// Span attribute keys used by the security pipeline.
const (
	AttrDecisionAllowed = "secgate.allowed"
	AttrDecisionReason  = "secgate.reason"
	AttrStage           = "secgate.stage"
	AttrThreatType      = "secgate.threat_type"
	AttrKeyVersion      = "secgate.key_version"
	AttrRemaining       = "secgate.rate_remaining"
	AttrUserID          = "user.id"
	AttrHTTPMethod      = "http.method"
	AttrHTTPPath        = "http.path"
)

// StageEvent records a completed pipeline stage on the span in ctx.
func StageEvent(ctx context.Context, stage string, passed bool, elapsed time.Duration) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.AddEvent("stage", trace.WithAttributes(
		attribute.String(AttrStage, stage),
		attribute.Bool("passed", passed),
		attribute.Int64("elapsed_us", elapsed.Microseconds()),
	))
}

// TraceIDFromContext returns the trace ID from the context, if available.
func TraceIDFromContext(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}
