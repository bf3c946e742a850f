package util

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "checkout-service"

var (
	tracer   trace.Tracer
	tracerMu sync.Mutex
)

// TracingConfig describes where one binary sends its spans.
type TracingConfig struct {
	Service     string
	Environment string
	// JaegerEndpoint empty means spans are sampled but never exported.
	JaegerEndpoint string
	// SampleRate is the fraction of new traces kept; out of range means all.
	SampleRate float64
}

// InitTracer installs the global tracer provider. Checkout spans follow the
// caller's sampling decision so a storefront trace continues into the API.
func InitTracer(cfg TracingConfig) (*sdktrace.TracerProvider, error) {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.Service),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
		resource.WithHost(),
		resource.WithTelemetrySDK(),
	)
	if err != nil {
		return nil, err
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRate >= 0 && cfg.SampleRate < 1 {
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
	}

	if cfg.JaegerEndpoint != "" {
		exporter, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.JaegerEndpoint)))
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)

	tracerMu.Lock()
	tracer = tp.Tracer(instrumentationName)
	tracerMu.Unlock()

	GetLogger().Info("Tracer initialized",
		zap.String("service", cfg.Service),
		zap.String("jaeger_endpoint", cfg.JaegerEndpoint),
		zap.Float64("sample_rate", cfg.SampleRate))
	return tp, nil
}

// StartSpan starts a span on the checkout tracer. Before InitTracer it uses
// the global provider, which is a no-op in tests.
func StartSpan(ctx context.Context, spanName string) (context.Context, trace.Span) {
	tracerMu.Lock()
	if tracer == nil {
		tracer = otel.Tracer(instrumentationName)
	}
	t := tracer
	tracerMu.Unlock()
	return t.Start(ctx, spanName)
}

// RecordSpanError marks the span as failed. A nil error is a no-op.
func RecordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
