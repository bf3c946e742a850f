package util

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestInitTracerWithoutExporter(t *testing.T) {
	tp, err := InitTracer(TracingConfig{Service: "storefront", Environment: "test", SampleRate: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	_, span := StartSpan(context.Background(), "Flow.Commit")
	defer span.End()

	assert.True(t, span.SpanContext().IsValid())
	assert.True(t, span.IsRecording())

	ro, ok := span.(sdktrace.ReadOnlySpan)
	require.True(t, ok)
	assert.Contains(t, ro.Resource().Attributes(), attribute.String("service.name", "storefront"))
	assert.Contains(t, ro.Resource().Attributes(), attribute.String("deployment.environment", "test"))
}

func TestInitTracerZeroSampleRateDropsRootSpans(t *testing.T) {
	tp, err := InitTracer(TracingConfig{Service: "checkout-api", SampleRate: 0})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	_, span := StartSpan(context.Background(), "PricingService.CalculateTotal")
	defer span.End()

	assert.False(t, span.IsRecording())
}

func TestRecordSpanError(t *testing.T) {
	tp, err := InitTracer(TracingConfig{Service: "checkout-api", SampleRate: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	_, span := StartSpan(context.Background(), "OrderService.CreateOrder")
	RecordSpanError(span, nil)
	assert.Equal(t, codes.Unset, span.(sdktrace.ReadOnlySpan).Status().Code)

	RecordSpanError(span, errors.New("commit failed"))
	span.End()
	assert.Equal(t, codes.Error, span.(sdktrace.ReadOnlySpan).Status().Code)
	assert.Equal(t, "commit failed", span.(sdktrace.ReadOnlySpan).Status().Description)
}
