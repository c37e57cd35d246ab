package otelhelper

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitTracerInstallsGlobalProvider(t *testing.T) {
	provider, err := InitTracer(context.Background(), "copyflow-test")
	require.NoError(t, err)
	require.NotNil(t, provider)

	// The global tracer must now produce real, sampled spans instead of
	// the no-op default.
	tracer := otel.Tracer("copyflow")

	_, span := StartSpan(context.Background(), tracer, "workflow.run",
		attribute.String(RunIDKey, "run-1"))
	defer span.End()

	assert.True(t, span.SpanContext().IsValid())
	assert.True(t, span.SpanContext().IsSampled())
}

func TestSetErrorRecordsStatusAndAttributes(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracer := provider.Tracer("copyflow-test")

	_, span := StartSpan(context.Background(), tracer, "step.generate_content")

	stepErr := errors.New("generation returned 500")
	SetError(span, stepErr, attribute.String(StepNameKey, "generate_content"))
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)

	recorded := spans[0]
	assert.Equal(t, codes.Error, recorded.Status().Code)
	assert.Equal(t, "generation returned 500", recorded.Status().Description)

	require.NotEmpty(t, recorded.Events(), "the error is recorded as a span event")
	assert.Equal(t, "exception", recorded.Events()[0].Name)

	assert.Contains(t, recorded.Attributes(),
		attribute.String(StepNameKey, "generate_content"))
}
