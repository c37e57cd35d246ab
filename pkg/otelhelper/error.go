package otelhelper

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SetError marks a span as failed: the error is recorded as a span event,
// the span status goes to Error, and any attributes describing the failing
// run or step are attached to the span itself.
func SetError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
