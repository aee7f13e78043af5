package otelhelper

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const ErrorTypeKey = attribute.Key("error.type")

// SetError marks the span failed and records err. A canceled context is only an event.
func SetError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if err == nil {
		return
	}

	if errors.Is(err, context.Canceled) {
		span.AddEvent("canceled", trace.WithAttributes(attrs...))

		return
	}

	attrs = append(attrs, ErrorTypeKey.String(fmt.Sprintf("%T", err)))

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.AddEvent("error_occurred", trace.WithAttributes(attrs...))
}
