package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/xraph/courier"

// Tracer provides OpenTelemetry spans for triggers and delivery attempts.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a tracer from the global provider.
func NewTracer() *Tracer {
	return NewTracerFrom(otel.GetTracerProvider())
}

// NewTracerFrom creates a tracer from tp.
func NewTracerFrom(tp trace.TracerProvider) *Tracer {
	return &Tracer{tracer: tp.Tracer(tracerName)}
}

// StartTriggerSpan starts a span covering fan-out of one event.
func (t *Tracer) StartTriggerSpan(ctx context.Context, eventType, ownerID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "courier.trigger",
		trace.WithAttributes(
			attribute.String("courier.event_type", eventType),
			attribute.String("courier.owner_id", ownerID),
		),
	)
}

// EndTriggerSpan ends a trigger span.
func (t *Tracer) EndTriggerSpan(span trace.Span, fanout int, err error) {
	span.SetAttributes(attribute.Int("courier.fanout", fanout))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// StartDeliverySpan starts a span for one delivery attempt.
func (t *Tracer) StartDeliverySpan(ctx context.Context, logID, payloadID, endpointID string, attempt int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "courier.delivery",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("courier.log_id", logID),
			attribute.String("courier.payload_id", payloadID),
			attribute.String("courier.endpoint_id", endpointID),
			attribute.Int("courier.attempt", attempt),
		),
	)
}

// EndDeliverySpan ends a delivery span with the attempt result.
func (t *Tracer) EndDeliverySpan(span trace.Span, statusCode, latencyMs int, errMsg string) {
	span.SetAttributes(
		attribute.Int("http.response.status_code", statusCode),
		attribute.Int("courier.latency_ms", latencyMs),
	)
	if errMsg != "" {
		span.SetAttributes(attribute.String("courier.error", errMsg))
		span.SetStatus(codes.Error, errMsg)
	}
	span.End()
}
