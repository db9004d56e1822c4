package observability

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/trace/noop"
)

func TestTracerSpans(t *testing.T) {
	tr := NewTracerFrom(noop.NewTracerProvider())
	ctx := context.Background()

	ctx, span := tr.StartTriggerSpan(ctx, "user.created", "owner_1")
	_, child := tr.StartDeliverySpan(ctx, "dlog_1", "msg_1", "ep_1", 1)
	tr.EndDeliverySpan(child, 500, 12, "server error")
	tr.EndTriggerSpan(span, 1, errors.New("enqueue failed"))

	if NewTracer() == nil {
		t.Fatal("NewTracer returned nil")
	}
}
