package tracing

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/austindbirch/harbor_relay/internal/delivery"
)

// DeliverySpanName names the span covering one delivery attempt
const DeliverySpanName = "transport.deliver"

// Span events recorded on a delivery span
const (
	EventSendEnvelope = "http.send_envelope"
	EventDelivered    = "delivery.success"
	EventDropped      = "delivery.dropped"
)

// Attempt identifies the envelope a delivery span covers
type Attempt struct {
	EnvelopeID string
	Project    string
	Bytes      int
	QueueWait  time.Duration
}

// StartDeliverySpan opens the span for one attempt. Delivery runs on the
// worker goroutine, so the span is a root unless ctx carries a parent.
func StartDeliverySpan(ctx context.Context, a Attempt) (context.Context, oteltrace.Span) {
	return StartSpan(ctx, DeliverySpanName,
		attribute.String("envelope.id", a.EnvelopeID),
		attribute.Int("envelope.bytes", a.Bytes),
		attribute.String("collector.project", a.Project),
		attribute.Int64("queue.wait_ms", a.QueueWait.Milliseconds()),
	)
}

// MarkSent records that the request is about to go out
func MarkSent(ctx context.Context) {
	AddSpanEvent(ctx, EventSendEnvelope)
}

// RecordOutcome stamps the HTTP result onto the delivery span in ctx. A
// dropped envelope marks the span failed with err, or with the drop reason
// when the collector answered and err is nil.
func RecordOutcome(ctx context.Context, outcome delivery.Outcome, status int, latency time.Duration, err error) {
	span := oteltrace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.Int("http.status_code", status),
		attribute.Int64("http.latency_ms", latency.Milliseconds()),
	)

	if outcome.Delivered {
		span.AddEvent(EventDelivered)
		return
	}

	reason := attribute.String("failure_reason", string(outcome.Reason))
	span.SetAttributes(reason, attribute.String("failure_detail", outcome.Detail))
	span.AddEvent(EventDropped, oteltrace.WithAttributes(reason))
	if err != nil {
		SetSpanError(ctx, err)
		return
	}
	span.SetStatus(codes.Error, string(outcome.Reason))
}
