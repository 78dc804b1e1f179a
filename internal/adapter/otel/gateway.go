package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/neomorfeo/billcycle/internal/domain"
)

// TracingGateway wraps a domain.PaymentGateway with tracing. A declined
// charge is not a span error; a transport failure is.
type TracingGateway struct {
	next   domain.PaymentGateway
	tracer trace.Tracer
}

// Compile-time check: TracingGateway implements domain.PaymentGateway.
var _ domain.PaymentGateway = (*TracingGateway)(nil)

// NewTracingGateway creates a tracing decorator around next.
func NewTracingGateway(next domain.PaymentGateway) *TracingGateway {
	return &TracingGateway{next: next, tracer: otel.Tracer(tracerName)}
}

func (g *TracingGateway) AttemptCharge(ctx context.Context, req domain.ChargeRequest) (domain.ChargeResult, error) {
	ctx, span := g.tracer.Start(ctx, "PaymentGateway.AttemptCharge",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("charge.amount", req.Amount.String()),
			attribute.String("charge.currency", req.Currency),
			attribute.String("charge.idempotency_key", req.IdempotencyKey),
		),
	)

	result, err := g.next.AttemptCharge(ctx, req)
	if err == nil {
		span.SetAttributes(attribute.Bool("charge.succeeded", result.Succeeded))
		if !result.Succeeded {
			span.SetAttributes(attribute.String("charge.decline_reason", result.Reason))
		}
	}
	finish(span, err)
	return result, err
}

// TracingNotifier wraps a domain.Notifier with tracing.
type TracingNotifier struct {
	next   domain.Notifier
	tracer trace.Tracer
}

// Compile-time check: TracingNotifier implements domain.Notifier.
var _ domain.Notifier = (*TracingNotifier)(nil)

// NewTracingNotifier creates a tracing decorator around next.
func NewTracingNotifier(next domain.Notifier) *TracingNotifier {
	return &TracingNotifier{next: next, tracer: otel.Tracer(tracerName)}
}

func (n *TracingNotifier) Dispatch(ctx context.Context, action domain.Action, event domain.BillingEvent) (err error) {
	ctx, span := n.tracer.Start(ctx, "Notifier.Dispatch",
		trace.WithAttributes(
			attribute.String("action.id", action.ID),
			attribute.String("action.type", string(action.Type)),
			attribute.String("event.id", event.ID),
			attribute.String("subscription.id", event.SubscriptionID),
		),
	)
	defer func() { finish(span, err) }()

	return n.next.Dispatch(ctx, action, event)
}
