package otel

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/neomorfeo/billcycle/internal/domain"
)

// TracingBus wraps a domain.EventBus. Publishing opens a producer span and
// counts events per category; every handler invocation gets a consumer span.
type TracingBus struct {
	next      domain.EventBus
	tracer    trace.Tracer
	published metric.Int64Counter
	failed    metric.Int64Counter
}

// Compile-time check: TracingBus implements domain.EventBus.
var _ domain.EventBus = (*TracingBus)(nil)

// NewTracingBus creates a tracing decorator around next using the global
// tracer and meter providers.
func NewTracingBus(next domain.EventBus) (*TracingBus, error) {
	meter := otel.Meter(tracerName)
	published, err := meter.Int64Counter("billcycle.events.published",
		metric.WithDescription("Billing events published, by category."),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating published counter: %w", err)
	}
	failed, err := meter.Int64Counter("billcycle.events.handler_errors",
		metric.WithDescription("Event handler invocations that returned an error, by category."),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating handler error counter: %w", err)
	}
	return &TracingBus{next: next, tracer: otel.Tracer(tracerName), published: published, failed: failed}, nil
}

func (b *TracingBus) Publish(ctx context.Context, event domain.BillingEvent) (err error) {
	ctx, span := b.tracer.Start(ctx, "EventBus.Publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(eventAttrs(event)...),
	)
	defer func() { finish(span, err) }()

	if err = b.next.Publish(ctx, event); err == nil {
		b.published.Add(ctx, 1, metric.WithAttributes(attribute.String("event.category", string(event.Category))))
	}
	return err
}

func (b *TracingBus) Subscribe(category domain.EventCategory, handler domain.EventHandler) func() {
	return b.next.Subscribe(category, func(ctx context.Context, event domain.BillingEvent) (err error) {
		ctx, span := b.tracer.Start(ctx, "EventBus.Handle",
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(eventAttrs(event)...),
			trace.WithAttributes(attribute.String("handler.category", string(category))),
		)
		defer func() { finish(span, err) }()

		if err = handler(ctx, event); err != nil {
			b.failed.Add(ctx, 1, metric.WithAttributes(attribute.String("event.category", string(event.Category))))
		}
		return err
	})
}

func eventAttrs(event domain.BillingEvent) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("event.id", event.ID),
		attribute.String("event.category", string(event.Category)),
		attribute.String("subscription.id", event.SubscriptionID),
	}
	if event.InvoiceID != "" {
		attrs = append(attrs, attribute.String("invoice.id", event.InvoiceID))
	}
	return attrs
}
