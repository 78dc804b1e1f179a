package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/neomorfeo/billcycle/internal/domain"
)

const tracerName = "github.com/neomorfeo/billcycle/internal/adapter/otel"

// finish records err on the span and ends it.
func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// TracingSubscriptionRepository wraps a domain.SubscriptionRepository with tracing.
type TracingSubscriptionRepository struct {
	next   domain.SubscriptionRepository
	tracer trace.Tracer
}

// Compile-time check: TracingSubscriptionRepository implements domain.SubscriptionRepository.
var _ domain.SubscriptionRepository = (*TracingSubscriptionRepository)(nil)

// NewTracingSubscriptionRepository creates a tracing decorator around next.
func NewTracingSubscriptionRepository(next domain.SubscriptionRepository) *TracingSubscriptionRepository {
	return &TracingSubscriptionRepository{next: next, tracer: otel.Tracer(tracerName)}
}

func (r *TracingSubscriptionRepository) CreateSubscription(ctx context.Context, s domain.Subscription) (err error) {
	ctx, span := r.tracer.Start(ctx, "SubscriptionRepository.CreateSubscription",
		trace.WithAttributes(
			attribute.String("subscription.id", s.ID),
			attribute.String("subscription.plan_id", s.PlanID),
			attribute.String("subscription.status", string(s.Status)),
		),
	)
	defer func() { finish(span, err) }()

	return r.next.CreateSubscription(ctx, s)
}

func (r *TracingSubscriptionRepository) GetSubscription(ctx context.Context, id string) (_ domain.Subscription, err error) {
	ctx, span := r.tracer.Start(ctx, "SubscriptionRepository.GetSubscription",
		trace.WithAttributes(attribute.String("subscription.id", id)),
	)
	defer func() { finish(span, err) }()

	return r.next.GetSubscription(ctx, id)
}

func (r *TracingSubscriptionRepository) CompareAndSwapSubscription(ctx context.Context, s domain.Subscription) (_ domain.Subscription, err error) {
	ctx, span := r.tracer.Start(ctx, "SubscriptionRepository.CompareAndSwapSubscription",
		trace.WithAttributes(
			attribute.String("subscription.id", s.ID),
			attribute.String("subscription.status", string(s.Status)),
			attribute.Int("subscription.version", s.Version),
		),
	)
	defer func() { finish(span, err) }()

	return r.next.CompareAndSwapSubscription(ctx, s)
}

func (r *TracingSubscriptionRepository) ListSubscriptions(ctx context.Context, filter domain.SubscriptionFilter) ([]domain.Subscription, error) {
	ctx, span := r.tracer.Start(ctx, "SubscriptionRepository.ListSubscriptions",
		trace.WithAttributes(
			attribute.Int("filter.limit", filter.Limit),
			attribute.Int("filter.offset", filter.Offset),
		),
	)
	if filter.Status != nil {
		span.SetAttributes(attribute.String("filter.status", string(*filter.Status)))
	}

	subs, err := r.next.ListSubscriptions(ctx, filter)
	if err == nil {
		span.SetAttributes(attribute.Int("result.count", len(subs)))
	}
	finish(span, err)
	return subs, err
}

func (r *TracingSubscriptionRepository) ListDueForRenewal(ctx context.Context, t time.Time, limit int) ([]domain.Subscription, error) {
	ctx, span := r.tracer.Start(ctx, "SubscriptionRepository.ListDueForRenewal",
		trace.WithAttributes(
			attribute.String("due.before", t.Format(time.RFC3339)),
			attribute.Int("filter.limit", limit),
		),
	)

	subs, err := r.next.ListDueForRenewal(ctx, t, limit)
	if err == nil {
		span.SetAttributes(attribute.Int("result.count", len(subs)))
	}
	finish(span, err)
	return subs, err
}

// TracingInvoiceRepository wraps a domain.InvoiceRepository with tracing.
type TracingInvoiceRepository struct {
	next   domain.InvoiceRepository
	tracer trace.Tracer
}

// Compile-time check: TracingInvoiceRepository implements domain.InvoiceRepository.
var _ domain.InvoiceRepository = (*TracingInvoiceRepository)(nil)

// NewTracingInvoiceRepository creates a tracing decorator around next.
func NewTracingInvoiceRepository(next domain.InvoiceRepository) *TracingInvoiceRepository {
	return &TracingInvoiceRepository{next: next, tracer: otel.Tracer(tracerName)}
}

func invoiceAttrs(inv domain.Invoice) trace.SpanStartOption {
	return trace.WithAttributes(
		attribute.String("invoice.id", inv.ID),
		attribute.String("invoice.subscription_id", inv.SubscriptionID),
		attribute.String("invoice.status", string(inv.Status)),
		attribute.String("invoice.total", inv.Total.String()),
	)
}

func (r *TracingInvoiceRepository) CreateInvoice(ctx context.Context, inv domain.Invoice) (err error) {
	ctx, span := r.tracer.Start(ctx, "InvoiceRepository.CreateInvoice", invoiceAttrs(inv))
	defer func() { finish(span, err) }()

	return r.next.CreateInvoice(ctx, inv)
}

func (r *TracingInvoiceRepository) GetInvoice(ctx context.Context, id string) (_ domain.Invoice, err error) {
	ctx, span := r.tracer.Start(ctx, "InvoiceRepository.GetInvoice",
		trace.WithAttributes(attribute.String("invoice.id", id)),
	)
	defer func() { finish(span, err) }()

	return r.next.GetInvoice(ctx, id)
}

func (r *TracingInvoiceRepository) CompareAndSwapInvoice(ctx context.Context, inv domain.Invoice) (_ domain.Invoice, err error) {
	ctx, span := r.tracer.Start(ctx, "InvoiceRepository.CompareAndSwapInvoice", invoiceAttrs(inv))
	defer func() { finish(span, err) }()

	return r.next.CompareAndSwapInvoice(ctx, inv)
}

func (r *TracingInvoiceRepository) ListInvoices(ctx context.Context, subscriptionID string) ([]domain.Invoice, error) {
	ctx, span := r.tracer.Start(ctx, "InvoiceRepository.ListInvoices",
		trace.WithAttributes(attribute.String("subscription.id", subscriptionID)),
	)

	invs, err := r.next.ListInvoices(ctx, subscriptionID)
	if err == nil {
		span.SetAttributes(attribute.Int("result.count", len(invs)))
	}
	finish(span, err)
	return invs, err
}
