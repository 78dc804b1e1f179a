package otel_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	adapter "github.com/neomorfeo/billcycle/internal/adapter/otel"
	"github.com/neomorfeo/billcycle/internal/adapter/sqlite"
	"github.com/neomorfeo/billcycle/internal/domain"
)

// --- Test tracer setup ---

func setupTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return exporter
}

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func testSubscription() domain.Subscription {
	plan := domain.Plan{ID: "plan-pro", BillingPeriod: domain.PeriodMonthly}
	sub := domain.NewSubscription("sub-1", "user-1", plan, "pm_ok", "US", "", t0)
	sub.Version = 1
	return sub
}

// --- Tests ---

func TestTracingSubscriptionRepository_Create_RecordsSpan(t *testing.T) {
	exporter := setupTestTracer(t)
	repo := adapter.NewTracingSubscriptionRepository(newStore(t))

	if err := repo.CreateSubscription(context.Background(), testSubscription()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name != "SubscriptionRepository.CreateSubscription" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "SubscriptionRepository.CreateSubscription")
	}
	assertAttribute(t, spans[0], "subscription.id", "sub-1")
	assertAttribute(t, spans[0], "subscription.status", "active")
}

func TestTracingSubscriptionRepository_Get_RecordsError(t *testing.T) {
	exporter := setupTestTracer(t)
	repo := adapter.NewTracingSubscriptionRepository(newStore(t))

	_, err := repo.GetSubscription(context.Background(), "missing")
	if !errors.Is(err, domain.ErrSubscriptionNotFound) {
		t.Fatalf("expected ErrSubscriptionNotFound, got %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Status.Code != codes.Error {
		t.Errorf("span status = %v, want %v", spans[0].Status.Code, codes.Error)
	}
	if len(spans[0].Events) == 0 {
		t.Error("expected error event on span")
	}
}

func TestTracingSubscriptionRepository_CAS_RecordsVersion(t *testing.T) {
	exporter := setupTestTracer(t)
	repo := adapter.NewTracingSubscriptionRepository(newStore(t))
	ctx := context.Background()

	sub := testSubscription()
	if err := repo.CreateSubscription(ctx, sub); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sub.Status = domain.StatusPastDue
	if _, err := repo.CompareAndSwapSubscription(ctx, sub); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The same version again conflicts.
	_, err := repo.CompareAndSwapSubscription(ctx, sub)
	var conflict *domain.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 3 {
		t.Fatalf("got %d spans, want 3", len(spans))
	}
	assertAttribute(t, spans[1], "subscription.version", "1")
	assertAttribute(t, spans[1], "subscription.status", "past_due")
	if spans[2].Status.Code != codes.Error {
		t.Errorf("conflict span status = %v, want %v", spans[2].Status.Code, codes.Error)
	}
}

func TestTracingSubscriptionRepository_List_RecordsResultCount(t *testing.T) {
	exporter := setupTestTracer(t)
	store := newStore(t)
	repo := adapter.NewTracingSubscriptionRepository(store)
	ctx := context.Background()

	if err := store.CreateSubscription(ctx, testSubscription()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	status := domain.StatusActive
	subs, err := repo.ListSubscriptions(ctx, domain.SubscriptionFilter{Status: &status, Limit: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(subs) != 1 {
		t.Errorf("got %d subscriptions, want 1", len(subs))
	}
	due, err := repo.ListDueForRenewal(ctx, t0.AddDate(0, 2, 0), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(due) != 1 {
		t.Errorf("got %d due subscriptions, want 1", len(due))
	}

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}
	assertAttribute(t, spans[0], "filter.status", "active")
	assertAttribute(t, spans[0], "result.count", "1")
	assertAttribute(t, spans[1], "result.count", "1")
}

func TestTracingInvoiceRepository_RecordsSpans(t *testing.T) {
	exporter := setupTestTracer(t)
	store := newStore(t)
	repo := adapter.NewTracingInvoiceRepository(store)
	ctx := context.Background()

	if err := store.CreateSubscription(ctx, testSubscription()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	inv := domain.Invoice{
		ID: "inv-1", SubscriptionID: "sub-1", Currency: "usd", Status: domain.InvoicePending,
		Total: decimal.RequireFromString("110.00"), Version: 1, CreatedAt: t0, UpdatedAt: t0,
	}
	if err := repo.CreateInvoice(ctx, inv); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := repo.GetInvoice(ctx, "inv-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	invs, err := repo.ListInvoices(ctx, "sub-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(invs) != 1 {
		t.Errorf("got %d invoices, want 1", len(invs))
	}

	spans := exporter.GetSpans()
	want := []string{"InvoiceRepository.CreateInvoice", "InvoiceRepository.GetInvoice", "InvoiceRepository.ListInvoices"}
	if len(spans) != len(want) {
		t.Fatalf("got %d spans, want %d", len(spans), len(want))
	}
	for i, name := range want {
		if spans[i].Name != name {
			t.Errorf("span %d name = %q, want %q", i, spans[i].Name, name)
		}
	}
	assertAttribute(t, spans[0], "invoice.total", "110")
	assertAttribute(t, spans[2], "result.count", "1")
}

// --- Helpers ---

func assertAttribute(t *testing.T, span tracetest.SpanStub, key, want string) {
	t.Helper()
	for _, attr := range span.Attributes {
		if string(attr.Key) == key {
			got := attr.Value.Emit()
			if got != want {
				t.Errorf("attribute %q = %q, want %q", key, got, want)
			}
			return
		}
	}
	t.Errorf("attribute %q not found on span %q", key, span.Name)
}
