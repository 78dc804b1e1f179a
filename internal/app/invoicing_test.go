package app_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/neomorfeo/billcycle/internal/domain"
)

func TestGenerateInvoice_AppliesTax(t *testing.T) {
	h := newHarness(t)
	sub := h.subscribe(t, "plan-trial")

	inv, err := h.invoices.GenerateInvoice(context.Background(), sub, []domain.InvoiceItem{
		{Description: "Seats", Quantity: 1, UnitPrice: decimal.RequireFromString("100"), Taxable: true},
	})
	if err != nil {
		t.Fatalf("GenerateInvoice failed: %v", err)
	}

	if inv.Status != domain.InvoiceDraft {
		t.Errorf("Status = %q, want %q", inv.Status, domain.InvoiceDraft)
	}
	if !inv.Tax.Equal(decimal.NewFromInt(10)) {
		t.Errorf("Tax = %s, want 10", inv.Tax)
	}
	if !inv.Total.Equal(decimal.NewFromInt(110)) {
		t.Errorf("Total = %s, want 110", inv.Total)
	}
	if !inv.DueDate.Equal(t0.AddDate(0, 0, 7)) {
		t.Errorf("DueDate = %v, want %v", inv.DueDate, t0.AddDate(0, 0, 7))
	}
	if len(inv.Notes) != 0 {
		t.Errorf("unexpected notes: %v", inv.Notes)
	}
}

func TestGenerateInvoice_MissingTaxRateFallsBackToZero(t *testing.T) {
	h := newHarness(t)
	sub := h.subscribe(t, "plan-trial")
	sub.Country = "ZZ"

	inv, err := h.invoices.GenerateInvoice(context.Background(), sub, []domain.InvoiceItem{
		{Description: "Seats", Quantity: 2, UnitPrice: decimal.RequireFromString("25"), Taxable: true},
	})
	if err != nil {
		t.Fatalf("GenerateInvoice failed: %v", err)
	}
	if !inv.Tax.IsZero() {
		t.Errorf("Tax = %s, want 0", inv.Tax)
	}
	if !inv.Total.Equal(decimal.NewFromInt(50)) {
		t.Errorf("Total = %s, want 50", inv.Total)
	}
	if len(inv.Notes) != 1 || !strings.Contains(inv.Notes[0], "zero rate") {
		t.Errorf("Notes = %v, want a zero-rate note", inv.Notes)
	}
}

func TestGenerateInvoice_RejectsBadItems(t *testing.T) {
	h := newHarness(t)
	sub := h.subscribe(t, "plan-trial")

	_, err := h.invoices.GenerateInvoice(context.Background(), sub, []domain.InvoiceItem{
		{Description: "", Quantity: -1, UnitPrice: decimal.NewFromInt(1)},
	})
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got: %v", err)
	}
	if got := len(h.invoicesOf(t, sub.ID)); got != 0 {
		t.Errorf("got %d invoices after rejection, want 0", got)
	}
}

func TestGenerateInvoice_UsesLargestActiveDiscount(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sub := h.subscribe(t, "plan-trial")

	for _, d := range []domain.Discount{
		{ID: "d-small", SubscriptionID: sub.ID, Percent: decimal.NewFromInt(10), ExpiresAt: t0.Add(30 * day), CreatedAt: t0},
		{ID: "d-big", SubscriptionID: sub.ID, Percent: decimal.NewFromInt(20), ExpiresAt: t0.Add(30 * day), CreatedAt: t0},
		{ID: "d-expired", SubscriptionID: sub.ID, Percent: decimal.NewFromInt(50), ExpiresAt: t0, CreatedAt: t0},
	} {
		if err := h.store.PutDiscount(ctx, d); err != nil {
			t.Fatalf("PutDiscount failed: %v", err)
		}
	}

	inv, err := h.invoices.GenerateInvoice(ctx, sub, []domain.InvoiceItem{
		{Description: "Seats", Quantity: 1, UnitPrice: decimal.NewFromInt(100), Taxable: true},
	})
	if err != nil {
		t.Fatalf("GenerateInvoice failed: %v", err)
	}
	if !inv.Subtotal.Equal(decimal.NewFromInt(80)) {
		t.Errorf("Subtotal = %s, want 80", inv.Subtotal)
	}
	if !inv.Total.Equal(decimal.NewFromInt(88)) {
		t.Errorf("Total = %s, want 88", inv.Total)
	}
}

func TestInvoiceLifecycle_PaidIsImmutable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sub := h.subscribe(t, "plan-trial")

	inv, err := h.invoices.GenerateInvoice(ctx, sub, []domain.InvoiceItem{
		{Description: "Seats", Quantity: 1, UnitPrice: decimal.NewFromInt(100), Taxable: true},
	})
	if err != nil {
		t.Fatalf("GenerateInvoice failed: %v", err)
	}

	if _, err := h.invoices.Collect(ctx, inv.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("collecting a draft: expected ErrInvalidTransition, got: %v", err)
	}

	if _, err := h.invoices.Finalize(ctx, inv.ID); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	paid, err := h.invoices.Collect(ctx, inv.ID)
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if paid.Status != domain.InvoicePaid || paid.PaidAt == nil {
		t.Fatalf("got status=%q paidAt=%v, want paid", paid.Status, paid.PaidAt)
	}

	// Collecting again does not charge twice.
	again, err := h.invoices.Collect(ctx, inv.ID)
	if err != nil {
		t.Fatalf("second Collect failed: %v", err)
	}
	if again.Version != paid.Version {
		t.Errorf("Version = %d, want %d", again.Version, paid.Version)
	}
	if got := len(h.gateway.Charges()); got != 1 {
		t.Errorf("gateway charged %d times, want 1", got)
	}

	_, err = h.invoices.ApplyPaymentOutcome(ctx, inv.ID, domain.ChargeResult{Succeeded: false, Reason: "late"})
	if !errors.Is(err, domain.ErrInvoiceImmutable) {
		t.Errorf("expected ErrInvoiceImmutable, got: %v", err)
	}
	if _, err := h.invoices.Finalize(ctx, inv.ID); !errors.Is(err, domain.ErrInvoiceImmutable) {
		t.Errorf("Finalize paid: expected ErrInvoiceImmutable, got: %v", err)
	}
}

func TestCollect_GatewayErrorCountsAsFailure(t *testing.T) {
	h := newHarness(t)
	h.gateway.mu.Lock()
	h.gateway.err = errors.New("connection reset")
	h.gateway.mu.Unlock()

	sub := h.subscribe(t, "plan-pro")

	invs := h.invoicesOf(t, sub.ID)
	if len(invs) != 1 {
		t.Fatalf("got %d invoices, want 1", len(invs))
	}
	if invs[0].Status != domain.InvoiceFailed {
		t.Errorf("Status = %q, want %q", invs[0].Status, domain.InvoiceFailed)
	}
	if !strings.Contains(invs[0].FailureReason, "connection reset") {
		t.Errorf("FailureReason = %q, want gateway error", invs[0].FailureReason)
	}
	if got := h.subscription(t, sub.ID).Status; got != domain.StatusPastDue {
		t.Errorf("subscription Status = %q, want %q", got, domain.StatusPastDue)
	}
}

func TestIssuePeriodInvoice_OncePerPeriod(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sub := h.subscribe(t, "plan-pro")

	first := h.invoicesOf(t, sub.ID)[0]
	again, err := h.invoices.IssuePeriodInvoice(ctx, sub.ID)
	if err != nil {
		t.Fatalf("IssuePeriodInvoice failed: %v", err)
	}
	if again.ID != first.ID {
		t.Errorf("got invoice %s, want existing %s", again.ID, first.ID)
	}
	if !strings.Contains(first.Items[0].Description, "Pro (monthly, 2026-01-01 to 2026-02-01)") {
		t.Errorf("Description = %q", first.Items[0].Description)
	}
	if !first.Total.Equal(decimal.NewFromInt(110)) {
		t.Errorf("Total = %s, want 110", first.Total)
	}
	if first.PaidAt == nil || !first.PaidAt.Equal(t0) {
		t.Errorf("PaidAt = %v, want %v", first.PaidAt, t0)
	}
	if got := len(h.gateway.Charges()); got != 1 {
		t.Errorf("gateway charged %d times, want 1", got)
	}
}

func TestCollect_ZeroTotalIsPaidWithoutCharge(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sub := h.subscribe(t, "plan-trial")

	if err := h.store.PutDiscount(ctx, domain.Discount{
		ID: "d-full", SubscriptionID: sub.ID, Percent: decimal.NewFromInt(100),
		ExpiresAt: t0.Add(time.Hour), CreatedAt: t0,
	}); err != nil {
		t.Fatalf("PutDiscount failed: %v", err)
	}

	inv, err := h.invoices.GenerateInvoice(ctx, sub, []domain.InvoiceItem{
		{Description: "Seats", Quantity: 1, UnitPrice: decimal.NewFromInt(100), Taxable: true},
	})
	if err != nil {
		t.Fatalf("GenerateInvoice failed: %v", err)
	}
	if _, err := h.invoices.Finalize(ctx, inv.ID); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	paid, err := h.invoices.Collect(ctx, inv.ID)
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if paid.Status != domain.InvoicePaid {
		t.Errorf("Status = %q, want %q", paid.Status, domain.InvoicePaid)
	}
	if got := len(h.gateway.Charges()); got != 0 {
		t.Errorf("gateway charged %d times, want 0", got)
	}
}
