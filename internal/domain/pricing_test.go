package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/neomorfeo/billcycle/internal/domain"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestPriceInvoice_TenPercentTax(t *testing.T) {
	items := []domain.InvoiceItem{{Description: "Pro", Quantity: 1, UnitPrice: dec("100.00"), Taxable: true}}
	rate := domain.TaxRate{Country: "US", Rate: dec("0.10"), Type: domain.TaxSales}

	got := domain.PriceInvoice(items, rate, decimal.Zero, "usd")

	if !got.Tax.Equal(dec("10.00")) {
		t.Errorf("Tax = %s, want 10.00", got.Tax)
	}
	if !got.Total.Equal(dec("110.00")) {
		t.Errorf("Total = %s, want 110.00", got.Total)
	}
	if !got.Items[0].Amount.Equal(dec("100.00")) {
		t.Errorf("Amount = %s, want 100.00", got.Items[0].Amount)
	}
}

func TestPriceInvoice_OnlyTaxableLinesAreTaxed(t *testing.T) {
	items := []domain.InvoiceItem{
		{Description: "Seats", Quantity: 3, UnitPrice: dec("10.00"), Taxable: true},
		{Description: "Donation", Quantity: 1, UnitPrice: dec("5.00"), Taxable: false},
	}
	rate := domain.TaxRate{Country: "DE", Rate: dec("0.19"), Type: domain.TaxVAT}

	got := domain.PriceInvoice(items, rate, decimal.Zero, "eur")

	if !got.Subtotal.Equal(dec("35.00")) {
		t.Errorf("Subtotal = %s, want 35.00", got.Subtotal)
	}
	if !got.Tax.Equal(dec("5.70")) {
		t.Errorf("Tax = %s, want 5.70", got.Tax)
	}
}

func TestPriceInvoice_BankersRoundingOnTax(t *testing.T) {
	// 0.25 × 0.10 = 0.025, which rounds to the even cent.
	items := []domain.InvoiceItem{{Description: "Usage", Quantity: 1, UnitPrice: dec("0.25"), Taxable: true}}
	rate := domain.TaxRate{Country: "US", Rate: dec("0.10"), Type: domain.TaxSales}

	got := domain.PriceInvoice(items, rate, decimal.Zero, "usd")
	if !got.Tax.Equal(dec("0.02")) {
		t.Errorf("Tax = %s, want 0.02", got.Tax)
	}
}

func TestPriceInvoice_Deterministic(t *testing.T) {
	items := []domain.InvoiceItem{
		{Description: "A", Quantity: 7, UnitPrice: dec("3.33"), Taxable: true},
		{Description: "B", Quantity: 2, UnitPrice: dec("1.005"), Taxable: false},
	}
	rate := domain.TaxRate{Country: "GB", Rate: dec("0.2"), Type: domain.TaxVAT}

	a := domain.PriceInvoice(items, rate, dec("15"), "gbp")
	b := domain.PriceInvoice(items, rate, dec("15"), "gbp")

	if !a.Tax.Equal(b.Tax) || !a.Total.Equal(b.Total) || len(a.Items) != len(b.Items) {
		t.Fatalf("pricing differs between runs: %+v vs %+v", a, b)
	}
	for i := range a.Items {
		if !a.Items[i].Amount.Equal(b.Items[i].Amount) {
			t.Errorf("item %d amount %s != %s", i, a.Items[i].Amount, b.Items[i].Amount)
		}
	}
}

func TestPriceInvoice_DiscountPerTaxabilityClass(t *testing.T) {
	items := []domain.InvoiceItem{
		{Description: "Plan", Quantity: 1, UnitPrice: dec("100.00"), Taxable: true},
		{Description: "Support", Quantity: 1, UnitPrice: dec("50.00"), Taxable: false},
	}
	rate := domain.TaxRate{Country: "US", Rate: dec("0.10"), Type: domain.TaxSales}

	got := domain.PriceInvoice(items, rate, dec("20"), "usd")

	if len(got.Items) != 4 {
		t.Fatalf("got %d lines, want 4", len(got.Items))
	}
	if !got.Items[2].Amount.Equal(dec("-20.00")) || !got.Items[2].Taxable {
		t.Errorf("taxable discount line = %+v, want -20.00 taxable", got.Items[2])
	}
	if !got.Items[3].Amount.Equal(dec("-10.00")) || got.Items[3].Taxable {
		t.Errorf("exempt discount line = %+v, want -10.00 exempt", got.Items[3])
	}
	if !got.Tax.Equal(dec("8.00")) {
		t.Errorf("Tax = %s, want 8.00", got.Tax)
	}
	if !got.Total.Equal(dec("128.00")) {
		t.Errorf("Total = %s, want 128.00", got.Total)
	}
}

func TestLargestActiveDiscount(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	discounts := []domain.Discount{
		{Percent: dec("10"), ExpiresAt: now.AddDate(0, 1, 0)},
		{Percent: dec("50"), ExpiresAt: now.AddDate(0, 0, -1)},
		{Percent: dec("25"), ExpiresAt: now.AddDate(0, 0, 1)},
	}
	if got := domain.LargestActiveDiscount(discounts, now); !got.Equal(dec("25")) {
		t.Errorf("LargestActiveDiscount = %s, want 25", got)
	}
	if got := domain.LargestActiveDiscount(nil, now); !got.IsZero() {
		t.Errorf("LargestActiveDiscount(nil) = %s, want 0", got)
	}
}

func TestValidateItems(t *testing.T) {
	if err := domain.ValidateItems(nil); err == nil {
		t.Error("expected error for empty items")
	}

	err := domain.ValidateItems([]domain.InvoiceItem{{Quantity: -1}})
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if verr.Field != "items[0].description" {
		t.Errorf("first field = %q, want %q", verr.Field, "items[0].description")
	}
}
