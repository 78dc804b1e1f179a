package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// InvoiceTotals is the priced content of an invoice.
type InvoiceTotals struct {
	Items    []InvoiceItem
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
}

// ValidateItems checks the lines submitted for an invoice.
func ValidateItems(items []InvoiceItem) error {
	if len(items) == 0 {
		return &ValidationError{Field: "items", Reason: "at least one line is required"}
	}
	var errs []error
	for i, item := range items {
		if item.Description == "" {
			errs = append(errs, &ValidationError{Field: fmt.Sprintf("items[%d].description", i), Reason: "must not be empty"})
		}
		if item.Quantity < 0 {
			errs = append(errs, &ValidationError{Field: fmt.Sprintf("items[%d].quantity", i), Reason: "must not be negative"})
		}
	}
	return errors.Join(errs...)
}

// PriceInvoice computes line amounts, the discount lines, tax and total.
// It is a pure function of its inputs.
//
// A positive discountPercent adds one negative line per taxability class so
// the taxable base shrinks with it. Tax is taxable subtotal × rate, rounded
// to the currency's minor unit with banker's rounding.
func PriceInvoice(items []InvoiceItem, rate TaxRate, discountPercent decimal.Decimal, currency string) InvoiceTotals {
	lines := make([]InvoiceItem, 0, len(items)+2)
	taxable, exempt := decimal.Zero, decimal.Zero

	for _, item := range items {
		item.Amount = RoundMoney(item.UnitPrice.Mul(decimal.NewFromInt(item.Quantity)), currency)
		if item.Taxable {
			taxable = taxable.Add(item.Amount)
		} else {
			exempt = exempt.Add(item.Amount)
		}
		lines = append(lines, item)
	}

	if discountPercent.IsPositive() {
		for _, class := range []struct {
			base    decimal.Decimal
			taxable bool
		}{{taxable, true}, {exempt, false}} {
			off := RoundMoney(class.base.Mul(discountPercent).Div(hundred), currency)
			if off.IsZero() {
				continue
			}
			line := InvoiceItem{
				Description: fmt.Sprintf("Discount %s%%", discountPercent.String()),
				Quantity:    1,
				UnitPrice:   off.Neg(),
				Amount:      off.Neg(),
				Taxable:     class.taxable,
			}
			if class.taxable {
				taxable = taxable.Sub(off)
			} else {
				exempt = exempt.Sub(off)
			}
			lines = append(lines, line)
		}
	}

	tax := RoundMoney(taxable.Mul(rate.Rate), currency)
	subtotal := taxable.Add(exempt)

	return InvoiceTotals{
		Items:    lines,
		Subtotal: subtotal,
		Tax:      tax,
		Total:    subtotal.Add(tax),
	}
}

// LargestActiveDiscount returns the percent of the largest discount active at
// t, or zero.
func LargestActiveDiscount(discounts []Discount, t time.Time) decimal.Decimal {
	best := decimal.Zero
	for _, d := range discounts {
		if d.ActiveAt(t) && d.Percent.GreaterThan(best) {
			best = d.Percent
		}
	}
	return best
}
