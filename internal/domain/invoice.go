package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceStatus represents the lifecycle state of an invoice.
type InvoiceStatus string

const (
	InvoiceDraft   InvoiceStatus = "draft"
	InvoicePending InvoiceStatus = "pending"
	InvoicePaid    InvoiceStatus = "paid"
	InvoiceFailed  InvoiceStatus = "failed"
)

// InvoiceEvent represents an action that triggers an invoice state transition.
type InvoiceEvent string

const (
	EventFinalize InvoiceEvent = "finalize"
	EventPay      InvoiceEvent = "pay"
	EventFail     InvoiceEvent = "fail"
	EventRecover  InvoiceEvent = "recover"
)

// InvoiceTransition defines a valid invoice state change.
type InvoiceTransition struct {
	Event InvoiceEvent
	Src   InvoiceStatus
	Dst   InvoiceStatus
}

// InvoiceTransitions defines all valid invoice state changes. Recover is the
// dunning path: a failed invoice settled by a later retry. paid is terminal.
var InvoiceTransitions = []InvoiceTransition{
	{Event: EventFinalize, Src: InvoiceDraft, Dst: InvoicePending},
	{Event: EventPay, Src: InvoicePending, Dst: InvoicePaid},
	{Event: EventFail, Src: InvoicePending, Dst: InvoiceFailed},
	{Event: EventRecover, Src: InvoiceFailed, Dst: InvoicePaid},
}

// TaxType classifies a tax rate.
type TaxType string

const (
	TaxVAT   TaxType = "vat"
	TaxGST   TaxType = "gst"
	TaxSales TaxType = "sales"
)

// TaxRate is the rate applicable in one jurisdiction. Region is empty for
// country-wide rates.
type TaxRate struct {
	ID      string          `json:"id"`
	Country string          `json:"country"`
	Region  string          `json:"region,omitempty"`
	Rate    decimal.Decimal `json:"rate"`
	Type    TaxType         `json:"type"`
}

// Validate checks the tax rate's invariants.
func (r TaxRate) Validate() error {
	switch {
	case r.Country == "":
		return &ValidationError{Field: "country", Reason: "must not be empty"}
	case r.Rate.IsNegative() || r.Rate.GreaterThan(decimal.NewFromInt(1)):
		return &ValidationError{Field: "rate", Reason: "must be a fraction between 0 and 1"}
	}
	switch r.Type {
	case TaxVAT, TaxGST, TaxSales:
		return nil
	}
	return &ValidationError{Field: "type", Reason: "must be vat, gst or sales"}
}

// ZeroTaxRate is the fallback applied when no rate matches a jurisdiction.
func ZeroTaxRate(country, region string) TaxRate {
	return TaxRate{Country: country, Region: region, Rate: decimal.Zero, Type: TaxSales}
}

// InvoiceItem is a single line on an invoice. Amount is Quantity × UnitPrice.
type InvoiceItem struct {
	Description string          `json:"description"`
	Quantity    int64           `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Amount      decimal.Decimal `json:"amount"`
	Taxable     bool            `json:"taxable"`
}

// InvoiceSchemaVersion is the version of the persisted invoice document.
// Fields may be added, never removed or repurposed.
const InvoiceSchemaVersion = 1

// Invoice is a bill for one subscription period. Once paid it never changes.
type Invoice struct {
	SchemaVersion  int             `json:"schema_version"`
	ID             string          `json:"id"`
	SubscriptionID string          `json:"subscription_id"`
	UserID         string          `json:"user_id"`
	Currency       string          `json:"currency"`
	Items          []InvoiceItem   `json:"items"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	Tax            decimal.Decimal `json:"tax"`
	TaxRate        TaxRate         `json:"tax_rate"`
	Total          decimal.Decimal `json:"total"`
	Status         InvoiceStatus   `json:"status"`
	PeriodStart    time.Time       `json:"period_start"`
	PeriodEnd      time.Time       `json:"period_end"`
	DueDate        time.Time       `json:"due_date"`
	PaidAt         *time.Time      `json:"paid_at,omitempty"`
	FailureReason  string          `json:"failure_reason,omitempty"`
	Notes          []string        `json:"notes,omitempty"`
	Version        int             `json:"version"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// IsPaid reports whether the invoice is settled and therefore immutable.
func (i Invoice) IsPaid() bool {
	return i.Status == InvoicePaid
}

// minorUnits lists currencies whose minor unit is not two decimal places.
var minorUnits = map[string]int32{
	"bif": 0, "clp": 0, "jpy": 0, "krw": 0, "pyg": 0, "vnd": 0, "xaf": 0, "xof": 0,
	"bhd": 3, "jod": 3, "kwd": 3, "omr": 3, "tnd": 3,
}

// MinorUnit returns the number of decimal places used by currency.
func MinorUnit(currency string) int32 {
	if places, ok := minorUnits[strings.ToLower(currency)]; ok {
		return places
	}
	return 2
}

// RoundMoney rounds d to the currency's minor unit using banker's rounding.
func RoundMoney(d decimal.Decimal, currency string) decimal.Decimal {
	return d.RoundBank(MinorUnit(currency))
}
