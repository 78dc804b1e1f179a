package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BillingPeriod is the length of one subscription period.
type BillingPeriod string

const (
	PeriodMonthly   BillingPeriod = "monthly"
	PeriodQuarterly BillingPeriod = "quarterly"
	PeriodYearly    BillingPeriod = "yearly"
)

// Advance returns the end of a period that starts at t.
func (p BillingPeriod) Advance(t time.Time) time.Time {
	switch p {
	case PeriodQuarterly:
		return t.AddDate(0, 3, 0)
	case PeriodYearly:
		return t.AddDate(1, 0, 0)
	default:
		return t.AddDate(0, 1, 0)
	}
}

// Valid reports whether p is a known billing period.
func (p BillingPeriod) Valid() bool {
	switch p {
	case PeriodMonthly, PeriodQuarterly, PeriodYearly:
		return true
	}
	return false
}

// Plan is a purchasable price point. Plans are never deleted, only deactivated.
type Plan struct {
	ID            string
	Name          string
	Price         decimal.Decimal
	Currency      string
	BillingPeriod BillingPeriod
	TrialDays     int
	Features      []string
	IsActive      bool
	CreatedAt     time.Time
}

// Validate checks the plan's invariants.
func (p Plan) Validate() error {
	switch {
	case p.Name == "":
		return &ValidationError{Field: "name", Reason: "must not be empty"}
	case p.Price.IsNegative():
		return &ValidationError{Field: "price", Reason: "must not be negative"}
	case p.Currency == "":
		return &ValidationError{Field: "currency", Reason: "must not be empty"}
	case !p.BillingPeriod.Valid():
		return &ValidationError{Field: "billing_period", Reason: "must be monthly, quarterly or yearly"}
	case p.TrialDays < 0:
		return &ValidationError{Field: "trial_days", Reason: "must not be negative"}
	}
	return nil
}

// Discount reduces the invoices of one subscription until it expires.
type Discount struct {
	ID             string
	SubscriptionID string
	Percent        decimal.Decimal
	ExpiresAt      time.Time
	WorkflowID     string
	CreatedAt      time.Time
}

// ActiveAt reports whether the discount applies to an invoice generated at t.
func (d Discount) ActiveAt(t time.Time) bool {
	return t.Before(d.ExpiresAt)
}
