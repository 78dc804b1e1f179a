package domain

import "time"

// EventCategory tags a BillingEvent and selects workflow triggers.
type EventCategory string

const (
	CategorySubscriptionCreated   EventCategory = "subscription_created"
	CategorySubscriptionActivated EventCategory = "subscription_activated"
	CategorySubscriptionPastDue   EventCategory = "subscription_past_due"
	CategorySubscriptionCancelled EventCategory = "subscription_cancelled"
	CategoryCancelScheduled       EventCategory = "subscription_cancel_scheduled"
	CategoryCancelRevoked         EventCategory = "subscription_cancel_revoked"
	CategorySubscriptionRenewed   EventCategory = "subscription_renewed"

	CategoryInvoiceCreated EventCategory = "invoice_created"
	CategoryInvoicePaid    EventCategory = "invoice_paid"
	CategoryPaymentFailed  EventCategory = "payment_failed"

	CategoryDunningScheduled     EventCategory = "dunning_attempt_scheduled"
	CategoryDunningAttemptFailed EventCategory = "dunning_attempt_failed"
	CategoryDunningRecovered     EventCategory = "dunning_recovered"
	CategoryDunningExhausted     EventCategory = "dunning_exhausted"

	CategoryDiscountApplied EventCategory = "discount_applied"

	CategoryUsageThreshold EventCategory = "usage_threshold_crossed"
	CategoryChurnRisk      EventCategory = "churn_risk_detected"

	// CategoryAll subscribes a handler to every category.
	CategoryAll EventCategory = "*"
)

var knownCategories = map[EventCategory]bool{
	CategorySubscriptionCreated:   true,
	CategorySubscriptionActivated: true,
	CategorySubscriptionPastDue:   true,
	CategorySubscriptionCancelled: true,
	CategoryCancelScheduled:       true,
	CategoryCancelRevoked:         true,
	CategorySubscriptionRenewed:   true,
	CategoryInvoiceCreated:        true,
	CategoryInvoicePaid:           true,
	CategoryPaymentFailed:         true,
	CategoryDunningScheduled:      true,
	CategoryDunningAttemptFailed:  true,
	CategoryDunningRecovered:      true,
	CategoryDunningExhausted:      true,
	CategoryDiscountApplied:       true,
	CategoryUsageThreshold:        true,
	CategoryChurnRisk:             true,
}

// Known reports whether c is a category the core emits or accepts.
func (c EventCategory) Known() bool {
	return knownCategories[c]
}

// IsSignal reports whether c may be published by callers outside the core.
// Signals carry observations; they never change billing state directly.
func (c EventCategory) IsSignal() bool {
	return c == CategoryUsageThreshold || c == CategoryChurnRisk
}

// Metric names carried in event snapshots.
const (
	MetricFailedPayments = "failedPayments"
	MetricAttemptIndex   = "attemptIndex"
	MetricMaxAttempts    = "maxAttempts"
	MetricAmountDue      = "amountDue"
	MetricInvoiceTotal   = "invoiceTotal"
	MetricDiscount       = "discountPercent"
)

// BillingEvent is a fact about a subscription, the unit on the event bus.
type BillingEvent struct {
	ID             string             `json:"id"`
	Category       EventCategory      `json:"category"`
	SubscriptionID string             `json:"subscription_id"`
	InvoiceID      string             `json:"invoice_id,omitempty"`
	Metrics        map[string]float64 `json:"metrics,omitempty"`
	Reason         string             `json:"reason,omitempty"`
	OccurredAt     time.Time          `json:"occurred_at"`
}

// Metric returns a metric value and whether it is present.
func (e BillingEvent) Metric(name string) (float64, bool) {
	v, ok := e.Metrics[name]
	return v, ok
}
