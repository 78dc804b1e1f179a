package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AttemptOutcome is the resolution of a dunning attempt.
type AttemptOutcome string

const (
	OutcomePending   AttemptOutcome = "pending"
	OutcomeSucceeded AttemptOutcome = "succeeded"
	OutcomeFailed    AttemptOutcome = "failed"
)

// DunningAttempt is one scheduled retry of a failed invoice.
//
// Actionable is cleared when the sequence is cancelled; the record stays
// pending for audit and its timer ignores it when it fires.
type DunningAttempt struct {
	ID             string
	InvoiceID      string
	SubscriptionID string
	Index          int
	ScheduledAt    time.Time
	Outcome        AttemptOutcome
	Actionable     bool
	FailureReason  string
	ResolvedAt     *time.Time
	JobID          int64
	CreatedAt      time.Time
}

// IsLive reports whether the attempt still waits to be executed.
func (a DunningAttempt) IsLive() bool {
	return a.Outcome == OutcomePending && a.Actionable
}

// DunningPolicy configures the retry plan for failed invoices.
type DunningPolicy struct {
	RetrySchedule      []time.Duration
	MaxAttempts        int
	EmailNotifications bool
	SMSNotifications   bool
}

// DefaultDunningPolicy retries after 1, 3, 5 and 7 days.
func DefaultDunningPolicy() DunningPolicy {
	day := 24 * time.Hour
	return DunningPolicy{
		RetrySchedule:      []time.Duration{day, 3 * day, 5 * day, 7 * day},
		MaxAttempts:        4,
		EmailNotifications: true,
	}
}

// Attempts returns the effective attempt limit.
func (p DunningPolicy) Attempts() int {
	if p.MaxAttempts > 0 {
		return p.MaxAttempts
	}
	return len(p.RetrySchedule)
}

// Delay returns the wait before attempt index (1-based). Indexes past the
// end of the schedule reuse its last delay.
func (p DunningPolicy) Delay(index int) time.Duration {
	if len(p.RetrySchedule) == 0 {
		return 0
	}
	if index < 1 {
		index = 1
	}
	if index > len(p.RetrySchedule) {
		index = len(p.RetrySchedule)
	}
	return p.RetrySchedule[index-1]
}

// Validate checks that the schedule is non-empty, positive and non-decreasing.
func (p DunningPolicy) Validate() error {
	if len(p.RetrySchedule) == 0 {
		return &ValidationError{Field: "retry_schedule", Reason: "must not be empty"}
	}
	for i, d := range p.RetrySchedule {
		if d <= 0 {
			return &ValidationError{Field: "retry_schedule", Reason: "delays must be positive"}
		}
		if i > 0 && d < p.RetrySchedule[i-1] {
			return &ValidationError{Field: "retry_schedule", Reason: "delays must not decrease"}
		}
	}
	if p.MaxAttempts < 0 {
		return &ValidationError{Field: "max_attempts", Reason: "must not be negative"}
	}
	return nil
}

// ChargeRequest asks the payment gateway to collect an amount.
type ChargeRequest struct {
	PaymentMethodID string
	Amount          decimal.Decimal
	Currency        string
	IdempotencyKey  string
}

// ChargeResult is the gateway's answer to a charge request.
type ChargeResult struct {
	Succeeded bool
	Reason    string
}
