package domain

import "time"

// SubscriptionStatus represents the lifecycle state of a subscription.
type SubscriptionStatus string

const (
	StatusTrialing  SubscriptionStatus = "trialing"
	StatusActive    SubscriptionStatus = "active"
	StatusPastDue   SubscriptionStatus = "past_due"
	StatusCancelled SubscriptionStatus = "cancelled"
)

// SubscriptionEvent represents an action that triggers a subscription state transition.
type SubscriptionEvent string

const (
	EventActivate    SubscriptionEvent = "activate"
	EventMarkPastDue SubscriptionEvent = "mark_past_due"
	EventCancel      SubscriptionEvent = "cancel"
	EventRenew       SubscriptionEvent = "renew"
)

// SubscriptionTransition defines a valid state change: an event moves a subscription from Src to Dst.
type SubscriptionTransition struct {
	Event SubscriptionEvent
	Src   SubscriptionStatus
	Dst   SubscriptionStatus
}

// SubscriptionTransitions defines all valid state changes in the subscription lifecycle.
// cancelled is terminal: no transition leaves it.
var SubscriptionTransitions = []SubscriptionTransition{
	{Event: EventActivate, Src: StatusTrialing, Dst: StatusActive},
	{Event: EventActivate, Src: StatusPastDue, Dst: StatusActive},
	{Event: EventMarkPastDue, Src: StatusActive, Dst: StatusPastDue},
	{Event: EventCancel, Src: StatusTrialing, Dst: StatusCancelled},
	{Event: EventCancel, Src: StatusActive, Dst: StatusCancelled},
	{Event: EventCancel, Src: StatusPastDue, Dst: StatusCancelled},
	{Event: EventRenew, Src: StatusTrialing, Dst: StatusActive},
	{Event: EventRenew, Src: StatusActive, Dst: StatusActive},
}

// Cancellation reasons recorded on the subscription.
const (
	CancelReasonRequested  = "requested"
	CancelReasonPeriodEnd  = "period_end"
	CancelReasonNonPayment = "dunning_exhausted"
)

// Subscription is a customer's recurring entitlement to a plan.
//
// Version is bumped by the store on every successful compare-and-swap.
type Subscription struct {
	ID                 string
	UserID             string
	PlanID             string
	PaymentMethodID    string
	Country            string
	Region             string
	Status             SubscriptionStatus
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CancelAtPeriodEnd  bool
	CancelledAt        *time.Time
	CancelReason       string
	Version            int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// NewSubscription creates a subscription for the given plan starting at now.
// Plans with a trial start in trialing with the period ending when the trial does.
func NewSubscription(id, userID string, plan Plan, paymentMethodID, country, region string, now time.Time) Subscription {
	now = now.UTC()
	s := Subscription{
		ID:                 id,
		UserID:             userID,
		PlanID:             plan.ID,
		PaymentMethodID:    paymentMethodID,
		Country:            country,
		Region:             region,
		Status:             StatusActive,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   plan.BillingPeriod.Advance(now),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if plan.TrialDays > 0 {
		s.Status = StatusTrialing
		s.CurrentPeriodEnd = now.AddDate(0, 0, plan.TrialDays)
	}
	return s
}

// IsTerminal reports whether the subscription can no longer change state.
func (s Subscription) IsTerminal() bool {
	return s.Status == StatusCancelled
}
