package domain

import (
	"context"
	"time"
)

// SubscriptionRepository defines the persistence contract for subscriptions.
type SubscriptionRepository interface {
	CreateSubscription(ctx context.Context, s Subscription) error
	GetSubscription(ctx context.Context, id string) (Subscription, error)
	// CompareAndSwapSubscription stores s if the stored version equals
	// s.Version and returns the record with its new version. It returns a
	// *ConflictError otherwise.
	CompareAndSwapSubscription(ctx context.Context, s Subscription) (Subscription, error)
	ListSubscriptions(ctx context.Context, filter SubscriptionFilter) ([]Subscription, error)
	// ListDueForRenewal returns non-cancelled subscriptions whose period ended at or before t.
	ListDueForRenewal(ctx context.Context, t time.Time, limit int) ([]Subscription, error)
}

// SubscriptionFilter holds optional criteria for listing subscriptions.
type SubscriptionFilter struct {
	Status *SubscriptionStatus
	UserID string
	Limit  int
	Offset int
}

// InvoiceRepository defines the persistence contract for invoices.
type InvoiceRepository interface {
	CreateInvoice(ctx context.Context, inv Invoice) error
	GetInvoice(ctx context.Context, id string) (Invoice, error)
	CompareAndSwapInvoice(ctx context.Context, inv Invoice) (Invoice, error)
	ListInvoices(ctx context.Context, subscriptionID string) ([]Invoice, error)
}

// DunningRepository defines the persistence contract for dunning attempts.
type DunningRepository interface {
	CreateAttempt(ctx context.Context, a DunningAttempt) error
	GetAttempt(ctx context.Context, id string) (DunningAttempt, error)
	UpdateAttempt(ctx context.Context, a DunningAttempt) error
	// ListAttempts returns every attempt of an invoice ordered by index.
	ListAttempts(ctx context.Context, invoiceID string) ([]DunningAttempt, error)
	// ListLiveAttempts returns pending actionable attempts of a subscription.
	ListLiveAttempts(ctx context.Context, subscriptionID string) ([]DunningAttempt, error)
}

// WorkflowRepository stores workflow configuration and run history.
type WorkflowRepository interface {
	PutWorkflow(ctx context.Context, w Workflow) error
	GetWorkflow(ctx context.Context, id string) (Workflow, error)
	ListWorkflows(ctx context.Context, activeOnly bool) ([]Workflow, error)
	RecordRun(ctx context.Context, run WorkflowRun) error
	GetRun(ctx context.Context, workflowID, eventID string) (WorkflowRun, error)
	ListRuns(ctx context.Context, workflowID string) ([]WorkflowRun, error)
}

// CatalogRepository stores plans, tax rates and discounts.
type CatalogRepository interface {
	PutPlan(ctx context.Context, p Plan) error
	GetPlan(ctx context.Context, id string) (Plan, error)
	ListPlans(ctx context.Context, activeOnly bool) ([]Plan, error)

	PutTaxRate(ctx context.Context, r TaxRate) error
	// FindTaxRate returns the region rate if present, else the country-wide
	// rate, else ErrTaxRateNotFound.
	FindTaxRate(ctx context.Context, country, region string) (TaxRate, error)
	ListTaxRates(ctx context.Context) ([]TaxRate, error)

	PutDiscount(ctx context.Context, d Discount) error
	ListDiscounts(ctx context.Context, subscriptionID string) ([]Discount, error)
}

// FiringLedger records which (workflow, event) pairs have fired.
type FiringLedger interface {
	// MarkFired returns true only for the first call with a given pair.
	MarkFired(ctx context.Context, workflowID, eventID string) (bool, error)
}

// EventLog is the append-only audit record of billing events.
type EventLog interface {
	AppendEvent(ctx context.Context, e BillingEvent) error
	ListEvents(ctx context.Context, subscriptionID string) ([]BillingEvent, error)
}

// TransitionValidator checks state transitions for both state machines.
type TransitionValidator interface {
	ApplySubscription(ctx context.Context, current SubscriptionStatus, event SubscriptionEvent) (SubscriptionStatus, error)
	ApplyInvoice(ctx context.Context, current InvoiceStatus, event InvoiceEvent) (InvoiceStatus, error)
}

// PaymentGateway charges a payment method. A returned error is a transport
// failure, not a decline.
type PaymentGateway interface {
	AttemptCharge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
}

// Notifier delivers send_email, send_notification and create_task actions.
type Notifier interface {
	Dispatch(ctx context.Context, action Action, event BillingEvent) error
}

// EventHandler consumes billing events delivered by the bus.
type EventHandler func(ctx context.Context, event BillingEvent) error

// EventBus delivers billing events in FIFO order per subscription.
type EventBus interface {
	Publish(ctx context.Context, event BillingEvent) error
	// Subscribe registers handler for a category (CategoryAll for every
	// category) and returns the function that removes it.
	Subscribe(category EventCategory, handler EventHandler) (unsubscribe func())
}

// JobHandle identifies a scheduled timer.
type JobHandle struct {
	ID          int64
	ScheduledAt time.Time
}

// JobScheduler owns time-based wake-ups. Timers are never removed: the
// receiving side checks at fire time whether they are still valid.
type JobScheduler interface {
	ScheduleAttempt(ctx context.Context, attempt DunningAttempt) (JobHandle, error)
	ScheduleRenewal(ctx context.Context, s Subscription) (JobHandle, error)
}

// ActionDispatcher hands a fired workflow to the action worker pool.
type ActionDispatcher interface {
	DispatchActions(ctx context.Context, workflowID string, event BillingEvent) error
}

// Clock abstracts the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }
