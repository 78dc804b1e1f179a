package river

import (
	"database/sql"
	"time"

	"github.com/riverqueue/river"

	"github.com/neomorfeo/billcycle/internal/domain"
)

// Client is the River client type parameterized for SQLite (*sql.Tx).
type Client = river.Client[*sql.Tx]

// Queue names. Dunning retries and workflow actions get their own worker
// pools so a burst of one cannot starve the other.
const (
	QueueDunning = "dunning"
	QueueActions = "workflow_actions"
)

// DunningAttemptArgs is the timer of one dunning attempt. River serializes
// it as JSON into its job table; the worker re-reads the attempt at fire time.
type DunningAttemptArgs struct {
	AttemptID      string `json:"attempt_id"`
	InvoiceID      string `json:"invoice_id"`
	SubscriptionID string `json:"subscription_id"`
	Index          int    `json:"index"`
}

// Kind returns the unique job type identifier used by River's job routing.
func (DunningAttemptArgs) Kind() string { return "dunning.attempt" }

// InsertOpts routes attempts to the dunning queue.
func (DunningAttemptArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{Queue: QueueDunning}
}

// RenewalArgs is the period-end timer of a subscription. PeriodEnd is the
// period the timer was armed for.
type RenewalArgs struct {
	SubscriptionID string    `json:"subscription_id"`
	PeriodEnd      time.Time `json:"period_end"`
}

// Kind returns the unique job type identifier used by River's job routing.
func (RenewalArgs) Kind() string { return "subscription.renewal" }

// RenewalSweepArgs runs the periodic catch-up of overdue renewals.
type RenewalSweepArgs struct {
	Limit int `json:"limit"`
}

// Kind returns the unique job type identifier used by River's job routing.
func (RenewalSweepArgs) Kind() string { return "subscription.renewal_sweep" }

// WorkflowActionsArgs carries a fired workflow and the event snapshot that
// fired it, so the worker never needs to look the event up.
type WorkflowActionsArgs struct {
	WorkflowID string              `json:"workflow_id"`
	Event      domain.BillingEvent `json:"event"`
}

// Kind returns the unique job type identifier used by River's job routing.
func (WorkflowActionsArgs) Kind() string { return "workflow.actions" }

// InsertOpts routes actions to the action worker pool.
func (WorkflowActionsArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{Queue: QueueActions}
}
