package river

import (
	"context"
	"fmt"

	"github.com/riverqueue/river"

	"github.com/neomorfeo/billcycle/internal/domain"
)

// Compile-time checks: Scheduler implements the timer and dispatch ports.
var (
	_ domain.JobScheduler     = (*Scheduler)(nil)
	_ domain.ActionDispatcher = (*Scheduler)(nil)
)

// Scheduler arms timers and dispatches workflow actions by enqueuing River jobs.
type Scheduler struct {
	client *Client
}

// NewScheduler creates a scheduler backed by the given River client.
func NewScheduler(client *Client) *Scheduler {
	return &Scheduler{client: client}
}

// ScheduleAttempt enqueues the attempt's job to run at its scheduled time.
func (s *Scheduler) ScheduleAttempt(ctx context.Context, a domain.DunningAttempt) (domain.JobHandle, error) {
	return s.insert(ctx, DunningAttemptArgs{
		AttemptID:      a.ID,
		InvoiceID:      a.InvoiceID,
		SubscriptionID: a.SubscriptionID,
		Index:          a.Index,
	}, &river.InsertOpts{Queue: QueueDunning, ScheduledAt: a.ScheduledAt})
}

// ScheduleRenewal enqueues the subscription's renewal at its period end.
func (s *Scheduler) ScheduleRenewal(ctx context.Context, sub domain.Subscription) (domain.JobHandle, error) {
	return s.insert(ctx, RenewalArgs{
		SubscriptionID: sub.ID,
		PeriodEnd:      sub.CurrentPeriodEnd,
	}, &river.InsertOpts{ScheduledAt: sub.CurrentPeriodEnd})
}

// DispatchActions enqueues a fired workflow for the action worker pool.
func (s *Scheduler) DispatchActions(ctx context.Context, workflowID string, event domain.BillingEvent) error {
	if _, err := s.insert(ctx, WorkflowActionsArgs{WorkflowID: workflowID, Event: event}, nil); err != nil {
		return err
	}
	return nil
}

func (s *Scheduler) insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (domain.JobHandle, error) {
	res, err := s.client.Insert(ctx, args, opts)
	if err != nil {
		return domain.JobHandle{}, fmt.Errorf("enqueuing %s job: %w", args.Kind(), err)
	}
	return domain.JobHandle{ID: res.Job.ID, ScheduledAt: res.Job.ScheduledAt}, nil
}
