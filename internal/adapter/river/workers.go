package river

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"github.com/neomorfeo/billcycle/internal/domain"
)

// AttemptResolver executes due dunning attempts.
type AttemptResolver interface {
	ResolveAttempt(ctx context.Context, attemptID string) error
}

// Renewer runs period-end renewals.
type Renewer interface {
	Renew(ctx context.Context, id string, expectedPeriodEnd time.Time) (domain.Subscription, error)
	RenewDue(ctx context.Context, limit int) (int, error)
}

// ActionExecutor runs the actions of a fired workflow.
type ActionExecutor interface {
	Execute(ctx context.Context, workflowID string, event domain.BillingEvent) (domain.WorkflowRun, error)
}

// Handlers are the application callbacks the workers invoke. The River
// client must exist before the services that schedule jobs, so the fields
// are filled in after construction and before the client starts.
type Handlers struct {
	Attempts AttemptResolver
	Renewals Renewer
	Actions  ActionExecutor
	Logger   *zap.Logger
}

var errNotWired = errors.New("job handler not wired")

func (h *Handlers) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}

// stale reports whether err means the timer no longer applies. Such jobs
// complete without retry.
func stale(err error) bool {
	return errors.Is(err, domain.ErrStaleTimer) || errors.Is(err, domain.ErrInvalidTransition)
}

// DunningAttemptWorker fires dunning attempt timers.
type DunningAttemptWorker struct {
	river.WorkerDefaults[DunningAttemptArgs]
	handlers *Handlers
}

// Work resolves a single attempt.
func (w *DunningAttemptWorker) Work(ctx context.Context, job *river.Job[DunningAttemptArgs]) error {
	if w.handlers.Attempts == nil {
		return errNotWired
	}
	err := w.handlers.Attempts.ResolveAttempt(ctx, job.Args.AttemptID)
	if stale(err) {
		w.handlers.logger().Debug("dunning timer ignored",
			zap.String("attempt_id", job.Args.AttemptID),
			zap.Int64("job_id", job.ID),
			zap.Error(err),
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolving attempt %s: %w", job.Args.AttemptID, err)
	}
	return nil
}

// RenewalWorker fires period-end timers.
type RenewalWorker struct {
	river.WorkerDefaults[RenewalArgs]
	handlers *Handlers
}

// Work renews one subscription.
func (w *RenewalWorker) Work(ctx context.Context, job *river.Job[RenewalArgs]) error {
	if w.handlers.Renewals == nil {
		return errNotWired
	}
	_, err := w.handlers.Renewals.Renew(ctx, job.Args.SubscriptionID, job.Args.PeriodEnd)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrNotDue):
		return river.JobSnooze(max(time.Until(job.Args.PeriodEnd), time.Second))
	case stale(err):
		w.handlers.logger().Debug("renewal timer ignored",
			zap.String("subscription_id", job.Args.SubscriptionID),
			zap.Int64("job_id", job.ID),
			zap.Error(err),
		)
		return nil
	default:
		return fmt.Errorf("renewing %s: %w", job.Args.SubscriptionID, err)
	}
}

// RenewalSweepWorker renews every overdue subscription.
type RenewalSweepWorker struct {
	river.WorkerDefaults[RenewalSweepArgs]
	handlers *Handlers
}

// Work runs one sweep.
func (w *RenewalSweepWorker) Work(ctx context.Context, job *river.Job[RenewalSweepArgs]) error {
	if w.handlers.Renewals == nil {
		return errNotWired
	}
	n, err := w.handlers.Renewals.RenewDue(ctx, job.Args.Limit)
	if n > 0 {
		w.handlers.logger().Info("renewal sweep", zap.Int("renewed", n))
	}
	return err
}

// WorkflowActionsWorker executes fired workflows.
type WorkflowActionsWorker struct {
	river.WorkerDefaults[WorkflowActionsArgs]
	handlers *Handlers
}

// Work runs the workflow's actions in order.
func (w *WorkflowActionsWorker) Work(ctx context.Context, job *river.Job[WorkflowActionsArgs]) error {
	if w.handlers.Actions == nil {
		return errNotWired
	}
	run, err := w.handlers.Actions.Execute(ctx, job.Args.WorkflowID, job.Args.Event)
	if errors.Is(err, domain.ErrWorkflowNotFound) {
		return river.JobCancel(err)
	}
	if err != nil {
		return fmt.Errorf("executing workflow %s: %w", job.Args.WorkflowID, err)
	}
	if run.Failed() {
		w.handlers.logger().Warn("workflow run had failing actions",
			zap.String("workflow_id", run.WorkflowID),
			zap.String("event_id", run.EventID),
		)
	}
	return nil
}
