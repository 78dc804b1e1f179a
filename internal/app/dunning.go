package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/neomorfeo/billcycle/internal/domain"
)

const dunningEmailTemplate = "dunning_retry_failed"

// DunningService owns the retry plan for failed invoices. At most one
// attempt per invoice is pending at a time: attempt n+1 is only created
// once attempt n has resolved.
type DunningService struct {
	attempts  domain.DunningRepository
	invoices  domain.InvoiceRepository
	subs      domain.SubscriptionRepository
	gateway   domain.PaymentGateway
	scheduler domain.JobScheduler
	notifier  domain.Notifier
	invoicing *InvoiceService
	lifecycle *SubscriptionService
	policy    domain.DunningPolicy
	events    publisher
	clock     domain.Clock
	locks     *Locker
	logger    *zap.Logger
}

// DunningDeps groups the collaborators of the dunning service.
type DunningDeps struct {
	Attempts  domain.DunningRepository
	Invoices  domain.InvoiceRepository
	Subs      domain.SubscriptionRepository
	Gateway   domain.PaymentGateway
	Scheduler domain.JobScheduler
	Notifier  domain.Notifier
	Bus       domain.EventBus
	// Invoicing settles recovered invoices.
	Invoicing *InvoiceService
	// Lifecycle reactivates or cancels the subscription.
	Lifecycle *SubscriptionService
}

// NewDunningService validates the policy and creates the service.
func NewDunningService(deps DunningDeps, policy domain.DunningPolicy, opts Options) (*DunningService, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("dunning policy: %w", err)
	}
	opts = opts.withDefaults()
	return &DunningService{
		attempts:  deps.Attempts,
		invoices:  deps.Invoices,
		subs:      deps.Subs,
		gateway:   deps.Gateway,
		scheduler: deps.Scheduler,
		notifier:  deps.Notifier,
		invoicing: deps.Invoicing,
		lifecycle: deps.Lifecycle,
		policy:    policy,
		events:    publisher{bus: deps.Bus, clock: opts.Clock, logger: opts.Logger},
		clock:     opts.Clock,
		locks:     opts.Locks,
		logger:    opts.Logger.Named("dunning"),
	}, nil
}

// Policy returns the active retry policy.
func (s *DunningService) Policy() domain.DunningPolicy {
	return s.policy
}

// Start creates attempt #1 for a failed invoice. It is a no-op when the
// invoice already has attempts or is no longer failed, except that a live
// attempt whose timer was never armed gets one.
func (s *DunningService) Start(ctx context.Context, invoiceID string) (domain.DunningAttempt, error) {
	unlock := s.locks.Lock(dunningKey(invoiceID))
	defer unlock()

	inv, err := s.invoices.GetInvoice(ctx, invoiceID)
	if err != nil {
		return domain.DunningAttempt{}, err
	}
	if inv.Status != domain.InvoiceFailed {
		return domain.DunningAttempt{}, nil
	}

	existing, err := s.attempts.ListAttempts(ctx, invoiceID)
	if err != nil {
		return domain.DunningAttempt{}, fmt.Errorf("listing attempts: %w", err)
	}
	if len(existing) > 0 {
		last := existing[len(existing)-1]
		if last.IsLive() && last.JobID == 0 {
			return s.arm(ctx, last)
		}
		return last, nil
	}

	return s.schedule(ctx, inv, 1)
}

// ResolveAttempt executes a due attempt. It is what an attempt's timer calls.
//
// Timers are never removed, so the attempt is re-checked here: one that is
// no longer pending and actionable, or whose subscription is no longer
// past_due, is ignored and ErrStaleTimer returned. A resolved attempt whose
// follow-up step did not complete (next attempt, recovery or cancellation)
// has that step finished instead, so a retried job picks up where it failed.
func (s *DunningService) ResolveAttempt(ctx context.Context, attemptID string) error {
	peek, err := s.attempts.GetAttempt(ctx, attemptID)
	if err != nil {
		return err
	}

	unlock := s.locks.Lock(dunningKey(peek.InvoiceID))
	defer unlock()

	attempt, err := s.attempts.GetAttempt(ctx, attemptID)
	if err != nil {
		return err
	}
	if !attempt.IsLive() {
		resumed, err := s.resume(ctx, attempt)
		if err != nil {
			return err
		}
		if !resumed {
			s.logger.Debug("ignoring stale dunning timer", zap.String("attempt_id", attempt.ID))
			return domain.ErrStaleTimer
		}
		return nil
	}

	sub, err := s.subs.GetSubscription(ctx, attempt.SubscriptionID)
	if err != nil {
		return fmt.Errorf("loading subscription: %w", err)
	}
	inv, err := s.invoices.GetInvoice(ctx, attempt.InvoiceID)
	if err != nil {
		return fmt.Errorf("loading invoice: %w", err)
	}
	if sub.Status != domain.StatusPastDue || inv.Status != domain.InvoiceFailed {
		s.logger.Info("dunning attempt no longer applicable",
			zap.String("attempt_id", attempt.ID),
			zap.String("subscription_status", string(sub.Status)),
			zap.String("invoice_status", string(inv.Status)),
		)
		attempt.Actionable = false
		if err := s.attempts.UpdateAttempt(ctx, attempt); err != nil {
			return fmt.Errorf("retiring attempt: %w", err)
		}
		return domain.ErrStaleTimer
	}

	result, err := s.gateway.AttemptCharge(ctx, domain.ChargeRequest{
		PaymentMethodID: sub.PaymentMethodID,
		Amount:          inv.Total,
		Currency:        inv.Currency,
		IdempotencyKey:  attempt.ID,
	})
	if err != nil {
		s.logger.Warn("payment gateway error during retry", zap.String("attempt_id", attempt.ID), zap.Error(err))
		result = domain.ChargeResult{Succeeded: false, Reason: err.Error()}
	}

	now := s.clock.Now()
	attempt.ResolvedAt = &now
	if result.Succeeded {
		attempt.Outcome = domain.OutcomeSucceeded
	} else {
		attempt.Outcome = domain.OutcomeFailed
		attempt.FailureReason = result.Reason
	}
	if err := s.attempts.UpdateAttempt(ctx, attempt); err != nil {
		return fmt.Errorf("recording attempt outcome: %w", err)
	}

	if result.Succeeded {
		return s.recovered(ctx, attempt)
	}
	return s.failed(ctx, attempt, inv)
}

// resume completes the follow-up of a resolved attempt when an earlier run
// saved the outcome but failed afterwards. It reports whether anything was
// left to do.
func (s *DunningService) resume(ctx context.Context, attempt domain.DunningAttempt) (bool, error) {
	if attempt.Outcome == domain.OutcomePending {
		return false, nil
	}

	sub, err := s.subs.GetSubscription(ctx, attempt.SubscriptionID)
	if err != nil {
		return false, fmt.Errorf("loading subscription: %w", err)
	}
	inv, err := s.invoices.GetInvoice(ctx, attempt.InvoiceID)
	if err != nil {
		return false, fmt.Errorf("loading invoice: %w", err)
	}

	if attempt.Outcome == domain.OutcomeSucceeded {
		if inv.IsPaid() {
			if sub.Status != domain.StatusPastDue {
				return false, nil
			}
			// A later invoice may have put the subscription back into dunning.
			live, err := s.attempts.ListLiveAttempts(ctx, sub.ID)
			if err != nil {
				return false, fmt.Errorf("listing live attempts: %w", err)
			}
			if len(live) > 0 {
				return false, nil
			}
		}
		s.logger.Info("resuming dunning recovery", zap.String("attempt_id", attempt.ID))
		return true, s.recovered(ctx, attempt)
	}

	if sub.Status != domain.StatusPastDue || inv.Status != domain.InvoiceFailed {
		return false, nil
	}
	if attempt.Index < s.policy.Attempts() {
		next, found, err := s.successor(ctx, attempt)
		if err != nil {
			return false, err
		}
		if found && (!next.IsLive() || next.JobID != 0) {
			return false, nil
		}
	}
	s.logger.Info("resuming dunning escalation", zap.String("attempt_id", attempt.ID))
	return true, s.escalate(ctx, attempt, inv)
}

// successor returns attempt index+1 of the same invoice, if it exists.
func (s *DunningService) successor(ctx context.Context, attempt domain.DunningAttempt) (domain.DunningAttempt, bool, error) {
	attempts, err := s.attempts.ListAttempts(ctx, attempt.InvoiceID)
	if err != nil {
		return domain.DunningAttempt{}, false, fmt.Errorf("listing attempts: %w", err)
	}
	for _, a := range attempts {
		if a.Index == attempt.Index+1 {
			return a, true, nil
		}
	}
	return domain.DunningAttempt{}, false, nil
}

func (s *DunningService) recovered(ctx context.Context, attempt domain.DunningAttempt) error {
	if _, err := s.invoicing.Recover(ctx, attempt.InvoiceID); err != nil {
		return fmt.Errorf("recovering invoice: %w", err)
	}
	if _, err := s.cancelInvoiceAttempts(ctx, attempt.InvoiceID); err != nil {
		return err
	}

	if _, err := s.lifecycle.Activate(ctx, attempt.SubscriptionID); err != nil {
		if !errors.Is(err, domain.ErrInvalidTransition) {
			return fmt.Errorf("reactivating subscription: %w", err)
		}
		s.logger.Warn("subscription not reactivated after recovery",
			zap.String("subscription_id", attempt.SubscriptionID), zap.Error(err))
	}

	s.events.publish(ctx, domain.BillingEvent{
		Category:       domain.CategoryDunningRecovered,
		SubscriptionID: attempt.SubscriptionID,
		InvoiceID:      attempt.InvoiceID,
		Metrics:        map[string]float64{domain.MetricAttemptIndex: float64(attempt.Index)},
	})

	s.logger.Info("invoice recovered by dunning",
		zap.String("invoice_id", attempt.InvoiceID),
		zap.Int("attempt", attempt.Index),
	)
	return nil
}

func (s *DunningService) failed(ctx context.Context, attempt domain.DunningAttempt, inv domain.Invoice) error {
	maxAttempts := s.policy.Attempts()
	event := s.events.publish(ctx, domain.BillingEvent{
		Category:       domain.CategoryDunningAttemptFailed,
		SubscriptionID: attempt.SubscriptionID,
		InvoiceID:      attempt.InvoiceID,
		Reason:         attempt.FailureReason,
		Metrics: map[string]float64{
			// The initial charge failed too.
			domain.MetricFailedPayments: float64(attempt.Index + 1),
			domain.MetricAttemptIndex:   float64(attempt.Index),
			domain.MetricMaxAttempts:    float64(maxAttempts),
			domain.MetricAmountDue:      inv.Total.InexactFloat64(),
		},
	})
	s.notify(ctx, event)
	return s.escalate(ctx, attempt, inv)
}

// escalate moves a failed attempt on: it schedules the next attempt, or
// cancels the subscription once the policy is exhausted. Repeating it after
// a partial failure only does the missing part.
func (s *DunningService) escalate(ctx context.Context, attempt domain.DunningAttempt, inv domain.Invoice) error {
	maxAttempts := s.policy.Attempts()
	if attempt.Index < maxAttempts {
		next, found, err := s.successor(ctx, attempt)
		if err != nil {
			return err
		}
		if !found {
			_, err = s.schedule(ctx, inv, attempt.Index+1)
			return err
		}
		if next.IsLive() && next.JobID == 0 {
			_, err = s.arm(ctx, next)
			return err
		}
		return nil
	}

	if _, err := s.lifecycle.CancelForNonPayment(ctx, attempt.SubscriptionID); err != nil {
		return fmt.Errorf("cancelling after exhausted dunning: %w", err)
	}
	s.events.publish(ctx, domain.BillingEvent{
		Category:       domain.CategoryDunningExhausted,
		SubscriptionID: attempt.SubscriptionID,
		InvoiceID:      attempt.InvoiceID,
		Reason:         attempt.FailureReason,
		Metrics: map[string]float64{
			domain.MetricFailedPayments: float64(attempt.Index + 1),
			domain.MetricAttemptIndex:   float64(attempt.Index),
			domain.MetricMaxAttempts:    float64(maxAttempts),
			domain.MetricAmountDue:      inv.Total.InexactFloat64(),
		},
	})

	s.logger.Warn("dunning exhausted",
		zap.String("invoice_id", attempt.InvoiceID),
		zap.String("subscription_id", attempt.SubscriptionID),
		zap.Int("attempts", attempt.Index),
	)
	return nil
}

// schedule records attempt index for the invoice and arms its timer. If
// arming fails the attempt stays live with no job; escalate and Start arm
// it on the next pass.
func (s *DunningService) schedule(ctx context.Context, inv domain.Invoice, index int) (domain.DunningAttempt, error) {
	now := s.clock.Now()
	attempt := domain.DunningAttempt{
		ID:             newID("att"),
		InvoiceID:      inv.ID,
		SubscriptionID: inv.SubscriptionID,
		Index:          index,
		ScheduledAt:    now.Add(s.policy.Delay(index)),
		Outcome:        domain.OutcomePending,
		Actionable:     true,
		CreatedAt:      now,
	}
	if err := s.attempts.CreateAttempt(ctx, attempt); err != nil {
		return domain.DunningAttempt{}, fmt.Errorf("creating attempt: %w", err)
	}
	return s.arm(ctx, attempt)
}

// arm starts the timer of a live attempt and records its job id.
func (s *DunningService) arm(ctx context.Context, attempt domain.DunningAttempt) (domain.DunningAttempt, error) {
	index := attempt.Index
	handle, err := s.scheduler.ScheduleAttempt(ctx, attempt)
	if err != nil {
		return domain.DunningAttempt{}, fmt.Errorf("scheduling attempt %d: %w", index, err)
	}
	attempt.JobID = handle.ID
	if err := s.attempts.UpdateAttempt(ctx, attempt); err != nil {
		return domain.DunningAttempt{}, fmt.Errorf("recording attempt job: %w", err)
	}

	s.events.publish(ctx, domain.BillingEvent{
		Category:       domain.CategoryDunningScheduled,
		SubscriptionID: attempt.SubscriptionID,
		InvoiceID:      attempt.InvoiceID,
		Metrics: map[string]float64{
			domain.MetricAttemptIndex: float64(index),
			domain.MetricMaxAttempts:  float64(s.policy.Attempts()),
		},
	})
	s.logger.Info("dunning attempt scheduled",
		zap.String("invoice_id", attempt.InvoiceID),
		zap.Int("attempt", index),
		zap.Time("at", attempt.ScheduledAt),
	)
	return attempt, nil
}

// RetryNow resolves the invoice's pending attempt immediately. The original
// timer finds the attempt resolved and is ignored.
func (s *DunningService) RetryNow(ctx context.Context, invoiceID string) (domain.DunningAttempt, error) {
	attempts, err := s.attempts.ListAttempts(ctx, invoiceID)
	if err != nil {
		return domain.DunningAttempt{}, fmt.Errorf("listing attempts: %w", err)
	}

	var live *domain.DunningAttempt
	for i := range attempts {
		if attempts[i].IsLive() {
			live = &attempts[i]
		}
	}
	if live == nil {
		return domain.DunningAttempt{}, domain.ErrNoPendingAttempt
	}

	if err := s.ResolveAttempt(ctx, live.ID); err != nil {
		return domain.DunningAttempt{}, err
	}
	return s.attempts.GetAttempt(ctx, live.ID)
}

// CancelPending marks every pending attempt of a subscription non-actionable.
// The records stay pending for audit.
func (s *DunningService) CancelPending(ctx context.Context, subscriptionID string) (int, error) {
	live, err := s.attempts.ListLiveAttempts(ctx, subscriptionID)
	if err != nil {
		return 0, fmt.Errorf("listing live attempts: %w", err)
	}

	cancelled := 0
	for _, a := range live {
		n, err := s.cancelInvoiceAttemptsLocked(ctx, a.InvoiceID)
		if err != nil {
			return cancelled, err
		}
		cancelled += n
	}
	if cancelled > 0 {
		s.logger.Info("pending dunning cancelled",
			zap.String("subscription_id", subscriptionID),
			zap.Int("attempts", cancelled),
		)
	}
	return cancelled, nil
}

// Attempts returns the full attempt history of an invoice.
func (s *DunningService) Attempts(ctx context.Context, invoiceID string) ([]domain.DunningAttempt, error) {
	return s.attempts.ListAttempts(ctx, invoiceID)
}

func (s *DunningService) cancelInvoiceAttemptsLocked(ctx context.Context, invoiceID string) (int, error) {
	unlock := s.locks.Lock(dunningKey(invoiceID))
	defer unlock()
	return s.cancelInvoiceAttempts(ctx, invoiceID)
}

// cancelInvoiceAttempts retires the live attempts of one invoice. The caller
// holds the invoice's dunning lock.
func (s *DunningService) cancelInvoiceAttempts(ctx context.Context, invoiceID string) (int, error) {
	attempts, err := s.attempts.ListAttempts(ctx, invoiceID)
	if err != nil {
		return 0, fmt.Errorf("listing attempts: %w", err)
	}

	n := 0
	for _, a := range attempts {
		if !a.IsLive() {
			continue
		}
		a.Actionable = false
		if err := s.attempts.UpdateAttempt(ctx, a); err != nil {
			return n, fmt.Errorf("cancelling attempt %s: %w", a.ID, err)
		}
		n++
	}
	return n, nil
}

// notify sends the configured dunning notifications for a failed retry.
// Failures are logged; notifications never block the retry plan.
func (s *DunningService) notify(ctx context.Context, event domain.BillingEvent) {
	if s.notifier == nil {
		return
	}

	var actions []domain.Action
	if s.policy.EmailNotifications {
		actions = append(actions, domain.Action{
			ID:   "dunning-email",
			Type: domain.ActionSendEmail,
			Email: &domain.EmailParams{
				Template: dunningEmailTemplate,
				Subject:  "Your payment could not be processed",
			},
		})
	}
	if s.policy.SMSNotifications {
		actions = append(actions, domain.Action{
			ID:   "dunning-sms",
			Type: domain.ActionSendNotification,
			Notification: &domain.NotificationParams{
				Channel: "sms",
				Message: "Your payment failed. We will retry automatically.",
			},
		})
	}

	for _, action := range actions {
		if err := s.notifier.Dispatch(ctx, action, event); err != nil {
			s.logger.Warn("dunning notification failed",
				zap.String("action", string(action.Type)),
				zap.String("invoice_id", event.InvoiceID),
				zap.Error(err),
			)
		}
	}
}
