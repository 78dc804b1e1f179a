package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/neomorfeo/billcycle/internal/domain"
)

// SubscriptionService owns subscription state. Every mutation runs under the
// subscription's lock and is written with compare-and-swap.
type SubscriptionService struct {
	repo      domain.SubscriptionRepository
	catalog   domain.CatalogRepository
	validator domain.TransitionValidator
	scheduler domain.JobScheduler
	events    publisher
	clock     domain.Clock
	locks     *Locker
	logger    *zap.Logger
}

// NewSubscriptionService creates a service with the given adapters.
func NewSubscriptionService(
	repo domain.SubscriptionRepository,
	catalog domain.CatalogRepository,
	validator domain.TransitionValidator,
	scheduler domain.JobScheduler,
	bus domain.EventBus,
	opts Options,
) *SubscriptionService {
	opts = opts.withDefaults()
	return &SubscriptionService{
		repo:      repo,
		catalog:   catalog,
		validator: validator,
		scheduler: scheduler,
		events:    publisher{bus: bus, clock: opts.Clock, logger: opts.Logger},
		clock:     opts.Clock,
		locks:     opts.Locks,
		logger:    opts.Logger.Named("subscriptions"),
	}
}

// CreateSubscriptionInput describes a signup.
type CreateSubscriptionInput struct {
	UserID          string
	PlanID          string
	PaymentMethodID string
	Country         string
	Region          string
}

// Create starts a subscription on an active plan, schedules its first
// renewal and publishes subscription_created.
func (s *SubscriptionService) Create(ctx context.Context, in CreateSubscriptionInput) (domain.Subscription, error) {
	if in.UserID == "" {
		return domain.Subscription{}, &domain.ValidationError{Field: "user_id", Reason: "must not be empty"}
	}

	plan, err := s.catalog.GetPlan(ctx, in.PlanID)
	if err != nil {
		return domain.Subscription{}, err
	}
	if !plan.IsActive {
		return domain.Subscription{}, domain.ErrPlanInactive
	}

	sub := domain.NewSubscription(newID("sub"), in.UserID, plan, in.PaymentMethodID, strings.ToUpper(in.Country), in.Region, s.clock.Now())
	sub.Version = 1

	if err := s.repo.CreateSubscription(ctx, sub); err != nil {
		return domain.Subscription{}, fmt.Errorf("creating subscription: %w", err)
	}

	s.scheduleRenewal(ctx, sub)
	s.events.publish(ctx, domain.BillingEvent{
		Category:       domain.CategorySubscriptionCreated,
		SubscriptionID: sub.ID,
		Reason:         string(sub.Status),
	})

	s.logger.Info("subscription created",
		zap.String("subscription_id", sub.ID),
		zap.String("plan_id", plan.ID),
		zap.String("status", string(sub.Status)),
	)
	return sub, nil
}

// Get returns a subscription by its identifier.
func (s *SubscriptionService) Get(ctx context.Context, id string) (domain.Subscription, error) {
	return s.repo.GetSubscription(ctx, id)
}

// List returns subscriptions matching the filter.
func (s *SubscriptionService) List(ctx context.Context, filter domain.SubscriptionFilter) ([]domain.Subscription, error) {
	return s.repo.ListSubscriptions(ctx, filter)
}

// Activate moves a trialing or past_due subscription to active. Pending
// dunning for the subscription is cancelled by the dunning service when it
// sees subscription_activated.
func (s *SubscriptionService) Activate(ctx context.Context, id string) (domain.Subscription, error) {
	return s.update(ctx, id, func(sub *domain.Subscription) (*domain.BillingEvent, error) {
		if err := s.transition(ctx, sub, domain.EventActivate); err != nil {
			return nil, err
		}
		return &domain.BillingEvent{Category: domain.CategorySubscriptionActivated, SubscriptionID: sub.ID}, nil
	})
}

// MarkPastDue moves an active subscription to past_due because invoiceID
// failed. A subscription already past_due is left as is.
func (s *SubscriptionService) MarkPastDue(ctx context.Context, id, invoiceID string) (domain.Subscription, error) {
	return s.update(ctx, id, func(sub *domain.Subscription) (*domain.BillingEvent, error) {
		if sub.Status == domain.StatusPastDue {
			return nil, nil
		}
		if err := s.transition(ctx, sub, domain.EventMarkPastDue); err != nil {
			return nil, err
		}
		return &domain.BillingEvent{
			Category:       domain.CategorySubscriptionPastDue,
			SubscriptionID: sub.ID,
			InvoiceID:      invoiceID,
		}, nil
	})
}

// Cancel ends a subscription. With atPeriodEnd the status flip is deferred
// to the renewal at CurrentPeriodEnd; otherwise the subscription is
// cancelled now and its pending dunning attempts become non-actionable.
func (s *SubscriptionService) Cancel(ctx context.Context, id string, atPeriodEnd bool) (domain.Subscription, error) {
	return s.update(ctx, id, func(sub *domain.Subscription) (*domain.BillingEvent, error) {
		if atPeriodEnd {
			// Validate only: the status stays until the period ends.
			if _, err := s.validator.ApplySubscription(ctx, sub.Status, domain.EventCancel); err != nil {
				return nil, err
			}
			if sub.CancelAtPeriodEnd {
				return nil, nil
			}
			sub.CancelAtPeriodEnd = true
			return &domain.BillingEvent{
				Category:       domain.CategoryCancelScheduled,
				SubscriptionID: sub.ID,
				Reason:         domain.CancelReasonRequested,
			}, nil
		}
		return s.cancelNow(ctx, sub, domain.CancelReasonRequested)
	})
}

// ResumeCancel clears a scheduled cancellation.
func (s *SubscriptionService) ResumeCancel(ctx context.Context, id string) (domain.Subscription, error) {
	return s.update(ctx, id, func(sub *domain.Subscription) (*domain.BillingEvent, error) {
		if sub.IsTerminal() {
			return nil, &domain.TransitionError{Entity: "subscription", Event: "resume", Current: string(sub.Status)}
		}
		if !sub.CancelAtPeriodEnd {
			return nil, nil
		}
		sub.CancelAtPeriodEnd = false
		return &domain.BillingEvent{Category: domain.CategoryCancelRevoked, SubscriptionID: sub.ID}, nil
	})
}

// CancelForNonPayment is the final dunning escalation. It is a no-op on an
// already cancelled subscription.
func (s *SubscriptionService) CancelForNonPayment(ctx context.Context, id string) (domain.Subscription, error) {
	return s.update(ctx, id, func(sub *domain.Subscription) (*domain.BillingEvent, error) {
		if sub.IsTerminal() {
			return nil, nil
		}
		return s.cancelNow(ctx, sub, domain.CancelReasonNonPayment)
	})
}

// Renew runs the period-end transition. A scheduled cancellation takes
// effect here; otherwise the period advances and subscription_renewed asks
// the invoice engine for the next invoice.
//
// expectedPeriodEnd identifies the period the caller's timer was set for; a
// mismatch with the stored period end returns ErrStaleTimer. A zero value
// skips the check.
func (s *SubscriptionService) Renew(ctx context.Context, id string, expectedPeriodEnd time.Time) (domain.Subscription, error) {
	var renewed bool
	sub, err := s.update(ctx, id, func(sub *domain.Subscription) (*domain.BillingEvent, error) {
		renewed = false
		if sub.IsTerminal() {
			return nil, &domain.TransitionError{Entity: "subscription", Event: string(domain.EventRenew), Current: string(sub.Status)}
		}
		if !expectedPeriodEnd.IsZero() && !sub.CurrentPeriodEnd.Equal(expectedPeriodEnd) {
			return nil, domain.ErrStaleTimer
		}
		if s.clock.Now().Before(sub.CurrentPeriodEnd) {
			return nil, domain.ErrNotDue
		}

		if sub.CancelAtPeriodEnd {
			return s.cancelNow(ctx, sub, domain.CancelReasonPeriodEnd)
		}

		if err := s.transition(ctx, sub, domain.EventRenew); err != nil {
			return nil, err
		}
		plan, err := s.catalog.GetPlan(ctx, sub.PlanID)
		if err != nil {
			return nil, fmt.Errorf("loading plan %q: %w", sub.PlanID, err)
		}
		sub.CurrentPeriodStart = sub.CurrentPeriodEnd
		sub.CurrentPeriodEnd = plan.BillingPeriod.Advance(sub.CurrentPeriodStart)
		renewed = true
		return &domain.BillingEvent{Category: domain.CategorySubscriptionRenewed, SubscriptionID: sub.ID}, nil
	})
	if err != nil {
		return domain.Subscription{}, err
	}

	if renewed {
		s.scheduleRenewal(ctx, sub)
	}
	return sub, nil
}

// RenewDue renews every subscription whose period has ended. It backs up the
// per-subscription renewal timers and returns how many were processed.
func (s *SubscriptionService) RenewDue(ctx context.Context, limit int) (int, error) {
	due, err := s.repo.ListDueForRenewal(ctx, s.clock.Now(), limit)
	if err != nil {
		return 0, fmt.Errorf("listing due subscriptions: %w", err)
	}

	processed := 0
	var errs []error
	for _, sub := range due {
		_, err := s.Renew(ctx, sub.ID, sub.CurrentPeriodEnd)
		switch {
		case err == nil:
			processed++
		case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrStaleTimer),
			errors.Is(err, domain.ErrNotDue):
			// past_due subscriptions wait for dunning to settle.
			s.logger.Debug("skipping renewal", zap.String("subscription_id", sub.ID), zap.Error(err))
		default:
			errs = append(errs, fmt.Errorf("renewing %s: %w", sub.ID, err))
		}
	}
	return processed, errors.Join(errs...)
}

// update loads a subscription under its lock, applies fn and writes the
// result with compare-and-swap, retrying on conflicts. fn returning a nil
// event leaves the stored record untouched.
func (s *SubscriptionService) update(
	ctx context.Context,
	id string,
	fn func(sub *domain.Subscription) (*domain.BillingEvent, error),
) (domain.Subscription, error) {
	unlock := s.locks.Lock(subscriptionKey(id))
	defer unlock()

	var event *domain.BillingEvent
	sub, err := retryOnConflict(func() (domain.Subscription, error) {
		sub, err := s.repo.GetSubscription(ctx, id)
		if err != nil {
			return domain.Subscription{}, err
		}

		event, err = fn(&sub)
		if err != nil || event == nil {
			return sub, err
		}

		sub.UpdatedAt = s.clock.Now()
		return s.repo.CompareAndSwapSubscription(ctx, sub)
	})
	if err != nil {
		return domain.Subscription{}, err
	}

	if event != nil {
		s.events.publish(ctx, *event)
		s.logger.Info("subscription updated",
			zap.String("subscription_id", sub.ID),
			zap.String("event", string(event.Category)),
			zap.String("status", string(sub.Status)),
		)
	}
	return sub, nil
}

func (s *SubscriptionService) transition(ctx context.Context, sub *domain.Subscription, event domain.SubscriptionEvent) error {
	next, err := s.validator.ApplySubscription(ctx, sub.Status, event)
	if err != nil {
		return err
	}
	sub.Status = next
	return nil
}

func (s *SubscriptionService) cancelNow(ctx context.Context, sub *domain.Subscription, reason string) (*domain.BillingEvent, error) {
	if err := s.transition(ctx, sub, domain.EventCancel); err != nil {
		return nil, err
	}
	now := s.clock.Now()
	sub.CancelledAt = &now
	sub.CancelReason = reason
	return &domain.BillingEvent{
		Category:       domain.CategorySubscriptionCancelled,
		SubscriptionID: sub.ID,
		Reason:         reason,
	}, nil
}

// scheduleRenewal arms the period-end timer. A failure is logged: the
// periodic sweep renews anything the timer misses.
func (s *SubscriptionService) scheduleRenewal(ctx context.Context, sub domain.Subscription) {
	if s.scheduler == nil {
		return
	}
	handle, err := s.scheduler.ScheduleRenewal(ctx, sub)
	if err != nil {
		s.logger.Warn("scheduling renewal", zap.String("subscription_id", sub.ID), zap.Error(err))
		return
	}
	s.logger.Debug("renewal scheduled",
		zap.String("subscription_id", sub.ID),
		zap.Int64("job_id", handle.ID),
		zap.Time("at", handle.ScheduledAt),
	)
}
