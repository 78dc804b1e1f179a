package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/neomorfeo/billcycle/internal/domain"
)

// Services bundles the core components wired onto the event bus.
type Services struct {
	Subscriptions *SubscriptionService
	Invoices      *InvoiceService
	Dunning       *DunningService
	Workflows     *WorkflowEngine
	// EventLog, when set, receives every event for audit.
	EventLog domain.EventLog
}

// Register subscribes the services to the events they react to and returns
// the function that removes every subscription again.
//
// The components never call each other for choreography: a state change is
// published, and the interested component reacts.
func Register(bus domain.EventBus, svc Services) (unregister func()) {
	var unsubs []func()
	on := func(category domain.EventCategory, h domain.EventHandler) {
		unsubs = append(unsubs, bus.Subscribe(category, h))
	}

	if svc.EventLog != nil {
		on(domain.CategoryAll, func(ctx context.Context, e domain.BillingEvent) error {
			return svc.EventLog.AppendEvent(ctx, e)
		})
	}

	// Invoicing for new and renewed periods. Trials are invoiced when they renew.
	on(domain.CategorySubscriptionCreated, func(ctx context.Context, e domain.BillingEvent) error {
		if e.Reason != string(domain.StatusActive) {
			return nil
		}
		_, err := svc.Invoices.IssuePeriodInvoice(ctx, e.SubscriptionID)
		return err
	})
	on(domain.CategorySubscriptionRenewed, func(ctx context.Context, e domain.BillingEvent) error {
		_, err := svc.Invoices.IssuePeriodInvoice(ctx, e.SubscriptionID)
		return err
	})

	// A failed charge makes the subscription past due and starts dunning.
	on(domain.CategoryPaymentFailed, func(ctx context.Context, e domain.BillingEvent) error {
		_, err := svc.Subscriptions.MarkPastDue(ctx, e.SubscriptionID, e.InvoiceID)
		if errors.Is(err, domain.ErrInvalidTransition) {
			// e.g. already cancelled; dunning still checks the subscription at fire time.
			err = nil
		}
		_, startErr := svc.Dunning.Start(ctx, e.InvoiceID)
		return errors.Join(err, startErr)
	})
	on(domain.CategorySubscriptionPastDue, func(ctx context.Context, e domain.BillingEvent) error {
		if e.InvoiceID == "" {
			return nil
		}
		_, err := svc.Dunning.Start(ctx, e.InvoiceID)
		return err
	})

	// Reactivation and cancellation retire pending retries.
	retire := func(ctx context.Context, e domain.BillingEvent) error {
		if _, err := svc.Dunning.CancelPending(ctx, e.SubscriptionID); err != nil {
			return fmt.Errorf("retiring dunning for %s: %w", e.SubscriptionID, err)
		}
		return nil
	}
	on(domain.CategorySubscriptionActivated, retire)
	on(domain.CategorySubscriptionCancelled, retire)

	on(domain.CategoryAll, func(ctx context.Context, e domain.BillingEvent) error {
		_, err := svc.Workflows.Evaluate(ctx, e)
		return err
	})

	return func() {
		for _, unsubscribe := range unsubs {
			unsubscribe()
		}
	}
}
