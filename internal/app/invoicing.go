package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/neomorfeo/billcycle/internal/domain"
)

// InvoiceSettings configures invoice generation.
type InvoiceSettings struct {
	// DueDays is the number of days between issue and due date.
	DueDays int
	// DefaultCurrency is used when the subscription's plan cannot be loaded.
	DefaultCurrency string
}

// InvoiceService is the tax and invoice engine. It owns invoice content
// until the invoice is paid.
type InvoiceService struct {
	repo      domain.InvoiceRepository
	subs      domain.SubscriptionRepository
	catalog   domain.CatalogRepository
	validator domain.TransitionValidator
	gateway   domain.PaymentGateway
	settings  InvoiceSettings
	events    publisher
	clock     domain.Clock
	locks     *Locker
	logger    *zap.Logger
}

// NewInvoiceService creates a service with the given adapters.
func NewInvoiceService(
	repo domain.InvoiceRepository,
	subs domain.SubscriptionRepository,
	catalog domain.CatalogRepository,
	validator domain.TransitionValidator,
	gateway domain.PaymentGateway,
	bus domain.EventBus,
	settings InvoiceSettings,
	opts Options,
) *InvoiceService {
	opts = opts.withDefaults()
	if settings.DueDays <= 0 {
		settings.DueDays = 7
	}
	if settings.DefaultCurrency == "" {
		settings.DefaultCurrency = "usd"
	}
	return &InvoiceService{
		repo:      repo,
		subs:      subs,
		catalog:   catalog,
		validator: validator,
		gateway:   gateway,
		settings:  settings,
		events:    publisher{bus: bus, clock: opts.Clock, logger: opts.Logger},
		clock:     opts.Clock,
		locks:     opts.Locks,
		logger:    opts.Logger.Named("invoices"),
	}
}

// GenerateInvoice builds a draft invoice for the subscription's current
// period. Tax uses the rate of the subscription's jurisdiction; when none is
// configured a zero rate is applied and noted on the invoice.
func (s *InvoiceService) GenerateInvoice(ctx context.Context, sub domain.Subscription, items []domain.InvoiceItem) (domain.Invoice, error) {
	if err := domain.ValidateItems(items); err != nil {
		return domain.Invoice{}, err
	}

	now := s.clock.Now()
	currency := s.settings.DefaultCurrency
	if plan, err := s.catalog.GetPlan(ctx, sub.PlanID); err == nil {
		currency = plan.Currency
	} else if !errors.Is(err, domain.ErrPlanNotFound) {
		return domain.Invoice{}, fmt.Errorf("loading plan: %w", err)
	}

	var notes []string
	rate, err := s.catalog.FindTaxRate(ctx, sub.Country, sub.Region)
	if errors.Is(err, domain.ErrTaxRateNotFound) {
		s.logger.Warn("no tax rate for jurisdiction, applying zero rate",
			zap.String("subscription_id", sub.ID),
			zap.String("country", sub.Country),
			zap.String("region", sub.Region),
		)
		rate = domain.ZeroTaxRate(sub.Country, sub.Region)
		notes = append(notes, fmt.Sprintf("no tax rate configured for %q/%q; zero rate applied", sub.Country, sub.Region))
	} else if err != nil {
		return domain.Invoice{}, fmt.Errorf("looking up tax rate: %w", err)
	}

	discounts, err := s.catalog.ListDiscounts(ctx, sub.ID)
	if err != nil {
		return domain.Invoice{}, fmt.Errorf("loading discounts: %w", err)
	}
	totals := domain.PriceInvoice(items, rate, domain.LargestActiveDiscount(discounts, now), currency)

	inv := domain.Invoice{
		SchemaVersion:  domain.InvoiceSchemaVersion,
		ID:             newID("inv"),
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		Currency:       currency,
		Items:          totals.Items,
		Subtotal:       totals.Subtotal,
		Tax:            totals.Tax,
		TaxRate:        rate,
		Total:          totals.Total,
		Status:         domain.InvoiceDraft,
		PeriodStart:    sub.CurrentPeriodStart,
		PeriodEnd:      sub.CurrentPeriodEnd,
		DueDate:        now.AddDate(0, 0, s.settings.DueDays),
		Notes:          notes,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.CreateInvoice(ctx, inv); err != nil {
		return domain.Invoice{}, fmt.Errorf("creating invoice: %w", err)
	}

	s.events.publish(ctx, domain.BillingEvent{
		Category:       domain.CategoryInvoiceCreated,
		SubscriptionID: sub.ID,
		InvoiceID:      inv.ID,
		Metrics:        map[string]float64{domain.MetricInvoiceTotal: inv.Total.InexactFloat64()},
	})
	return inv, nil
}

// Get returns an invoice by its identifier.
func (s *InvoiceService) Get(ctx context.Context, id string) (domain.Invoice, error) {
	return s.repo.GetInvoice(ctx, id)
}

// List returns the invoices of a subscription, oldest first.
func (s *InvoiceService) List(ctx context.Context, subscriptionID string) ([]domain.Invoice, error) {
	return s.repo.ListInvoices(ctx, subscriptionID)
}

// Finalize moves a draft invoice to pending. Finalizing a pending invoice is a no-op.
func (s *InvoiceService) Finalize(ctx context.Context, id string) (domain.Invoice, error) {
	return s.update(ctx, id, func(inv *domain.Invoice) (*domain.BillingEvent, error) {
		if inv.Status == domain.InvoicePending {
			return nil, nil
		}
		if err := s.transition(ctx, inv, domain.EventFinalize); err != nil {
			return nil, err
		}
		return &domain.BillingEvent{}, nil
	})
}

// ApplyPaymentOutcome settles a pending invoice: paid on success, failed
// otherwise. A failure publishes payment_failed, which starts dunning.
func (s *InvoiceService) ApplyPaymentOutcome(ctx context.Context, id string, result domain.ChargeResult) (domain.Invoice, error) {
	return s.update(ctx, id, func(inv *domain.Invoice) (*domain.BillingEvent, error) {
		if result.Succeeded {
			if err := s.transition(ctx, inv, domain.EventPay); err != nil {
				return nil, err
			}
			now := s.clock.Now()
			inv.PaidAt = &now
			return &domain.BillingEvent{
				Category:       domain.CategoryInvoicePaid,
				SubscriptionID: inv.SubscriptionID,
				InvoiceID:      inv.ID,
				Metrics:        map[string]float64{domain.MetricInvoiceTotal: inv.Total.InexactFloat64()},
			}, nil
		}

		if err := s.transition(ctx, inv, domain.EventFail); err != nil {
			return nil, err
		}
		inv.FailureReason = result.Reason
		return &domain.BillingEvent{
			Category:       domain.CategoryPaymentFailed,
			SubscriptionID: inv.SubscriptionID,
			InvoiceID:      inv.ID,
			Reason:         result.Reason,
			Metrics: map[string]float64{
				domain.MetricFailedPayments: 1,
				domain.MetricAmountDue:      inv.Total.InexactFloat64(),
			},
		}, nil
	})
}

// Recover marks a failed invoice paid after a successful dunning retry.
// Recovering a paid invoice is a no-op.
func (s *InvoiceService) Recover(ctx context.Context, id string) (domain.Invoice, error) {
	return s.update(ctx, id, func(inv *domain.Invoice) (*domain.BillingEvent, error) {
		if inv.IsPaid() {
			return nil, nil
		}
		if err := s.transition(ctx, inv, domain.EventRecover); err != nil {
			return nil, err
		}
		now := s.clock.Now()
		inv.PaidAt = &now
		return &domain.BillingEvent{
			Category:       domain.CategoryInvoicePaid,
			SubscriptionID: inv.SubscriptionID,
			InvoiceID:      inv.ID,
			Reason:         "recovered",
			Metrics:        map[string]float64{domain.MetricInvoiceTotal: inv.Total.InexactFloat64()},
		}, nil
	})
}

// Collect charges a pending invoice through the payment gateway and applies
// the outcome. A gateway error counts as a failed charge so dunning retries
// it. A paid invoice is returned unchanged.
func (s *InvoiceService) Collect(ctx context.Context, id string) (domain.Invoice, error) {
	inv, err := s.repo.GetInvoice(ctx, id)
	if err != nil {
		return domain.Invoice{}, err
	}
	if inv.IsPaid() {
		return inv, nil
	}
	if inv.Status != domain.InvoicePending {
		return domain.Invoice{}, &domain.TransitionError{Entity: "invoice", Event: "collect", Current: string(inv.Status)}
	}

	// Nothing to charge, e.g. a fully discounted period.
	if !inv.Total.IsPositive() {
		return s.ApplyPaymentOutcome(ctx, id, domain.ChargeResult{Succeeded: true})
	}

	sub, err := s.subs.GetSubscription(ctx, inv.SubscriptionID)
	if err != nil {
		return domain.Invoice{}, fmt.Errorf("loading subscription: %w", err)
	}

	result, err := s.gateway.AttemptCharge(ctx, domain.ChargeRequest{
		PaymentMethodID: sub.PaymentMethodID,
		Amount:          inv.Total,
		Currency:        inv.Currency,
		IdempotencyKey:  inv.ID,
	})
	if err != nil {
		s.logger.Warn("payment gateway error", zap.String("invoice_id", inv.ID), zap.Error(err))
		result = domain.ChargeResult{Succeeded: false, Reason: err.Error()}
	}

	return s.ApplyPaymentOutcome(ctx, id, result)
}

// IssuePeriodInvoice invoices the subscription's current period for its
// plan price, finalizes the invoice and collects it. A period that already
// has an invoice is not invoiced again.
func (s *InvoiceService) IssuePeriodInvoice(ctx context.Context, subscriptionID string) (domain.Invoice, error) {
	sub, err := s.subs.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return domain.Invoice{}, err
	}

	existing, err := s.repo.ListInvoices(ctx, sub.ID)
	if err != nil {
		return domain.Invoice{}, fmt.Errorf("listing invoices: %w", err)
	}
	for _, inv := range existing {
		if inv.PeriodStart.Equal(sub.CurrentPeriodStart) {
			return inv, nil
		}
	}

	plan, err := s.catalog.GetPlan(ctx, sub.PlanID)
	if err != nil {
		return domain.Invoice{}, fmt.Errorf("loading plan %q: %w", sub.PlanID, err)
	}

	inv, err := s.GenerateInvoice(ctx, sub, []domain.InvoiceItem{{
		Description: fmt.Sprintf("%s (%s, %s to %s)", plan.Name, plan.BillingPeriod,
			sub.CurrentPeriodStart.Format(time.DateOnly), sub.CurrentPeriodEnd.Format(time.DateOnly)),
		Quantity:  1,
		UnitPrice: plan.Price,
		Taxable:   true,
	}})
	if err != nil {
		return domain.Invoice{}, err
	}
	if _, err := s.Finalize(ctx, inv.ID); err != nil {
		return domain.Invoice{}, err
	}
	return s.Collect(ctx, inv.ID)
}

// update loads an invoice under its lock, applies fn and writes the result
// with compare-and-swap. A nil event means nothing changed; an event without
// a category is written but not published.
func (s *InvoiceService) update(
	ctx context.Context,
	id string,
	fn func(inv *domain.Invoice) (*domain.BillingEvent, error),
) (domain.Invoice, error) {
	unlock := s.locks.Lock(invoiceKey(id))
	defer unlock()

	var event *domain.BillingEvent
	inv, err := retryOnConflict(func() (domain.Invoice, error) {
		inv, err := s.repo.GetInvoice(ctx, id)
		if err != nil {
			return domain.Invoice{}, err
		}
		before := inv.Status

		event, err = fn(&inv)
		if err != nil || event == nil {
			return inv, err
		}
		if before == domain.InvoicePaid {
			return domain.Invoice{}, domain.ErrInvoiceImmutable
		}

		inv.UpdatedAt = s.clock.Now()
		return s.repo.CompareAndSwapInvoice(ctx, inv)
	})
	if err != nil {
		return domain.Invoice{}, err
	}

	if event != nil {
		s.logger.Info("invoice updated",
			zap.String("invoice_id", inv.ID),
			zap.String("status", string(inv.Status)),
		)
		if event.Category != "" {
			s.events.publish(ctx, *event)
		}
	}
	return inv, nil
}

func (s *InvoiceService) transition(ctx context.Context, inv *domain.Invoice, event domain.InvoiceEvent) error {
	next, err := s.validator.ApplyInvoice(ctx, inv.Status, event)
	if err != nil {
		if inv.IsPaid() {
			return errors.Join(domain.ErrInvoiceImmutable, err)
		}
		return err
	}
	inv.Status = next
	return nil
}
