package app

import (
	"context"

	"go.uber.org/zap"

	"github.com/neomorfeo/billcycle/internal/domain"
)

// SignalService accepts metric observations from outside the core. Signals
// can trigger workflows but never change billing state by themselves.
type SignalService struct {
	subs   domain.SubscriptionRepository
	events publisher
	logger *zap.Logger
}

// NewSignalService creates a service with the given adapters.
func NewSignalService(subs domain.SubscriptionRepository, bus domain.EventBus, opts Options) *SignalService {
	opts = opts.withDefaults()
	return &SignalService{
		subs:   subs,
		events: publisher{bus: bus, clock: opts.Clock, logger: opts.Logger},
		logger: opts.Logger.Named("signals"),
	}
}

// SignalInput is an externally reported observation.
type SignalInput struct {
	Category       domain.EventCategory
	SubscriptionID string
	Metrics        map[string]float64
	Reason         string
}

// Report publishes a signal event. Only signal categories are accepted:
// billing-authoritative events come from the core alone.
func (s *SignalService) Report(ctx context.Context, in SignalInput) (domain.BillingEvent, error) {
	if !in.Category.IsSignal() {
		return domain.BillingEvent{}, domain.ErrNotSignal
	}
	if _, err := s.subs.GetSubscription(ctx, in.SubscriptionID); err != nil {
		return domain.BillingEvent{}, err
	}

	event := s.events.publish(ctx, domain.BillingEvent{
		Category:       in.Category,
		SubscriptionID: in.SubscriptionID,
		Metrics:        in.Metrics,
		Reason:         in.Reason,
	})
	s.logger.Debug("signal reported",
		zap.String("category", string(in.Category)),
		zap.String("subscription_id", in.SubscriptionID),
		zap.String("event_id", event.ID),
	)
	return event, nil
}
