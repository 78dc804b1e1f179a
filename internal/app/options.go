package app

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/neomorfeo/billcycle/internal/domain"
)

// maxCASAttempts bounds compare-and-swap retries on concurrent modification.
const maxCASAttempts = 3

// Options carries the collaborators every service shares.
type Options struct {
	Logger *zap.Logger
	Clock  domain.Clock
	// Locks must be shared between services so lock keys stay exclusive.
	Locks *Locker
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Clock == nil {
		o.Clock = domain.SystemClock{}
	}
	if o.Locks == nil {
		o.Locks = NewLocker()
	}
	return o
}

// retryOnConflict runs fn again while it fails with a ConflictError.
func retryOnConflict[T any](fn func() (T, error)) (T, error) {
	var (
		v   T
		err error
	)
	for range maxCASAttempts {
		v, err = fn()
		var conflict *domain.ConflictError
		if !errors.As(err, &conflict) {
			return v, err
		}
	}
	return v, err
}

// publisher stamps and publishes billing events.
type publisher struct {
	bus    domain.EventBus
	clock  domain.Clock
	logger *zap.Logger
}

// publish assigns the event an id and timestamp and hands it to the bus.
// State has already been persisted, so a bus failure is logged, not returned.
func (p publisher) publish(ctx context.Context, event domain.BillingEvent) domain.BillingEvent {
	if event.ID == "" {
		id, err := newEventID()
		if err != nil {
			p.logger.Error("dropping billing event", zap.String("category", string(event.Category)), zap.Error(err))
			return event
		}
		event.ID = id
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = p.clock.Now()
	}
	if err := p.bus.Publish(ctx, event); err != nil {
		p.logger.Error("publishing billing event",
			zap.String("category", string(event.Category)),
			zap.String("event_id", event.ID),
			zap.String("subscription_id", event.SubscriptionID),
			zap.Error(err),
		)
	}
	return event
}
