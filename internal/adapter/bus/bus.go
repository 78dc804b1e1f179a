// Package bus implements the in-process billing event bus.
//
// Events are routed to a shard chosen by subscription id, and each shard is
// drained by a single goroutine, so events of one subscription are delivered
// in publish order while different subscriptions proceed in parallel.
// Publish never blocks: handlers may publish follow-up events.
package bus

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"

	"go.uber.org/zap"

	"github.com/neomorfeo/billcycle/internal/domain"
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("event bus closed")

// Compile-time check: Bus implements domain.EventBus.
var _ domain.EventBus = (*Bus)(nil)

type subscription struct {
	id       uint64
	category domain.EventCategory
	handler  domain.EventHandler
}

// Bus is a sharded in-memory event bus.
type Bus struct {
	logger *zap.Logger
	shards []*shard

	mu     sync.RWMutex
	subs   []subscription
	nextID uint64
	closed bool

	pendingMu sync.Mutex
	pending   int
	idle      chan struct{}

	wg sync.WaitGroup
}

type shard struct {
	mu     sync.Mutex
	queue  []queued
	notify chan struct{}
	done   chan struct{}
}

type queued struct {
	ctx   context.Context
	event domain.BillingEvent
}

// New starts a bus with the given number of shards (minimum 1).
func New(logger *zap.Logger, shards int) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	if shards < 1 {
		shards = 1
	}
	idle := make(chan struct{})
	close(idle)

	b := &Bus{
		logger: logger,
		shards: make([]*shard, shards),
		idle:   idle,
	}
	for i := range b.shards {
		s := &shard{notify: make(chan struct{}, 1), done: make(chan struct{})}
		b.shards[i] = s
		b.wg.Add(1)
		go b.run(s)
	}
	return b
}

// Subscribe registers handler for category. CategoryAll receives every event.
func (b *Bus) Subscribe(category domain.EventCategory, handler domain.EventHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, category: category, handler: handler})
	b.logger.Debug("handler subscribed", zap.String("category", string(category)))

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(id) })
	}
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := b.subs[:0:0]
	for _, s := range b.subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	b.subs = out
}

// Publish enqueues the event on its subscription's shard.
func (b *Bus) Publish(ctx context.Context, event domain.BillingEvent) error {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	b.addPending(1)

	s := b.shardFor(event.SubscriptionID)
	s.mu.Lock()
	s.queue = append(s.queue, queued{ctx: context.WithoutCancel(ctx), event: event})
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return nil
}

// Flush blocks until every published event, including events published by
// handlers while flushing, has been delivered.
func (b *Bus) Flush(ctx context.Context) error {
	for {
		b.pendingMu.Lock()
		idle := b.idle
		b.pendingMu.Unlock()

		select {
		case <-idle:
			b.pendingMu.Lock()
			done := b.pending == 0
			b.pendingMu.Unlock()
			if done {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close delivers queued events, stops the shard goroutines and drops all
// subscriptions. It is safe to call more than once.
func (b *Bus) Close(ctx context.Context) error {
	if err := b.Flush(ctx); err != nil {
		return fmt.Errorf("draining event bus: %w", err)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.subs = nil
	b.mu.Unlock()

	for _, s := range b.shards {
		close(s.done)
	}
	b.wg.Wait()
	b.logger.Info("event bus stopped")
	return nil
}

func (b *Bus) shardFor(subscriptionID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(subscriptionID))
	return b.shards[h.Sum32()%uint32(len(b.shards))]
}

func (b *Bus) addPending(delta int) {
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()

	before := b.pending
	b.pending += delta
	switch {
	case before == 0 && b.pending > 0:
		b.idle = make(chan struct{})
	case before > 0 && b.pending == 0:
		close(b.idle)
	}
}

func (b *Bus) run(s *shard) {
	defer b.wg.Done()
	for {
		select {
		case <-s.notify:
		case <-s.done:
			return
		}
		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			next := s.queue[0]
			s.queue[0] = queued{}
			s.queue = s.queue[1:]
			s.mu.Unlock()

			b.deliver(next.ctx, next.event)
			b.addPending(-1)
		}
	}
}

func (b *Bus) deliver(ctx context.Context, event domain.BillingEvent) {
	b.mu.RLock()
	handlers := make([]domain.EventHandler, 0, len(b.subs))
	for _, s := range b.subs {
		if s.category == domain.CategoryAll || s.category == event.Category {
			handlers = append(handlers, s.handler)
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := b.dispatch(ctx, h, event); err != nil {
			// Log error but continue with other handlers.
			b.logger.Error("handler failed to process event",
				zap.String("category", string(event.Category)),
				zap.String("event_id", event.ID),
				zap.String("subscription_id", event.SubscriptionID),
				zap.Error(err),
			)
		}
	}
}

func (b *Bus) dispatch(ctx context.Context, h domain.EventHandler, event domain.BillingEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h(ctx, event)
}
