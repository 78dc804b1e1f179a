package app_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/neomorfeo/billcycle/internal/adapter/bus"
	"github.com/neomorfeo/billcycle/internal/adapter/fsm"
	"github.com/neomorfeo/billcycle/internal/adapter/sqlite"
	"github.com/neomorfeo/billcycle/internal/app"
	"github.com/neomorfeo/billcycle/internal/domain"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

const day = 24 * time.Hour

// --- Fakes ---

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeGateway approves every charge unless told to decline.
type fakeGateway struct {
	mu      sync.Mutex
	decline bool
	err     error
	charges []domain.ChargeRequest
}

func (g *fakeGateway) AttemptCharge(_ context.Context, req domain.ChargeRequest) (domain.ChargeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.charges = append(g.charges, req)
	if g.err != nil {
		return domain.ChargeResult{}, g.err
	}
	if g.decline {
		return domain.ChargeResult{Succeeded: false, Reason: "card_declined"}, nil
	}
	return domain.ChargeResult{Succeeded: true}, nil
}

func (g *fakeGateway) SetDecline(decline bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.decline = decline
}

func (g *fakeGateway) Charges() []domain.ChargeRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]domain.ChargeRequest(nil), g.charges...)
}

// fakeScheduler records timers instead of arming them.
type fakeScheduler struct {
	mu       sync.Mutex
	nextID   int64
	failNext error
	attempts []domain.DunningAttempt
	renewals []domain.Subscription
}

func (s *fakeScheduler) ScheduleAttempt(_ context.Context, a domain.DunningAttempt) (domain.JobHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failNext; err != nil {
		s.failNext = nil
		return domain.JobHandle{}, err
	}
	s.nextID++
	s.attempts = append(s.attempts, a)
	return domain.JobHandle{ID: s.nextID, ScheduledAt: a.ScheduledAt}, nil
}

func (s *fakeScheduler) ScheduleRenewal(_ context.Context, sub domain.Subscription) (domain.JobHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.renewals = append(s.renewals, sub)
	return domain.JobHandle{ID: s.nextID, ScheduledAt: sub.CurrentPeriodEnd}, nil
}

// FailNextAttempt makes the next ScheduleAttempt call return err.
func (s *fakeScheduler) FailNextAttempt(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

func (s *fakeScheduler) Attempts() []domain.DunningAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.DunningAttempt(nil), s.attempts...)
}

func (s *fakeScheduler) Renewals() []domain.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Subscription(nil), s.renewals...)
}

type dispatched struct {
	action domain.Action
	event  domain.BillingEvent
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []dispatched
}

func (n *fakeNotifier) Dispatch(_ context.Context, action domain.Action, event domain.BillingEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, dispatched{action: action, event: event})
	return nil
}

func (n *fakeNotifier) Count(actionType domain.ActionType) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, d := range n.sent {
		if d.action.Type == actionType {
			count++
		}
	}
	return count
}

// syncDispatcher runs fired workflows inline instead of through the job queue.
type syncDispatcher struct {
	engine *app.WorkflowEngine
}

func (d syncDispatcher) DispatchActions(ctx context.Context, workflowID string, event domain.BillingEvent) error {
	_, err := d.engine.Execute(ctx, workflowID, event)
	return err
}

// --- Harness ---

// harness wires the services the way the binary does, on an in-memory store.
type harness struct {
	store     *sqlite.Store
	bus       *bus.Bus
	clock     *fakeClock
	gateway   *fakeGateway
	scheduler *fakeScheduler
	notifier  *fakeNotifier

	subs      *app.SubscriptionService
	invoices  *app.InvoiceService
	dunning   *app.DunningService
	workflows *app.WorkflowEngine
	signals   *app.SignalService
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	h := &harness{
		store:     store,
		bus:       bus.New(nil, 4),
		clock:     &fakeClock{now: t0},
		gateway:   &fakeGateway{},
		scheduler: &fakeScheduler{},
		notifier:  &fakeNotifier{},
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.bus.Close(ctx)
	})

	opts := app.Options{Clock: h.clock, Locks: app.NewLocker()}
	validator := fsm.New()

	h.subs = app.NewSubscriptionService(store, store, validator, h.scheduler, h.bus, opts)
	h.invoices = app.NewInvoiceService(store, store, store, validator, h.gateway, h.bus, app.InvoiceSettings{}, opts)
	h.dunning, err = app.NewDunningService(app.DunningDeps{
		Attempts:  store,
		Invoices:  store,
		Subs:      store,
		Gateway:   h.gateway,
		Scheduler: h.scheduler,
		Notifier:  h.notifier,
		Bus:       h.bus,
		Invoicing: h.invoices,
		Lifecycle: h.subs,
	}, domain.DefaultDunningPolicy(), opts)
	if err != nil {
		t.Fatalf("creating dunning service: %v", err)
	}
	h.workflows = app.NewWorkflowEngine(app.WorkflowDeps{
		Repo:     store,
		Ledger:   store,
		Notifier: h.notifier,
		Catalog:  store,
		Bus:      h.bus,
	}, opts)
	h.workflows.SetDispatcher(syncDispatcher{engine: h.workflows})
	h.signals = app.NewSignalService(store, h.bus, opts)

	unregister := app.Register(h.bus, app.Services{
		Subscriptions: h.subs,
		Invoices:      h.invoices,
		Dunning:       h.dunning,
		Workflows:     h.workflows,
		EventLog:      store,
	})
	t.Cleanup(unregister)

	ctx := context.Background()
	plans := []domain.Plan{
		{ID: "plan-pro", Name: "Pro", Price: decimal.RequireFromString("100.00"), Currency: "usd",
			BillingPeriod: domain.PeriodMonthly, IsActive: true, CreatedAt: t0},
		{ID: "plan-trial", Name: "Trial", Price: decimal.RequireFromString("50.00"), Currency: "usd",
			BillingPeriod: domain.PeriodMonthly, TrialDays: 14, IsActive: true, CreatedAt: t0},
		{ID: "plan-legacy", Name: "Legacy", Price: decimal.RequireFromString("10.00"), Currency: "usd",
			BillingPeriod: domain.PeriodMonthly, IsActive: false, CreatedAt: t0},
	}
	for _, p := range plans {
		if err := store.PutPlan(ctx, p); err != nil {
			t.Fatalf("PutPlan failed: %v", err)
		}
	}
	if err := store.PutTaxRate(ctx, domain.TaxRate{
		ID: "tax-us", Country: "US", Rate: decimal.RequireFromString("0.10"), Type: domain.TaxSales,
	}); err != nil {
		t.Fatalf("PutTaxRate failed: %v", err)
	}
	return h
}

// flush waits until every published event has been handled.
func (h *harness) flush(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.bus.Flush(ctx); err != nil {
		t.Fatalf("flushing bus: %v", err)
	}
}

// subscribe creates a US subscription on planID and waits for its first invoice.
func (h *harness) subscribe(t *testing.T, planID string) domain.Subscription {
	t.Helper()
	sub, err := h.subs.Create(context.Background(), app.CreateSubscriptionInput{
		UserID: "user-1", PlanID: planID, PaymentMethodID: "pm_card", Country: "US",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	h.flush(t)
	return sub
}

func (h *harness) subscription(t *testing.T, id string) domain.Subscription {
	t.Helper()
	sub, err := h.subs.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get(%s) failed: %v", id, err)
	}
	return sub
}

func (h *harness) invoicesOf(t *testing.T, subscriptionID string) []domain.Invoice {
	t.Helper()
	invs, err := h.invoices.List(context.Background(), subscriptionID)
	if err != nil {
		t.Fatalf("List invoices failed: %v", err)
	}
	return invs
}

// lastAttempt returns the most recently scheduled dunning attempt.
func (h *harness) lastAttempt(t *testing.T) domain.DunningAttempt {
	t.Helper()
	attempts := h.scheduler.Attempts()
	if len(attempts) == 0 {
		t.Fatal("no dunning attempt scheduled")
	}
	return attempts[len(attempts)-1]
}

// fireAttempt moves the clock to the attempt's time and runs its timer.
func (h *harness) fireAttempt(t *testing.T, a domain.DunningAttempt) error {
	t.Helper()
	h.clock.Set(a.ScheduledAt)
	err := h.dunning.ResolveAttempt(context.Background(), a.ID)
	h.flush(t)
	return err
}

func (h *harness) events(t *testing.T, subscriptionID string, category domain.EventCategory) []domain.BillingEvent {
	t.Helper()
	all, err := h.store.ListEvents(context.Background(), subscriptionID)
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	var out []domain.BillingEvent
	for _, e := range all {
		if e.Category == category {
			out = append(out, e)
		}
	}
	return out
}
