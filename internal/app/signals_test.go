package app_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/neomorfeo/billcycle/internal/app"
	"github.com/neomorfeo/billcycle/internal/domain"
)

func TestSignal_ReportPublishes(t *testing.T) {
	h := newHarness(t)
	sub := h.subscribe(t, "plan-trial")

	event, err := h.signals.Report(context.Background(), app.SignalInput{
		Category:       domain.CategoryUsageThreshold,
		SubscriptionID: sub.ID,
		Metrics:        map[string]float64{"seats": 48},
	})
	if err != nil {
		t.Fatalf("Report failed: %v", err)
	}
	if !strings.HasPrefix(event.ID, "evt_") {
		t.Errorf("ID = %q, want evt_ prefix", event.ID)
	}
	if !event.OccurredAt.Equal(t0) {
		t.Errorf("OccurredAt = %v, want %v", event.OccurredAt, t0)
	}
	h.flush(t)

	logged := h.events(t, sub.ID, domain.CategoryUsageThreshold)
	if len(logged) != 1 || logged[0].ID != event.ID {
		t.Errorf("event log = %+v, want the reported signal", logged)
	}
}

func TestSignal_RejectsBillingCategories(t *testing.T) {
	h := newHarness(t)
	sub := h.subscribe(t, "plan-trial")
	ctx := context.Background()

	for _, category := range []domain.EventCategory{
		domain.CategoryPaymentFailed,
		domain.CategoryInvoicePaid,
		domain.CategorySubscriptionCancelled,
		"made_up",
	} {
		_, err := h.signals.Report(ctx, app.SignalInput{Category: category, SubscriptionID: sub.ID})
		if !errors.Is(err, domain.ErrNotSignal) {
			t.Errorf("%s: expected ErrNotSignal, got: %v", category, err)
		}
	}

	_, err := h.signals.Report(ctx, app.SignalInput{Category: domain.CategoryChurnRisk, SubscriptionID: "sub_missing"})
	if !errors.Is(err, domain.ErrSubscriptionNotFound) {
		t.Errorf("expected ErrSubscriptionNotFound, got: %v", err)
	}
}

func TestLocker_SerializesPerKey(t *testing.T) {
	l := app.NewLocker()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock("subscription:1")
			defer unlock()

			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxSeen)
	}

	// Different keys do not block each other.
	unlockA := l.Lock("a")
	unlockB := l.Lock("b")
	unlockB()
	unlockA()
}
