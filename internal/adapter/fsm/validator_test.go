package fsm_test

import (
	"context"
	"errors"
	"testing"

	adapter "github.com/neomorfeo/billcycle/internal/adapter/fsm"
	"github.com/neomorfeo/billcycle/internal/domain"
)

func TestValidator_AllSubscriptionTransitions(t *testing.T) {
	v := adapter.New()
	ctx := context.Background()

	for _, tr := range domain.SubscriptionTransitions {
		dst, err := v.ApplySubscription(ctx, tr.Src, tr.Event)
		if err != nil {
			t.Errorf("ApplySubscription(%q, %q) unexpected error: %v", tr.Src, tr.Event, err)
			continue
		}
		if dst != tr.Dst {
			t.Errorf("ApplySubscription(%q, %q) = %q, want %q", tr.Src, tr.Event, dst, tr.Dst)
		}
	}
}

func TestValidator_AllInvoiceTransitions(t *testing.T) {
	v := adapter.New()
	ctx := context.Background()

	for _, tr := range domain.InvoiceTransitions {
		dst, err := v.ApplyInvoice(ctx, tr.Src, tr.Event)
		if err != nil {
			t.Errorf("ApplyInvoice(%q, %q) unexpected error: %v", tr.Src, tr.Event, err)
			continue
		}
		if dst != tr.Dst {
			t.Errorf("ApplyInvoice(%q, %q) = %q, want %q", tr.Src, tr.Event, dst, tr.Dst)
		}
	}
}

func TestValidator_RenewSelfLoop(t *testing.T) {
	v := adapter.New()

	got, err := v.ApplySubscription(context.Background(), domain.StatusActive, domain.EventRenew)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != domain.StatusActive {
		t.Errorf("got %q, want %q", got, domain.StatusActive)
	}
}

func TestValidator_CancelledIsTerminal(t *testing.T) {
	v := adapter.New()
	ctx := context.Background()

	events := []domain.SubscriptionEvent{
		domain.EventActivate, domain.EventMarkPastDue, domain.EventCancel, domain.EventRenew,
	}
	for _, event := range events {
		_, err := v.ApplySubscription(ctx, domain.StatusCancelled, event)
		var trErr *domain.TransitionError
		if !errors.As(err, &trErr) {
			t.Errorf("ApplySubscription(cancelled, %q): expected TransitionError, got %v", event, err)
			continue
		}
		if trErr.Current != string(domain.StatusCancelled) {
			t.Errorf("current = %q, want %q", trErr.Current, domain.StatusCancelled)
		}
	}
}

func TestValidator_PaidInvoiceIsImmutable(t *testing.T) {
	v := adapter.New()
	ctx := context.Background()

	events := []domain.InvoiceEvent{domain.EventFinalize, domain.EventPay, domain.EventFail, domain.EventRecover}
	for _, event := range events {
		_, err := v.ApplyInvoice(ctx, domain.InvoicePaid, event)
		if !errors.Is(err, domain.ErrInvalidTransition) {
			t.Errorf("ApplyInvoice(paid, %q): expected ErrInvalidTransition, got %v", event, err)
		}
	}
}

func TestValidator_InvalidTransition(t *testing.T) {
	v := adapter.New()

	// Can't go past_due from trialing.
	_, err := v.ApplySubscription(context.Background(), domain.StatusTrialing, domain.EventMarkPastDue)
	var trErr *domain.TransitionError
	if !errors.As(err, &trErr) {
		t.Fatalf("expected TransitionError, got %v", err)
	}
	if trErr.Entity != "subscription" {
		t.Errorf("entity = %q, want %q", trErr.Entity, "subscription")
	}
	if trErr.Event != string(domain.EventMarkPastDue) {
		t.Errorf("event = %q, want %q", trErr.Event, domain.EventMarkPastDue)
	}
}

func TestValidator_UnknownEvent(t *testing.T) {
	v := adapter.New()

	_, err := v.ApplyInvoice(context.Background(), domain.InvoiceDraft, "void")
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition for unknown event, got %v", err)
	}
}
