package domain_test

import (
	"errors"
	"testing"

	"github.com/neomorfeo/billcycle/internal/domain"
)

func TestTransitionError_Error(t *testing.T) {
	err := &domain.TransitionError{
		Entity:  "subscription",
		Event:   string(domain.EventActivate),
		Current: string(domain.StatusCancelled),
	}
	want := `subscription event "activate" is not valid from state "cancelled"`
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestTransitionError_IsInvalidTransition(t *testing.T) {
	var err error = &domain.TransitionError{Entity: "invoice", Event: "pay", Current: "draft"}
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Error("TransitionError should match ErrInvalidTransition")
	}
	if errors.Is(err, domain.ErrInvoiceNotFound) {
		t.Error("TransitionError should not match unrelated sentinels")
	}
}

func TestConflictError_Error(t *testing.T) {
	err := &domain.ConflictError{Entity: "subscription", ID: "sub_1"}
	want := `subscription "sub_1" was modified concurrently`
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestValidationError_Error(t *testing.T) {
	err := &domain.ValidationError{Field: "rate", Reason: "must be a fraction between 0 and 1"}
	want := "invalid rate: must be a fraction between 0 and 1"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
