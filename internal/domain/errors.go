package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for simple conditions without extra context.
var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrInvoiceNotFound      = errors.New("invoice not found")
	ErrAttemptNotFound      = errors.New("dunning attempt not found")
	ErrWorkflowNotFound     = errors.New("workflow not found")
	ErrPlanNotFound         = errors.New("plan not found")
	ErrTaxRateNotFound      = errors.New("tax rate not found")
	ErrRunNotFound          = errors.New("workflow run not found")
	ErrInvalidTransition    = errors.New("invalid transition")
	ErrInvoiceImmutable     = errors.New("invoice is paid and immutable")
	ErrNotSignal            = errors.New("category is not an external signal")
	ErrPlanInactive         = errors.New("plan is not active")
	ErrNoPendingAttempt     = errors.New("invoice has no pending dunning attempt")

	// ErrStaleTimer is returned when a timer fires for state that has moved on.
	ErrStaleTimer = errors.New("timer is stale")
	// ErrNotDue is returned when a renewal runs before the period has ended.
	ErrNotDue = errors.New("renewal is not due yet")
)

// TransitionError is returned when a state transition is not allowed.
type TransitionError struct {
	Entity  string
	Event   string
	Current string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s event %q is not valid from state %q", e.Entity, e.Event, e.Current)
}

// Is makes every TransitionError match ErrInvalidTransition.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// ConflictError is returned when a compare-and-swap finds a newer version.
type ConflictError struct {
	Entity string
	ID     string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %q was modified concurrently", e.Entity, e.ID)
}

// ValidationError reports a malformed field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
