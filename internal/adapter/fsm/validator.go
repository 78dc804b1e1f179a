package fsm

import (
	"context"
	"errors"

	loopfsm "github.com/looplab/fsm"

	"github.com/neomorfeo/billcycle/internal/domain"
)

// Compile-time check: Validator implements domain.TransitionValidator.
var _ domain.TransitionValidator = (*Validator)(nil)

type edge struct {
	event string
	src   string
	dst   string
}

// buildEvents converts transition edges into looplab/fsm EventDesc format.
// It consolidates transitions with the same event+destination into a single
// EventDesc with multiple source states (e.g. cancel from "trialing",
// "active" and "past_due" all go to "cancelled").
func buildEvents(edges []edge) []loopfsm.EventDesc {
	type key struct {
		event string
		dst   string
	}
	grouped := make(map[key][]string)
	order := make([]key, 0)

	for _, e := range edges {
		k := key{event: e.event, dst: e.dst}
		if _, exists := grouped[k]; !exists {
			order = append(order, k)
		}
		grouped[k] = append(grouped[k], e.src)
	}

	out := make([]loopfsm.EventDesc, 0, len(order))
	for _, k := range order {
		out = append(out, loopfsm.EventDesc{
			Name: k.event,
			Src:  grouped[k],
			Dst:  k.dst,
		})
	}
	return out
}

var (
	subscriptionEvents = buildEvents(subscriptionEdges())
	invoiceEvents      = buildEvents(invoiceEdges())
)

func subscriptionEdges() []edge {
	out := make([]edge, 0, len(domain.SubscriptionTransitions))
	for _, t := range domain.SubscriptionTransitions {
		out = append(out, edge{event: string(t.Event), src: string(t.Src), dst: string(t.Dst)})
	}
	return out
}

func invoiceEdges() []edge {
	out := make([]edge, 0, len(domain.InvoiceTransitions))
	for _, t := range domain.InvoiceTransitions {
		out = append(out, edge{event: string(t.Event), src: string(t.Src), dst: string(t.Dst)})
	}
	return out
}

// Validator implements domain.TransitionValidator using looplab/fsm.
// It creates a short-lived FSM instance per Apply call, initialized with
// the entity's current state, because looplab/fsm tracks the current state
// internally.
type Validator struct{}

// New creates a new FSM-backed transition validator.
func New() *Validator {
	return &Validator{}
}

// ApplySubscription returns the status a subscription reaches through event,
// or a *domain.TransitionError if the event is not allowed.
func (v *Validator) ApplySubscription(ctx context.Context, current domain.SubscriptionStatus, event domain.SubscriptionEvent) (domain.SubscriptionStatus, error) {
	dst, err := apply(ctx, "subscription", subscriptionEvents, string(current), string(event))
	return domain.SubscriptionStatus(dst), err
}

// ApplyInvoice returns the status an invoice reaches through event, or a
// *domain.TransitionError if the event is not allowed.
func (v *Validator) ApplyInvoice(ctx context.Context, current domain.InvoiceStatus, event domain.InvoiceEvent) (domain.InvoiceStatus, error) {
	dst, err := apply(ctx, "invoice", invoiceEvents, string(current), string(event))
	return domain.InvoiceStatus(dst), err
}

func apply(ctx context.Context, entity string, events []loopfsm.EventDesc, current, event string) (string, error) {
	machine := loopfsm.NewFSM(current, events, nil)

	if err := machine.Event(ctx, event); err != nil {
		// A declared self-loop (renew: active → active) reports NoTransitionError.
		var noTransition loopfsm.NoTransitionError
		if errors.As(err, &noTransition) {
			return current, nil
		}
		var invalidEvent loopfsm.InvalidEventError
		var unknownEvent loopfsm.UnknownEventError
		if errors.As(err, &invalidEvent) || errors.As(err, &unknownEvent) {
			return "", &domain.TransitionError{
				Entity:  entity,
				Event:   event,
				Current: current,
			}
		}
		return "", err
	}

	return machine.Current(), nil
}
