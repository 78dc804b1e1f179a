package http

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/neomorfeo/billcycle/internal/app"
	"github.com/neomorfeo/billcycle/internal/domain"
)

// SubscriptionResponse is the API representation of a subscription.
type SubscriptionResponse struct {
	ID                 string `json:"id" doc:"Unique identifier"`
	UserID             string `json:"user_id" doc:"Owning user"`
	PlanID             string `json:"plan_id" doc:"Subscribed plan"`
	Status             string `json:"status" doc:"Lifecycle state"`
	Country            string `json:"country" doc:"Billing country (ISO 3166-1 alpha-2)"`
	Region             string `json:"region,omitempty" doc:"Billing region"`
	CurrentPeriodStart string `json:"current_period_start" doc:"Start of the current period (RFC 3339)"`
	CurrentPeriodEnd   string `json:"current_period_end" doc:"End of the current period (RFC 3339)"`
	CancelAtPeriodEnd  bool   `json:"cancel_at_period_end" doc:"Cancellation is scheduled for the period end"`
	CancelledAt        string `json:"cancelled_at,omitempty" doc:"Cancellation time (RFC 3339)"`
	CancelReason       string `json:"cancel_reason,omitempty" doc:"Why the subscription ended"`
	Version            int    `json:"version" doc:"Optimistic concurrency version"`
	CreatedAt          string `json:"created_at" doc:"Creation timestamp (RFC 3339)"`
}

func toSubscriptionResponse(s domain.Subscription) SubscriptionResponse {
	return SubscriptionResponse{
		ID:                 s.ID,
		UserID:             s.UserID,
		PlanID:             s.PlanID,
		Status:             string(s.Status),
		Country:            s.Country,
		Region:             s.Region,
		CurrentPeriodStart: formatTime(s.CurrentPeriodStart),
		CurrentPeriodEnd:   formatTime(s.CurrentPeriodEnd),
		CancelAtPeriodEnd:  s.CancelAtPeriodEnd,
		CancelledAt:        formatTimePtr(s.CancelledAt),
		CancelReason:       s.CancelReason,
		Version:            s.Version,
		CreatedAt:          formatTime(s.CreatedAt),
	}
}

// EventResponse is the API representation of a logged billing event.
type EventResponse struct {
	ID         string             `json:"id"`
	Category   string             `json:"category"`
	InvoiceID  string             `json:"invoice_id,omitempty"`
	Metrics    map[string]float64 `json:"metrics,omitempty"`
	Reason     string             `json:"reason,omitempty"`
	OccurredAt string             `json:"occurred_at"`
}

func toEventResponse(e domain.BillingEvent) EventResponse {
	return EventResponse{
		ID:         e.ID,
		Category:   string(e.Category),
		InvoiceID:  e.InvoiceID,
		Metrics:    e.Metrics,
		Reason:     e.Reason,
		OccurredAt: formatTime(e.OccurredAt),
	}
}

// --- Create Subscription ---

type CreateSubscriptionInput struct {
	Body struct {
		UserID          string `json:"user_id" minLength:"1" doc:"Owning user"`
		PlanID          string `json:"plan_id" minLength:"1" doc:"Plan to subscribe to"`
		PaymentMethodID string `json:"payment_method_id" minLength:"1" doc:"Payment method charged each period"`
		Country         string `json:"country" minLength:"2" maxLength:"2" doc:"Billing country (ISO 3166-1 alpha-2)"`
		Region          string `json:"region,omitempty" doc:"Billing region for regional tax rates"`
	}
}

type SubscriptionOutput struct {
	Body SubscriptionResponse
}

// --- List Subscriptions ---

type ListSubscriptionsInput struct {
	Status string `query:"status" required:"false" enum:"trialing,active,past_due,cancelled" doc:"Filter by status"`
	UserID string `query:"user_id" required:"false" doc:"Filter by user"`
	Limit  int    `query:"limit" required:"false" default:"50" minimum:"1" maximum:"500" doc:"Max results"`
	Offset int    `query:"offset" required:"false" default:"0" minimum:"0" doc:"Pagination offset"`
}

type ListSubscriptionsOutput struct {
	Body []SubscriptionResponse
}

// --- Cancel ---

type CancelSubscriptionInput struct {
	ID   string `path:"id" doc:"Subscription ID"`
	Body struct {
		AtPeriodEnd bool `json:"at_period_end,omitempty" doc:"Cancel when the current period ends instead of now"`
	}
}

// --- Events and Signals ---

type ListEventsOutput struct {
	Body []EventResponse
}

type ReportSignalInput struct {
	ID   string `path:"id" doc:"Subscription ID"`
	Body struct {
		Category string             `json:"category" doc:"Signal category (usage_threshold_crossed or churn_risk_detected)"`
		Metrics  map[string]float64 `json:"metrics,omitempty" doc:"Observed metric values"`
		Reason   string             `json:"reason,omitempty" doc:"Free-form context"`
	}
}

type ReportSignalOutput struct {
	Body EventResponse
}

func registerSubscriptions(api huma.API, svc Services) {
	tags := []string{"Subscriptions"}

	huma.Register(api, huma.Operation{
		OperationID:   "create-subscription",
		Method:        http.MethodPost,
		Path:          "/api/v1/subscriptions",
		Summary:       "Subscribe a user to a plan",
		Tags:          tags,
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *CreateSubscriptionInput) (*SubscriptionOutput, error) {
		sub, err := svc.Subscriptions.Create(ctx, app.CreateSubscriptionInput{
			UserID:          input.Body.UserID,
			PlanID:          input.Body.PlanID,
			PaymentMethodID: input.Body.PaymentMethodID,
			Country:         input.Body.Country,
			Region:          input.Body.Region,
		})
		if err != nil {
			return nil, toHumaError(err)
		}
		return &SubscriptionOutput{Body: toSubscriptionResponse(sub)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-subscriptions",
		Method:      http.MethodGet,
		Path:        "/api/v1/subscriptions",
		Summary:     "List subscriptions",
		Tags:        tags,
	}, func(ctx context.Context, input *ListSubscriptionsInput) (*ListSubscriptionsOutput, error) {
		filter := domain.SubscriptionFilter{UserID: input.UserID, Limit: input.Limit, Offset: input.Offset}
		if input.Status != "" {
			s := domain.SubscriptionStatus(input.Status)
			filter.Status = &s
		}

		subs, err := svc.Subscriptions.List(ctx, filter)
		if err != nil {
			return nil, toHumaError(err)
		}
		resp := make([]SubscriptionResponse, len(subs))
		for i, s := range subs {
			resp[i] = toSubscriptionResponse(s)
		}
		return &ListSubscriptionsOutput{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-subscription",
		Method:      http.MethodGet,
		Path:        "/api/v1/subscriptions/{id}",
		Summary:     "Get a subscription by ID",
		Tags:        tags,
	}, func(ctx context.Context, input *IDPath) (*SubscriptionOutput, error) {
		sub, err := svc.Subscriptions.Get(ctx, input.ID)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &SubscriptionOutput{Body: toSubscriptionResponse(sub)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-subscription",
		Method:      http.MethodPost,
		Path:        "/api/v1/subscriptions/{id}/cancel",
		Summary:     "Cancel now or at the end of the current period",
		Tags:        tags,
	}, func(ctx context.Context, input *CancelSubscriptionInput) (*SubscriptionOutput, error) {
		sub, err := svc.Subscriptions.Cancel(ctx, input.ID, input.Body.AtPeriodEnd)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &SubscriptionOutput{Body: toSubscriptionResponse(sub)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resume-subscription",
		Method:      http.MethodPost,
		Path:        "/api/v1/subscriptions/{id}/resume",
		Summary:     "Revoke a scheduled cancellation",
		Tags:        tags,
	}, func(ctx context.Context, input *IDPath) (*SubscriptionOutput, error) {
		sub, err := svc.Subscriptions.ResumeCancel(ctx, input.ID)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &SubscriptionOutput{Body: toSubscriptionResponse(sub)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "activate-subscription",
		Method:      http.MethodPost,
		Path:        "/api/v1/subscriptions/{id}/activate",
		Summary:     "Activate a trialing or past due subscription",
		Tags:        tags,
	}, func(ctx context.Context, input *IDPath) (*SubscriptionOutput, error) {
		sub, err := svc.Subscriptions.Activate(ctx, input.ID)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &SubscriptionOutput{Body: toSubscriptionResponse(sub)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-subscription-events",
		Method:      http.MethodGet,
		Path:        "/api/v1/subscriptions/{id}/events",
		Summary:     "List the billing events of a subscription",
		Tags:        tags,
	}, func(ctx context.Context, input *IDPath) (*ListEventsOutput, error) {
		if _, err := svc.Subscriptions.Get(ctx, input.ID); err != nil {
			return nil, toHumaError(err)
		}
		events, err := svc.Events.ListEvents(ctx, input.ID)
		if err != nil {
			return nil, toHumaError(err)
		}
		resp := make([]EventResponse, len(events))
		for i, e := range events {
			resp[i] = toEventResponse(e)
		}
		return &ListEventsOutput{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "report-signal",
		Method:        http.MethodPost,
		Path:          "/api/v1/subscriptions/{id}/signals",
		Summary:       "Report a usage or churn signal",
		Tags:          tags,
		DefaultStatus: http.StatusAccepted,
	}, func(ctx context.Context, input *ReportSignalInput) (*ReportSignalOutput, error) {
		event, err := svc.Signals.Report(ctx, app.SignalInput{
			Category:       domain.EventCategory(input.Body.Category),
			SubscriptionID: input.ID,
			Metrics:        input.Body.Metrics,
			Reason:         input.Body.Reason,
		})
		if err != nil {
			return nil, toHumaError(err)
		}
		return &ReportSignalOutput{Body: toEventResponse(event)}, nil
	})
}
