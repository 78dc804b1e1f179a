// Package http exposes the billing operator API over Huma.
package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/neomorfeo/billcycle/internal/app"
	"github.com/neomorfeo/billcycle/internal/domain"
)

// Services bundles the application services the API drives.
type Services struct {
	Subscriptions *app.SubscriptionService
	Invoices      *app.InvoiceService
	Dunning       *app.DunningService
	Workflows     *app.WorkflowEngine
	Catalog       *app.CatalogService
	Signals       *app.SignalService
	Events        domain.EventLog
}

// Register adds every API route to the Huma API.
func Register(api huma.API, svc Services) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/healthz",
		Summary:     "Liveness probe",
		Tags:        []string{"Health"},
	}, func(_ context.Context, _ *struct{}) (*HealthOutput, error) {
		out := &HealthOutput{}
		out.Body.Status = "ok"
		return out, nil
	})

	registerSubscriptions(api, svc)
	registerInvoices(api, svc)
	registerCatalog(api, svc)
	registerWorkflows(api, svc)
}

// HealthOutput is the liveness probe response.
type HealthOutput struct {
	Body struct {
		Status string `json:"status" example:"ok"`
	}
}

// IDPath selects a resource by ID.
type IDPath struct {
	ID string `path:"id" doc:"Resource ID"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

// toHumaError translates domain errors to Huma HTTP errors.
func toHumaError(err error) error {
	switch {
	case errors.Is(err, domain.ErrSubscriptionNotFound),
		errors.Is(err, domain.ErrInvoiceNotFound),
		errors.Is(err, domain.ErrAttemptNotFound),
		errors.Is(err, domain.ErrWorkflowNotFound),
		errors.Is(err, domain.ErrPlanNotFound):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, domain.ErrNotSignal):
		return huma.Error400BadRequest(err.Error())
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrInvoiceImmutable),
		errors.Is(err, domain.ErrNoPendingAttempt),
		errors.Is(err, domain.ErrStaleTimer),
		errors.Is(err, domain.ErrPlanInactive):
		return huma.Error409Conflict(err.Error())
	}

	var conflict *domain.ConflictError
	if errors.As(err, &conflict) {
		return huma.Error409Conflict(conflict.Error())
	}

	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		return huma.Error422UnprocessableEntity(verr.Error())
	}

	return huma.Error500InternalServerError("internal server error")
}
