package http

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/neomorfeo/billcycle/internal/domain"
)

// InvoiceItemResponse is one invoice line. Amounts are decimal strings.
type InvoiceItemResponse struct {
	Description string `json:"description"`
	Quantity    int64  `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	Amount      string `json:"amount"`
	Taxable     bool   `json:"taxable"`
}

// InvoiceResponse is the API representation of an invoice.
type InvoiceResponse struct {
	ID             string                `json:"id" doc:"Unique identifier"`
	SubscriptionID string                `json:"subscription_id"`
	Status         string                `json:"status" doc:"draft, pending, paid or failed"`
	Currency       string                `json:"currency"`
	Items          []InvoiceItemResponse `json:"items"`
	Subtotal       string                `json:"subtotal" doc:"Sum of line amounts"`
	Tax            string                `json:"tax"`
	TaxRate        string                `json:"tax_rate" doc:"Applied rate as a fraction"`
	Total          string                `json:"total"`
	PeriodStart    string                `json:"period_start,omitempty"`
	PeriodEnd      string                `json:"period_end,omitempty"`
	DueDate        string                `json:"due_date"`
	PaidAt         string                `json:"paid_at,omitempty"`
	FailureReason  string                `json:"failure_reason,omitempty"`
	Notes          []string              `json:"notes,omitempty"`
	Version        int                   `json:"version"`
	CreatedAt      string                `json:"created_at"`
}

func toInvoiceResponse(inv domain.Invoice) InvoiceResponse {
	items := make([]InvoiceItemResponse, len(inv.Items))
	for i, it := range inv.Items {
		items[i] = InvoiceItemResponse{
			Description: it.Description,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice.StringFixed(2),
			Amount:      it.Amount.StringFixed(2),
			Taxable:     it.Taxable,
		}
	}
	return InvoiceResponse{
		ID:             inv.ID,
		SubscriptionID: inv.SubscriptionID,
		Status:         string(inv.Status),
		Currency:       inv.Currency,
		Items:          items,
		Subtotal:       inv.Subtotal.StringFixed(2),
		Tax:            inv.Tax.StringFixed(2),
		TaxRate:        inv.TaxRate.Rate.String(),
		Total:          inv.Total.StringFixed(2),
		PeriodStart:    formatTime(inv.PeriodStart),
		PeriodEnd:      formatTime(inv.PeriodEnd),
		DueDate:        formatTime(inv.DueDate),
		PaidAt:         formatTimePtr(inv.PaidAt),
		FailureReason:  inv.FailureReason,
		Notes:          inv.Notes,
		Version:        inv.Version,
		CreatedAt:      formatTime(inv.CreatedAt),
	}
}

// AttemptResponse is the API representation of a dunning attempt.
type AttemptResponse struct {
	ID            string `json:"id"`
	Index         int    `json:"index" doc:"1-based retry number"`
	ScheduledAt   string `json:"scheduled_at"`
	Outcome       string `json:"outcome" doc:"pending, succeeded or failed"`
	Actionable    bool   `json:"actionable" doc:"False once the attempt has been retired"`
	FailureReason string `json:"failure_reason,omitempty"`
	ResolvedAt    string `json:"resolved_at,omitempty"`
}

func toAttemptResponse(a domain.DunningAttempt) AttemptResponse {
	return AttemptResponse{
		ID:            a.ID,
		Index:         a.Index,
		ScheduledAt:   formatTime(a.ScheduledAt),
		Outcome:       string(a.Outcome),
		Actionable:    a.Actionable,
		FailureReason: a.FailureReason,
		ResolvedAt:    formatTimePtr(a.ResolvedAt),
	}
}

type InvoiceOutput struct {
	Body InvoiceResponse
}

type ListInvoicesOutput struct {
	Body []InvoiceResponse
}

type ListAttemptsOutput struct {
	Body []AttemptResponse
}

type AttemptOutput struct {
	Body AttemptResponse
}

func registerInvoices(api huma.API, svc Services) {
	tags := []string{"Invoices"}

	huma.Register(api, huma.Operation{
		OperationID: "list-subscription-invoices",
		Method:      http.MethodGet,
		Path:        "/api/v1/subscriptions/{id}/invoices",
		Summary:     "List the invoices of a subscription",
		Tags:        tags,
	}, func(ctx context.Context, input *IDPath) (*ListInvoicesOutput, error) {
		if _, err := svc.Subscriptions.Get(ctx, input.ID); err != nil {
			return nil, toHumaError(err)
		}
		invs, err := svc.Invoices.List(ctx, input.ID)
		if err != nil {
			return nil, toHumaError(err)
		}
		resp := make([]InvoiceResponse, len(invs))
		for i, inv := range invs {
			resp[i] = toInvoiceResponse(inv)
		}
		return &ListInvoicesOutput{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-invoice",
		Method:      http.MethodGet,
		Path:        "/api/v1/invoices/{id}",
		Summary:     "Get an invoice by ID",
		Tags:        tags,
	}, func(ctx context.Context, input *IDPath) (*InvoiceOutput, error) {
		inv, err := svc.Invoices.Get(ctx, input.ID)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &InvoiceOutput{Body: toInvoiceResponse(inv)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "collect-invoice",
		Method:      http.MethodPost,
		Path:        "/api/v1/invoices/{id}/collect",
		Summary:     "Charge a pending invoice",
		Tags:        tags,
	}, func(ctx context.Context, input *IDPath) (*InvoiceOutput, error) {
		inv, err := svc.Invoices.Collect(ctx, input.ID)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &InvoiceOutput{Body: toInvoiceResponse(inv)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-dunning-attempts",
		Method:      http.MethodGet,
		Path:        "/api/v1/invoices/{id}/dunning",
		Summary:     "List the retry history of an invoice",
		Tags:        []string{"Dunning"},
	}, func(ctx context.Context, input *IDPath) (*ListAttemptsOutput, error) {
		if _, err := svc.Invoices.Get(ctx, input.ID); err != nil {
			return nil, toHumaError(err)
		}
		attempts, err := svc.Dunning.Attempts(ctx, input.ID)
		if err != nil {
			return nil, toHumaError(err)
		}
		resp := make([]AttemptResponse, len(attempts))
		for i, a := range attempts {
			resp[i] = toAttemptResponse(a)
		}
		return &ListAttemptsOutput{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "retry-dunning-now",
		Method:      http.MethodPost,
		Path:        "/api/v1/invoices/{id}/dunning/retry",
		Summary:     "Run the pending retry immediately",
		Tags:        []string{"Dunning"},
	}, func(ctx context.Context, input *IDPath) (*AttemptOutput, error) {
		a, err := svc.Dunning.RetryNow(ctx, input.ID)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &AttemptOutput{Body: toAttemptResponse(a)}, nil
	})
}
