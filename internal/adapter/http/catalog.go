package http

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shopspring/decimal"

	"github.com/neomorfeo/billcycle/internal/domain"
)

// PlanResponse is the API representation of a plan.
type PlanResponse struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Price         string   `json:"price" doc:"Price per period as a decimal string"`
	Currency      string   `json:"currency"`
	BillingPeriod string   `json:"billing_period"`
	TrialDays     int      `json:"trial_days"`
	Features      []string `json:"features,omitempty"`
	IsActive      bool     `json:"is_active"`
	CreatedAt     string   `json:"created_at"`
}

func toPlanResponse(p domain.Plan) PlanResponse {
	return PlanResponse{
		ID:            p.ID,
		Name:          p.Name,
		Price:         p.Price.StringFixed(2),
		Currency:      p.Currency,
		BillingPeriod: string(p.BillingPeriod),
		TrialDays:     p.TrialDays,
		Features:      p.Features,
		IsActive:      p.IsActive,
		CreatedAt:     formatTime(p.CreatedAt),
	}
}

// TaxRateResponse is the API representation of a tax rate.
type TaxRateResponse struct {
	ID      string `json:"id"`
	Country string `json:"country"`
	Region  string `json:"region,omitempty"`
	Rate    string `json:"rate" doc:"Fraction between 0 and 1"`
	Type    string `json:"type"`
}

func toTaxRateResponse(r domain.TaxRate) TaxRateResponse {
	return TaxRateResponse{ID: r.ID, Country: r.Country, Region: r.Region, Rate: r.Rate.String(), Type: string(r.Type)}
}

type PutPlanInput struct {
	ID   string `path:"id" doc:"Plan ID"`
	Body struct {
		Name          string   `json:"name" minLength:"1" maxLength:"255"`
		Price         string   `json:"price" doc:"Price per period as a decimal string" example:"29.00"`
		Currency      string   `json:"currency" minLength:"3" maxLength:"3" example:"usd"`
		BillingPeriod string   `json:"billing_period" enum:"monthly,quarterly,yearly"`
		TrialDays     int      `json:"trial_days,omitempty" minimum:"0"`
		Features      []string `json:"features,omitempty"`
		IsActive      *bool    `json:"is_active,omitempty" doc:"Defaults to true"`
	}
}

type PlanOutput struct {
	Body PlanResponse
}

type ListPlansInput struct {
	ActiveOnly bool `query:"active_only" required:"false" doc:"Only plans open for signup"`
}

type ListPlansOutput struct {
	Body []PlanResponse
}

type PutTaxRateInput struct {
	ID   string `path:"id" doc:"Tax rate ID"`
	Body struct {
		Country string `json:"country" minLength:"2" maxLength:"2"`
		Region  string `json:"region,omitempty"`
		Rate    string `json:"rate" doc:"Fraction between 0 and 1" example:"0.21"`
		Type    string `json:"type" enum:"vat,gst,sales"`
	}
}

type TaxRateOutput struct {
	Body TaxRateResponse
}

type ListTaxRatesOutput struct {
	Body []TaxRateResponse
}

func parseDecimal(field, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, &domain.ValidationError{Field: field, Reason: "must be a decimal number"}
	}
	return d, nil
}

func registerCatalog(api huma.API, svc Services) {
	tags := []string{"Catalog"}

	huma.Register(api, huma.Operation{
		OperationID: "put-plan",
		Method:      http.MethodPut,
		Path:        "/api/v1/plans/{id}",
		Summary:     "Create or replace a plan",
		Tags:        tags,
	}, func(ctx context.Context, input *PutPlanInput) (*PlanOutput, error) {
		price, err := parseDecimal("price", input.Body.Price)
		if err != nil {
			return nil, toHumaError(err)
		}
		active := true
		if input.Body.IsActive != nil {
			active = *input.Body.IsActive
		}
		plan, err := svc.Catalog.PutPlan(ctx, domain.Plan{
			ID:            input.ID,
			Name:          input.Body.Name,
			Price:         price,
			Currency:      input.Body.Currency,
			BillingPeriod: domain.BillingPeriod(input.Body.BillingPeriod),
			TrialDays:     input.Body.TrialDays,
			Features:      input.Body.Features,
			IsActive:      active,
		})
		if err != nil {
			return nil, toHumaError(err)
		}
		return &PlanOutput{Body: toPlanResponse(plan)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-plans",
		Method:      http.MethodGet,
		Path:        "/api/v1/plans",
		Summary:     "List plans",
		Tags:        tags,
	}, func(ctx context.Context, input *ListPlansInput) (*ListPlansOutput, error) {
		plans, err := svc.Catalog.ListPlans(ctx, input.ActiveOnly)
		if err != nil {
			return nil, toHumaError(err)
		}
		resp := make([]PlanResponse, len(plans))
		for i, p := range plans {
			resp[i] = toPlanResponse(p)
		}
		return &ListPlansOutput{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "deactivate-plan",
		Method:      http.MethodPost,
		Path:        "/api/v1/plans/{id}/deactivate",
		Summary:     "Close a plan for new signups",
		Tags:        tags,
	}, func(ctx context.Context, input *IDPath) (*PlanOutput, error) {
		plan, err := svc.Catalog.DeactivatePlan(ctx, input.ID)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &PlanOutput{Body: toPlanResponse(plan)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "put-tax-rate",
		Method:      http.MethodPut,
		Path:        "/api/v1/tax-rates/{id}",
		Summary:     "Create or replace a tax rate",
		Tags:        tags,
	}, func(ctx context.Context, input *PutTaxRateInput) (*TaxRateOutput, error) {
		rate, err := parseDecimal("rate", input.Body.Rate)
		if err != nil {
			return nil, toHumaError(err)
		}
		r, err := svc.Catalog.PutTaxRate(ctx, domain.TaxRate{
			ID:      input.ID,
			Country: input.Body.Country,
			Region:  input.Body.Region,
			Rate:    rate,
			Type:    domain.TaxType(input.Body.Type),
		})
		if err != nil {
			return nil, toHumaError(err)
		}
		return &TaxRateOutput{Body: toTaxRateResponse(r)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tax-rates",
		Method:      http.MethodGet,
		Path:        "/api/v1/tax-rates",
		Summary:     "List tax rates",
		Tags:        tags,
	}, func(ctx context.Context, _ *struct{}) (*ListTaxRatesOutput, error) {
		rates, err := svc.Catalog.ListTaxRates(ctx)
		if err != nil {
			return nil, toHumaError(err)
		}
		resp := make([]TaxRateResponse, len(rates))
		for i, r := range rates {
			resp[i] = toTaxRateResponse(r)
		}
		return &ListTaxRatesOutput{Body: resp}, nil
	})
}
