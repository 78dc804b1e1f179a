package app

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/neomorfeo/billcycle/internal/domain"
)

// CatalogService manages plans and tax rates.
type CatalogService struct {
	repo   domain.CatalogRepository
	clock  domain.Clock
	logger *zap.Logger
}

// NewCatalogService creates a service over the catalog repository.
func NewCatalogService(repo domain.CatalogRepository, opts Options) *CatalogService {
	opts = opts.withDefaults()
	return &CatalogService{repo: repo, clock: opts.Clock, logger: opts.Logger.Named("catalog")}
}

// PutPlan creates or replaces a plan. An empty ID is assigned.
func (s *CatalogService) PutPlan(ctx context.Context, p domain.Plan) (domain.Plan, error) {
	if p.ID == "" {
		p.ID = newID("plan")
	}
	p.Currency = strings.ToLower(p.Currency)
	if err := p.Validate(); err != nil {
		return domain.Plan{}, err
	}
	if existing, err := s.repo.GetPlan(ctx, p.ID); err == nil {
		p.CreatedAt = existing.CreatedAt
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.clock.Now()
	}
	if err := s.repo.PutPlan(ctx, p); err != nil {
		return domain.Plan{}, fmt.Errorf("saving plan: %w", err)
	}
	s.logger.Info("plan saved", zap.String("plan_id", p.ID), zap.Bool("active", p.IsActive))
	return p, nil
}

// GetPlan returns a plan by ID.
func (s *CatalogService) GetPlan(ctx context.Context, id string) (domain.Plan, error) {
	return s.repo.GetPlan(ctx, id)
}

// ListPlans returns plans, optionally only active ones.
func (s *CatalogService) ListPlans(ctx context.Context, activeOnly bool) ([]domain.Plan, error) {
	return s.repo.ListPlans(ctx, activeOnly)
}

// DeactivatePlan stops new signups on a plan. Existing subscriptions keep it.
func (s *CatalogService) DeactivatePlan(ctx context.Context, id string) (domain.Plan, error) {
	p, err := s.repo.GetPlan(ctx, id)
	if err != nil {
		return domain.Plan{}, err
	}
	if !p.IsActive {
		return p, nil
	}
	p.IsActive = false
	if err := s.repo.PutPlan(ctx, p); err != nil {
		return domain.Plan{}, fmt.Errorf("saving plan: %w", err)
	}
	s.logger.Info("plan deactivated", zap.String("plan_id", p.ID))
	return p, nil
}

// PutTaxRate creates or replaces a tax rate. An empty ID is assigned.
func (s *CatalogService) PutTaxRate(ctx context.Context, r domain.TaxRate) (domain.TaxRate, error) {
	if r.ID == "" {
		r.ID = newID("tax")
	}
	r.Country = strings.ToUpper(r.Country)
	if err := r.Validate(); err != nil {
		return domain.TaxRate{}, err
	}
	if err := s.repo.PutTaxRate(ctx, r); err != nil {
		return domain.TaxRate{}, fmt.Errorf("saving tax rate: %w", err)
	}
	return r, nil
}

// ListTaxRates returns every configured tax rate.
func (s *CatalogService) ListTaxRates(ctx context.Context) ([]domain.TaxRate, error) {
	return s.repo.ListTaxRates(ctx)
}
