package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/neomorfeo/billcycle/internal/domain"
)

const planColumns = `id, name, price, currency, billing_period, trial_days, features, is_active, created_at`

// PutPlan inserts or replaces a plan.
func (s *Store) PutPlan(ctx context.Context, p domain.Plan) error {
	features, err := json.Marshal(p.Features)
	if err != nil {
		return fmt.Errorf("encoding plan features: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO plans (`+planColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET name = excluded.name, price = excluded.price,
		     currency = excluded.currency, billing_period = excluded.billing_period,
		     trial_days = excluded.trial_days, features = excluded.features,
		     is_active = excluded.is_active`,
		p.ID, p.Name, p.Price.String(), p.Currency, string(p.BillingPeriod), p.TrialDays,
		string(features), boolToInt(p.IsActive), formatTime(p.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving plan: %w", err)
	}
	return nil
}

func (s *Store) GetPlan(ctx context.Context, id string) (domain.Plan, error) {
	p, err := scanPlan(s.db.QueryRowContext(ctx,
		`SELECT `+planColumns+` FROM plans WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Plan{}, domain.ErrPlanNotFound
	}
	return p, err
}

func (s *Store) ListPlans(ctx context.Context, activeOnly bool) ([]domain.Plan, error) {
	query := `SELECT ` + planColumns + ` FROM plans`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing plans: %w", err)
	}
	defer rows.Close()

	var plans []domain.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

func scanPlan(row scanner) (domain.Plan, error) {
	var p domain.Plan
	var price, period, features, createdAt string
	var isActive int

	err := row.Scan(&p.ID, &p.Name, &price, &p.Currency, &period, &p.TrialDays, &features, &isActive, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Plan{}, err
		}
		return domain.Plan{}, fmt.Errorf("scanning plan: %w", err)
	}

	if p.Price, err = decimal.NewFromString(price); err != nil {
		return domain.Plan{}, fmt.Errorf("parsing plan price: %w", err)
	}
	if err := json.Unmarshal([]byte(features), &p.Features); err != nil {
		return domain.Plan{}, fmt.Errorf("decoding plan features: %w", err)
	}
	p.BillingPeriod = domain.BillingPeriod(period)
	p.IsActive = isActive == 1
	p.CreatedAt = parseTime(createdAt)
	return p, nil
}

// PutTaxRate inserts or replaces the rate for a (country, region) pair.
func (s *Store) PutTaxRate(ctx context.Context, r domain.TaxRate) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tax_rates (id, country, region, rate, type) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (country, region) DO UPDATE SET id = excluded.id,
		     rate = excluded.rate, type = excluded.type`,
		r.ID, r.Country, r.Region, r.Rate.String(), string(r.Type),
	)
	if err != nil {
		return fmt.Errorf("saving tax rate: %w", err)
	}
	return nil
}

func (s *Store) FindTaxRate(ctx context.Context, country, region string) (domain.TaxRate, error) {
	if region != "" {
		r, err := s.getTaxRate(ctx, country, region)
		if !errors.Is(err, domain.ErrTaxRateNotFound) {
			return r, err
		}
	}
	return s.getTaxRate(ctx, country, "")
}

func (s *Store) getTaxRate(ctx context.Context, country, region string) (domain.TaxRate, error) {
	r, err := scanTaxRate(s.db.QueryRowContext(ctx,
		`SELECT id, country, region, rate, type FROM tax_rates WHERE country = ? AND region = ?`,
		country, region,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.TaxRate{}, domain.ErrTaxRateNotFound
	}
	return r, err
}

func (s *Store) ListTaxRates(ctx context.Context) ([]domain.TaxRate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, country, region, rate, type FROM tax_rates ORDER BY country, region`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing tax rates: %w", err)
	}
	defer rows.Close()

	var rates []domain.TaxRate
	for rows.Next() {
		r, err := scanTaxRate(rows)
		if err != nil {
			return nil, err
		}
		rates = append(rates, r)
	}
	return rates, rows.Err()
}

func scanTaxRate(row scanner) (domain.TaxRate, error) {
	var r domain.TaxRate
	var rate, taxType string
	if err := row.Scan(&r.ID, &r.Country, &r.Region, &rate, &taxType); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.TaxRate{}, err
		}
		return domain.TaxRate{}, fmt.Errorf("scanning tax rate: %w", err)
	}

	var err error
	if r.Rate, err = decimal.NewFromString(rate); err != nil {
		return domain.TaxRate{}, fmt.Errorf("parsing tax rate: %w", err)
	}
	r.Type = domain.TaxType(taxType)
	return r, nil
}

func (s *Store) PutDiscount(ctx context.Context, d domain.Discount) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO discounts (id, subscription_id, percent, expires_at, workflow_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		d.ID, d.SubscriptionID, d.Percent.String(), formatTime(d.ExpiresAt), d.WorkflowID, formatTime(d.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting discount: %w", err)
	}
	return nil
}

func (s *Store) ListDiscounts(ctx context.Context, subscriptionID string) ([]domain.Discount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, subscription_id, percent, expires_at, workflow_id, created_at
		 FROM discounts WHERE subscription_id = ? ORDER BY created_at, id`,
		subscriptionID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing discounts: %w", err)
	}
	defer rows.Close()

	var discounts []domain.Discount
	for rows.Next() {
		var d domain.Discount
		var percent, expiresAt, createdAt string
		if err := rows.Scan(&d.ID, &d.SubscriptionID, &percent, &expiresAt, &d.WorkflowID, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning discount: %w", err)
		}
		if d.Percent, err = decimal.NewFromString(percent); err != nil {
			return nil, fmt.Errorf("parsing discount percent: %w", err)
		}
		d.ExpiresAt = parseTime(expiresAt)
		d.CreatedAt = parseTime(createdAt)
		discounts = append(discounts, d)
	}
	return discounts, rows.Err()
}
