package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/neomorfeo/billcycle/internal/domain"
)

const subscriptionColumns = `id, user_id, plan_id, payment_method_id, country, region, status,
	period_start, period_end, cancel_at_period_end, cancelled_at, cancel_reason,
	version, created_at, updated_at`

func (s *Store) CreateSubscription(ctx context.Context, sub domain.Subscription) error {
	if sub.Version == 0 {
		sub.Version = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions (`+subscriptionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.UserID, sub.PlanID, sub.PaymentMethodID, sub.Country, sub.Region,
		string(sub.Status), formatTime(sub.CurrentPeriodStart), formatTime(sub.CurrentPeriodEnd),
		boolToInt(sub.CancelAtPeriodEnd), formatNullTime(sub.CancelledAt), sub.CancelReason,
		sub.Version, formatTime(sub.CreatedAt), formatTime(sub.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting subscription: %w", err)
	}
	return nil
}

func (s *Store) GetSubscription(ctx context.Context, id string) (domain.Subscription, error) {
	sub, err := scanSubscription(s.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Subscription{}, domain.ErrSubscriptionNotFound
	}
	return sub, err
}

// CompareAndSwapSubscription writes sub only if the stored version still
// equals sub.Version, bumping the version. A zero UpdatedAt is stamped with
// the wall clock.
func (s *Store) CompareAndSwapSubscription(ctx context.Context, sub domain.Subscription) (domain.Subscription, error) {
	now := sub.UpdatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET plan_id = ?, payment_method_id = ?, country = ?, region = ?,
		     status = ?, period_start = ?, period_end = ?, cancel_at_period_end = ?,
		     cancelled_at = ?, cancel_reason = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		sub.PlanID, sub.PaymentMethodID, sub.Country, sub.Region,
		string(sub.Status), formatTime(sub.CurrentPeriodStart), formatTime(sub.CurrentPeriodEnd),
		boolToInt(sub.CancelAtPeriodEnd), formatNullTime(sub.CancelledAt), sub.CancelReason,
		formatTime(now), sub.ID, sub.Version,
	)
	if err != nil {
		return domain.Subscription{}, fmt.Errorf("updating subscription: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return domain.Subscription{}, fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		if _, err := s.GetSubscription(ctx, sub.ID); err != nil {
			return domain.Subscription{}, err
		}
		return domain.Subscription{}, &domain.ConflictError{Entity: "subscription", ID: sub.ID}
	}

	sub.Version++
	sub.UpdatedAt = now
	return sub, nil
}

func (s *Store) ListSubscriptions(ctx context.Context, filter domain.SubscriptionFilter) ([]domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE 1 = 1`
	var args []any

	if filter.Status != nil {
		query += ` AND status = ?`
		args = append(args, string(*filter.Status))
	}
	if filter.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, filter.UserID)
	}

	query += ` ORDER BY created_at DESC`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, filter.Offset)
		}
	}

	return s.querySubscriptions(ctx, query, args...)
}

func (s *Store) ListDueForRenewal(ctx context.Context, t time.Time, limit int) ([]domain.Subscription, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.querySubscriptions(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE status != ? AND period_end <= ?
		 ORDER BY period_end LIMIT ?`,
		string(domain.StatusCancelled), formatTime(t), limit,
	)
}

func (s *Store) querySubscriptions(ctx context.Context, query string, args ...any) ([]domain.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []domain.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func scanSubscription(row scanner) (domain.Subscription, error) {
	var sub domain.Subscription
	var status, periodStart, periodEnd, createdAt, updatedAt string
	var cancelAtPeriodEnd int
	var cancelledAt sql.NullString

	err := row.Scan(&sub.ID, &sub.UserID, &sub.PlanID, &sub.PaymentMethodID, &sub.Country, &sub.Region,
		&status, &periodStart, &periodEnd, &cancelAtPeriodEnd, &cancelledAt, &sub.CancelReason,
		&sub.Version, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Subscription{}, err
		}
		return domain.Subscription{}, fmt.Errorf("scanning subscription: %w", err)
	}

	sub.Status = domain.SubscriptionStatus(status)
	sub.CurrentPeriodStart = parseTime(periodStart)
	sub.CurrentPeriodEnd = parseTime(periodEnd)
	sub.CancelAtPeriodEnd = cancelAtPeriodEnd == 1
	sub.CancelledAt = parseNullTime(cancelledAt)
	sub.CreatedAt = parseTime(createdAt)
	sub.UpdatedAt = parseTime(updatedAt)

	return sub, nil
}
