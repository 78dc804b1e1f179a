package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/neomorfeo/billcycle/internal/domain"
)

const attemptColumns = `id, invoice_id, subscription_id, attempt_index, scheduled_at, outcome,
	actionable, failure_reason, resolved_at, job_id, created_at`

// CreateAttempt inserts an attempt. A second attempt with the same invoice
// and index is rejected with a ConflictError.
func (s *Store) CreateAttempt(ctx context.Context, a domain.DunningAttempt) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dunning_attempts (`+attemptColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.InvoiceID, a.SubscriptionID, a.Index, formatTime(a.ScheduledAt), string(a.Outcome),
		boolToInt(a.Actionable), a.FailureReason, formatNullTime(a.ResolvedAt), a.JobID,
		formatTime(a.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &domain.ConflictError{Entity: "dunning attempt", ID: fmt.Sprintf("%s#%d", a.InvoiceID, a.Index)}
		}
		return fmt.Errorf("inserting dunning attempt: %w", err)
	}
	return nil
}

func (s *Store) GetAttempt(ctx context.Context, id string) (domain.DunningAttempt, error) {
	a, err := scanAttempt(s.db.QueryRowContext(ctx,
		`SELECT `+attemptColumns+` FROM dunning_attempts WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DunningAttempt{}, domain.ErrAttemptNotFound
	}
	return a, err
}

func (s *Store) UpdateAttempt(ctx context.Context, a domain.DunningAttempt) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE dunning_attempts SET scheduled_at = ?, outcome = ?, actionable = ?,
		     failure_reason = ?, resolved_at = ?, job_id = ?
		 WHERE id = ?`,
		formatTime(a.ScheduledAt), string(a.Outcome), boolToInt(a.Actionable),
		a.FailureReason, formatNullTime(a.ResolvedAt), a.JobID, a.ID,
	)
	if err != nil {
		return fmt.Errorf("updating dunning attempt: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrAttemptNotFound
	}
	return nil
}

func (s *Store) ListAttempts(ctx context.Context, invoiceID string) ([]domain.DunningAttempt, error) {
	return s.queryAttempts(ctx,
		`SELECT `+attemptColumns+` FROM dunning_attempts WHERE invoice_id = ? ORDER BY attempt_index`,
		invoiceID,
	)
}

func (s *Store) ListLiveAttempts(ctx context.Context, subscriptionID string) ([]domain.DunningAttempt, error) {
	return s.queryAttempts(ctx,
		`SELECT `+attemptColumns+` FROM dunning_attempts
		 WHERE subscription_id = ? AND outcome = ? AND actionable = 1
		 ORDER BY scheduled_at, attempt_index`,
		subscriptionID, string(domain.OutcomePending),
	)
}

func (s *Store) queryAttempts(ctx context.Context, query string, args ...any) ([]domain.DunningAttempt, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing dunning attempts: %w", err)
	}
	defer rows.Close()

	var attempts []domain.DunningAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

func scanAttempt(row scanner) (domain.DunningAttempt, error) {
	var a domain.DunningAttempt
	var scheduledAt, outcome, createdAt string
	var actionable int
	var resolvedAt sql.NullString

	err := row.Scan(&a.ID, &a.InvoiceID, &a.SubscriptionID, &a.Index, &scheduledAt, &outcome,
		&actionable, &a.FailureReason, &resolvedAt, &a.JobID, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.DunningAttempt{}, err
		}
		return domain.DunningAttempt{}, fmt.Errorf("scanning dunning attempt: %w", err)
	}

	a.ScheduledAt = parseTime(scheduledAt)
	a.Outcome = domain.AttemptOutcome(outcome)
	a.Actionable = actionable == 1
	a.ResolvedAt = parseNullTime(resolvedAt)
	a.CreatedAt = parseTime(createdAt)
	return a, nil
}
