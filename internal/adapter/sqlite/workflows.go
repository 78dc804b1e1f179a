package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/neomorfeo/billcycle/internal/domain"
)

// PutWorkflow inserts or replaces a workflow definition.
func (s *Store) PutWorkflow(ctx context.Context, w domain.Workflow) error {
	doc, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("encoding workflow: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflows (id, is_active, document, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET is_active = excluded.is_active,
		     document = excluded.document, updated_at = excluded.updated_at`,
		w.ID, boolToInt(w.IsActive), string(doc), formatTime(w.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving workflow: %w", err)
	}
	return nil
}

func (s *Store) GetWorkflow(ctx context.Context, id string) (domain.Workflow, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM workflows WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Workflow{}, domain.ErrWorkflowNotFound
	}
	if err != nil {
		return domain.Workflow{}, fmt.Errorf("querying workflow: %w", err)
	}

	var w domain.Workflow
	if err := json.Unmarshal([]byte(doc), &w); err != nil {
		return domain.Workflow{}, fmt.Errorf("decoding workflow: %w", err)
	}
	return w, nil
}

func (s *Store) ListWorkflows(ctx context.Context, activeOnly bool) ([]domain.Workflow, error) {
	query := `SELECT document FROM workflows`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing workflows: %w", err)
	}
	defer rows.Close()

	var workflows []domain.Workflow
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scanning workflow: %w", err)
		}
		var w domain.Workflow
		if err := json.Unmarshal([]byte(doc), &w); err != nil {
			return nil, fmt.Errorf("decoding workflow: %w", err)
		}
		workflows = append(workflows, w)
	}
	return workflows, rows.Err()
}

// MarkFired records the (workflow, event) pair. Only the first call for a
// pair returns true.
func (s *Store) MarkFired(ctx context.Context, workflowID, eventID string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO workflow_firings (workflow_id, event_id, fired_at) VALUES (?, ?, ?)`,
		workflowID, eventID, formatTime(time.Now()),
	)
	if err != nil {
		return false, fmt.Errorf("recording workflow firing: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	return rows == 1, nil
}

// RecordRun stores the outcome of a workflow execution, replacing an earlier
// run for the same event.
func (s *Store) RecordRun(ctx context.Context, run domain.WorkflowRun) error {
	doc, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("encoding workflow run: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflow_runs (workflow_id, event_id, started_at, document) VALUES (?, ?, ?, ?)
		 ON CONFLICT (workflow_id, event_id) DO UPDATE SET
		     started_at = excluded.started_at, document = excluded.document`,
		run.WorkflowID, run.EventID, formatTime(run.StartedAt), string(doc),
	)
	if err != nil {
		return fmt.Errorf("saving workflow run: %w", err)
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, workflowID, eventID string) (domain.WorkflowRun, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT document FROM workflow_runs WHERE workflow_id = ? AND event_id = ?`,
		workflowID, eventID,
	).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.WorkflowRun{}, domain.ErrRunNotFound
	}
	if err != nil {
		return domain.WorkflowRun{}, fmt.Errorf("getting workflow run: %w", err)
	}

	var run domain.WorkflowRun
	if err := json.Unmarshal([]byte(doc), &run); err != nil {
		return domain.WorkflowRun{}, fmt.Errorf("decoding workflow run: %w", err)
	}
	return run, nil
}

func (s *Store) ListRuns(ctx context.Context, workflowID string) ([]domain.WorkflowRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT document FROM workflow_runs WHERE workflow_id = ? ORDER BY started_at, event_id`,
		workflowID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing workflow runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.WorkflowRun
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scanning workflow run: %w", err)
		}
		var run domain.WorkflowRun
		if err := json.Unmarshal([]byte(doc), &run); err != nil {
			return nil, fmt.Errorf("decoding workflow run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
