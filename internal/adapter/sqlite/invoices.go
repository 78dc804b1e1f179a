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

// Invoices are stored as versioned JSON documents. status and version are
// kept in columns so compare-and-swap can run without decoding.

func (s *Store) CreateInvoice(ctx context.Context, inv domain.Invoice) error {
	if inv.Version == 0 {
		inv.Version = 1
	}
	if inv.SchemaVersion == 0 {
		inv.SchemaVersion = domain.InvoiceSchemaVersion
	}

	doc, err := json.Marshal(inv)
	if err != nil {
		return fmt.Errorf("encoding invoice: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO invoices (id, subscription_id, status, version, schema_version, document, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.SubscriptionID, string(inv.Status), inv.Version, inv.SchemaVersion,
		string(doc), formatTime(inv.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting invoice: %w", err)
	}
	return nil
}

func (s *Store) GetInvoice(ctx context.Context, id string) (domain.Invoice, error) {
	inv, err := scanInvoice(s.db.QueryRowContext(ctx,
		`SELECT document, version FROM invoices WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Invoice{}, domain.ErrInvoiceNotFound
	}
	return inv, err
}

// CompareAndSwapInvoice replaces the invoice document if the stored version
// still equals inv.Version. Paid invoices are never rewritten.
func (s *Store) CompareAndSwapInvoice(ctx context.Context, inv domain.Invoice) (domain.Invoice, error) {
	if inv.UpdatedAt.IsZero() {
		inv.UpdatedAt = time.Now().UTC()
	}
	expected := inv.Version
	inv.Version++

	doc, err := json.Marshal(inv)
	if err != nil {
		return domain.Invoice{}, fmt.Errorf("encoding invoice: %w", err)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE invoices SET status = ?, version = ?, schema_version = ?, document = ?
		 WHERE id = ? AND version = ? AND status != ?`,
		string(inv.Status), inv.Version, inv.SchemaVersion, string(doc),
		inv.ID, expected, string(domain.InvoicePaid),
	)
	if err != nil {
		return domain.Invoice{}, fmt.Errorf("updating invoice: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return domain.Invoice{}, fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		stored, err := s.GetInvoice(ctx, inv.ID)
		if err != nil {
			return domain.Invoice{}, err
		}
		if stored.IsPaid() {
			return domain.Invoice{}, domain.ErrInvoiceImmutable
		}
		return domain.Invoice{}, &domain.ConflictError{Entity: "invoice", ID: inv.ID}
	}

	return inv, nil
}

func (s *Store) ListInvoices(ctx context.Context, subscriptionID string) ([]domain.Invoice, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT document, version FROM invoices WHERE subscription_id = ? ORDER BY created_at, id`,
		subscriptionID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing invoices: %w", err)
	}
	defer rows.Close()

	var invoices []domain.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

func scanInvoice(row scanner) (domain.Invoice, error) {
	var doc string
	var version int
	if err := row.Scan(&doc, &version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Invoice{}, err
		}
		return domain.Invoice{}, fmt.Errorf("scanning invoice: %w", err)
	}

	var inv domain.Invoice
	if err := json.Unmarshal([]byte(doc), &inv); err != nil {
		return domain.Invoice{}, fmt.Errorf("decoding invoice: %w", err)
	}
	inv.Version = version
	return inv, nil
}
