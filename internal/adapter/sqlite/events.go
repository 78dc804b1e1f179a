package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/neomorfeo/billcycle/internal/domain"
)

const eventSchemaVersion = 1

// AppendEvent records a billing event. Appending the same event twice is a no-op.
func (s *Store) AppendEvent(ctx context.Context, e domain.BillingEvent) error {
	doc, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding billing event: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO billing_events (id, schema_version, category, subscription_id, invoice_id, document, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, eventSchemaVersion, string(e.Category), e.SubscriptionID, e.InvoiceID,
		string(doc), formatTime(e.OccurredAt),
	)
	if err != nil {
		return fmt.Errorf("inserting billing event: %w", err)
	}
	return nil
}

func (s *Store) ListEvents(ctx context.Context, subscriptionID string) ([]domain.BillingEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT document FROM billing_events WHERE subscription_id = ? ORDER BY occurred_at, id`,
		subscriptionID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing billing events: %w", err)
	}
	defer rows.Close()

	var events []domain.BillingEvent
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scanning billing event: %w", err)
		}
		var e domain.BillingEvent
		if err := json.Unmarshal([]byte(doc), &e); err != nil {
			return nil, fmt.Errorf("decoding billing event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
