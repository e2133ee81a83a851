// Package postgres is the durable audit outbox.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"cardvault/pkg/domain"
	"cardvault/pkg/platform/audit"
	"cardvault/pkg/platform/tx"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) q(ctx context.Context) dbtx {
	if txn, ok := tx.From(ctx); ok {
		return txn
	}
	return s.db
}

// Append writes the event inside the caller's transaction when one is
// present, so the audit record commits or rolls back with the mutation it
// describes.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	query := `
		INSERT INTO audit_events (id, occurred_at, action, category, actor, subject, asset, amount, nonce, reference, request_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	if _, err := s.q(ctx).ExecContext(ctx, query,
		event.ID, event.Timestamp, string(event.Action), string(event.Category()),
		event.Actor.String(), event.Subject.String(),
		int64(event.Asset), int64(event.Amount), int64(event.Nonce),
		event.Reference, event.RequestID,
	); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

func (s *Store) ListBySubject(ctx context.Context, subject string) ([]audit.Event, error) {
	query := `
		SELECT id, occurred_at, action, actor, subject, asset, amount, nonce, reference, request_id
		FROM audit_events
		WHERE subject = $1
		ORDER BY occurred_at
	`
	rows, err := s.q(ctx).QueryContext(ctx, query, subject)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var event audit.Event
		var action, actor, subj string
		var asset, amount, nonce int64
		if err := rows.Scan(&event.ID, &event.Timestamp, &action, &actor, &subj, &asset, &amount, &nonce, &event.Reference, &event.RequestID); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.Action = audit.Action(action)
		event.Actor = domain.Address(actor)
		event.Subject = domain.Address(subj)
		event.Asset = domain.AssetID(asset)
		event.Amount = uint64(amount)
		event.Nonce = uint64(nonce)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}
