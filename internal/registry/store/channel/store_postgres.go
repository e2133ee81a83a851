package channel

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"cardvault/internal/registry/models"
	"cardvault/pkg/domain"
	dErrors "cardvault/pkg/domain-errors"
	"cardvault/pkg/platform/pgerr"
	"cardvault/pkg/platform/tx"
)

// PostgresStore persists partner channel records. Pure I/O; the service owns
// the lifecycle rules.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) q(ctx context.Context) dbtx {
	if txn, ok := tx.From(ctx); ok {
		return txn
	}
	return s.db
}

func (s *PostgresStore) CreateIfAbsent(ctx context.Context, ch *models.PartnerChannel) error {
	query := `
		INSERT INTO partner_channels (address, name, owner, created_at)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := s.q(ctx).ExecContext(ctx, query,
		ch.Address.String(), ch.Name, ch.Owner.String(), ch.CreatedAt,
	); err != nil {
		if pgerr.IsUniqueViolation(err) {
			return dErrors.New(dErrors.CodeConflict, "partner channel already exists")
		}
		return fmt.Errorf("create partner channel: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, address domain.Address) (*models.PartnerChannel, error) {
	query := `
		SELECT address, name, owner, created_at
		FROM partner_channels
		WHERE address = $1
	`
	var ch models.PartnerChannel
	var addr, owner string
	err := s.q(ctx).QueryRowContext(ctx, query, address.String()).
		Scan(&addr, &ch.Name, &owner, &ch.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dErrors.New(dErrors.CodeNotFound, "PARTNER_CHANNEL_NOT_FOUND")
		}
		return nil, fmt.Errorf("get partner channel: %w", err)
	}
	ch.Address = domain.Address(addr)
	ch.Owner = domain.Address(owner)
	return &ch, nil
}

func (s *PostgresStore) Delete(ctx context.Context, address domain.Address) error {
	result, err := s.q(ctx).ExecContext(ctx, `DELETE FROM partner_channels WHERE address = $1`, address.String())
	if err != nil {
		return fmt.Errorf("delete partner channel: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete rows affected: %w", err)
	}
	if affected == 0 {
		return dErrors.New(dErrors.CodeNotFound, "PARTNER_CHANNEL_NOT_FOUND")
	}
	return nil
}

func (s *PostgresStore) ActiveCount(ctx context.Context) (uint64, error) {
	var count int64
	if err := s.q(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM partner_channels`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count partner channels: %w", err)
	}
	return uint64(count), nil
}
