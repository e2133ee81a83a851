package settlement

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"cardvault/internal/payments/models"
	"cardvault/pkg/domain"
	dErrors "cardvault/pkg/domain-errors"
	"cardvault/pkg/platform/pgerr"
	"cardvault/pkg/platform/tx"
)

// PostgresStore persists the asset allowlist and the global settlement nonce.
// The nonce lives in a singleton counters row; its advance is one conditional
// UPDATE.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) q(ctx context.Context) dbtx {
	if txn, ok := tx.From(ctx); ok {
		return txn
	}
	return s.db
}

func (s *PostgresStore) CreateIfAbsent(ctx context.Context, record *models.SettlementAddress) error {
	query := `
		INSERT INTO settlement_addresses (asset, address, created_at)
		VALUES ($1, $2, $3)
	`
	if _, err := s.q(ctx).ExecContext(ctx, query,
		int64(record.Asset), record.Address.String(), record.CreatedAt,
	); err != nil {
		if pgerr.IsUniqueViolation(err) {
			return dErrors.New(dErrors.CodeConflict, "ASSET_ALREADY_ALLOWED")
		}
		return fmt.Errorf("create settlement address: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, asset domain.AssetID) (*models.SettlementAddress, error) {
	query := `
		SELECT asset, address, created_at
		FROM settlement_addresses
		WHERE asset = $1
	`
	var record models.SettlementAddress
	var assetID int64
	var addr string
	err := s.q(ctx).QueryRowContext(ctx, query, int64(asset)).
		Scan(&assetID, &addr, &record.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dErrors.New(dErrors.CodeNotFound, "SETTLEMENT_ADDRESS_NOT_FOUND")
		}
		return nil, fmt.Errorf("get settlement address: %w", err)
	}
	record.Asset = domain.AssetID(assetID)
	record.Address = domain.Address(addr)
	return &record, nil
}

func (s *PostgresStore) Update(ctx context.Context, asset domain.AssetID, address domain.Address) error {
	result, err := s.q(ctx).ExecContext(ctx,
		`UPDATE settlement_addresses SET address = $2 WHERE asset = $1`,
		int64(asset), address.String(),
	)
	if err != nil {
		return fmt.Errorf("update settlement address: %w", err)
	}
	return s.requireAffected(result, dErrors.New(dErrors.CodeNotFound, "SETTLEMENT_ADDRESS_NOT_FOUND"))
}

func (s *PostgresStore) Delete(ctx context.Context, asset domain.AssetID) error {
	result, err := s.q(ctx).ExecContext(ctx, `DELETE FROM settlement_addresses WHERE asset = $1`, int64(asset))
	if err != nil {
		return fmt.Errorf("delete settlement address: %w", err)
	}
	return s.requireAffected(result, dErrors.New(dErrors.CodeNotFound, "SETTLEMENT_ADDRESS_NOT_FOUND"))
}

func (s *PostgresStore) List(ctx context.Context) ([]*models.SettlementAddress, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `SELECT asset, address, created_at FROM settlement_addresses ORDER BY asset`)
	if err != nil {
		return nil, fmt.Errorf("list settlement addresses: %w", err)
	}
	defer rows.Close()

	var records []*models.SettlementAddress
	for rows.Next() {
		var record models.SettlementAddress
		var assetID int64
		var addr string
		if err := rows.Scan(&assetID, &addr, &record.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan settlement address: %w", err)
		}
		record.Asset = domain.AssetID(assetID)
		record.Address = domain.Address(addr)
		records = append(records, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate settlement addresses: %w", err)
	}
	return records, nil
}

func (s *PostgresStore) SettlementNonce(ctx context.Context) (uint64, error) {
	var nonce int64
	err := s.q(ctx).QueryRowContext(ctx, `SELECT settlement_nonce FROM payment_counters WHERE id = TRUE`).Scan(&nonce)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("get settlement nonce: %w", err)
	}
	return uint64(nonce), nil
}

// AdvanceSettlementNonce moves the singleton counter to next only from
// exactly next-1. The counters row is seeded with the schema.
func (s *PostgresStore) AdvanceSettlementNonce(ctx context.Context, next uint64) error {
	query := `
		UPDATE payment_counters
		SET settlement_nonce = $1
		WHERE id = TRUE AND settlement_nonce = $1 - 1
	`
	result, err := s.q(ctx).ExecContext(ctx, query, int64(next))
	if err != nil {
		return fmt.Errorf("advance settlement nonce: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("advance settlement nonce rows affected: %w", err)
	}
	if affected == 0 {
		return dErrors.New(dErrors.CodeSequence, "NONCE_INVALID")
	}
	return nil
}

func (s *PostgresStore) requireAffected(result sql.Result, missing error) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return missing
	}
	return nil
}
