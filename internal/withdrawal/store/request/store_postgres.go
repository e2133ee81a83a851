package request

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"cardvault/internal/withdrawal/models"
	"cardvault/pkg/domain"
	dErrors "cardvault/pkg/domain-errors"
	"cardvault/pkg/platform/tx"
)

// PostgresStore persists pending withdrawal requests. The owner cap rides on
// the insert condition; an overwrite of an existing (owner, fund) pair never
// counts against it.
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

func (s *PostgresStore) Save(ctx context.Context, req *models.WithdrawalRequest) error {
	query := `
		INSERT INTO withdrawal_requests (owner, card_fund, asset, amount, nonce, created_at)
		SELECT $1, $2, $3, $4, $5, $6
		WHERE (SELECT COUNT(*) FROM withdrawal_requests WHERE owner = $1 AND card_fund <> $2) < $7
		ON CONFLICT (owner, card_fund) DO UPDATE SET
			asset = EXCLUDED.asset,
			amount = EXCLUDED.amount,
			nonce = EXCLUDED.nonce,
			created_at = EXCLUDED.created_at
	`
	result, err := s.q(ctx).ExecContext(ctx, query,
		req.Owner.String(), req.CardFund.String(), int64(req.Asset),
		int64(req.Amount), int64(req.Nonce), req.CreatedAt,
		models.MaxPendingRequestsPerOwner,
	)
	if err != nil {
		return fmt.Errorf("save withdrawal request: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("save withdrawal request rows affected: %w", err)
	}
	if affected == 0 {
		return dErrors.New(dErrors.CodeConflict, "too many pending withdrawal requests")
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, owner, fund domain.Address) (*models.WithdrawalRequest, error) {
	query := `
		SELECT owner, card_fund, asset, amount, nonce, created_at
		FROM withdrawal_requests
		WHERE owner = $1 AND card_fund = $2
	`
	var req models.WithdrawalRequest
	var ownerAddr, fundAddr string
	var asset, amount, nonce int64
	err := s.q(ctx).QueryRowContext(ctx, query, owner.String(), fund.String()).
		Scan(&ownerAddr, &fundAddr, &asset, &amount, &nonce, &req.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dErrors.New(dErrors.CodeNotFound, "WITHDRAWAL_REQUEST_NOT_FOUND")
		}
		return nil, fmt.Errorf("get withdrawal request: %w", err)
	}
	req.Owner = domain.Address(ownerAddr)
	req.CardFund = domain.Address(fundAddr)
	req.Asset = domain.AssetID(asset)
	req.Amount = uint64(amount)
	req.Nonce = uint64(nonce)
	return &req, nil
}

func (s *PostgresStore) Delete(ctx context.Context, owner, fund domain.Address) error {
	result, err := s.q(ctx).ExecContext(ctx,
		`DELETE FROM withdrawal_requests WHERE owner = $1 AND card_fund = $2`,
		owner.String(), fund.String(),
	)
	if err != nil {
		return fmt.Errorf("delete withdrawal request: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete withdrawal request rows affected: %w", err)
	}
	if affected == 0 {
		return dErrors.New(dErrors.CodeNotFound, "WITHDRAWAL_REQUEST_NOT_FOUND")
	}
	return nil
}

func (s *PostgresStore) ListByOwner(ctx context.Context, owner domain.Address) ([]*models.WithdrawalRequest, error) {
	query := `
		SELECT owner, card_fund, asset, amount, nonce, created_at
		FROM withdrawal_requests
		WHERE owner = $1
		ORDER BY created_at
	`
	rows, err := s.q(ctx).QueryContext(ctx, query, owner.String())
	if err != nil {
		return nil, fmt.Errorf("list withdrawal requests: %w", err)
	}
	defer rows.Close()

	var requests []*models.WithdrawalRequest
	for rows.Next() {
		var req models.WithdrawalRequest
		var ownerAddr, fundAddr string
		var asset, amount, nonce int64
		if err := rows.Scan(&ownerAddr, &fundAddr, &asset, &amount, &nonce, &req.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan withdrawal request: %w", err)
		}
		req.Owner = domain.Address(ownerAddr)
		req.CardFund = domain.Address(fundAddr)
		req.Asset = domain.AssetID(asset)
		req.Amount = uint64(amount)
		req.Nonce = uint64(nonce)
		requests = append(requests, &req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate withdrawal requests: %w", err)
	}
	return requests, nil
}
