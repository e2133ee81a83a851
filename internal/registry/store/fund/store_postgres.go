package fund

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

// PostgresStore persists card funds and the uniqueness index. The index is a
// separate table with a unique key, so the authoritative uniqueness decision
// is the database's.
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

// CreateIfAbsent writes the fund and its index entry. Outside a context
// transaction the two inserts are not atomic; production wiring always runs
// this under the SQL runner.
func (s *PostgresStore) CreateIfAbsent(ctx context.Context, fund *models.CardFund) error {
	query := `
		INSERT INTO card_funds (address, owner, partner_channel, payment_nonce, withdrawal_nonce, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if _, err := s.q(ctx).ExecContext(ctx, query,
		fund.Address.String(), fund.Owner.String(), fund.PartnerChannel.String(),
		int64(fund.PaymentNonce), int64(fund.WithdrawalNonce), fund.Reference, fund.CreatedAt,
	); err != nil {
		if pgerr.IsUniqueViolation(err) {
			return dErrors.New(dErrors.CodeConflict, "card fund already exists")
		}
		return fmt.Errorf("create card fund: %w", err)
	}
	key := models.FundIndexKey(fund.PartnerChannel, fund.Owner)
	if _, err := s.q(ctx).ExecContext(ctx,
		`INSERT INTO card_fund_index (index_key, fund_address) VALUES ($1, $2)`,
		key[:], fund.Address.String(),
	); err != nil {
		if pgerr.IsUniqueViolation(err) {
			return dErrors.New(dErrors.CodeConflict, "CARD_FUND_ALREADY_EXISTS")
		}
		return fmt.Errorf("create fund index: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, address domain.Address) (*models.CardFund, error) {
	query := `
		SELECT address, owner, partner_channel, payment_nonce, withdrawal_nonce, reference, created_at
		FROM card_funds
		WHERE address = $1
	`
	return s.scanFund(s.q(ctx).QueryRowContext(ctx, query, address.String()))
}

func (s *PostgresStore) LookupIndex(ctx context.Context, key models.IndexKey) (domain.Address, error) {
	var addr string
	err := s.q(ctx).QueryRowContext(ctx, `SELECT fund_address FROM card_fund_index WHERE index_key = $1`, key[:]).Scan(&addr)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ZeroAddress, dErrors.New(dErrors.CodeNotFound, "no card fund for this channel and owner")
		}
		return domain.ZeroAddress, fmt.Errorf("lookup fund index: %w", err)
	}
	return domain.Address(addr), nil
}

func (s *PostgresStore) Delete(ctx context.Context, address domain.Address) error {
	fund, err := s.Get(ctx, address)
	if err != nil {
		return err
	}
	key := models.FundIndexKey(fund.PartnerChannel, fund.Owner)
	if _, err := s.q(ctx).ExecContext(ctx, `DELETE FROM card_fund_index WHERE index_key = $1`, key[:]); err != nil {
		return fmt.Errorf("delete fund index: %w", err)
	}
	if _, err := s.q(ctx).ExecContext(ctx, `DELETE FROM card_funds WHERE address = $1`, address.String()); err != nil {
		return fmt.Errorf("delete card fund: %w", err)
	}
	return nil
}

func (s *PostgresStore) ActiveCount(ctx context.Context) (uint64, error) {
	var count int64
	if err := s.q(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM card_funds`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count card funds: %w", err)
	}
	return uint64(count), nil
}

// AdvancePaymentNonce is a single conditional UPDATE; zero rows affected
// means either a missing fund or a stale nonce.
func (s *PostgresStore) AdvancePaymentNonce(ctx context.Context, address domain.Address, next uint64) error {
	return s.advanceNonce(ctx, address, next, "payment_nonce")
}

func (s *PostgresStore) AdvanceWithdrawalNonce(ctx context.Context, address domain.Address, next uint64) error {
	return s.advanceNonce(ctx, address, next, "withdrawal_nonce")
}

func (s *PostgresStore) advanceNonce(ctx context.Context, address domain.Address, next uint64, column string) error {
	query := fmt.Sprintf(`
		UPDATE card_funds
		SET %s = $2
		WHERE address = $1 AND %s = $2 - 1
	`, column, column)
	result, err := s.q(ctx).ExecContext(ctx, query, address.String(), int64(next))
	if err != nil {
		return fmt.Errorf("advance %s: %w", column, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("advance %s rows affected: %w", column, err)
	}
	if affected == 0 {
		var one int
		err := s.q(ctx).QueryRowContext(ctx, `SELECT 1 FROM card_funds WHERE address = $1`, address.String()).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return dErrors.New(dErrors.CodeNotFound, "CARD_FUND_NOT_FOUND")
		}
		if err != nil {
			return fmt.Errorf("advance %s check: %w", column, err)
		}
		return dErrors.New(dErrors.CodeSequence, "NONCE_INVALID")
	}
	return nil
}

type fundRow interface {
	Scan(dest ...any) error
}

func (s *PostgresStore) scanFund(row fundRow) (*models.CardFund, error) {
	var fund models.CardFund
	var addr, owner, channel string
	var paymentNonce, withdrawalNonce int64
	err := row.Scan(&addr, &owner, &channel, &paymentNonce, &withdrawalNonce, &fund.Reference, &fund.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dErrors.New(dErrors.CodeNotFound, "CARD_FUND_NOT_FOUND")
		}
		return nil, fmt.Errorf("scan card fund: %w", err)
	}
	fund.Address = domain.Address(addr)
	fund.Owner = domain.Address(owner)
	fund.PartnerChannel = domain.Address(channel)
	fund.PaymentNonce = uint64(paymentNonce)
	fund.WithdrawalNonce = uint64(withdrawalNonce)
	return &fund, nil
}
