// Package postgres persists accounts in PostgreSQL. Pure I/O; every guarded
// mutation is one conditional statement so concurrent transactions cannot
// interleave between a check and its write.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"cardvault/internal/ledger"
	"cardvault/pkg/domain"
	dErrors "cardvault/pkg/domain-errors"
	"cardvault/pkg/platform/pgerr"
	"cardvault/pkg/platform/tx"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// dbtx is satisfied by *sql.DB and *sql.Tx; stores run inside the caller's
// context transaction when one is present.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) q(ctx context.Context) dbtx {
	if txn, ok := tx.From(ctx); ok {
		return txn
	}
	return s.db
}

func (s *Store) Create(ctx context.Context, account *ledger.Account) error {
	query := `
		INSERT INTO ledger_accounts (address, auth_addr, min_balance, created_at)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := s.q(ctx).ExecContext(ctx, query,
		account.Address.String(), account.AuthAddr.String(), int64(account.MinBalance), account.CreatedAt,
	); err != nil {
		if pgerr.IsUniqueViolation(err) {
			return dErrors.New(dErrors.CodeConflict, "account already exists")
		}
		return fmt.Errorf("create account: %w", err)
	}
	for asset, balance := range account.Balances {
		if err := s.insertSlot(ctx, account.Address, asset, balance); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) insertSlot(ctx context.Context, address domain.Address, asset domain.AssetID, balance uint64) error {
	query := `
		INSERT INTO ledger_balances (address, asset, balance)
		VALUES ($1, $2, $3)
	`
	if _, err := s.q(ctx).ExecContext(ctx, query, address.String(), int64(asset), int64(balance)); err != nil {
		if pgerr.IsUniqueViolation(err) {
			return dErrors.New(dErrors.CodeConflict, "asset slot already exists")
		}
		return fmt.Errorf("insert balance slot: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, address domain.Address) (*ledger.Account, error) {
	query := `
		SELECT address, auth_addr, min_balance, created_at
		FROM ledger_accounts
		WHERE address = $1
	`
	var account ledger.Account
	var addr, authAddr string
	var minBalance int64
	err := s.q(ctx).QueryRowContext(ctx, query, address.String()).
		Scan(&addr, &authAddr, &minBalance, &account.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dErrors.New(dErrors.CodeNotFound, "account not found")
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	account.Address = domain.Address(addr)
	account.AuthAddr = domain.Address(authAddr)
	account.MinBalance = uint64(minBalance)

	rows, err := s.q(ctx).QueryContext(ctx, `SELECT asset, balance FROM ledger_balances WHERE address = $1`, address.String())
	if err != nil {
		return nil, fmt.Errorf("get balances: %w", err)
	}
	defer rows.Close()

	account.Balances = make(map[domain.AssetID]uint64)
	for rows.Next() {
		var asset, balance int64
		if err := rows.Scan(&asset, &balance); err != nil {
			return nil, fmt.Errorf("scan balance: %w", err)
		}
		account.Balances[domain.AssetID(asset)] = uint64(balance)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate balances: %w", err)
	}
	return &account, nil
}

func (s *Store) Delete(ctx context.Context, address domain.Address) error {
	if _, err := s.q(ctx).ExecContext(ctx, `DELETE FROM ledger_balances WHERE address = $1`, address.String()); err != nil {
		return fmt.Errorf("delete balances: %w", err)
	}
	result, err := s.q(ctx).ExecContext(ctx, `DELETE FROM ledger_accounts WHERE address = $1`, address.String())
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	return s.requireAffected(result, "account not found")
}

func (s *Store) Credit(ctx context.Context, address domain.Address, asset domain.AssetID, amount uint64) error {
	query := `
		UPDATE ledger_balances
		SET balance = balance + $3
		WHERE address = $1 AND asset = $2
	`
	result, err := s.q(ctx).ExecContext(ctx, query, address.String(), int64(asset), int64(amount))
	if err != nil {
		return fmt.Errorf("credit: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("credit rows affected: %w", err)
	}
	if affected == 0 {
		if err := s.requireAccount(ctx, address); err != nil {
			return err
		}
		return dErrors.New(dErrors.CodeInvariant, "account not opted into asset")
	}
	return nil
}

// DebitGuarded subtracts in one conditional statement: the remaining balance
// must stay non-negative, and at or above min_balance for the native unit.
func (s *Store) DebitGuarded(ctx context.Context, address domain.Address, asset domain.AssetID, amount uint64) error {
	query := `
		UPDATE ledger_balances b
		SET balance = b.balance - $3
		FROM ledger_accounts a
		WHERE b.address = $1 AND b.asset = $2 AND a.address = b.address
		  AND b.balance >= $3
		  AND ($2 <> 0 OR b.balance - $3 >= a.min_balance)
	`
	result, err := s.q(ctx).ExecContext(ctx, query, address.String(), int64(asset), int64(amount))
	if err != nil {
		return fmt.Errorf("debit guarded: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("debit rows affected: %w", err)
	}
	if affected == 0 {
		if err := s.requireAccount(ctx, address); err != nil {
			return err
		}
		var balance int64
		err := s.q(ctx).QueryRowContext(ctx, `SELECT balance FROM ledger_balances WHERE address = $1 AND asset = $2`, address.String(), int64(asset)).Scan(&balance)
		if errors.Is(err, sql.ErrNoRows) || err == nil && uint64(balance) < amount {
			return dErrors.New(dErrors.CodeInvalidInput, "insufficient balance")
		}
		if err != nil {
			return fmt.Errorf("debit guard check: %w", err)
		}
		return dErrors.New(dErrors.CodeInvalidInput, "debit would break minimum balance")
	}
	return nil
}

// OptIn inserts the zero-balance slot and raises min_balance in one guarded
// statement pair; the balance coverage check rides on the UPDATE condition.
func (s *Store) OptIn(ctx context.Context, address domain.Address, asset domain.AssetID) error {
	if asset.IsNative() {
		return dErrors.New(dErrors.CodeInvalidInput, "native asset needs no opt-in")
	}
	query := `
		UPDATE ledger_accounts a
		SET min_balance = a.min_balance + $3
		FROM ledger_balances b
		WHERE a.address = $1 AND b.address = a.address AND b.asset = 0
		  AND b.balance >= a.min_balance + $3
	`
	result, err := s.q(ctx).ExecContext(ctx, query, address.String(), int64(asset), int64(ledger.AssetOptInMBR))
	if err != nil {
		return fmt.Errorf("opt in: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("opt in rows affected: %w", err)
	}
	if affected == 0 {
		if err := s.requireAccount(ctx, address); err != nil {
			return err
		}
		return dErrors.New(dErrors.CodeInvalidInput, "insufficient balance for asset slot deposit")
	}
	return s.insertSlot(ctx, address, asset, 0)
}

func (s *Store) CloseOut(ctx context.Context, address domain.Address, asset domain.AssetID) error {
	query := `
		DELETE FROM ledger_balances
		WHERE address = $1 AND asset = $2 AND balance = 0
	`
	result, err := s.q(ctx).ExecContext(ctx, query, address.String(), int64(asset))
	if err != nil {
		return fmt.Errorf("close out: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("close out rows affected: %w", err)
	}
	if affected == 0 {
		var balance int64
		err := s.q(ctx).QueryRowContext(ctx, `SELECT balance FROM ledger_balances WHERE address = $1 AND asset = $2`, address.String(), int64(asset)).Scan(&balance)
		if errors.Is(err, sql.ErrNoRows) {
			return dErrors.New(dErrors.CodeNotFound, "asset slot not found")
		}
		if err != nil {
			return fmt.Errorf("close out check: %w", err)
		}
		return dErrors.New(dErrors.CodeInvariant, "asset balance must be zero to close out")
	}
	_, err = s.q(ctx).ExecContext(ctx, `UPDATE ledger_accounts SET min_balance = min_balance - $2 WHERE address = $1`, address.String(), int64(ledger.AssetOptInMBR))
	if err != nil {
		return fmt.Errorf("close out release: %w", err)
	}
	return nil
}

func (s *Store) Rekey(ctx context.Context, address, authAddr domain.Address) error {
	result, err := s.q(ctx).ExecContext(ctx, `UPDATE ledger_accounts SET auth_addr = $2 WHERE address = $1`, address.String(), authAddr.String())
	if err != nil {
		return fmt.Errorf("rekey: %w", err)
	}
	return s.requireAffected(result, "account not found")
}

func (s *Store) Reserve(ctx context.Context, address domain.Address, amount uint64) error {
	query := `
		UPDATE ledger_accounts a
		SET min_balance = a.min_balance + $2
		FROM ledger_balances b
		WHERE a.address = $1 AND b.address = a.address AND b.asset = 0
		  AND b.balance >= a.min_balance + $2
	`
	result, err := s.q(ctx).ExecContext(ctx, query, address.String(), int64(amount))
	if err != nil {
		return fmt.Errorf("reserve: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reserve rows affected: %w", err)
	}
	if affected == 0 {
		if err := s.requireAccount(ctx, address); err != nil {
			return err
		}
		return dErrors.New(dErrors.CodeInvalidInput, "insufficient balance to reserve deposit")
	}
	return nil
}

func (s *Store) Release(ctx context.Context, address domain.Address, amount uint64) error {
	query := `
		UPDATE ledger_accounts
		SET min_balance = min_balance - $2
		WHERE address = $1 AND min_balance >= $2
	`
	result, err := s.q(ctx).ExecContext(ctx, query, address.String(), int64(amount))
	if err != nil {
		return fmt.Errorf("release: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("release rows affected: %w", err)
	}
	if affected == 0 {
		if err := s.requireAccount(ctx, address); err != nil {
			return err
		}
		return dErrors.New(dErrors.CodeInvariant, "release exceeds reserved deposit")
	}
	return nil
}

func (s *Store) requireAccount(ctx context.Context, address domain.Address) error {
	var one int
	err := s.q(ctx).QueryRowContext(ctx, `SELECT 1 FROM ledger_accounts WHERE address = $1`, address.String()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return dErrors.New(dErrors.CodeNotFound, "account not found")
	}
	if err != nil {
		return fmt.Errorf("account existence check: %w", err)
	}
	return nil
}

func (s *Store) requireAffected(result sql.Result, notFound string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return dErrors.New(dErrors.CodeNotFound, notFound)
	}
	return nil
}
