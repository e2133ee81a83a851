package tx

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
)

// Runner executes a function as one atomic unit. Every public ledger
// operation runs inside a Runner so an assertion failure anywhere aborts the
// whole operation with no partial state change.
type Runner interface {
	Run(ctx context.Context, fn func(ctx context.Context) error) error
}

// SerialRunner serializes operations behind a single mutex. It backs the
// in-memory store configuration, where operations validate before mutating
// and therefore need ordering, not rollback.
type SerialRunner struct {
	mu sync.Mutex
}

func NewSerialRunner() *SerialRunner {
	return &SerialRunner{}
}

func (r *SerialRunner) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(ctx)
}

// SQLRunner wraps each operation in a database transaction stored in context,
// so stores pick it up via From and all writes commit or roll back together.
type SQLRunner struct {
	db *sql.DB
}

func NewSQLRunner(db *sql.DB) *SQLRunner {
	return &SQLRunner{db: db}
}

func (r *SQLRunner) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin operation: %w", err)
	}
	defer func() {
		_ = dbTx.Rollback()
	}()

	if err := fn(WithTx(ctx, dbTx)); err != nil {
		return err
	}
	if err := dbTx.Commit(); err != nil {
		return fmt.Errorf("commit operation: %w", err)
	}
	return nil
}
