package setup

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

// PostgresStore persists pending setups. The per-initiator cap rides on the
// insert condition so two racing initiations cannot both squeeze under it.
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

const pendingCountQuery = `
	(SELECT COUNT(*) FROM channel_setups WHERE initiator = $1) +
	(SELECT COUNT(*) FROM fund_setups WHERE initiator = $1)
`

func (s *PostgresStore) SaveChannelSetup(ctx context.Context, setup *models.ChannelSetup) error {
	query := `
		INSERT INTO channel_setups (initiator, address, name, created_at)
		SELECT $1, $2, $3, $4
		WHERE ` + pendingCountQuery + ` < $5
	`
	result, err := s.q(ctx).ExecContext(ctx, query,
		setup.Initiator.String(), setup.Address.String(), setup.Name, setup.CreatedAt,
		models.MaxPendingSetupsPerInitiator,
	)
	if err != nil {
		if pgerr.IsUniqueViolation(err) {
			return dErrors.New(dErrors.CodeConflict, "setup already exists")
		}
		return fmt.Errorf("save channel setup: %w", err)
	}
	return s.requireInserted(result, "save channel setup")
}

func (s *PostgresStore) GetChannelSetup(ctx context.Context, initiator, address domain.Address) (*models.ChannelSetup, error) {
	query := `
		SELECT initiator, address, name, created_at
		FROM channel_setups
		WHERE initiator = $1 AND address = $2
	`
	var setup models.ChannelSetup
	var init, addr string
	err := s.q(ctx).QueryRowContext(ctx, query, initiator.String(), address.String()).
		Scan(&init, &addr, &setup.Name, &setup.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dErrors.New(dErrors.CodeNotFound, "SETUP_NOT_FOUND")
		}
		return nil, fmt.Errorf("get channel setup: %w", err)
	}
	setup.Initiator = domain.Address(init)
	setup.Address = domain.Address(addr)
	return &setup, nil
}

func (s *PostgresStore) DeleteChannelSetup(ctx context.Context, initiator, address domain.Address) error {
	result, err := s.q(ctx).ExecContext(ctx,
		`DELETE FROM channel_setups WHERE initiator = $1 AND address = $2`,
		initiator.String(), address.String(),
	)
	if err != nil {
		return fmt.Errorf("delete channel setup: %w", err)
	}
	return s.requireDeleted(result, "delete channel setup")
}

func (s *PostgresStore) SaveFundSetup(ctx context.Context, setup *models.FundSetup) error {
	query := `
		INSERT INTO fund_setups (initiator, address, partner_channel, asset, reference, created_at)
		SELECT $1, $2, $3, $4, $5, $6
		WHERE ` + pendingCountQuery + ` < $7
	`
	result, err := s.q(ctx).ExecContext(ctx, query,
		setup.Initiator.String(), setup.Address.String(), setup.PartnerChannel.String(),
		int64(setup.Asset), setup.Reference, setup.CreatedAt,
		models.MaxPendingSetupsPerInitiator,
	)
	if err != nil {
		if pgerr.IsUniqueViolation(err) {
			return dErrors.New(dErrors.CodeConflict, "setup already exists")
		}
		return fmt.Errorf("save fund setup: %w", err)
	}
	return s.requireInserted(result, "save fund setup")
}

func (s *PostgresStore) GetFundSetup(ctx context.Context, initiator, address domain.Address) (*models.FundSetup, error) {
	query := `
		SELECT initiator, address, partner_channel, asset, reference, created_at
		FROM fund_setups
		WHERE initiator = $1 AND address = $2
	`
	var setup models.FundSetup
	var init, addr, channel string
	var asset int64
	err := s.q(ctx).QueryRowContext(ctx, query, initiator.String(), address.String()).
		Scan(&init, &addr, &channel, &asset, &setup.Reference, &setup.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dErrors.New(dErrors.CodeNotFound, "SETUP_NOT_FOUND")
		}
		return nil, fmt.Errorf("get fund setup: %w", err)
	}
	setup.Initiator = domain.Address(init)
	setup.Address = domain.Address(addr)
	setup.PartnerChannel = domain.Address(channel)
	setup.Asset = domain.AssetID(asset)
	return &setup, nil
}

func (s *PostgresStore) DeleteFundSetup(ctx context.Context, initiator, address domain.Address) error {
	result, err := s.q(ctx).ExecContext(ctx,
		`DELETE FROM fund_setups WHERE initiator = $1 AND address = $2`,
		initiator.String(), address.String(),
	)
	if err != nil {
		return fmt.Errorf("delete fund setup: %w", err)
	}
	return s.requireDeleted(result, "delete fund setup")
}

func (s *PostgresStore) requireInserted(result sql.Result, operation string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", operation, err)
	}
	if affected == 0 {
		return dErrors.New(dErrors.CodeConflict, "too many pending setups for initiator")
	}
	return nil
}

func (s *PostgresStore) requireDeleted(result sql.Result, operation string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", operation, err)
	}
	if affected == 0 {
		return dErrors.New(dErrors.CodeNotFound, "SETUP_NOT_FOUND")
	}
	return nil
}
