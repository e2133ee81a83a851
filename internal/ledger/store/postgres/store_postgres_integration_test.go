//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"cardvault/internal/ledger"
	"cardvault/internal/ledger/store/postgres"
	"cardvault/pkg/domain"
	dErrors "cardvault/pkg/domain-errors"
	"cardvault/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *postgres.Store
	ctx      context.Context
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.store = postgres.New(s.postgres.DB)
	s.ctx = context.Background()
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateAll(s.ctx))
}

func (s *PostgresStoreSuite) mustAddress() domain.Address {
	address, err := domain.NewAddress()
	s.Require().NoError(err)
	return address
}

func (s *PostgresStoreSuite) createAccount(balance uint64) domain.Address {
	address := s.mustAddress()
	s.Require().NoError(s.store.Create(s.ctx, &ledger.Account{
		Address:    address,
		AuthAddr:   address,
		MinBalance: ledger.BaseAccountMBR,
		Balances:   map[domain.AssetID]uint64{domain.NativeAsset: balance},
		CreatedAt:  time.Now().UTC(),
	}))
	return address
}

func (s *PostgresStoreSuite) balance(address domain.Address, asset domain.AssetID) uint64 {
	account, err := s.store.Get(s.ctx, address)
	s.Require().NoError(err)
	return account.Balance(asset)
}

func (s *PostgresStoreSuite) TestCreateAndGet() {
	address := s.createAccount(500_000)

	account, err := s.store.Get(s.ctx, address)
	s.Require().NoError(err)
	s.Equal(address, account.Address)
	s.Equal(address, account.AuthAddr)
	s.Equal(uint64(ledger.BaseAccountMBR), account.MinBalance)
	s.Equal(uint64(500_000), account.Balance(domain.NativeAsset))

	s.Run("duplicate create conflicts", func() {
		err := s.store.Create(s.ctx, &ledger.Account{
			Address: address, AuthAddr: address, CreatedAt: time.Now().UTC(),
		})
		s.True(dErrors.Is(err, dErrors.CodeConflict))
	})

	s.Run("unknown account", func() {
		_, err := s.store.Get(s.ctx, s.mustAddress())
		s.True(dErrors.Is(err, dErrors.CodeNotFound))
	})
}

func (s *PostgresStoreSuite) TestGuardedDebit() {
	address := s.createAccount(200_000)

	s.Run("min balance is untouchable for the native unit", func() {
		err := s.store.DebitGuarded(s.ctx, address, domain.NativeAsset, 150_000)
		s.True(dErrors.Is(err, dErrors.CodeInvalidInput))
		s.Equal(uint64(200_000), s.balance(address, domain.NativeAsset))
	})

	s.Run("debit down to exactly min balance", func() {
		s.Require().NoError(s.store.DebitGuarded(s.ctx, address, domain.NativeAsset, 100_000))
		s.Equal(uint64(ledger.BaseAccountMBR), s.balance(address, domain.NativeAsset))
	})

	s.Run("overdrafts never apply", func() {
		err := s.store.DebitGuarded(s.ctx, address, domain.NativeAsset, 1)
		s.True(dErrors.Is(err, dErrors.CodeInvalidInput))
	})

	s.Run("unknown account", func() {
		err := s.store.DebitGuarded(s.ctx, s.mustAddress(), domain.NativeAsset, 1)
		s.True(dErrors.Is(err, dErrors.CodeNotFound))
	})
}

func (s *PostgresStoreSuite) TestOptInAndCloseOut() {
	const asset = domain.AssetID(7)
	address := s.createAccount(ledger.BaseAccountMBR + ledger.AssetOptInMBR)

	s.Require().NoError(s.store.OptIn(s.ctx, address, asset))

	account, err := s.store.Get(s.ctx, address)
	s.Require().NoError(err)
	s.True(account.OptedIn(asset))
	s.Equal(uint64(ledger.BaseAccountMBR+ledger.AssetOptInMBR), account.MinBalance)

	s.Run("opt-in needs free balance to cover the raised minimum", func() {
		err := s.store.OptIn(s.ctx, address, domain.AssetID(8))
		s.True(dErrors.Is(err, dErrors.CodeInvalidInput))
	})

	s.Run("native asset never opts in", func() {
		err := s.store.OptIn(s.ctx, address, domain.NativeAsset)
		s.True(dErrors.Is(err, dErrors.CodeInvalidInput))
	})

	s.Run("close out refuses a non-zero balance", func() {
		s.Require().NoError(s.store.Credit(s.ctx, address, asset, 10))
		err := s.store.CloseOut(s.ctx, address, asset)
		s.True(dErrors.Is(err, dErrors.CodeInvariant))
	})

	s.Run("close out releases the slot deposit", func() {
		s.Require().NoError(s.store.DebitGuarded(s.ctx, address, asset, 10))
		s.Require().NoError(s.store.CloseOut(s.ctx, address, asset))

		account, err := s.store.Get(s.ctx, address)
		s.Require().NoError(err)
		s.False(account.OptedIn(asset))
		s.Equal(uint64(ledger.BaseAccountMBR), account.MinBalance)
	})
}

func (s *PostgresStoreSuite) TestCreditRequiresSlot() {
	address := s.createAccount(200_000)

	err := s.store.Credit(s.ctx, address, domain.AssetID(7), 100)
	s.True(dErrors.Is(err, dErrors.CodeInvariant))

	err = s.store.Credit(s.ctx, s.mustAddress(), domain.NativeAsset, 100)
	s.True(dErrors.Is(err, dErrors.CodeNotFound))
}

func (s *PostgresStoreSuite) TestReserveAndRelease() {
	address := s.createAccount(150_000)

	s.Run("reserve must stay covered", func() {
		s.True(dErrors.Is(s.store.Reserve(s.ctx, address, 60_000), dErrors.CodeInvalidInput))
		s.Require().NoError(s.store.Reserve(s.ctx, address, 50_000))
	})

	s.Run("release never underflows", func() {
		s.Require().NoError(s.store.Release(s.ctx, address, 50_000))
		s.True(dErrors.Is(s.store.Release(s.ctx, address, 200_000), dErrors.CodeInvariant))
	})
}

func (s *PostgresStoreSuite) TestRekeyAndDelete() {
	address := s.createAccount(150_000)
	master := s.mustAddress()

	s.Require().NoError(s.store.Rekey(s.ctx, address, master))
	account, err := s.store.Get(s.ctx, address)
	s.Require().NoError(err)
	s.True(account.ControlledBy(master))
	s.False(account.ControlledBy(address))

	s.Require().NoError(s.store.Delete(s.ctx, address))
	_, err = s.store.Get(s.ctx, address)
	s.True(dErrors.Is(err, dErrors.CodeNotFound))
	s.True(dErrors.Is(s.store.Delete(s.ctx, address), dErrors.CodeNotFound))
}
