//go:build integration

package request_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"cardvault/internal/withdrawal/models"
	"cardvault/internal/withdrawal/store/request"
	"cardvault/pkg/domain"
	dErrors "cardvault/pkg/domain-errors"
	"cardvault/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *request.PostgresStore
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
	s.store = request.NewPostgres(s.postgres.DB)
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

func (s *PostgresStoreSuite) pending(owner, fund domain.Address, amount, nonce uint64) *models.WithdrawalRequest {
	return &models.WithdrawalRequest{
		Owner:     owner,
		CardFund:  fund,
		Asset:     7,
		Amount:    amount,
		Nonce:     nonce,
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
}

func (s *PostgresStoreSuite) TestSaveSupersedesPerFund() {
	owner := s.mustAddress()
	fund := s.mustAddress()

	s.Require().NoError(s.store.Save(s.ctx, s.pending(owner, fund, 10_000, 1)))
	s.Require().NoError(s.store.Save(s.ctx, s.pending(owner, fund, 25_000, 2)))

	got, err := s.store.Get(s.ctx, owner, fund)
	s.Require().NoError(err)
	s.Equal(uint64(25_000), got.Amount)
	s.Equal(uint64(2), got.Nonce)

	requests, err := s.store.ListByOwner(s.ctx, owner)
	s.Require().NoError(err)
	s.Len(requests, 1, "a new request replaces the pending one for the same fund")
}

func (s *PostgresStoreSuite) TestPendingCapPerOwner() {
	owner := s.mustAddress()

	for i := 0; i < models.MaxPendingRequestsPerOwner; i++ {
		s.Require().NoError(s.store.Save(s.ctx, s.pending(owner, s.mustAddress(), 1_000, 1)))
	}

	s.Run("one more fund is refused", func() {
		err := s.store.Save(s.ctx, s.pending(owner, s.mustAddress(), 1_000, 1))
		s.True(dErrors.Is(err, dErrors.CodeConflict))
	})

	s.Run("superseding an existing fund still works at the cap", func() {
		requests, err := s.store.ListByOwner(s.ctx, owner)
		s.Require().NoError(err)
		s.Require().Len(requests, models.MaxPendingRequestsPerOwner)
		s.Require().NoError(s.store.Save(s.ctx, s.pending(owner, requests[0].CardFund, 9_000, 2)))
	})
}

func (s *PostgresStoreSuite) TestDelete() {
	owner := s.mustAddress()
	fund := s.mustAddress()
	s.Require().NoError(s.store.Save(s.ctx, s.pending(owner, fund, 10_000, 1)))

	s.Require().NoError(s.store.Delete(s.ctx, owner, fund))
	_, err := s.store.Get(s.ctx, owner, fund)
	s.True(dErrors.Is(err, dErrors.CodeNotFound))
	s.True(dErrors.Is(s.store.Delete(s.ctx, owner, fund), dErrors.CodeNotFound))
}

func (s *PostgresStoreSuite) TestListByOwnerIsScoped() {
	owner := s.mustAddress()
	other := s.mustAddress()
	s.Require().NoError(s.store.Save(s.ctx, s.pending(owner, s.mustAddress(), 1_000, 1)))
	s.Require().NoError(s.store.Save(s.ctx, s.pending(other, s.mustAddress(), 2_000, 1)))

	requests, err := s.store.ListByOwner(s.ctx, owner)
	s.Require().NoError(err)
	s.Require().Len(requests, 1)
	s.Equal(owner, requests[0].Owner)
}
