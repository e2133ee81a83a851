//go:build integration

package setup_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"cardvault/internal/registry/models"
	"cardvault/internal/registry/store/setup"
	"cardvault/pkg/domain"
	dErrors "cardvault/pkg/domain-errors"
	"cardvault/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *setup.PostgresStore
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
	s.store = setup.NewPostgres(s.postgres.DB)
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

func (s *PostgresStoreSuite) TestChannelSetupLifecycle() {
	record := &models.ChannelSetup{
		Initiator: s.mustAddress(),
		Address:   s.mustAddress(),
		Name:      "acme",
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	s.Require().NoError(s.store.SaveChannelSetup(s.ctx, record))

	s.Run("lookup is keyed by initiator and address", func() {
		got, err := s.store.GetChannelSetup(s.ctx, record.Initiator, record.Address)
		s.Require().NoError(err)
		s.Equal(record.Name, got.Name)
		s.Equal(record.CreatedAt.Unix(), got.CreatedAt.Unix())

		_, err = s.store.GetChannelSetup(s.ctx, s.mustAddress(), record.Address)
		s.True(dErrors.Is(err, dErrors.CodeNotFound))
	})

	s.Run("delete is single shot", func() {
		s.Require().NoError(s.store.DeleteChannelSetup(s.ctx, record.Initiator, record.Address))
		err := s.store.DeleteChannelSetup(s.ctx, record.Initiator, record.Address)
		s.True(dErrors.Is(err, dErrors.CodeNotFound))
	})
}

func (s *PostgresStoreSuite) TestFundSetupLifecycle() {
	record := &models.FundSetup{
		Initiator:      s.mustAddress(),
		Address:        s.mustAddress(),
		PartnerChannel: s.mustAddress(),
		Asset:          domain.AssetID(7),
		Reference:      "ref-1",
		CreatedAt:      time.Now().UTC().Truncate(time.Microsecond),
	}
	s.Require().NoError(s.store.SaveFundSetup(s.ctx, record))

	got, err := s.store.GetFundSetup(s.ctx, record.Initiator, record.Address)
	s.Require().NoError(err)
	s.Equal(record.PartnerChannel, got.PartnerChannel)
	s.Equal(domain.AssetID(7), got.Asset)
	s.Equal("ref-1", got.Reference)

	s.Require().NoError(s.store.DeleteFundSetup(s.ctx, record.Initiator, record.Address))
	_, err = s.store.GetFundSetup(s.ctx, record.Initiator, record.Address)
	s.True(dErrors.Is(err, dErrors.CodeNotFound))
}
