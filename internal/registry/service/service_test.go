package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"cardvault/internal/accessgate"
	"cardvault/internal/factory"
	"cardvault/internal/ledger"
	ledgerMemory "cardvault/internal/ledger/store/memory"
	"cardvault/internal/registry/models"
	"cardvault/internal/registry/service"
	channelStore "cardvault/internal/registry/store/channel"
	fundStore "cardvault/internal/registry/store/fund"
	setupStore "cardvault/internal/registry/store/setup"
	"cardvault/pkg/domain"
	dErrors "cardvault/pkg/domain-errors"
	"cardvault/pkg/platform/audit"
	auditMemory "cardvault/pkg/platform/audit/store/memory"
	"cardvault/pkg/platform/tx"
)

const testAsset domain.AssetID = 7

type RegistryServiceSuite struct {
	suite.Suite
	ctx context.Context

	ledgerStore *ledgerMemory.Store
	ledgerSvc   *ledger.Service
	gate        *accessgate.Gate
	channels    *channelStore.MemoryStore
	funds       *fundStore.MemoryStore
	audits      *auditMemory.Store
	service     *service.Service

	owner   domain.Address
	master  domain.Address
	partner domain.Address
	user    domain.Address
}

func TestRegistryServiceSuite(t *testing.T) {
	suite.Run(t, new(RegistryServiceSuite))
}

func (s *RegistryServiceSuite) SetupTest() {
	s.ctx = context.Background()

	s.owner = s.newAddress()
	s.master = s.newAddress()
	s.partner = s.newAddress()
	s.user = s.newAddress()

	s.ledgerStore = ledgerMemory.New()
	var err error
	s.ledgerSvc, err = ledger.NewService(s.ledgerStore)
	s.Require().NoError(err)

	s.gate, err = accessgate.New(accessgate.Roles{Owner: s.owner})
	s.Require().NoError(err)

	accountFactory, err := factory.New(s.ledgerSvc, s.master)
	s.Require().NoError(err)

	s.channels = channelStore.NewMemory()
	s.funds = fundStore.NewMemory()
	s.audits = auditMemory.New()

	s.service, err = service.New(
		s.ledgerSvc,
		accountFactory,
		s.gate,
		s.channels,
		s.funds,
		setupStore.NewMemory(),
		audit.NewPublisher(s.audits),
		tx.NewSerialRunner(),
		s.master,
	)
	s.Require().NoError(err)
	s.service = s.service.WithClock(func() time.Time { return time.Unix(1_700_000_000, 0) })

	s.Require().NoError(s.ledgerSvc.Seed(s.ctx, s.master, 10_000_000))
	s.Require().NoError(s.ledgerSvc.Seed(s.ctx, s.owner, 1_000_000))
	s.Require().NoError(s.ledgerSvc.Seed(s.ctx, s.partner, 1_000_000))
	s.Require().NoError(s.ledgerSvc.Seed(s.ctx, s.user, 1_000_000))
}

func (s *RegistryServiceSuite) newAddress() domain.Address {
	address, err := domain.NewAddress()
	s.Require().NoError(err)
	return address
}

func (s *RegistryServiceSuite) nativeBalance(address domain.Address) uint64 {
	balance, err := s.ledgerSvc.Balance(s.ctx, address, domain.NativeAsset)
	s.Require().NoError(err)
	return balance
}

func (s *RegistryServiceSuite) createChannel(name string) domain.Address {
	address, err := s.service.InitiateChannel(s.ctx, s.partner, ledger.BaseAccountMBR, name)
	s.Require().NoError(err)
	s.Require().NoError(s.service.FinalizeChannel(s.ctx, s.partner, models.ChannelBoxCost(len(name)), address))
	return address
}

func (s *RegistryServiceSuite) createFund(channel domain.Address, asset domain.AssetID, reference string) domain.Address {
	deposit := ledger.BaseAccountMBR
	if !asset.IsNative() {
		deposit += ledger.AssetOptInMBR
	}
	address, err := s.service.InitiateFund(s.ctx, s.user, deposit, channel, asset, reference)
	s.Require().NoError(err)
	s.Require().NoError(s.service.FinalizeFund(s.ctx, s.user, models.FundStorageCost(len(reference)), address))
	return address
}

func (s *RegistryServiceSuite) TestChannelLifecycle() {
	before := s.nativeBalance(s.partner)

	address, err := s.service.InitiateChannel(s.ctx, s.partner, ledger.BaseAccountMBR, "acme")
	s.Require().NoError(err)
	s.Require().False(address.IsZero())

	s.Run("finalize promotes the setup", func() {
		s.Require().NoError(s.service.FinalizeChannel(s.ctx, s.partner, 44_900, address))

		channel, err := s.service.GetChannel(s.ctx, address)
		s.Require().NoError(err)
		s.Equal("acme", channel.Name)
		s.Equal(s.partner, channel.Owner)

		count, _, err := s.service.Counts(s.ctx)
		s.Require().NoError(err)
		s.Equal(uint64(1), count)
	})

	s.Run("second finalize finds no setup", func() {
		err := s.service.FinalizeChannel(s.ctx, s.partner, 44_900, address)
		s.True(dErrors.Is(err, dErrors.CodeNotFound))
	})

	s.Run("close refunds the exact deposit", func() {
		s.Require().NoError(s.service.CloseChannel(s.ctx, s.partner, address))

		_, err := s.service.GetChannel(s.ctx, address)
		s.True(dErrors.Is(err, dErrors.CodeNotFound))
		s.Equal(before, s.nativeBalance(s.partner),
			"every unit paid across the lifecycle comes back on close")
	})
}

func (s *RegistryServiceSuite) TestInitiateChannelValidation() {
	s.Run("wrong deposit", func() {
		_, err := s.service.InitiateChannel(s.ctx, s.partner, ledger.BaseAccountMBR+1, "acme")
		s.True(dErrors.Is(err, dErrors.CodeInvalidInput))
	})

	s.Run("name too long", func() {
		name := make([]byte, models.MaxChannelNameLen+1)
		_, err := s.service.InitiateChannel(s.ctx, s.partner, ledger.BaseAccountMBR, string(name))
		s.True(dErrors.Is(err, dErrors.CodeInvalidInput))
	})

	s.Run("insufficient balance", func() {
		poor := s.newAddress()
		s.Require().NoError(s.ledgerSvc.Seed(s.ctx, poor, ledger.BaseAccountMBR+1))
		_, err := s.service.InitiateChannel(s.ctx, poor, ledger.BaseAccountMBR, "acme")
		s.True(dErrors.Is(err, dErrors.CodeInvalidInput))
	})

	s.Run("paused system refuses", func() {
		s.Require().NoError(s.gate.SetPaused(s.ctx, s.owner, true))
		defer func() { s.Require().NoError(s.gate.SetPaused(s.ctx, s.owner, false)) }()
		_, err := s.service.InitiateChannel(s.ctx, s.partner, ledger.BaseAccountMBR, "acme")
		s.True(dErrors.Is(err, dErrors.CodeInvariant))
	})
}

func (s *RegistryServiceSuite) TestFinalizeChannelValidation() {
	address, err := s.service.InitiateChannel(s.ctx, s.partner, ledger.BaseAccountMBR, "acme")
	s.Require().NoError(err)

	s.Run("deposit mismatch", func() {
		err := s.service.FinalizeChannel(s.ctx, s.partner, 44_900-1, address)
		s.True(dErrors.Is(err, dErrors.CodeInvalidInput))
	})

	s.Run("unknown setup", func() {
		err := s.service.FinalizeChannel(s.ctx, s.partner, 44_900, s.newAddress())
		s.True(dErrors.Is(err, dErrors.CodeNotFound))
	})

	s.Run("only the initiator sees the setup", func() {
		err := s.service.FinalizeChannel(s.ctx, s.user, 44_900, address)
		s.True(dErrors.Is(err, dErrors.CodeNotFound))
	})

	s.Run("tampered sub-account is rejected", func() {
		// Simulate external interference: control moved away from the master.
		s.Require().NoError(s.ledgerSvc.Rekey(s.ctx, address, s.partner))
		err := s.service.FinalizeChannel(s.ctx, s.partner, 44_900, address)
		s.True(dErrors.Is(err, dErrors.CodeInvalidInput))
		s.Contains(err.Error(), "INVALID_PARTNER_ADDRESS")
	})
}

func (s *RegistryServiceSuite) TestCloseChannelRequiresOwner() {
	address := s.createChannel("acme")

	err := s.service.CloseChannel(s.ctx, s.user, address)
	s.True(dErrors.Is(err, dErrors.CodeUnauthorized))
}

func (s *RegistryServiceSuite) TestFundLifecycle() {
	channel := s.createChannel("acme")
	before := s.nativeBalance(s.user)

	address, err := s.service.InitiateFund(s.ctx, s.user, ledger.BaseAccountMBR+ledger.AssetOptInMBR, channel, testAsset, "ref-01")
	s.Require().NoError(err)

	s.Run("finalize writes the record and the index", func() {
		s.Require().NoError(s.service.FinalizeFund(s.ctx, s.user, models.FundStorageCost(6), address))

		fund, err := s.service.GetFund(s.ctx, address)
		s.Require().NoError(err)
		s.Equal(s.user, fund.Owner)
		s.Equal(channel, fund.PartnerChannel)
		s.Equal(uint64(0), fund.PaymentNonce)
		s.Equal(uint64(0), fund.WithdrawalNonce)

		resolved, err := s.service.FundForOwner(s.ctx, channel, s.user)
		s.Require().NoError(err)
		s.Equal(address, resolved.Address)

		account, err := s.ledgerSvc.GetAccount(s.ctx, address)
		s.Require().NoError(err)
		s.True(account.OptedIn(testAsset), "fund holds a slot for its asset")
	})

	s.Run("second fund for the same pair conflicts", func() {
		_, err := s.service.InitiateFund(s.ctx, s.user, ledger.BaseAccountMBR+ledger.AssetOptInMBR, channel, testAsset, "ref-02")
		s.True(dErrors.Is(err, dErrors.CodeConflict))
	})

	s.Run("close refunds the exact deposit", func() {
		s.Require().NoError(s.service.CloseFund(s.ctx, s.user, address))
		s.Equal(before, s.nativeBalance(s.user))

		_, err := s.service.FundForOwner(s.ctx, channel, s.user)
		s.True(dErrors.Is(err, dErrors.CodeNotFound), "index entry dies with the fund")
	})
}

func (s *RegistryServiceSuite) TestFinalizeFundRechecksUniqueness() {
	channel := s.createChannel("acme")

	// Two setups for the same (channel, owner) pair are both legal; the race
	// is decided at finalize.
	first, err := s.service.InitiateFund(s.ctx, s.user, ledger.BaseAccountMBR, channel, domain.NativeAsset, "a")
	s.Require().NoError(err)
	second, err := s.service.InitiateFund(s.ctx, s.user, ledger.BaseAccountMBR, channel, domain.NativeAsset, "b")
	s.Require().NoError(err)

	s.Require().NoError(s.service.FinalizeFund(s.ctx, s.user, models.FundStorageCost(1), first))

	err = s.service.FinalizeFund(s.ctx, s.user, models.FundStorageCost(1), second)
	s.True(dErrors.Is(err, dErrors.CodeConflict))
	s.Contains(err.Error(), "CARD_FUND_ALREADY_EXISTS")
}

func (s *RegistryServiceSuite) TestInitiateFundValidation() {
	s.Run("unknown channel", func() {
		_, err := s.service.InitiateFund(s.ctx, s.user, ledger.BaseAccountMBR, s.newAddress(), domain.NativeAsset, "")
		s.True(dErrors.Is(err, dErrors.CodeNotFound))
	})

	channel := s.createChannel("acme")

	s.Run("non-native asset raises the required deposit", func() {
		_, err := s.service.InitiateFund(s.ctx, s.user, ledger.BaseAccountMBR, channel, testAsset, "")
		s.True(dErrors.Is(err, dErrors.CodeInvalidInput))
	})

	s.Run("reference too long", func() {
		reference := make([]byte, models.MaxFundReferenceLen+1)
		_, err := s.service.InitiateFund(s.ctx, s.user, ledger.BaseAccountMBR, channel, domain.NativeAsset, string(reference))
		s.True(dErrors.Is(err, dErrors.CodeInvalidInput))
	})
}

func (s *RegistryServiceSuite) TestCloseFundByContractOwner() {
	channel := s.createChannel("acme")
	address := s.createFund(channel, testAsset, "ref-01")
	s.Require().NoError(s.ledgerStore.Credit(s.ctx, address, testAsset, 25))

	s.Run("stranger may not close", func() {
		err := s.service.CloseFund(s.ctx, s.partner, address)
		s.True(dErrors.Is(err, dErrors.CodeUnauthorized))
	})

	s.Run("owner may not close while assets remain", func() {
		err := s.service.CloseFund(s.ctx, s.owner, address)
		s.True(dErrors.Is(err, dErrors.CodeInvariant))
	})

	s.Run("owner closes a drained fund, proceeds go to the fund owner", func() {
		s.Require().NoError(s.ledgerStore.DebitGuarded(s.ctx, address, testAsset, 25))
		userBefore := s.nativeBalance(s.user)

		s.Require().NoError(s.service.CloseFund(s.ctx, s.owner, address))
		s.Greater(s.nativeBalance(s.user), userBefore)
	})
}

func (s *RegistryServiceSuite) TestCloseFundAbortsCleanlyWhenOwnerLacksAssetSlot() {
	channel := s.createChannel("acme")
	address := s.createFund(channel, testAsset, "ref-01")
	// The fund holds asset units its owner has no slot for, so the closing
	// remittance cannot be delivered.
	s.Require().NoError(s.ledgerStore.Credit(s.ctx, address, testAsset, 25))

	masterBefore, err := s.ledgerSvc.GetAccount(s.ctx, s.master)
	s.Require().NoError(err)
	userBefore := s.nativeBalance(s.user)

	err = s.service.CloseFund(s.ctx, s.user, address)
	s.True(dErrors.Is(err, dErrors.CodeInvariant))

	s.Run("nothing changed", func() {
		fund, err := s.service.GetFund(s.ctx, address)
		s.Require().NoError(err, "the record survives a failed close")
		s.Equal(s.user, fund.Owner)

		resolved, err := s.service.FundForOwner(s.ctx, channel, s.user)
		s.Require().NoError(err, "the index entry survives a failed close")
		s.Equal(address, resolved.Address)

		masterAfter, err := s.ledgerSvc.GetAccount(s.ctx, s.master)
		s.Require().NoError(err)
		s.Equal(masterBefore.MinBalance, masterAfter.MinBalance, "storage deposit stays reserved")
		s.Equal(userBefore, s.nativeBalance(s.user), "no refund paid out")
	})

	s.Run("close succeeds once the owner holds a slot", func() {
		s.Require().NoError(s.ledgerSvc.OptIn(s.ctx, s.user, testAsset))
		s.Require().NoError(s.service.CloseFund(s.ctx, s.user, address))

		balance, err := s.ledgerSvc.Balance(s.ctx, s.user, testAsset)
		s.Require().NoError(err)
		s.Equal(uint64(25), balance)
	})
}

func (s *RegistryServiceSuite) TestCloseChannelAbortsCleanlyWhenOwnerLacksAssetSlot() {
	address := s.createChannel("acme")
	s.Require().NoError(s.ledgerSvc.Seed(s.ctx, address, ledger.AssetOptInMBR))
	s.Require().NoError(s.ledgerSvc.OptIn(s.ctx, address, testAsset))
	s.Require().NoError(s.ledgerStore.Credit(s.ctx, address, testAsset, 10))

	err := s.service.CloseChannel(s.ctx, s.partner, address)
	s.True(dErrors.Is(err, dErrors.CodeInvariant))

	channel, err := s.service.GetChannel(s.ctx, address)
	s.Require().NoError(err, "the record survives a failed close")
	s.Equal(s.partner, channel.Owner)
}

func (s *RegistryServiceSuite) TestDecommission() {
	s.Run("refuses while accounts remain", func() {
		channel := s.createChannel("acme")
		err := s.service.Decommission(s.ctx, s.owner)
		s.True(dErrors.Is(err, dErrors.CodeInvariant))
		s.Require().NoError(s.service.CloseChannel(s.ctx, s.partner, channel))
	})

	s.Run("owner only", func() {
		err := s.service.Decommission(s.ctx, s.partner)
		s.True(dErrors.Is(err, dErrors.CodeUnauthorized))
	})

	s.Run("pauses permanently once empty", func() {
		s.Require().NoError(s.service.Decommission(s.ctx, s.owner))
		s.True(s.gate.IsPaused(s.ctx))
	})
}

func (s *RegistryServiceSuite) TestAuditTrail() {
	channel := s.createChannel("acme")

	events := s.audits.All()
	s.Require().NotEmpty(events)

	var actions []audit.Action
	for _, event := range events {
		actions = append(actions, event.Action)
	}
	s.Contains(actions, audit.ActionChannelSetupInitiated)
	s.Contains(actions, audit.ActionChannelCreated)

	created, err := s.audits.ListBySubject(s.ctx, channel.String())
	s.Require().NoError(err)
	s.Len(created, 2)
}
