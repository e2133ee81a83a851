// Package service implements the registry: the two-phase lifecycle of partner
// channels and card funds, the owner-uniqueness index, and the counters that
// gate teardown. Every invariant is re-validated at the start of each
// operation; nothing read during an earlier step is trusted at finalize time.
package service

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"cardvault/internal/accessgate"
	"cardvault/internal/factory"
	"cardvault/internal/ledger"
	regMetrics "cardvault/internal/registry/metrics"
	"cardvault/internal/registry/models"
	"cardvault/pkg/domain"
	dErrors "cardvault/pkg/domain-errors"
	"cardvault/pkg/platform/audit"
	"cardvault/pkg/platform/tx"
	"cardvault/pkg/requestcontext"
)

type ChannelStore interface {
	CreateIfAbsent(ctx context.Context, ch *models.PartnerChannel) error
	Get(ctx context.Context, address domain.Address) (*models.PartnerChannel, error)
	Delete(ctx context.Context, address domain.Address) error
	ActiveCount(ctx context.Context) (uint64, error)
}

type FundStore interface {
	CreateIfAbsent(ctx context.Context, fund *models.CardFund) error
	Get(ctx context.Context, address domain.Address) (*models.CardFund, error)
	LookupIndex(ctx context.Context, key models.IndexKey) (domain.Address, error)
	Delete(ctx context.Context, address domain.Address) error
	ActiveCount(ctx context.Context) (uint64, error)
}

type SetupStore interface {
	SaveChannelSetup(ctx context.Context, setup *models.ChannelSetup) error
	GetChannelSetup(ctx context.Context, initiator, address domain.Address) (*models.ChannelSetup, error)
	DeleteChannelSetup(ctx context.Context, initiator, address domain.Address) error
	SaveFundSetup(ctx context.Context, setup *models.FundSetup) error
	GetFundSetup(ctx context.Context, initiator, address domain.Address) (*models.FundSetup, error)
	DeleteFundSetup(ctx context.Context, initiator, address domain.Address) error
}

// Auditor is the fail-closed audit boundary: when it errors, the operation
// errors.
type Auditor interface {
	Emit(ctx context.Context, event audit.Event) error
}

type Service struct {
	ledger   *ledger.Service
	factory  *factory.Factory
	gate     *accessgate.Gate
	channels ChannelStore
	funds    FundStore
	setups   SetupStore
	auditor  Auditor
	runner   tx.Runner
	metrics  *regMetrics.Metrics
	master   domain.Address
	clock    func() time.Time
	tracer   trace.Tracer
}

func New(
	ledgerSvc *ledger.Service,
	accountFactory *factory.Factory,
	gate *accessgate.Gate,
	channels ChannelStore,
	funds FundStore,
	setups SetupStore,
	auditor Auditor,
	runner tx.Runner,
	master domain.Address,
) (*Service, error) {
	switch {
	case ledgerSvc == nil:
		return nil, dErrors.New(dErrors.CodeInternal, "ledger service is required")
	case accountFactory == nil:
		return nil, dErrors.New(dErrors.CodeInternal, "account factory is required")
	case gate == nil:
		return nil, dErrors.New(dErrors.CodeInternal, "access gate is required")
	case channels == nil || funds == nil || setups == nil:
		return nil, dErrors.New(dErrors.CodeInternal, "registry stores are required")
	case auditor == nil:
		return nil, dErrors.New(dErrors.CodeInternal, "auditor is required")
	case runner == nil:
		return nil, dErrors.New(dErrors.CodeInternal, "tx runner is required")
	case master.IsZero():
		return nil, dErrors.New(dErrors.CodeInternal, "master address is required")
	}
	return &Service{
		ledger:   ledgerSvc,
		factory:  accountFactory,
		gate:     gate,
		channels: channels,
		funds:    funds,
		setups:   setups,
		auditor:  auditor,
		runner:   runner,
		master:   master,
		clock:    time.Now,
		tracer:   otel.Tracer("cardvault/registry"),
	}, nil
}

// WithMetrics attaches prometheus metrics; without it counters are skipped.
func (s *Service) WithMetrics(m *regMetrics.Metrics) *Service {
	s.metrics = m
	return s
}

// WithClock overrides the time source for tests.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// GetChannel returns one partner channel record.
func (s *Service) GetChannel(ctx context.Context, address domain.Address) (*models.PartnerChannel, error) {
	return s.channels.Get(ctx, address)
}

// GetFund returns one card fund record.
func (s *Service) GetFund(ctx context.Context, address domain.Address) (*models.CardFund, error) {
	return s.funds.Get(ctx, address)
}

// FundForOwner resolves the active card fund for a (channel, owner) pair via
// the secondary index.
func (s *Service) FundForOwner(ctx context.Context, channel, owner domain.Address) (*models.CardFund, error) {
	address, err := s.funds.LookupIndex(ctx, models.FundIndexKey(channel, owner))
	if err != nil {
		return nil, err
	}
	return s.funds.Get(ctx, address)
}

// Counts reports the active channel and fund counters.
func (s *Service) Counts(ctx context.Context) (channels, funds uint64, err error) {
	channels, err = s.channels.ActiveCount(ctx)
	if err != nil {
		return 0, 0, err
	}
	funds, err = s.funds.ActiveCount(ctx)
	if err != nil {
		return 0, 0, err
	}
	return channels, funds, nil
}

// Decommission permanently pauses the system. It refuses while any channel
// or fund remains active: teardown with live custodial accounts would strand
// user funds.
func (s *Service) Decommission(ctx context.Context, caller domain.Address) error {
	ctx, span := s.tracer.Start(ctx, "registry.Decommission")
	defer span.End()

	return s.runner.Run(ctx, func(ctx context.Context) error {
		if err := s.gate.RequireOwner(ctx, caller); err != nil {
			return err
		}
		channels, funds, err := s.Counts(ctx)
		if err != nil {
			return err
		}
		if channels != 0 || funds != 0 {
			return dErrors.New(dErrors.CodeInvariant, "ACTIVE_ACCOUNTS_REMAIN")
		}
		if err := s.gate.SetPaused(ctx, caller, true); err != nil {
			return err
		}
		return s.auditor.Emit(ctx, audit.Event{
			Action:    audit.ActionDecommissioned,
			Actor:     caller,
			Subject:   s.master,
			RequestID: requestcontext.RequestID(ctx),
		})
	})
}

// spendable is what the account can pay out right now without breaking its
// minimum balance.
func spendable(account *ledger.Account) uint64 {
	native := account.Balance(domain.NativeAsset)
	if native <= account.MinBalance {
		return 0
	}
	return native - account.MinBalance
}
