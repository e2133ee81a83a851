// Package service implements the value-moving operations: settler-driven
// debit, refund, and settlement, plus the owner-managed asset allowlist. Every
// movement is serialized by a nonce; the store's compare-and-advance is the
// only thing that commits one.
package service

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"cardvault/internal/accessgate"
	"cardvault/internal/ledger"
	payMetrics "cardvault/internal/payments/metrics"
	"cardvault/internal/payments/models"
	regModels "cardvault/internal/registry/models"
	"cardvault/pkg/domain"
	dErrors "cardvault/pkg/domain-errors"
	"cardvault/pkg/platform/audit"
	"cardvault/pkg/platform/tx"
)

// Funds is the slice of the registry's fund store the payment flows need:
// record lookup and the per-fund payment-nonce compare-and-advance.
type Funds interface {
	Get(ctx context.Context, address domain.Address) (*regModels.CardFund, error)
	AdvancePaymentNonce(ctx context.Context, address domain.Address, next uint64) error
}

type SettlementStore interface {
	CreateIfAbsent(ctx context.Context, record *models.SettlementAddress) error
	Get(ctx context.Context, asset domain.AssetID) (*models.SettlementAddress, error)
	Update(ctx context.Context, asset domain.AssetID, address domain.Address) error
	Delete(ctx context.Context, asset domain.AssetID) error
	List(ctx context.Context) ([]*models.SettlementAddress, error)
	SettlementNonce(ctx context.Context) (uint64, error)
	AdvanceSettlementNonce(ctx context.Context, next uint64) error
}

type Auditor interface {
	Emit(ctx context.Context, event audit.Event) error
}

type Service struct {
	ledger      *ledger.Service
	gate        *accessgate.Gate
	funds       Funds
	settlements SettlementStore
	auditor     Auditor
	runner      tx.Runner
	metrics     *payMetrics.Metrics
	master      domain.Address
	clock       func() time.Time
	tracer      trace.Tracer
}

func New(
	ledgerSvc *ledger.Service,
	gate *accessgate.Gate,
	funds Funds,
	settlements SettlementStore,
	auditor Auditor,
	runner tx.Runner,
	master domain.Address,
) (*Service, error) {
	switch {
	case ledgerSvc == nil:
		return nil, dErrors.New(dErrors.CodeInternal, "ledger service is required")
	case gate == nil:
		return nil, dErrors.New(dErrors.CodeInternal, "access gate is required")
	case funds == nil:
		return nil, dErrors.New(dErrors.CodeInternal, "fund store is required")
	case settlements == nil:
		return nil, dErrors.New(dErrors.CodeInternal, "settlement store is required")
	case auditor == nil:
		return nil, dErrors.New(dErrors.CodeInternal, "auditor is required")
	case runner == nil:
		return nil, dErrors.New(dErrors.CodeInternal, "tx runner is required")
	case master.IsZero():
		return nil, dErrors.New(dErrors.CodeInternal, "master address is required")
	}
	return &Service{
		ledger:      ledgerSvc,
		gate:        gate,
		funds:       funds,
		settlements: settlements,
		auditor:     auditor,
		runner:      runner,
		master:      master,
		clock:       time.Now,
		tracer:      otel.Tracer("cardvault/payments"),
	}, nil
}

// WithMetrics attaches prometheus metrics; without it counters are skipped.
func (s *Service) WithMetrics(m *payMetrics.Metrics) *Service {
	s.metrics = m
	return s
}

// WithClock overrides the time source for tests.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// SettlementAddress returns the allowlist entry for one asset.
func (s *Service) SettlementAddress(ctx context.Context, asset domain.AssetID) (*models.SettlementAddress, error) {
	return s.settlements.Get(ctx, asset)
}

// AllowedAssets lists every allowlisted asset with its settlement destination.
func (s *Service) AllowedAssets(ctx context.Context) ([]*models.SettlementAddress, error) {
	return s.settlements.List(ctx)
}

// SettlementNonce reports the last accepted global settlement nonce.
func (s *Service) SettlementNonce(ctx context.Context) (uint64, error) {
	return s.settlements.SettlementNonce(ctx)
}

// available is what the account can pay out of an asset right now. Native
// balance is reduced by the account's minimum balance.
func available(account *ledger.Account, asset domain.AssetID) uint64 {
	balance := account.Balance(asset)
	if !asset.IsNative() {
		return balance
	}
	if balance <= account.MinBalance {
		return 0
	}
	return balance - account.MinBalance
}
