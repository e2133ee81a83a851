// Package service implements the two withdrawal protocols. Both converge on
// the fund's single withdrawal nonce, so an executed approval invalidates any
// pending permissionless request carrying the old nonce; that is re-checked
// at execute time, never eagerly.
package service

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"cardvault/internal/accessgate"
	"cardvault/internal/ledger"
	regModels "cardvault/internal/registry/models"
	wdMetrics "cardvault/internal/withdrawal/metrics"
	"cardvault/internal/withdrawal/models"
	"cardvault/pkg/domain"
	dErrors "cardvault/pkg/domain-errors"
	"cardvault/pkg/platform/audit"
	"cardvault/pkg/platform/tx"
	"cardvault/pkg/requestcontext"
)

// DefaultWaitTime is the cooling-off period before a permissionless request
// may execute, until the owner overrides it.
const DefaultWaitTime = 24 * time.Hour

// Funds is the slice of the registry's fund store the withdrawal flows need.
type Funds interface {
	Get(ctx context.Context, address domain.Address) (*regModels.CardFund, error)
	AdvanceWithdrawalNonce(ctx context.Context, address domain.Address, next uint64) error
}

type RequestStore interface {
	Save(ctx context.Context, req *models.WithdrawalRequest) error
	Get(ctx context.Context, owner, fund domain.Address) (*models.WithdrawalRequest, error)
	Delete(ctx context.Context, owner, fund domain.Address) error
	ListByOwner(ctx context.Context, owner domain.Address) ([]*models.WithdrawalRequest, error)
}

type Auditor interface {
	Emit(ctx context.Context, event audit.Event) error
}

type Service struct {
	ledger   *ledger.Service
	gate     *accessgate.Gate
	funds    Funds
	requests RequestStore
	auditor  Auditor
	runner   tx.Runner
	metrics  *wdMetrics.Metrics
	genesis  string
	clock    func() time.Time
	tracer   trace.Tracer

	waitMu   sync.RWMutex
	waitTime time.Duration
}

func New(
	ledgerSvc *ledger.Service,
	gate *accessgate.Gate,
	funds Funds,
	requests RequestStore,
	auditor Auditor,
	runner tx.Runner,
	genesisID string,
) (*Service, error) {
	switch {
	case ledgerSvc == nil:
		return nil, dErrors.New(dErrors.CodeInternal, "ledger service is required")
	case gate == nil:
		return nil, dErrors.New(dErrors.CodeInternal, "access gate is required")
	case funds == nil:
		return nil, dErrors.New(dErrors.CodeInternal, "fund store is required")
	case requests == nil:
		return nil, dErrors.New(dErrors.CodeInternal, "request store is required")
	case auditor == nil:
		return nil, dErrors.New(dErrors.CodeInternal, "auditor is required")
	case runner == nil:
		return nil, dErrors.New(dErrors.CodeInternal, "tx runner is required")
	case genesisID == "":
		return nil, dErrors.New(dErrors.CodeInternal, "genesis identity is required")
	}
	return &Service{
		ledger:   ledgerSvc,
		gate:     gate,
		funds:    funds,
		requests: requests,
		auditor:  auditor,
		runner:   runner,
		genesis:  genesisID,
		clock:    time.Now,
		tracer:   otel.Tracer("cardvault/withdrawal"),
		waitTime: DefaultWaitTime,
	}, nil
}

// WithMetrics attaches prometheus metrics; without it counters are skipped.
func (s *Service) WithMetrics(m *wdMetrics.Metrics) *Service {
	s.metrics = m
	return s
}

// WithClock overrides the time source for tests.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// WaitTime is the current cooling-off period.
func (s *Service) WaitTime() time.Duration {
	s.waitMu.RLock()
	defer s.waitMu.RUnlock()
	return s.waitTime
}

// SetWaitTime changes the cooling-off period for all future executions.
// Requests already pending are judged against the new value.
func (s *Service) SetWaitTime(ctx context.Context, caller domain.Address, waitTime time.Duration) error {
	if err := s.gate.RequireOwner(ctx, caller); err != nil {
		return err
	}
	if waitTime < 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "wait time must not be negative")
	}
	s.waitMu.Lock()
	s.waitTime = waitTime
	s.waitMu.Unlock()

	return s.auditor.Emit(ctx, audit.Event{
		Action:    audit.ActionTimeoutChanged,
		Actor:     caller,
		Amount:    uint64(waitTime / time.Second),
		RequestID: requestcontext.RequestID(ctx),
	})
}

// GetRequest returns the pending request for one (owner, fund) pair.
func (s *Service) GetRequest(ctx context.Context, owner, fund domain.Address) (*models.WithdrawalRequest, error) {
	return s.requests.Get(ctx, owner, fund)
}

// RequestsForOwner lists the owner's pending requests.
func (s *Service) RequestsForOwner(ctx context.Context, owner domain.Address) ([]*models.WithdrawalRequest, error) {
	return s.requests.ListByOwner(ctx, owner)
}

// GenesisID is the network identity bound into approved-withdrawal payloads.
func (s *Service) GenesisID() string {
	return s.genesis
}
