// Package recovery sweeps assets that landed on the master holding account
// outside any tracked flow, for example a direct transfer made by mistake.
// Owner-only pass-through; accounting for tracked balances stays with the
// payments module.
package recovery

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"cardvault/internal/accessgate"
	"cardvault/internal/ledger"
	"cardvault/pkg/domain"
	dErrors "cardvault/pkg/domain-errors"
	"cardvault/pkg/platform/audit"
	"cardvault/pkg/platform/tx"
	"cardvault/pkg/requestcontext"
)

type Auditor interface {
	Emit(ctx context.Context, event audit.Event) error
}

type Service struct {
	ledger  *ledger.Service
	gate    *accessgate.Gate
	auditor Auditor
	runner  tx.Runner
	master  domain.Address
	tracer  trace.Tracer
}

func New(ledgerSvc *ledger.Service, gate *accessgate.Gate, auditor Auditor, runner tx.Runner, master domain.Address) (*Service, error) {
	switch {
	case ledgerSvc == nil:
		return nil, dErrors.New(dErrors.CodeInternal, "ledger service is required")
	case gate == nil:
		return nil, dErrors.New(dErrors.CodeInternal, "access gate is required")
	case auditor == nil:
		return nil, dErrors.New(dErrors.CodeInternal, "auditor is required")
	case runner == nil:
		return nil, dErrors.New(dErrors.CodeInternal, "tx runner is required")
	case master.IsZero():
		return nil, dErrors.New(dErrors.CodeInternal, "master address is required")
	}
	return &Service{
		ledger:  ledgerSvc,
		gate:    gate,
		auditor: auditor,
		runner:  runner,
		master:  master,
		tracer:  otel.Tracer("cardvault/recovery"),
	}, nil
}

// Recover pays amount of asset from the master holding account to the given
// recipient.
func (s *Service) Recover(ctx context.Context, caller domain.Address, asset domain.AssetID, amount uint64, to domain.Address) error {
	ctx, span := s.tracer.Start(ctx, "recovery.Recover")
	defer span.End()

	return s.runner.Run(ctx, func(ctx context.Context) error {
		if err := s.gate.RequireOwner(ctx, caller); err != nil {
			return err
		}
		if to.IsZero() {
			return dErrors.New(dErrors.CodeInvalidInput, "recipient address is required")
		}
		master, err := s.ledger.GetAccount(ctx, s.master)
		if err != nil {
			return err
		}
		balance := master.Balance(asset)
		if asset.IsNative() {
			if balance < master.MinBalance || balance-master.MinBalance < amount {
				return dErrors.New(dErrors.CodeInvalidInput, "amount exceeds holding balance")
			}
		} else if balance < amount {
			return dErrors.New(dErrors.CodeInvalidInput, "amount exceeds holding balance")
		}
		if err := s.ledger.Transfer(ctx, s.master, to, asset, amount); err != nil {
			return err
		}
		return s.auditor.Emit(ctx, audit.Event{
			Action:    audit.ActionAssetRecovered,
			Actor:     caller,
			Subject:   to,
			Asset:     asset,
			Amount:    amount,
			RequestID: requestcontext.RequestID(ctx),
		})
	})
}
