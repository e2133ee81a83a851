package service

import (
	"context"

	"cardvault/internal/ledger"
	"cardvault/internal/payments/models"
	"cardvault/pkg/domain"
	dErrors "cardvault/pkg/domain-errors"
	"cardvault/pkg/platform/audit"
	"cardvault/pkg/requestcontext"
)

// AllowlistAdd registers an asset the system will custody: the master holding
// account opts into it and the settlement destination is recorded. The caller
// attaches exactly the storage cost of one allowlist record; the opt-in
// minimum balance is carried by the master account itself.
func (s *Service) AllowlistAdd(ctx context.Context, caller domain.Address, asset domain.AssetID, settlementAddr domain.Address, deposit uint64) error {
	ctx, span := s.tracer.Start(ctx, "payments.AllowlistAdd")
	defer span.End()

	return s.runner.Run(ctx, func(ctx context.Context) error {
		if err := s.gate.RequireOwner(ctx, caller); err != nil {
			return err
		}
		record, err := models.NewSettlementAddress(asset, settlementAddr, s.clock())
		if err != nil {
			return err
		}
		if deposit != models.SettlementBoxCost() {
			return dErrors.New(dErrors.CodeInvalidInput, "deposit must equal the allowlist storage cost")
		}
		payer, err := s.ledger.GetAccount(ctx, caller)
		if err != nil {
			return err
		}
		if available(payer, domain.NativeAsset) < deposit {
			return dErrors.New(dErrors.CodeInvalidInput, "insufficient balance for storage deposit")
		}
		// The opt-in raises the master's own minimum balance; it must be able
		// to carry that out of its existing funds.
		master, err := s.ledger.GetAccount(ctx, s.master)
		if err != nil {
			return err
		}
		if available(master, domain.NativeAsset) < ledger.AssetOptInMBR {
			return dErrors.New(dErrors.CodeInvalidInput, "holding account cannot cover the opt-in minimum")
		}

		if err := s.settlements.CreateIfAbsent(ctx, record); err != nil {
			return err
		}
		if err := s.ledger.Transfer(ctx, caller, s.master, domain.NativeAsset, deposit); err != nil {
			return err
		}
		if err := s.ledger.ReserveDeposit(ctx, s.master, deposit); err != nil {
			return err
		}
		if err := s.ledger.OptIn(ctx, s.master, asset); err != nil {
			return err
		}

		if s.metrics != nil {
			if records, err := s.settlements.List(ctx); err == nil {
				s.metrics.AssetsAllowed.Set(float64(len(records)))
			}
		}
		return s.auditor.Emit(ctx, audit.Event{
			Action:    audit.ActionAssetAllowed,
			Actor:     caller,
			Subject:   settlementAddr,
			Asset:     asset,
			Amount:    deposit,
			RequestID: requestcontext.RequestID(ctx),
		})
	})
}

// AllowlistRemove retires an asset. The master holding account must hold none
// of it; the opt-in is closed out and the storage deposit refunded to the
// caller.
func (s *Service) AllowlistRemove(ctx context.Context, caller domain.Address, asset domain.AssetID) error {
	ctx, span := s.tracer.Start(ctx, "payments.AllowlistRemove")
	defer span.End()

	return s.runner.Run(ctx, func(ctx context.Context) error {
		if err := s.gate.RequireOwner(ctx, caller); err != nil {
			return err
		}
		if _, err := s.settlements.Get(ctx, asset); err != nil {
			return err
		}
		balance, err := s.ledger.Balance(ctx, s.master, asset)
		if err != nil {
			return err
		}
		if balance != 0 {
			return dErrors.New(dErrors.CodeInvariant, "asset balance must be zero")
		}

		deposit := models.SettlementBoxCost()
		if err := s.settlements.Delete(ctx, asset); err != nil {
			return err
		}
		if err := s.ledger.CloseOut(ctx, s.master, asset); err != nil {
			return err
		}
		if err := s.ledger.ReleaseDeposit(ctx, s.master, deposit); err != nil {
			return err
		}
		if err := s.ledger.Transfer(ctx, s.master, caller, domain.NativeAsset, deposit); err != nil {
			return err
		}

		if s.metrics != nil {
			if records, err := s.settlements.List(ctx); err == nil {
				s.metrics.AssetsAllowed.Set(float64(len(records)))
			}
		}
		return s.auditor.Emit(ctx, audit.Event{
			Action:    audit.ActionAssetRemoved,
			Actor:     caller,
			Asset:     asset,
			Amount:    deposit,
			RequestID: requestcontext.RequestID(ctx),
		})
	})
}

// SetSettlementAddress redirects where an allowlisted asset settles.
func (s *Service) SetSettlementAddress(ctx context.Context, caller domain.Address, asset domain.AssetID, settlementAddr domain.Address) error {
	ctx, span := s.tracer.Start(ctx, "payments.SetSettlementAddress")
	defer span.End()

	return s.runner.Run(ctx, func(ctx context.Context) error {
		if err := s.gate.RequireOwner(ctx, caller); err != nil {
			return err
		}
		if settlementAddr.IsZero() {
			return dErrors.New(dErrors.CodeInvalidInput, "settlement address is required")
		}
		if err := s.settlements.Update(ctx, asset, settlementAddr); err != nil {
			return err
		}
		return s.auditor.Emit(ctx, audit.Event{
			Action:    audit.ActionSettlementAddset,
			Actor:     caller,
			Subject:   settlementAddr,
			Asset:     asset,
			RequestID: requestcontext.RequestID(ctx),
		})
	})
}
