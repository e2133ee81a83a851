package service

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"cardvault/internal/ledger"
	"cardvault/internal/registry/models"
	"cardvault/pkg/domain"
	dErrors "cardvault/pkg/domain-errors"
	"cardvault/pkg/platform/audit"
	"cardvault/pkg/requestcontext"
)

// InitiateFund starts the two-phase creation of a card fund under an existing
// partner channel, optionally opting the new sub-account into an asset. The
// (channel, caller) pair is checked against the uniqueness index before any
// deposit is taken.
func (s *Service) InitiateFund(ctx context.Context, caller domain.Address, deposit uint64, channelAddr domain.Address, asset domain.AssetID, reference string) (domain.Address, error) {
	ctx, span := s.tracer.Start(ctx, "registry.InitiateFund")
	defer span.End()

	var address domain.Address
	err := s.runner.Run(ctx, func(ctx context.Context) error {
		if err := s.gate.RequireNotPaused(ctx); err != nil {
			return err
		}
		if _, err := s.channels.Get(ctx, channelAddr); err != nil {
			return err
		}
		if len(reference) > models.MaxFundReferenceLen {
			return dErrors.New(dErrors.CodeInvalidInput, "CARD_FUND_REFERENCE_TOO_LONG")
		}
		if _, err := s.funds.LookupIndex(ctx, models.FundIndexKey(channelAddr, caller)); err == nil {
			return dErrors.New(dErrors.CodeConflict, "CARD_FUND_ALREADY_EXISTS")
		} else if !dErrors.Is(err, dErrors.CodeNotFound) {
			return err
		}

		required := ledger.BaseAccountMBR
		if !asset.IsNative() {
			required += ledger.AssetOptInMBR
		}
		if deposit != required {
			return dErrors.New(dErrors.CodeInvalidInput, "deposit must equal the sub-account minimum balance")
		}

		setupCost := models.FundSetupCost(len(reference))
		payer, err := s.ledger.GetAccount(ctx, caller)
		if err != nil {
			return err
		}
		if spendable(payer) < deposit+setupCost {
			return dErrors.New(dErrors.CodeInvalidInput, "insufficient balance for deposit and setup storage")
		}

		if err := s.ledger.ReserveDeposit(ctx, caller, setupCost); err != nil {
			return err
		}
		address, err = s.factory.CreateControlled(ctx)
		if err != nil {
			return err
		}
		if err := s.ledger.Transfer(ctx, caller, address, domain.NativeAsset, deposit); err != nil {
			return err
		}
		if !asset.IsNative() {
			// Zero-amount slot; establishes the asset holding before any debit.
			if err := s.ledger.OptIn(ctx, address, asset); err != nil {
				return err
			}
		}
		if err := s.setups.SaveFundSetup(ctx, &models.FundSetup{
			Initiator:      caller,
			Address:        address,
			PartnerChannel: channelAddr,
			Asset:          asset,
			Reference:      reference,
			CreatedAt:      s.clock(),
		}); err != nil {
			return err
		}
		if s.metrics != nil {
			s.metrics.SetupsInitiated.WithLabelValues("card_fund").Inc()
		}
		return s.auditor.Emit(ctx, audit.Event{
			Action:    audit.ActionFundSetupInitiated,
			Actor:     caller,
			Subject:   address,
			Asset:     asset,
			Amount:    deposit,
			Reference: reference,
			RequestID: requestcontext.RequestID(ctx),
		})
	})
	if err != nil {
		return domain.ZeroAddress, err
	}
	span.SetAttributes(attribute.String("fund.address", address.String()))
	return address, nil
}

// FinalizeFund promotes a pending setup into a permanent card fund. The
// uniqueness index is re-checked here: a competing fund for the same pair may
// have been finalized since initiate, so the earlier pre-check proves nothing.
func (s *Service) FinalizeFund(ctx context.Context, caller domain.Address, deposit uint64, address domain.Address) error {
	ctx, span := s.tracer.Start(ctx, "registry.FinalizeFund")
	defer span.End()

	return s.runner.Run(ctx, func(ctx context.Context) error {
		if err := s.gate.RequireNotPaused(ctx); err != nil {
			return err
		}
		setup, err := s.setups.GetFundSetup(ctx, caller, address)
		if err != nil {
			return err
		}
		if _, err := s.channels.Get(ctx, setup.PartnerChannel); err != nil {
			return err
		}
		if _, err := s.funds.LookupIndex(ctx, models.FundIndexKey(setup.PartnerChannel, caller)); err == nil {
			return dErrors.New(dErrors.CodeConflict, "CARD_FUND_ALREADY_EXISTS")
		} else if !dErrors.Is(err, dErrors.CodeNotFound) {
			return err
		}

		cost := models.FundStorageCost(len(setup.Reference))
		if deposit != cost {
			return dErrors.New(dErrors.CodeInvalidInput, "deposit must equal the fund storage cost")
		}
		if err := s.ledger.RequireControlled(ctx, address, s.master); err != nil {
			return dErrors.Wrap(dErrors.CodeInvalidInput, "INVALID_CARD_FUND_ADDRESS", err)
		}
		payer, err := s.ledger.GetAccount(ctx, caller)
		if err != nil {
			return err
		}
		if spendable(payer) < deposit {
			return dErrors.New(dErrors.CodeInvalidInput, "insufficient balance for storage deposit")
		}

		fund, err := models.NewCardFund(address, caller, setup.PartnerChannel, setup.Reference, s.clock())
		if err != nil {
			return err
		}
		// Atomic create of record plus index entry; the authoritative
		// uniqueness decision happens here, not in the pre-checks above.
		if err := s.funds.CreateIfAbsent(ctx, fund); err != nil {
			return err
		}
		if err := s.ledger.Transfer(ctx, caller, s.master, domain.NativeAsset, deposit); err != nil {
			return err
		}
		if err := s.ledger.ReserveDeposit(ctx, s.master, cost); err != nil {
			return err
		}
		if err := s.setups.DeleteFundSetup(ctx, caller, address); err != nil {
			return err
		}
		if err := s.ledger.ReleaseDeposit(ctx, caller, models.FundSetupCost(len(setup.Reference))); err != nil {
			return err
		}

		if s.metrics != nil {
			s.metrics.Finalizations.WithLabelValues("card_fund").Inc()
			if count, err := s.funds.ActiveCount(ctx); err == nil {
				s.metrics.FundsActive.Set(float64(count))
			}
		}
		return s.auditor.Emit(ctx, audit.Event{
			Action:    audit.ActionFundCreated,
			Actor:     caller,
			Subject:   address,
			Asset:     setup.Asset,
			Amount:    deposit,
			Reference: setup.Reference,
			RequestID: requestcontext.RequestID(ctx),
		})
	})
}

// CloseFund deletes a card fund and its index entry, remitting the
// sub-account's whole balance and the storage deposit to the fund owner.
// The contract owner may also close a fund, but only once it holds no asset
// balances; proceeds still go to the fund owner.
func (s *Service) CloseFund(ctx context.Context, caller, address domain.Address) error {
	ctx, span := s.tracer.Start(ctx, "registry.CloseFund")
	defer span.End()

	return s.runner.Run(ctx, func(ctx context.Context) error {
		fund, err := s.funds.Get(ctx, address)
		if err != nil {
			return err
		}
		if caller != fund.Owner {
			if err := s.gate.RequireOwner(ctx, caller); err != nil {
				return dErrors.New(dErrors.CodeUnauthorized, "SENDER_NOT_ALLOWED")
			}
			account, err := s.ledger.GetAccount(ctx, address)
			if err != nil {
				return err
			}
			for asset, balance := range account.Balances {
				if !asset.IsNative() && balance != 0 {
					return dErrors.New(dErrors.CodeInvariant, "fund still holds assets")
				}
			}
		}
		// The remittance is the last step below; without rollback in the
		// serial runner it must be proven viable before anything mutates.
		if err := s.ledger.RequireRemittable(ctx, address, fund.Owner); err != nil {
			return err
		}

		cost := models.FundStorageCost(len(fund.Reference))
		if err := s.funds.Delete(ctx, address); err != nil {
			return err
		}
		if err := s.ledger.ReleaseDeposit(ctx, s.master, cost); err != nil {
			return err
		}
		if err := s.ledger.Transfer(ctx, s.master, fund.Owner, domain.NativeAsset, cost); err != nil {
			return err
		}
		if err := s.ledger.CloseAccountTo(ctx, address, fund.Owner); err != nil {
			return err
		}

		if s.metrics != nil {
			s.metrics.Closures.WithLabelValues("card_fund").Inc()
			if count, err := s.funds.ActiveCount(ctx); err == nil {
				s.metrics.FundsActive.Set(float64(count))
			}
		}
		return s.auditor.Emit(ctx, audit.Event{
			Action:    audit.ActionFundClosed,
			Actor:     caller,
			Subject:   address,
			Amount:    cost,
			Reference: fund.Reference,
			RequestID: requestcontext.RequestID(ctx),
		})
	})
}
