package service

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"cardvault/pkg/domain"
	dErrors "cardvault/pkg/domain-errors"
	"cardvault/pkg/platform/audit"
	"cardvault/pkg/requestcontext"
)

// Debit moves amount of asset from a card fund into the master holding
// account. Settler-only; the fund's payment nonce must be exactly nonce-1 and
// advances to nonce on success.
func (s *Service) Debit(ctx context.Context, caller, fundAddr domain.Address, asset domain.AssetID, amount, nonce uint64, reference string) error {
	ctx, span := s.tracer.Start(ctx, "payments.Debit")
	defer span.End()
	span.SetAttributes(attribute.String("fund.address", fundAddr.String()))

	return s.runner.Run(ctx, func(ctx context.Context) error {
		if err := s.gate.RequireNotPaused(ctx); err != nil {
			return err
		}
		if err := s.gate.RequireSettler(ctx, caller); err != nil {
			return err
		}
		if _, err := s.funds.Get(ctx, fundAddr); err != nil {
			return err
		}
		if err := s.requireAllowed(ctx, asset); err != nil {
			return err
		}
		account, err := s.ledger.GetAccount(ctx, fundAddr)
		if err != nil {
			return err
		}
		if avail := available(account, asset); avail < amount {
			return dErrors.New(dErrors.CodeInvalidInput, "amount exceeds fund balance")
		}

		// The compare-and-advance is the commit point; everything after it
		// has been validated and cannot fail.
		if err := s.funds.AdvancePaymentNonce(ctx, fundAddr, nonce); err != nil {
			s.noteNonceRejection(ctx, "debit", caller, fundAddr, asset, amount, nonce)
			return err
		}
		if err := s.ledger.Transfer(ctx, fundAddr, s.master, asset, amount); err != nil {
			return err
		}

		if s.metrics != nil {
			s.metrics.Movements.WithLabelValues("debit").Inc()
			s.metrics.MovedAmount.WithLabelValues("debit").Add(float64(amount))
		}
		return s.auditor.Emit(ctx, audit.Event{
			Action:    audit.ActionDebit,
			Actor:     caller,
			Subject:   fundAddr,
			Asset:     asset,
			Amount:    amount,
			Nonce:     nonce,
			Reference: reference,
			RequestID: requestcontext.RequestID(ctx),
		})
	})
}

// Refund moves amount of asset from the master holding account back into a
// card fund. Same gating and nonce discipline as Debit, opposite direction.
func (s *Service) Refund(ctx context.Context, caller, fundAddr domain.Address, asset domain.AssetID, amount, nonce uint64, reference string) error {
	ctx, span := s.tracer.Start(ctx, "payments.Refund")
	defer span.End()
	span.SetAttributes(attribute.String("fund.address", fundAddr.String()))

	return s.runner.Run(ctx, func(ctx context.Context) error {
		if err := s.gate.RequireNotPaused(ctx); err != nil {
			return err
		}
		if err := s.gate.RequireSettler(ctx, caller); err != nil {
			return err
		}
		if _, err := s.funds.Get(ctx, fundAddr); err != nil {
			return err
		}
		if err := s.requireAllowed(ctx, asset); err != nil {
			return err
		}
		fundAccount, err := s.ledger.GetAccount(ctx, fundAddr)
		if err != nil {
			return err
		}
		if !fundAccount.OptedIn(asset) {
			return dErrors.New(dErrors.CodeInvariant, "fund not opted into asset")
		}
		master, err := s.ledger.GetAccount(ctx, s.master)
		if err != nil {
			return err
		}
		if avail := available(master, asset); avail < amount {
			return dErrors.New(dErrors.CodeInvalidInput, "amount exceeds holding balance")
		}

		if err := s.funds.AdvancePaymentNonce(ctx, fundAddr, nonce); err != nil {
			s.noteNonceRejection(ctx, "refund", caller, fundAddr, asset, amount, nonce)
			return err
		}
		if err := s.ledger.Transfer(ctx, s.master, fundAddr, asset, amount); err != nil {
			return err
		}

		if s.metrics != nil {
			s.metrics.Movements.WithLabelValues("refund").Inc()
			s.metrics.MovedAmount.WithLabelValues("refund").Add(float64(amount))
		}
		return s.auditor.Emit(ctx, audit.Event{
			Action:    audit.ActionRefund,
			Actor:     caller,
			Subject:   fundAddr,
			Asset:     asset,
			Amount:    amount,
			Nonce:     nonce,
			Reference: reference,
			RequestID: requestcontext.RequestID(ctx),
		})
	})
}

// Settle pays amount of asset from the master holding account to the asset's
// registered settlement address. The global settlement nonce serializes
// settlements across all assets.
func (s *Service) Settle(ctx context.Context, caller domain.Address, asset domain.AssetID, amount, nonce uint64) error {
	ctx, span := s.tracer.Start(ctx, "payments.Settle")
	defer span.End()

	return s.runner.Run(ctx, func(ctx context.Context) error {
		if err := s.gate.RequireNotPaused(ctx); err != nil {
			return err
		}
		if err := s.gate.RequireSettler(ctx, caller); err != nil {
			return err
		}
		record, err := s.settlements.Get(ctx, asset)
		if err != nil {
			return err
		}
		recipient, err := s.ledger.GetAccount(ctx, record.Address)
		if err != nil {
			return err
		}
		if !recipient.OptedIn(asset) {
			return dErrors.New(dErrors.CodeInvariant, "settlement address not opted into asset")
		}
		master, err := s.ledger.GetAccount(ctx, s.master)
		if err != nil {
			return err
		}
		if avail := available(master, asset); avail < amount {
			return dErrors.New(dErrors.CodeInvalidInput, "amount exceeds holding balance")
		}

		if err := s.settlements.AdvanceSettlementNonce(ctx, nonce); err != nil {
			s.noteNonceRejection(ctx, "settle", caller, record.Address, asset, amount, nonce)
			return err
		}
		if err := s.ledger.Transfer(ctx, s.master, record.Address, asset, amount); err != nil {
			return err
		}

		if s.metrics != nil {
			s.metrics.Movements.WithLabelValues("settle").Inc()
			s.metrics.MovedAmount.WithLabelValues("settle").Add(float64(amount))
		}
		return s.auditor.Emit(ctx, audit.Event{
			Action:    audit.ActionSettled,
			Actor:     caller,
			Subject:   record.Address,
			Asset:     asset,
			Amount:    amount,
			Nonce:     nonce,
			RequestID: requestcontext.RequestID(ctx),
		})
	})
}

// requireAllowed rejects movements in assets the system does not custody.
// The native asset is always held.
func (s *Service) requireAllowed(ctx context.Context, asset domain.AssetID) error {
	if asset.IsNative() {
		return nil
	}
	if _, err := s.settlements.Get(ctx, asset); err != nil {
		if dErrors.Is(err, dErrors.CodeNotFound) {
			return dErrors.New(dErrors.CodeInvalidInput, "ASSET_NOT_ALLOWED")
		}
		return err
	}
	return nil
}

// noteNonceRejection records a rejected nonce as a security signal. The
// operation is already failing; the signal is best effort.
func (s *Service) noteNonceRejection(ctx context.Context, operation string, actor, subject domain.Address, asset domain.AssetID, amount, nonce uint64) {
	if s.metrics != nil {
		s.metrics.NonceRejections.WithLabelValues(operation).Inc()
	}
	_ = s.auditor.Emit(ctx, audit.Event{
		Action:    audit.ActionNonceRejected,
		Actor:     actor,
		Subject:   subject,
		Asset:     asset,
		Amount:    amount,
		Nonce:     nonce,
		Reference: operation,
		RequestID: requestcontext.RequestID(ctx),
	})
}
