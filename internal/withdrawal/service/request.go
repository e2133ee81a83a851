package service

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"cardvault/internal/withdrawal/models"
	"cardvault/pkg/domain"
	dErrors "cardvault/pkg/domain-errors"
	"cardvault/pkg/platform/audit"
	"cardvault/pkg/requestcontext"
)

// Request stores a pending withdrawal for the caller's card fund, pinned to
// the next withdrawal nonce. A live request for the same fund is silently
// overwritten; the supersession is recorded on the audit trail.
func (s *Service) Request(ctx context.Context, caller, fundAddr domain.Address, asset domain.AssetID, amount uint64) error {
	ctx, span := s.tracer.Start(ctx, "withdrawal.Request")
	defer span.End()
	span.SetAttributes(attribute.String("fund.address", fundAddr.String()))

	return s.runner.Run(ctx, func(ctx context.Context) error {
		fund, err := s.funds.Get(ctx, fundAddr)
		if err != nil {
			return err
		}
		if caller != fund.Owner {
			return dErrors.New(dErrors.CodeUnauthorized, "SENDER_NOT_ALLOWED")
		}
		balance, err := s.ledger.Balance(ctx, fundAddr, asset)
		if err != nil {
			return err
		}
		if amount > balance {
			return dErrors.New(dErrors.CodeInvalidInput, "amount exceeds fund balance")
		}

		req, err := models.NewWithdrawalRequest(caller, fundAddr, asset, amount, fund.WithdrawalNonce+1, s.clock())
		if err != nil {
			return err
		}
		if previous, err := s.requests.Get(ctx, caller, fundAddr); err == nil {
			// Best effort: the overwrite below is the operation's outcome
			// either way, but the trail keeps the superseded request.
			_ = s.auditor.Emit(ctx, audit.Event{
				Action:    audit.ActionWithdrawalSuperseded,
				Actor:     caller,
				Subject:   fundAddr,
				Asset:     previous.Asset,
				Amount:    previous.Amount,
				Nonce:     previous.Nonce,
				Reference: fmt.Sprintf("requested_at=%d", previous.CreatedAt.Unix()),
				RequestID: requestcontext.RequestID(ctx),
			})
		} else if !dErrors.Is(err, dErrors.CodeNotFound) {
			return err
		}
		if err := s.requests.Save(ctx, req); err != nil {
			return err
		}

		if s.metrics != nil {
			s.metrics.Requests.Inc()
		}
		return s.auditor.Emit(ctx, audit.Event{
			Action:    audit.ActionWithdrawalRequested,
			Actor:     caller,
			Subject:   fundAddr,
			Asset:     asset,
			Amount:    amount,
			Nonce:     req.Nonce,
			RequestID: requestcontext.RequestID(ctx),
		})
	})
}

// Cancel deletes the caller's pending request for the fund.
func (s *Service) Cancel(ctx context.Context, caller, fundAddr domain.Address) error {
	ctx, span := s.tracer.Start(ctx, "withdrawal.Cancel")
	defer span.End()

	return s.runner.Run(ctx, func(ctx context.Context) error {
		req, err := s.requests.Get(ctx, caller, fundAddr)
		if err != nil {
			return err
		}
		if err := s.requests.Delete(ctx, caller, fundAddr); err != nil {
			return err
		}

		if s.metrics != nil {
			s.metrics.Cancellations.Inc()
		}
		return s.auditor.Emit(ctx, audit.Event{
			Action:    audit.ActionWithdrawalCancelled,
			Actor:     caller,
			Subject:   fundAddr,
			Asset:     req.Asset,
			Amount:    req.Amount,
			Nonce:     req.Nonce,
			RequestID: requestcontext.RequestID(ctx),
		})
	})
}

// Execute completes a pending request after the cooling-off period. The
// request's nonce must still be the fund's next withdrawal nonce: an approved
// withdrawal executed meanwhile advances the counter and strands the request.
// The request is consumed whether or not the full amount is taken.
func (s *Service) Execute(ctx context.Context, caller, fundAddr domain.Address, amount uint64) error {
	ctx, span := s.tracer.Start(ctx, "withdrawal.Execute")
	defer span.End()
	span.SetAttributes(attribute.String("fund.address", fundAddr.String()))

	return s.runner.Run(ctx, func(ctx context.Context) error {
		req, err := s.requests.Get(ctx, caller, fundAddr)
		if err != nil {
			return err
		}
		fund, err := s.funds.Get(ctx, fundAddr)
		if err != nil {
			return err
		}
		if caller != fund.Owner {
			return dErrors.New(dErrors.CodeUnauthorized, "SENDER_NOT_ALLOWED")
		}
		if amount > req.Amount {
			return dErrors.New(dErrors.CodeInvalidInput, "amount exceeds requested amount")
		}
		if s.clock().Before(req.CreatedAt.Add(s.WaitTime())) {
			return dErrors.New(dErrors.CodeTiming, "WITHDRAWAL_LOCKED")
		}
		if err := s.validatePayout(ctx, fundAddr, caller, req.Asset, amount); err != nil {
			return err
		}

		if err := s.issue(ctx, fund.Address, caller, req.Asset, amount, req.Nonce); err != nil {
			return err
		}
		if err := s.requests.Delete(ctx, caller, fundAddr); err != nil {
			return err
		}

		if s.metrics != nil {
			s.metrics.Executions.WithLabelValues("permissionless").Inc()
			s.metrics.WithdrawnAmount.WithLabelValues("permissionless").Add(float64(amount))
		}
		return s.auditor.Emit(ctx, audit.Event{
			Action:    audit.ActionWithdrawalExecuted,
			Actor:     caller,
			Subject:   fundAddr,
			Asset:     req.Asset,
			Amount:    amount,
			Nonce:     req.Nonce,
			RequestID: requestcontext.RequestID(ctx),
		})
	})
}

// validatePayout confirms the transfer that follows a nonce advance cannot
// fail: the fund can cover the amount and the recipient can receive it.
func (s *Service) validatePayout(ctx context.Context, fundAddr, recipient domain.Address, asset domain.AssetID, amount uint64) error {
	if amount == 0 {
		return nil
	}
	account, err := s.ledger.GetAccount(ctx, fundAddr)
	if err != nil {
		return err
	}
	balance := account.Balance(asset)
	if asset.IsNative() {
		if balance < account.MinBalance || balance-account.MinBalance < amount {
			return dErrors.New(dErrors.CodeInvalidInput, "amount exceeds fund balance")
		}
	} else if balance < amount {
		return dErrors.New(dErrors.CodeInvalidInput, "amount exceeds fund balance")
	}
	receiver, err := s.ledger.GetAccount(ctx, recipient)
	if err != nil {
		return err
	}
	if !receiver.OptedIn(asset) {
		return dErrors.New(dErrors.CodeInvariant, "recipient not opted into asset")
	}
	return nil
}

// issue is the shared execution primitive for both protocols: advance the
// withdrawal nonce by compare-and-set, then pay out. The nonce advance is the
// commit point.
func (s *Service) issue(ctx context.Context, fundAddr, recipient domain.Address, asset domain.AssetID, amount, nonce uint64) error {
	if err := s.funds.AdvanceWithdrawalNonce(ctx, fundAddr, nonce); err != nil {
		if s.metrics != nil && dErrors.Is(err, dErrors.CodeSequence) {
			s.metrics.NonceRejections.Inc()
		}
		return err
	}
	if amount == 0 {
		return nil
	}
	return s.ledger.Transfer(ctx, fundAddr, recipient, asset, amount)
}
