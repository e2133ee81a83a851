package service

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"cardvault/internal/withdrawal/models"
	"cardvault/pkg/domain"
	dErrors "cardvault/pkg/domain-errors"
	"cardvault/pkg/platform/audit"
	"cardvault/pkg/requestcontext"
)

// ExecuteApproved completes a withdrawal immediately on the strength of a
// settler counter-signature. Nothing is stored beforehand; the signed payload
// carries everything, bound to this network's genesis identity.
func (s *Service) ExecuteApproved(ctx context.Context, caller, fundAddr domain.Address, asset domain.AssetID, amount uint64, expiresAt time.Time, nonce uint64, signature []byte) error {
	ctx, span := s.tracer.Start(ctx, "withdrawal.ExecuteApproved")
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
		if !s.clock().Before(expiresAt) {
			return dErrors.New(dErrors.CodeTiming, "APPROVAL_EXPIRED")
		}

		approval := models.Approval{
			CardFund:  fundAddr,
			Recipient: caller,
			Asset:     asset,
			Amount:    amount,
			ExpiresAt: expiresAt,
			Nonce:     nonce,
			GenesisID: s.genesis,
		}
		_, settlerKey := s.gate.Settler(ctx)
		if !approval.Verify(settlerKey, signature) {
			if s.metrics != nil {
				s.metrics.SignatureRejections.Inc()
			}
			// Best effort; the rejection itself is the signal.
			_ = s.auditor.Emit(ctx, audit.Event{
				Action:    audit.ActionSignatureRejected,
				Actor:     caller,
				Subject:   fundAddr,
				Asset:     asset,
				Amount:    amount,
				Nonce:     nonce,
				RequestID: requestcontext.RequestID(ctx),
			})
			return dErrors.New(dErrors.CodeSignature, "SIGNATURE_INVALID")
		}
		if err := s.validatePayout(ctx, fundAddr, caller, asset, amount); err != nil {
			return err
		}

		if err := s.issue(ctx, fundAddr, caller, asset, amount, nonce); err != nil {
			return err
		}

		if s.metrics != nil {
			s.metrics.Executions.WithLabelValues("approved").Inc()
			s.metrics.WithdrawnAmount.WithLabelValues("approved").Add(float64(amount))
		}
		return s.auditor.Emit(ctx, audit.Event{
			Action:    audit.ActionWithdrawalApproved,
			Actor:     caller,
			Subject:   fundAddr,
			Asset:     asset,
			Amount:    amount,
			Nonce:     nonce,
			RequestID: requestcontext.RequestID(ctx),
		})
	})
}
