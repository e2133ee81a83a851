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

// InitiateChannel starts the two-phase creation of a partner channel. The
// caller attaches exactly the minimum balance for one controlled sub-account;
// the setup deposit stays reserved on the caller's own account until finalize.
func (s *Service) InitiateChannel(ctx context.Context, caller domain.Address, deposit uint64, name string) (domain.Address, error) {
	ctx, span := s.tracer.Start(ctx, "registry.InitiateChannel")
	defer span.End()

	var address domain.Address
	err := s.runner.Run(ctx, func(ctx context.Context) error {
		if err := s.gate.RequireNotPaused(ctx); err != nil {
			return err
		}
		if len(name) > models.MaxChannelNameLen {
			return dErrors.New(dErrors.CodeInvalidInput, "PARTNER_CHANNEL_NAME_TOO_LONG")
		}
		if deposit != ledger.BaseAccountMBR {
			return dErrors.New(dErrors.CodeInvalidInput, "deposit must equal the sub-account minimum balance")
		}

		setupCost := models.ChannelSetupCost(len(name))
		payer, err := s.ledger.GetAccount(ctx, caller)
		if err != nil {
			return err
		}
		if spendable(payer) < deposit+setupCost {
			return dErrors.New(dErrors.CodeInvalidInput, "insufficient balance for deposit and setup storage")
		}

		// All checks done; the mutations below cannot fail on balance.
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
		if err := s.setups.SaveChannelSetup(ctx, &models.ChannelSetup{
			Initiator: caller,
			Address:   address,
			Name:      name,
			CreatedAt: s.clock(),
		}); err != nil {
			return err
		}
		if s.metrics != nil {
			s.metrics.SetupsInitiated.WithLabelValues("partner_channel").Inc()
		}
		return s.auditor.Emit(ctx, audit.Event{
			Action:    audit.ActionChannelSetupInitiated,
			Actor:     caller,
			Subject:   address,
			Amount:    deposit,
			RequestID: requestcontext.RequestID(ctx),
		})
	})
	if err != nil {
		return domain.ZeroAddress, err
	}
	span.SetAttributes(attribute.String("channel.address", address.String()))
	return address, nil
}

// FinalizeChannel promotes a pending setup into a permanent partner channel.
// The attached deposit must equal the exact storage cost for the stored name
// length, and the sub-account must still be under this service's control.
func (s *Service) FinalizeChannel(ctx context.Context, caller domain.Address, deposit uint64, address domain.Address) error {
	ctx, span := s.tracer.Start(ctx, "registry.FinalizeChannel")
	defer span.End()

	return s.runner.Run(ctx, func(ctx context.Context) error {
		if err := s.gate.RequireNotPaused(ctx); err != nil {
			return err
		}
		setup, err := s.setups.GetChannelSetup(ctx, caller, address)
		if err != nil {
			return err
		}
		cost := models.ChannelBoxCost(len(setup.Name))
		if deposit != cost {
			return dErrors.New(dErrors.CodeInvalidInput, "deposit must equal the channel storage cost")
		}
		// The factory sub-process runs outside this transaction; re-confirm
		// control before promoting the address.
		if err := s.ledger.RequireControlled(ctx, address, s.master); err != nil {
			return dErrors.Wrap(dErrors.CodeInvalidInput, "INVALID_PARTNER_ADDRESS", err)
		}
		payer, err := s.ledger.GetAccount(ctx, caller)
		if err != nil {
			return err
		}
		if spendable(payer) < deposit {
			return dErrors.New(dErrors.CodeInvalidInput, "insufficient balance for storage deposit")
		}

		channel, err := models.NewPartnerChannel(address, setup.Name, caller, s.clock())
		if err != nil {
			return err
		}
		if err := s.channels.CreateIfAbsent(ctx, channel); err != nil {
			return err
		}
		if err := s.ledger.Transfer(ctx, caller, s.master, domain.NativeAsset, deposit); err != nil {
			return err
		}
		if err := s.ledger.ReserveDeposit(ctx, s.master, cost); err != nil {
			return err
		}
		if err := s.setups.DeleteChannelSetup(ctx, caller, address); err != nil {
			return err
		}
		if err := s.ledger.ReleaseDeposit(ctx, caller, models.ChannelSetupCost(len(setup.Name))); err != nil {
			return err
		}

		if s.metrics != nil {
			s.metrics.Finalizations.WithLabelValues("partner_channel").Inc()
			if count, err := s.channels.ActiveCount(ctx); err == nil {
				s.metrics.ChannelsActive.Set(float64(count))
			}
		}
		return s.auditor.Emit(ctx, audit.Event{
			Action:    audit.ActionChannelCreated,
			Actor:     caller,
			Subject:   address,
			Amount:    deposit,
			Reference: setup.Name,
			RequestID: requestcontext.RequestID(ctx),
		})
	})
}

// CloseChannel deletes a partner channel, returning the sub-account's whole
// balance and the exact storage deposit to the owner.
func (s *Service) CloseChannel(ctx context.Context, caller, address domain.Address) error {
	ctx, span := s.tracer.Start(ctx, "registry.CloseChannel")
	defer span.End()

	return s.runner.Run(ctx, func(ctx context.Context) error {
		channel, err := s.channels.Get(ctx, address)
		if err != nil {
			return err
		}
		if channel.Owner != caller {
			return dErrors.New(dErrors.CodeUnauthorized, "SENDER_NOT_ALLOWED")
		}
		if err := s.ledger.RequireRemittable(ctx, address, caller); err != nil {
			return err
		}

		cost := models.ChannelBoxCost(len(channel.Name))
		if err := s.channels.Delete(ctx, address); err != nil {
			return err
		}
		if err := s.ledger.ReleaseDeposit(ctx, s.master, cost); err != nil {
			return err
		}
		if err := s.ledger.Transfer(ctx, s.master, caller, domain.NativeAsset, cost); err != nil {
			return err
		}
		if err := s.ledger.CloseAccountTo(ctx, address, caller); err != nil {
			return err
		}

		if s.metrics != nil {
			s.metrics.Closures.WithLabelValues("partner_channel").Inc()
			if count, err := s.channels.ActiveCount(ctx); err == nil {
				s.metrics.ChannelsActive.Set(float64(count))
			}
		}
		return s.auditor.Emit(ctx, audit.Event{
			Action:    audit.ActionChannelClosed,
			Actor:     caller,
			Subject:   address,
			Amount:    cost,
			Reference: channel.Name,
			RequestID: requestcontext.RequestID(ctx),
		})
	})
}
