// Package admin applies owner-gated role changes through the access gate and
// puts each change on the audit trail. The gate stays audit-free so the
// capability checks inside other services carry no side effects.
package admin

import (
	"context"
	"crypto/ed25519"
	"fmt"

	"cardvault/internal/accessgate"
	"cardvault/pkg/domain"
	dErrors "cardvault/pkg/domain-errors"
	"cardvault/pkg/platform/audit"
	"cardvault/pkg/requestcontext"
)

type Auditor interface {
	Emit(ctx context.Context, event audit.Event) error
}

type Service struct {
	gate    *accessgate.Gate
	auditor Auditor
}

func New(gate *accessgate.Gate, auditor Auditor) (*Service, error) {
	if gate == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "access gate is required")
	}
	if auditor == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "auditor is required")
	}
	return &Service{gate: gate, auditor: auditor}, nil
}

// Roles reports the current role assignment.
func (s *Service) Roles(ctx context.Context) (owner, settler domain.Address, paused bool) {
	owner = s.gate.CurrentOwner(ctx)
	settler, _ = s.gate.Settler(ctx)
	return owner, settler, s.gate.IsPaused(ctx)
}

// TransferOwnership hands the owner role to newOwner.
func (s *Service) TransferOwnership(ctx context.Context, caller, newOwner domain.Address) error {
	if err := s.gate.TransferOwnership(ctx, caller, newOwner); err != nil {
		return err
	}
	return s.auditor.Emit(ctx, audit.Event{
		Action:    audit.ActionOwnershipTransferred,
		Actor:     caller,
		Subject:   newOwner,
		RequestID: requestcontext.RequestID(ctx),
	})
}

// SetSettler assigns the settler role together with its approval signing key.
func (s *Service) SetSettler(ctx context.Context, caller, settler domain.Address, key ed25519.PublicKey) error {
	if err := s.gate.SetSettler(ctx, caller, settler, key); err != nil {
		return err
	}
	return s.auditor.Emit(ctx, audit.Event{
		Action:    audit.ActionSettlerChanged,
		Actor:     caller,
		Subject:   settler,
		RequestID: requestcontext.RequestID(ctx),
	})
}

// SetPaused flips the pause switch.
func (s *Service) SetPaused(ctx context.Context, caller domain.Address, paused bool) error {
	if err := s.gate.SetPaused(ctx, caller, paused); err != nil {
		return err
	}
	return s.auditor.Emit(ctx, audit.Event{
		Action:    audit.ActionPauseChanged,
		Actor:     caller,
		Reference: fmt.Sprintf("paused=%t", paused),
		RequestID: requestcontext.RequestID(ctx),
	})
}
