// Package accessgate holds the role checks the ledger modules call through:
// contract owner, settler, and the pause switch. It is deliberately narrow so
// services depend on capabilities, not on role bookkeeping.
package accessgate

import (
	"context"
	"crypto/ed25519"
	"sync"

	"cardvault/pkg/domain"
	dErrors "cardvault/pkg/domain-errors"
)

// Roles is the singleton role assignment.
type Roles struct {
	Owner      domain.Address
	Settler    domain.Address
	SettlerKey ed25519.PublicKey // counter-signs approved withdrawals
	Pauser     domain.Address
	Paused     bool
}

// Gate answers role questions and applies owner-gated role mutations.
type Gate struct {
	mu    sync.RWMutex
	roles Roles
}

func New(roles Roles) (*Gate, error) {
	if roles.Owner.IsZero() {
		return nil, dErrors.New(dErrors.CodeInternal, "owner address is required")
	}
	if roles.Pauser.IsZero() {
		roles.Pauser = roles.Owner
	}
	return &Gate{roles: roles}, nil
}

func (g *Gate) CurrentOwner(_ context.Context) domain.Address {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.roles.Owner
}

func (g *Gate) Settler(_ context.Context) (domain.Address, ed25519.PublicKey) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.roles.Settler, g.roles.SettlerKey
}

func (g *Gate) IsPaused(_ context.Context) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.roles.Paused
}

func (g *Gate) RequireOwner(ctx context.Context, caller domain.Address) error {
	if g.CurrentOwner(ctx) != caller {
		return dErrors.New(dErrors.CodeUnauthorized, "SENDER_NOT_ALLOWED")
	}
	return nil
}

func (g *Gate) RequireSettler(ctx context.Context, caller domain.Address) error {
	settler, _ := g.Settler(ctx)
	if settler.IsZero() || settler != caller {
		return dErrors.New(dErrors.CodeUnauthorized, "SENDER_NOT_ALLOWED")
	}
	return nil
}

func (g *Gate) RequireNotPaused(ctx context.Context) error {
	if g.IsPaused(ctx) {
		return dErrors.New(dErrors.CodeInvariant, "CONTRACT_PAUSED")
	}
	return nil
}

// TransferOwnership hands the owner role to newOwner.
func (g *Gate) TransferOwnership(ctx context.Context, caller, newOwner domain.Address) error {
	if err := g.RequireOwner(ctx, caller); err != nil {
		return err
	}
	if newOwner.IsZero() {
		return dErrors.New(dErrors.CodeInvalidInput, "new owner address is required")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.roles.Owner = newOwner
	return nil
}

// SetSettler assigns the settler role and its signing key together so the
// approved-withdrawal verifier can never lag behind a role change.
func (g *Gate) SetSettler(ctx context.Context, caller, settler domain.Address, key ed25519.PublicKey) error {
	if err := g.RequireOwner(ctx, caller); err != nil {
		return err
	}
	if settler.IsZero() {
		return dErrors.New(dErrors.CodeInvalidInput, "settler address is required")
	}
	if len(key) != ed25519.PublicKeySize {
		return dErrors.New(dErrors.CodeInvalidInput, "settler key must be a 32-byte ed25519 public key")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.roles.Settler = settler
	g.roles.SettlerKey = append(ed25519.PublicKey(nil), key...)
	return nil
}

// SetPaused flips the pause switch. The pauser or the owner may pause;
// only the owner may unpause.
func (g *Gate) SetPaused(ctx context.Context, caller domain.Address, paused bool) error {
	g.mu.RLock()
	pauser := g.roles.Pauser
	g.mu.RUnlock()

	if paused {
		if caller != pauser {
			if err := g.RequireOwner(ctx, caller); err != nil {
				return err
			}
		}
	} else if err := g.RequireOwner(ctx, caller); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.roles.Paused = paused
	return nil
}
