// Package factory creates the controlled sub-accounts the registry hands out.
// Its only job is "fresh address, rekeyed to the master account"; everything
// else about a sub-account's life belongs to the registry.
package factory

import (
	"context"

	"cardvault/internal/ledger"
	"cardvault/pkg/domain"
	dErrors "cardvault/pkg/domain-errors"
)

type Factory struct {
	ledger *ledger.Service
	master domain.Address
}

func New(ledgerSvc *ledger.Service, master domain.Address) (*Factory, error) {
	if ledgerSvc == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "ledger service is required")
	}
	if master.IsZero() {
		return nil, dErrors.New(dErrors.CodeInternal, "master address is required")
	}
	return &Factory{ledger: ledgerSvc, master: master}, nil
}

// CreateControlled opens a fresh account and immediately hands control to the
// master account. The returned address is unfunded; the caller funds it.
func (f *Factory) CreateControlled(ctx context.Context) (domain.Address, error) {
	address, err := domain.NewAddress()
	if err != nil {
		return domain.ZeroAddress, dErrors.Wrap(dErrors.CodeInternal, "could not allocate address", err)
	}
	if err := f.ledger.CreateAccount(ctx, address); err != nil {
		return domain.ZeroAddress, err
	}
	if err := f.ledger.Rekey(ctx, address, f.master); err != nil {
		return domain.ZeroAddress, err
	}
	return address, nil
}
