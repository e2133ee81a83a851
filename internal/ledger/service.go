package ledger

import (
	"context"
	"time"

	"cardvault/pkg/domain"
	dErrors "cardvault/pkg/domain-errors"
)

// Service exposes the account substrate to the registry, payments, and
// withdrawal modules. It adds cross-account orchestration on top of the
// store's single-account atomic operations; callers own the business rules.
type Service struct {
	store Store
	clock func() time.Time
}

func NewService(store Store) (*Service, error) {
	if store == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "ledger store is required")
	}
	return &Service{store: store, clock: time.Now}, nil
}

// WithClock overrides the time source. Tests use this to pin CreatedAt.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// CreateAccount opens a fresh account controlled by itself, carrying the base
// minimum balance. The account starts empty; it must be funded before it can
// satisfy its own minimum.
func (s *Service) CreateAccount(ctx context.Context, address domain.Address) error {
	return s.store.Create(ctx, &Account{
		Address:    address,
		AuthAddr:   address,
		MinBalance: BaseAccountMBR,
		Balances:   map[domain.AssetID]uint64{domain.NativeAsset: 0},
		CreatedAt:  s.clock(),
	})
}

func (s *Service) GetAccount(ctx context.Context, address domain.Address) (*Account, error) {
	return s.store.Get(ctx, address)
}

// Balance returns the held amount of one asset, zero when not opted in.
func (s *Service) Balance(ctx context.Context, address domain.Address, asset domain.AssetID) (uint64, error) {
	account, err := s.store.Get(ctx, address)
	if err != nil {
		return 0, err
	}
	return account.Balance(asset), nil
}

// Transfer moves amount of asset between two accounts. The debit side is
// guarded, so an overdraft or minimum-balance break aborts before any credit.
func (s *Service) Transfer(ctx context.Context, from, to domain.Address, asset domain.AssetID, amount uint64) error {
	if from == to {
		return dErrors.New(dErrors.CodeInvalidInput, "transfer to self")
	}
	// Validate the receiving side first so the guarded debit is the only
	// mutation that can still fail.
	recipient, err := s.store.Get(ctx, to)
	if err != nil {
		return err
	}
	if !recipient.OptedIn(asset) {
		return dErrors.New(dErrors.CodeInvariant, "recipient not opted into asset")
	}
	if err := s.store.DebitGuarded(ctx, from, asset, amount); err != nil {
		return err
	}
	return s.store.Credit(ctx, to, asset, amount)
}

func (s *Service) OptIn(ctx context.Context, address domain.Address, asset domain.AssetID) error {
	return s.store.OptIn(ctx, address, asset)
}

func (s *Service) CloseOut(ctx context.Context, address domain.Address, asset domain.AssetID) error {
	return s.store.CloseOut(ctx, address, asset)
}

// Rekey hands control of the account to authAddr.
func (s *Service) Rekey(ctx context.Context, address, authAddr domain.Address) error {
	return s.store.Rekey(ctx, address, authAddr)
}

// RequireControlled asserts that controller is the effective authority over
// the account. Multi-step protocols re-check this at every step; a sub-account
// tampered with between steps must not be promoted.
func (s *Service) RequireControlled(ctx context.Context, address, controller domain.Address) error {
	account, err := s.store.Get(ctx, address)
	if err != nil {
		return err
	}
	if !account.ControlledBy(controller) {
		return dErrors.New(dErrors.CodeInvalidInput, "account is not controlled by this service")
	}
	return nil
}

// ReserveDeposit locks amount of the account's native balance as storage
// deposit; ReleaseDeposit undoes it. Callers pair these around record
// creation and deletion so deposits stay exactly refundable.
func (s *Service) ReserveDeposit(ctx context.Context, address domain.Address, amount uint64) error {
	return s.store.Reserve(ctx, address, amount)
}

func (s *Service) ReleaseDeposit(ctx context.Context, address domain.Address, amount uint64) error {
	return s.store.Release(ctx, address, amount)
}

// RequireRemittable asserts that the recipient can receive every non-zero
// balance the account still holds. Close flows must call this before their
// first mutation: the serial runner has no rollback, so a remittance that
// would fail inside CloseAccountTo has to abort the operation while nothing
// has changed yet.
func (s *Service) RequireRemittable(ctx context.Context, address, to domain.Address) error {
	account, err := s.store.Get(ctx, address)
	if err != nil {
		return err
	}
	recipient, err := s.store.Get(ctx, to)
	if err != nil {
		return err
	}
	for asset, balance := range account.Balances {
		if asset.IsNative() || balance == 0 {
			continue
		}
		if !recipient.OptedIn(asset) {
			return dErrors.New(dErrors.CodeInvariant, "recipient not opted into remaining asset")
		}
	}
	return nil
}

// CloseAccountTo remits every remaining balance of the account to the
// recipient and deletes the account, releasing its whole minimum balance.
// The recipient must hold a slot for every non-native asset the account still
// holds.
func (s *Service) CloseAccountTo(ctx context.Context, address, to domain.Address) error {
	if err := s.RequireRemittable(ctx, address, to); err != nil {
		return err
	}
	account, err := s.store.Get(ctx, address)
	if err != nil {
		return err
	}
	for asset, balance := range account.Balances {
		if asset.IsNative() || balance == 0 {
			continue
		}
		if err := s.store.Credit(ctx, to, asset, balance); err != nil {
			return err
		}
	}
	if native := account.Balance(domain.NativeAsset); native > 0 {
		if err := s.store.Credit(ctx, to, domain.NativeAsset, native); err != nil {
			return err
		}
	}
	return s.store.Delete(ctx, address)
}

// Seed credits native units onto an account, creating it when missing. Used
// by genesis provisioning and tests; production callers fund accounts through
// external deposits.
func (s *Service) Seed(ctx context.Context, address domain.Address, amount uint64) error {
	if _, err := s.store.Get(ctx, address); err != nil {
		if !dErrors.Is(err, dErrors.CodeNotFound) {
			return err
		}
		if err := s.CreateAccount(ctx, address); err != nil {
			return err
		}
	}
	return s.store.Credit(ctx, address, domain.NativeAsset, amount)
}
