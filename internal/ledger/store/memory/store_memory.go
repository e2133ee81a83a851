// Package memory provides the in-memory account store used by unit tests and
// single-node deployments.
package memory

import (
	"context"
	"sync"

	"cardvault/internal/ledger"
	"cardvault/pkg/domain"
	dErrors "cardvault/pkg/domain-errors"
)

type Store struct {
	mu       sync.RWMutex
	accounts map[domain.Address]*ledger.Account
}

func New() *Store {
	return &Store{accounts: make(map[domain.Address]*ledger.Account)}
}

func (s *Store) Create(_ context.Context, account *ledger.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[account.Address]; exists {
		return dErrors.New(dErrors.CodeConflict, "account already exists")
	}
	s.accounts[account.Address] = cloneAccount(account)
	return nil
}

func (s *Store) Get(_ context.Context, address domain.Address) (*ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, exists := s.accounts[address]
	if !exists {
		return nil, dErrors.New(dErrors.CodeNotFound, "account not found")
	}
	return cloneAccount(account), nil
}

func (s *Store) Delete(_ context.Context, address domain.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[address]; !exists {
		return dErrors.New(dErrors.CodeNotFound, "account not found")
	}
	delete(s.accounts, address)
	return nil
}

func (s *Store) Credit(_ context.Context, address domain.Address, asset domain.AssetID, amount uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, exists := s.accounts[address]
	if !exists {
		return dErrors.New(dErrors.CodeNotFound, "account not found")
	}
	if !asset.IsNative() {
		if _, ok := account.Balances[asset]; !ok {
			return dErrors.New(dErrors.CodeInvariant, "account not opted into asset")
		}
	}
	account.Balances[asset] += amount
	return nil
}

func (s *Store) DebitGuarded(_ context.Context, address domain.Address, asset domain.AssetID, amount uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, exists := s.accounts[address]
	if !exists {
		return dErrors.New(dErrors.CodeNotFound, "account not found")
	}
	balance := account.Balances[asset]
	if balance < amount {
		return dErrors.New(dErrors.CodeInvalidInput, "insufficient balance")
	}
	if asset.IsNative() && balance-amount < account.MinBalance {
		return dErrors.New(dErrors.CodeInvalidInput, "debit would break minimum balance")
	}
	account.Balances[asset] = balance - amount
	return nil
}

func (s *Store) OptIn(_ context.Context, address domain.Address, asset domain.AssetID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, exists := s.accounts[address]
	if !exists {
		return dErrors.New(dErrors.CodeNotFound, "account not found")
	}
	if asset.IsNative() {
		return dErrors.New(dErrors.CodeInvalidInput, "native asset needs no opt-in")
	}
	if _, ok := account.Balances[asset]; ok {
		return dErrors.New(dErrors.CodeConflict, "asset slot already exists")
	}
	if account.Balances[domain.NativeAsset] < account.MinBalance+ledger.AssetOptInMBR {
		return dErrors.New(dErrors.CodeInvalidInput, "insufficient balance for asset slot deposit")
	}
	account.Balances[asset] = 0
	account.MinBalance += ledger.AssetOptInMBR
	return nil
}

func (s *Store) CloseOut(_ context.Context, address domain.Address, asset domain.AssetID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, exists := s.accounts[address]
	if !exists {
		return dErrors.New(dErrors.CodeNotFound, "account not found")
	}
	balance, ok := account.Balances[asset]
	if !ok {
		return dErrors.New(dErrors.CodeNotFound, "asset slot not found")
	}
	if balance != 0 {
		return dErrors.New(dErrors.CodeInvariant, "asset balance must be zero to close out")
	}
	delete(account.Balances, asset)
	account.MinBalance -= ledger.AssetOptInMBR
	return nil
}

func (s *Store) Rekey(_ context.Context, address, authAddr domain.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, exists := s.accounts[address]
	if !exists {
		return dErrors.New(dErrors.CodeNotFound, "account not found")
	}
	account.AuthAddr = authAddr
	return nil
}

func (s *Store) Reserve(_ context.Context, address domain.Address, amount uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, exists := s.accounts[address]
	if !exists {
		return dErrors.New(dErrors.CodeNotFound, "account not found")
	}
	if account.Balances[domain.NativeAsset] < account.MinBalance+amount {
		return dErrors.New(dErrors.CodeInvalidInput, "insufficient balance to reserve deposit")
	}
	account.MinBalance += amount
	return nil
}

func (s *Store) Release(_ context.Context, address domain.Address, amount uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, exists := s.accounts[address]
	if !exists {
		return dErrors.New(dErrors.CodeNotFound, "account not found")
	}
	if account.MinBalance < amount {
		return dErrors.New(dErrors.CodeInvariant, "release exceeds reserved deposit")
	}
	account.MinBalance -= amount
	return nil
}

func cloneAccount(account *ledger.Account) *ledger.Account {
	clone := *account
	clone.Balances = make(map[domain.AssetID]uint64, len(account.Balances))
	for asset, balance := range account.Balances {
		clone.Balances[asset] = balance
	}
	return &clone
}
