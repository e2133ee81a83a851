// Package fund stores card fund records and the (channel, owner) uniqueness
// index. Both live in one store so a fund and its index entry can never be
// written or deleted independently.
package fund

import (
	"context"
	"sync"

	"cardvault/internal/registry/models"
	"cardvault/pkg/domain"
	dErrors "cardvault/pkg/domain-errors"
)

type MemoryStore struct {
	mu    sync.RWMutex
	funds map[domain.Address]*models.CardFund
	index map[models.IndexKey]domain.Address
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		funds: make(map[domain.Address]*models.CardFund),
		index: make(map[models.IndexKey]domain.Address),
	}
}

// CreateIfAbsent persists the fund and its index entry in one atomic step.
// A racing finalize for the same (channel, owner) pair loses here, whatever
// its earlier pre-checks saw.
func (s *MemoryStore) CreateIfAbsent(_ context.Context, fund *models.CardFund) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.funds[fund.Address]; exists {
		return dErrors.New(dErrors.CodeConflict, "card fund already exists")
	}
	key := models.FundIndexKey(fund.PartnerChannel, fund.Owner)
	if _, taken := s.index[key]; taken {
		return dErrors.New(dErrors.CodeConflict, "CARD_FUND_ALREADY_EXISTS")
	}
	clone := *fund
	s.funds[fund.Address] = &clone
	s.index[key] = fund.Address
	return nil
}

func (s *MemoryStore) Get(_ context.Context, address domain.Address) (*models.CardFund, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fund, exists := s.funds[address]
	if !exists {
		return nil, dErrors.New(dErrors.CodeNotFound, "CARD_FUND_NOT_FOUND")
	}
	clone := *fund
	return &clone, nil
}

// LookupIndex resolves the fund address registered for an index key.
func (s *MemoryStore) LookupIndex(_ context.Context, key models.IndexKey) (domain.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	address, exists := s.index[key]
	if !exists {
		return domain.ZeroAddress, dErrors.New(dErrors.CodeNotFound, "no card fund for this channel and owner")
	}
	return address, nil
}

// Delete removes the fund record and its index entry together.
func (s *MemoryStore) Delete(_ context.Context, address domain.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fund, exists := s.funds[address]
	if !exists {
		return dErrors.New(dErrors.CodeNotFound, "CARD_FUND_NOT_FOUND")
	}
	delete(s.funds, address)
	delete(s.index, models.FundIndexKey(fund.PartnerChannel, fund.Owner))
	return nil
}

func (s *MemoryStore) ActiveCount(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.funds)), nil
}

// AdvancePaymentNonce moves the payment nonce to next only when next is
// exactly current+1. Check and write are one atomic step, which is the whole
// replay protection.
func (s *MemoryStore) AdvancePaymentNonce(_ context.Context, address domain.Address, next uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fund, exists := s.funds[address]
	if !exists {
		return dErrors.New(dErrors.CodeNotFound, "CARD_FUND_NOT_FOUND")
	}
	if next != fund.PaymentNonce+1 {
		return dErrors.New(dErrors.CodeSequence, "NONCE_INVALID")
	}
	fund.PaymentNonce = next
	return nil
}

// AdvanceWithdrawalNonce is the withdrawal-side counterpart. Both withdrawal
// protocols converge on this counter.
func (s *MemoryStore) AdvanceWithdrawalNonce(_ context.Context, address domain.Address, next uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fund, exists := s.funds[address]
	if !exists {
		return dErrors.New(dErrors.CodeNotFound, "CARD_FUND_NOT_FOUND")
	}
	if next != fund.WithdrawalNonce+1 {
		return dErrors.New(dErrors.CodeSequence, "NONCE_INVALID")
	}
	fund.WithdrawalNonce = next
	return nil
}
