// Package settlement stores the asset allowlist and the global settlement
// nonce. Both guard the settle path, so they live behind one store.
package settlement

import (
	"context"
	"sync"

	"cardvault/internal/payments/models"
	"cardvault/pkg/domain"
	dErrors "cardvault/pkg/domain-errors"
)

type MemoryStore struct {
	mu        sync.RWMutex
	addresses map[domain.AssetID]*models.SettlementAddress
	nonce     uint64
}

func NewMemory() *MemoryStore {
	return &MemoryStore{addresses: make(map[domain.AssetID]*models.SettlementAddress)}
}

// CreateIfAbsent registers a new allowlist entry. A second add for the same
// asset loses here regardless of what any pre-check saw.
func (s *MemoryStore) CreateIfAbsent(_ context.Context, record *models.SettlementAddress) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.addresses[record.Asset]; exists {
		return dErrors.New(dErrors.CodeConflict, "ASSET_ALREADY_ALLOWED")
	}
	clone := *record
	s.addresses[record.Asset] = &clone
	return nil
}

func (s *MemoryStore) Get(_ context.Context, asset domain.AssetID) (*models.SettlementAddress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, exists := s.addresses[asset]
	if !exists {
		return nil, dErrors.New(dErrors.CodeNotFound, "SETTLEMENT_ADDRESS_NOT_FOUND")
	}
	clone := *record
	return &clone, nil
}

// Update redirects an existing entry's settlement destination.
func (s *MemoryStore) Update(_ context.Context, asset domain.AssetID, address domain.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, exists := s.addresses[asset]
	if !exists {
		return dErrors.New(dErrors.CodeNotFound, "SETTLEMENT_ADDRESS_NOT_FOUND")
	}
	record.Address = address
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, asset domain.AssetID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.addresses[asset]; !exists {
		return dErrors.New(dErrors.CodeNotFound, "SETTLEMENT_ADDRESS_NOT_FOUND")
	}
	delete(s.addresses, asset)
	return nil
}

// List returns every allowlist entry, unordered.
func (s *MemoryStore) List(_ context.Context) ([]*models.SettlementAddress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]*models.SettlementAddress, 0, len(s.addresses))
	for _, record := range s.addresses {
		clone := *record
		records = append(records, &clone)
	}
	return records, nil
}

// SettlementNonce reports the last accepted global settlement nonce.
func (s *MemoryStore) SettlementNonce(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nonce, nil
}

// AdvanceSettlementNonce moves the global nonce to next only when next is
// exactly current+1. Check and write are one atomic step.
func (s *MemoryStore) AdvanceSettlementNonce(_ context.Context, next uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if next != s.nonce+1 {
		return dErrors.New(dErrors.CodeSequence, "NONCE_INVALID")
	}
	s.nonce = next
	return nil
}
