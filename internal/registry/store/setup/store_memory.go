// Package setup stores the pending-creation records of the two-phase
// protocols, keyed by (initiator, pending address). The registry is never
// polluted by abandoned attempts: these records live and die with their
// initiator.
package setup

import (
	"context"
	"sync"

	"cardvault/internal/registry/models"
	"cardvault/pkg/domain"
	dErrors "cardvault/pkg/domain-errors"
)

type setupKey struct {
	initiator domain.Address
	address   domain.Address
}

type MemoryStore struct {
	mu       sync.RWMutex
	channels map[setupKey]*models.ChannelSetup
	funds    map[setupKey]*models.FundSetup
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		channels: make(map[setupKey]*models.ChannelSetup),
		funds:    make(map[setupKey]*models.FundSetup),
	}
}

func (s *MemoryStore) pendingLocked(initiator domain.Address) int {
	count := 0
	for key := range s.channels {
		if key.initiator == initiator {
			count++
		}
	}
	for key := range s.funds {
		if key.initiator == initiator {
			count++
		}
	}
	return count
}

func (s *MemoryStore) SaveChannelSetup(_ context.Context, setup *models.ChannelSetup) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pendingLocked(setup.Initiator) >= models.MaxPendingSetupsPerInitiator {
		return dErrors.New(dErrors.CodeConflict, "too many pending setups for initiator")
	}
	clone := *setup
	s.channels[setupKey{setup.Initiator, setup.Address}] = &clone
	return nil
}

func (s *MemoryStore) GetChannelSetup(_ context.Context, initiator, address domain.Address) (*models.ChannelSetup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	setup, exists := s.channels[setupKey{initiator, address}]
	if !exists {
		return nil, dErrors.New(dErrors.CodeNotFound, "SETUP_NOT_FOUND")
	}
	clone := *setup
	return &clone, nil
}

func (s *MemoryStore) DeleteChannelSetup(_ context.Context, initiator, address domain.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := setupKey{initiator, address}
	if _, exists := s.channels[key]; !exists {
		return dErrors.New(dErrors.CodeNotFound, "SETUP_NOT_FOUND")
	}
	delete(s.channels, key)
	return nil
}

func (s *MemoryStore) SaveFundSetup(_ context.Context, setup *models.FundSetup) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pendingLocked(setup.Initiator) >= models.MaxPendingSetupsPerInitiator {
		return dErrors.New(dErrors.CodeConflict, "too many pending setups for initiator")
	}
	clone := *setup
	s.funds[setupKey{setup.Initiator, setup.Address}] = &clone
	return nil
}

func (s *MemoryStore) GetFundSetup(_ context.Context, initiator, address domain.Address) (*models.FundSetup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	setup, exists := s.funds[setupKey{initiator, address}]
	if !exists {
		return nil, dErrors.New(dErrors.CodeNotFound, "SETUP_NOT_FOUND")
	}
	clone := *setup
	return &clone, nil
}

func (s *MemoryStore) DeleteFundSetup(_ context.Context, initiator, address domain.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := setupKey{initiator, address}
	if _, exists := s.funds[key]; !exists {
		return dErrors.New(dErrors.CodeNotFound, "SETUP_NOT_FOUND")
	}
	delete(s.funds, key)
	return nil
}
