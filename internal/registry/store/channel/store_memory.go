// Package channel stores partner channel records.
package channel

import (
	"context"
	"sync"

	"cardvault/internal/registry/models"
	"cardvault/pkg/domain"
	dErrors "cardvault/pkg/domain-errors"
)

// MemoryStore keeps channel records in memory for unit tests and single-node
// deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	channels map[domain.Address]*models.PartnerChannel
}

func NewMemory() *MemoryStore {
	return &MemoryStore{channels: make(map[domain.Address]*models.PartnerChannel)}
}

// CreateIfAbsent persists the channel, failing on a duplicate address. The
// existence check and the write are one atomic step.
func (s *MemoryStore) CreateIfAbsent(_ context.Context, ch *models.PartnerChannel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.channels[ch.Address]; exists {
		return dErrors.New(dErrors.CodeConflict, "partner channel already exists")
	}
	clone := *ch
	s.channels[ch.Address] = &clone
	return nil
}

func (s *MemoryStore) Get(_ context.Context, address domain.Address) (*models.PartnerChannel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ch, exists := s.channels[address]
	if !exists {
		return nil, dErrors.New(dErrors.CodeNotFound, "PARTNER_CHANNEL_NOT_FOUND")
	}
	clone := *ch
	return &clone, nil
}

func (s *MemoryStore) Delete(_ context.Context, address domain.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.channels[address]; !exists {
		return dErrors.New(dErrors.CodeNotFound, "PARTNER_CHANNEL_NOT_FOUND")
	}
	delete(s.channels, address)
	return nil
}

// ActiveCount reports how many channels are live; teardown gating reads it.
func (s *MemoryStore) ActiveCount(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.channels)), nil
}
