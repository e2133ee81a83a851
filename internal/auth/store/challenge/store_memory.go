// Package challenge stores pending authentication challenges.
package challenge

import (
	"context"
	"sync"
	"time"

	"cardvault/internal/auth/models"
	"cardvault/pkg/domain"
	dErrors "cardvault/pkg/domain-errors"
)

// MemoryStore is the in-process store for single-instance deployments.
type MemoryStore struct {
	mu         sync.Mutex
	challenges map[domain.Address]*models.Challenge
	clock      func() time.Time
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		challenges: make(map[domain.Address]*models.Challenge),
		clock:      time.Now,
	}
}

// WithClock overrides the time source for tests.
func (s *MemoryStore) WithClock(clock func() time.Time) *MemoryStore {
	s.clock = clock
	return s
}

// Save stores the challenge, replacing any pending one for the address.
func (s *MemoryStore) Save(_ context.Context, challenge *models.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *challenge
	s.challenges[challenge.Address] = &stored
	return nil
}

// Take removes and returns the pending challenge. A challenge can be redeemed
// at most once; expired entries count as absent.
func (s *MemoryStore) Take(_ context.Context, address domain.Address) (*models.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	challenge, ok := s.challenges[address]
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "no pending challenge")
	}
	delete(s.challenges, address)
	if !s.clock().Before(challenge.ExpiresAt) {
		return nil, dErrors.New(dErrors.CodeNotFound, "no pending challenge")
	}
	taken := *challenge
	return &taken, nil
}
