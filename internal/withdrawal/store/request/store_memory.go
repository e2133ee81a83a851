// Package request stores pending permissionless withdrawal requests, keyed by
// (owner, card fund).
package request

import (
	"context"
	"sync"

	"cardvault/internal/withdrawal/models"
	"cardvault/pkg/domain"
	dErrors "cardvault/pkg/domain-errors"
)

type requestKey struct {
	owner domain.Address
	fund  domain.Address
}

type MemoryStore struct {
	mu       sync.RWMutex
	requests map[requestKey]*models.WithdrawalRequest
}

func NewMemory() *MemoryStore {
	return &MemoryStore{requests: make(map[requestKey]*models.WithdrawalRequest)}
}

// Save upserts the request for its (owner, fund) pair. A new pair counts
// against the owner's cap; an overwrite does not.
func (s *MemoryStore) Save(_ context.Context, req *models.WithdrawalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := requestKey{owner: req.Owner, fund: req.CardFund}
	if _, exists := s.requests[key]; !exists {
		count := 0
		for existing := range s.requests {
			if existing.owner == req.Owner {
				count++
			}
		}
		if count >= models.MaxPendingRequestsPerOwner {
			return dErrors.New(dErrors.CodeConflict, "too many pending withdrawal requests")
		}
	}
	clone := *req
	s.requests[key] = &clone
	return nil
}

func (s *MemoryStore) Get(_ context.Context, owner, fund domain.Address) (*models.WithdrawalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, exists := s.requests[requestKey{owner: owner, fund: fund}]
	if !exists {
		return nil, dErrors.New(dErrors.CodeNotFound, "WITHDRAWAL_REQUEST_NOT_FOUND")
	}
	clone := *req
	return &clone, nil
}

func (s *MemoryStore) Delete(_ context.Context, owner, fund domain.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := requestKey{owner: owner, fund: fund}
	if _, exists := s.requests[key]; !exists {
		return dErrors.New(dErrors.CodeNotFound, "WITHDRAWAL_REQUEST_NOT_FOUND")
	}
	delete(s.requests, key)
	return nil
}

// ListByOwner returns the owner's live requests, unordered.
func (s *MemoryStore) ListByOwner(_ context.Context, owner domain.Address) ([]*models.WithdrawalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var requests []*models.WithdrawalRequest
	for key, req := range s.requests {
		if key.owner == owner {
			clone := *req
			requests = append(requests, &clone)
		}
	}
	return requests, nil
}
