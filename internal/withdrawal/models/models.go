// Package models holds the withdrawal engine's record types: the pending
// permissionless request and the counter-signed approval payload with its
// canonical byte encoding.
package models

import (
	"time"

	"cardvault/pkg/domain"
	dErrors "cardvault/pkg/domain-errors"
)

// MaxPendingRequestsPerOwner caps simultaneous live withdrawal requests one
// owner may hold across all their card funds.
const MaxPendingRequestsPerOwner = 8

// WithdrawalRequest is the pending half of the permissionless protocol. At
// most one exists per (owner, card fund) pair; a re-request overwrites it.
type WithdrawalRequest struct {
	Owner     domain.Address
	CardFund  domain.Address
	Asset     domain.AssetID
	Amount    uint64
	Nonce     uint64
	CreatedAt time.Time
}

func NewWithdrawalRequest(owner, fund domain.Address, asset domain.AssetID, amount, nonce uint64, now time.Time) (*WithdrawalRequest, error) {
	if owner.IsZero() || fund.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "request owner and card fund are required")
	}
	if nonce == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "request nonce must be positive")
	}
	return &WithdrawalRequest{
		Owner:     owner,
		CardFund:  fund,
		Asset:     asset,
		Amount:    amount,
		Nonce:     nonce,
		CreatedAt: now,
	}, nil
}
