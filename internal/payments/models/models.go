// Package models holds the payment-side record types: the asset allowlist
// entries with their settlement destinations, and the storage-cost formula
// for one allowlist record.
package models

import (
	"time"

	"cardvault/internal/ledger"
	"cardvault/pkg/domain"
	dErrors "cardvault/pkg/domain-errors"
)

const (
	prefixLen  = 2
	addressLen = domain.AddressByteLen
	uint64Len  = 8
)

// SettlementAddress is one allowlist entry: an asset the system custodies and
// the destination its settlements pay out to.
type SettlementAddress struct {
	Asset     domain.AssetID
	Address   domain.Address
	CreatedAt time.Time
}

func NewSettlementAddress(asset domain.AssetID, address domain.Address, now time.Time) (*SettlementAddress, error) {
	if asset.IsNative() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "the native asset cannot be allowlisted")
	}
	if address.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "settlement address is required")
	}
	return &SettlementAddress{Asset: asset, Address: address, CreatedAt: now}, nil
}

// SettlementBoxCost is the storage deposit for one allowlist record:
// key = prefix + asset id, value = settlement address.
func SettlementBoxCost() uint64 {
	return ledger.BoxCost(prefixLen+uint64Len, addressLen)
}
