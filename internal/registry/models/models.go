// Package models holds the registry's record types and their storage-cost
// encoding. Constructors validate domain invariants so stores never persist a
// malformed record.
package models

import (
	"time"

	"golang.org/x/crypto/blake2b"

	"cardvault/internal/ledger"
	"cardvault/pkg/domain"
	dErrors "cardvault/pkg/domain-errors"
)

const (
	// MaxChannelNameLen bounds a partner channel's display name.
	MaxChannelNameLen = 32
	// MaxFundReferenceLen bounds the opaque client tag on a card fund.
	MaxFundReferenceLen = 62
	// MaxPendingSetupsPerInitiator caps simultaneous unfinished creations one
	// initiator may hold open.
	MaxPendingSetupsPerInitiator = 8
)

// Encoded field widths for the deposit formulas. Records are charged as
// key+value byte counts: fixed-width fields at their raw size, strings with a
// 2-byte length prefix, plus a 2-byte record header on each side.
const (
	prefixLen  = 2
	headerLen  = 2
	addressLen = domain.AddressByteLen
	uint64Len  = 8
)

// PartnerChannel is the umbrella account for one distribution partner.
type PartnerChannel struct {
	Address   domain.Address
	Name      string
	Owner     domain.Address
	CreatedAt time.Time
}

func NewPartnerChannel(address domain.Address, name string, owner domain.Address, now time.Time) (*PartnerChannel, error) {
	if len(name) > MaxChannelNameLen {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "PARTNER_CHANNEL_NAME_TOO_LONG")
	}
	if address.IsZero() || owner.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "channel address and owner are required")
	}
	return &PartnerChannel{Address: address, Name: name, Owner: owner, CreatedAt: now}, nil
}

// CardFund is a custodial sub-account for one end user under exactly one
// partner channel.
type CardFund struct {
	Address         domain.Address
	Owner           domain.Address
	PartnerChannel  domain.Address
	PaymentNonce    uint64
	WithdrawalNonce uint64
	Reference       string
	CreatedAt       time.Time
}

func NewCardFund(address, owner, channel domain.Address, reference string, now time.Time) (*CardFund, error) {
	if len(reference) > MaxFundReferenceLen {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "CARD_FUND_REFERENCE_TOO_LONG")
	}
	if address.IsZero() || owner.IsZero() || channel.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "fund address, owner, and channel are required")
	}
	return &CardFund{
		Address:        address,
		Owner:          owner,
		PartnerChannel: channel,
		Reference:      reference,
		CreatedAt:      now,
	}, nil
}

// ChannelSetup is the pending-creation record for a partner channel, scoped
// to its initiator. An abandoned setup costs only the initiator.
type ChannelSetup struct {
	Initiator domain.Address
	Address   domain.Address // the pending sub-account
	Name      string
	CreatedAt time.Time
}

// FundSetup is the pending-creation record for a card fund.
type FundSetup struct {
	Initiator      domain.Address
	Address        domain.Address
	PartnerChannel domain.Address
	Asset          domain.AssetID
	Reference      string
	CreatedAt      time.Time
}

// IndexKey is the collision-resistant composite key enforcing at most one
// active card fund per (channel, owner) pair.
type IndexKey [32]byte

// FundIndexKey derives the secondary-index key from the raw channel and owner
// address bytes. The encoding is fixed; changing it would orphan existing
// index entries.
func FundIndexKey(channel, owner domain.Address) IndexKey {
	return blake2b.Sum256(append(channel.Bytes(), owner.Bytes()...))
}

// ChannelBoxCost is the storage deposit for one partner channel record:
// key = prefix + address, value = header + address + owner + name.
func ChannelBoxCost(nameLen int) uint64 {
	key := prefixLen + addressLen
	value := headerLen + addressLen + addressLen + (prefixLen + nameLen)
	return ledger.BoxCost(key, value)
}

// FundBoxCost is the storage deposit for one card fund record:
// key = prefix + address, value = header + address + owner + channel + both
// nonces + reference.
func FundBoxCost(referenceLen int) uint64 {
	key := prefixLen + addressLen
	value := headerLen + addressLen + addressLen + addressLen + uint64Len + uint64Len + (prefixLen + referenceLen)
	return ledger.BoxCost(key, value)
}

// IndexBoxCost is the storage deposit for one secondary-index entry:
// key = prefix + 32-byte hash, value = fund address.
func IndexBoxCost() uint64 {
	return ledger.BoxCost(prefixLen+len(IndexKey{}), addressLen)
}

// FundStorageCost is the total deposit charged at card-fund finalize: the
// fund record plus its index entry.
func FundStorageCost(referenceLen int) uint64 {
	return FundBoxCost(referenceLen) + IndexBoxCost()
}

// ChannelSetupCost and FundSetupCost are the deposits reserved on the
// initiator's own account while a creation is pending. They are released at
// finalize; an abandoned setup keeps them locked on the initiator.
func ChannelSetupCost(nameLen int) uint64 {
	key := prefixLen + addressLen
	value := addressLen + (prefixLen + nameLen)
	return ledger.BoxCost(key, value)
}

func FundSetupCost(referenceLen int) uint64 {
	key := prefixLen + addressLen
	value := addressLen + addressLen + uint64Len + (prefixLen + referenceLen)
	return ledger.BoxCost(key, value)
}
