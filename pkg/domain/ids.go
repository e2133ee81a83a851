// Package domain holds the identifier primitives shared by every module.
// Types validate at parse time so services never see malformed identifiers.
package domain

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
)

// AddressByteLen is the raw width of a ledger address. Deposit formulas count
// address fields at this width regardless of the string representation.
const AddressByteLen = 32

// Address identifies a ledger account: 32 bytes, lowercase hex encoded.
type Address string

// ZeroAddress is the empty sentinel. It is never a valid account.
const ZeroAddress Address = ""

// NewAddress returns a fresh random address.
func NewAddress() (Address, error) {
	buf := make([]byte, AddressByteLen)
	if _, err := rand.Read(buf); err != nil {
		return ZeroAddress, fmt.Errorf("could not generate address: %w", err)
	}
	return Address(hex.EncodeToString(buf)), nil
}

// ParseAddress validates and returns an Address.
func ParseAddress(s string) (Address, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return ZeroAddress, fmt.Errorf("address must be hex: %w", err)
	}
	if len(raw) != AddressByteLen {
		return ZeroAddress, fmt.Errorf("address must be %d bytes, got %d", AddressByteLen, len(raw))
	}
	return Address(s), nil
}

// Bytes returns the raw 32-byte form used in canonical encodings and index
// keys. Panics on a malformed address, which ParseAddress rules out.
func (a Address) Bytes() []byte {
	raw, err := hex.DecodeString(string(a))
	if err != nil || len(raw) != AddressByteLen {
		panic(fmt.Sprintf("malformed address %q", string(a)))
	}
	return raw
}

func (a Address) String() string { return string(a) }

// IsZero reports whether the address is the empty sentinel.
func (a Address) IsZero() bool { return a == ZeroAddress }

// AssetID identifies a custodied asset. Zero is the native unit used for
// deposits and storage accounting.
type AssetID uint64

// NativeAsset is the deposit currency of the underlying ledger.
const NativeAsset AssetID = 0

// ParseAssetID validates and returns an AssetID from its decimal form.
func ParseAssetID(s string) (AssetID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid asset id %q: %w", s, err)
	}
	return AssetID(v), nil
}

func (a AssetID) String() string { return strconv.FormatUint(uint64(a), 10) }

// IsNative reports whether the asset is the native deposit unit.
func (a AssetID) IsNative() bool { return a == NativeAsset }
