package models

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"time"

	"cardvault/pkg/domain"
)

// approvalPrefix domain-separates withdrawal approvals from any other message
// the settler key might ever sign.
var approvalPrefix = []byte("cardvault/withdrawal-approval/v1")

// Approval is the message the settler authority signs out-of-band to
// authorize an immediate withdrawal. Nothing is persisted; validity is purely
// computational. The genesis identity pins the approval to one network so a
// signature minted elsewhere can never replay here.
type Approval struct {
	CardFund  domain.Address
	Recipient domain.Address
	Asset     domain.AssetID
	Amount    uint64
	ExpiresAt time.Time
	Nonce     uint64
	GenesisID string
}

// Encode produces the canonical byte layout the signature covers: prefix,
// fund, recipient, then asset, amount, expiry, and nonce as big-endian
// uint64s, then the hashed genesis identity. Fixed widths; changing this
// breaks every outstanding approval.
func (a Approval) Encode() []byte {
	buf := make([]byte, 0, len(approvalPrefix)+2*domain.AddressByteLen+4*8+sha256.Size)
	buf = append(buf, approvalPrefix...)
	buf = append(buf, a.CardFund.Bytes()...)
	buf = append(buf, a.Recipient.Bytes()...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(a.Asset))
	buf = binary.BigEndian.AppendUint64(buf, a.Amount)
	buf = binary.BigEndian.AppendUint64(buf, uint64(a.ExpiresAt.Unix()))
	buf = binary.BigEndian.AppendUint64(buf, a.Nonce)
	genesis := sha256.Sum256([]byte(a.GenesisID))
	buf = append(buf, genesis[:]...)
	return buf
}

// Digest is the sha256 of the canonical encoding.
func (a Approval) Digest() [sha256.Size]byte {
	return sha256.Sum256(a.Encode())
}

// Verify checks the signature over the approval digest against the settler's
// public key. Pure function; callers decide what a failure means.
func (a Approval) Verify(key ed25519.PublicKey, signature []byte) bool {
	if len(key) != ed25519.PublicKeySize || len(signature) != ed25519.SignatureSize {
		return false
	}
	digest := a.Digest()
	return ed25519.Verify(key, digest[:], signature)
}

// Sign produces a valid signature for the approval. Production signing
// happens out-of-band; this exists for the settler tooling and tests.
func (a Approval) Sign(key ed25519.PrivateKey) []byte {
	digest := a.Digest()
	return ed25519.Sign(key, digest[:])
}
