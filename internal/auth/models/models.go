// Package models holds the authentication challenge record.
package models

import (
	"crypto/rand"
	"fmt"
	"time"

	"cardvault/pkg/domain"
)

// ChallengeNonceLen is the width of the random nonce a caller must sign.
const ChallengeNonceLen = 32

// Challenge is a one-time random nonce bound to an address. Signing it with
// the key behind the address proves control without any stored credential.
type Challenge struct {
	Address   domain.Address
	Nonce     []byte
	ExpiresAt time.Time
}

// NewChallenge mints a fresh challenge for the address.
func NewChallenge(address domain.Address, ttl time.Duration, now time.Time) (*Challenge, error) {
	if address.IsZero() {
		return nil, fmt.Errorf("challenge address is required")
	}
	nonce := make([]byte, ChallengeNonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("could not generate challenge nonce: %w", err)
	}
	return &Challenge{Address: address, Nonce: nonce, ExpiresAt: now.Add(ttl)}, nil
}
