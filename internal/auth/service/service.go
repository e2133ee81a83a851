// Package service implements challenge-response authentication. An address is
// the hex form of an ed25519 public key; signing a one-time nonce with the
// matching private key proves control and yields a bearer token.
package service

import (
	"context"
	"crypto/ed25519"
	"time"

	"cardvault/internal/auth/models"
	jwttoken "cardvault/internal/jwt_token"
	"cardvault/pkg/domain"
	dErrors "cardvault/pkg/domain-errors"
)

const (
	// DefaultChallengeTTL bounds how long a caller has to sign.
	DefaultChallengeTTL = 5 * time.Minute
	// DefaultTokenTTL bounds how long an issued token stays valid.
	DefaultTokenTTL = 15 * time.Minute
)

// ChallengeStore persists pending challenges.
type ChallengeStore interface {
	Save(ctx context.Context, challenge *models.Challenge) error
	Take(ctx context.Context, address domain.Address) (*models.Challenge, error)
}

type Service struct {
	store        ChallengeStore
	tokens       *jwttoken.JWTService
	challengeTTL time.Duration
	tokenTTL     time.Duration
	clock        func() time.Time
}

func New(store ChallengeStore, tokens *jwttoken.JWTService) (*Service, error) {
	switch {
	case store == nil:
		return nil, dErrors.New(dErrors.CodeInternal, "challenge store is required")
	case tokens == nil:
		return nil, dErrors.New(dErrors.CodeInternal, "token service is required")
	}
	return &Service{
		store:        store,
		tokens:       tokens,
		challengeTTL: DefaultChallengeTTL,
		tokenTTL:     DefaultTokenTTL,
		clock:        time.Now,
	}, nil
}

// WithClock overrides the time source for tests.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// NewChallenge mints and stores a challenge for the address. Requesting a new
// challenge invalidates any pending one.
func (s *Service) NewChallenge(ctx context.Context, address domain.Address) (*models.Challenge, error) {
	challenge, err := models.NewChallenge(address, s.challengeTTL, s.clock())
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInvalidInput, "invalid challenge request", err)
	}
	if err := s.store.Save(ctx, challenge); err != nil {
		return nil, err
	}
	return challenge, nil
}

// Redeem verifies the signature over the pending challenge and issues an
// access token. The challenge is consumed whether or not the signature
// verifies, so a failed attempt cannot be retried against the same nonce.
func (s *Service) Redeem(ctx context.Context, address domain.Address, signature []byte) (token string, expiresIn time.Duration, err error) {
	challenge, err := s.store.Take(ctx, address)
	if err != nil {
		return "", 0, err
	}
	if len(signature) != ed25519.SignatureSize {
		return "", 0, dErrors.New(dErrors.CodeSignature, "SIGNATURE_INVALID")
	}
	publicKey := ed25519.PublicKey(address.Bytes())
	if !ed25519.Verify(publicKey, challenge.Nonce, signature) {
		return "", 0, dErrors.New(dErrors.CodeSignature, "SIGNATURE_INVALID")
	}
	token, err = s.tokens.GenerateAccessToken(address, s.tokenTTL)
	if err != nil {
		return "", 0, dErrors.Wrap(dErrors.CodeInternal, "could not issue token", err)
	}
	return token, s.tokenTTL, nil
}
