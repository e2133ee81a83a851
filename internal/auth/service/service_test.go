package service_test

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"cardvault/internal/auth/service"
	"cardvault/internal/auth/store/challenge"
	jwttoken "cardvault/internal/jwt_token"
	"cardvault/pkg/domain"
	dErrors "cardvault/pkg/domain-errors"
)

type AuthServiceSuite struct {
	suite.Suite
	ctx     context.Context
	store   *challenge.MemoryStore
	service *service.Service
	tokens  *jwttoken.JWTService
	now     time.Time

	key     ed25519.PrivateKey
	address domain.Address
}

func TestAuthServiceSuite(t *testing.T) {
	suite.Run(t, new(AuthServiceSuite))
}

func (s *AuthServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.now = time.Unix(1_700_000_000, 0)

	pub, priv, err := ed25519.GenerateKey(nil)
	s.Require().NoError(err)
	s.key = priv
	s.address, err = domain.ParseAddress(hex.EncodeToString(pub))
	s.Require().NoError(err)

	clock := func() time.Time { return s.now }
	s.store = challenge.NewMemory().WithClock(clock)
	s.tokens = jwttoken.NewJWTService("test-signing-key", "cardvault", "cardvault-api")

	s.service, err = service.New(s.store, s.tokens)
	s.Require().NoError(err)
	s.service = s.service.WithClock(clock)
}

func (s *AuthServiceSuite) TestNew() {
	_, err := service.New(nil, s.tokens)
	s.Error(err)
	_, err = service.New(s.store, nil)
	s.Error(err)
}

func (s *AuthServiceSuite) TestChallengeRoundTrip() {
	ch, err := s.service.NewChallenge(s.ctx, s.address)
	s.Require().NoError(err)
	s.Len(ch.Nonce, 32)
	s.Equal(s.now.Add(service.DefaultChallengeTTL), ch.ExpiresAt)

	token, expiresIn, err := s.service.Redeem(s.ctx, s.address, ed25519.Sign(s.key, ch.Nonce))
	s.Require().NoError(err)
	s.Equal(service.DefaultTokenTTL, expiresIn)

	caller, err := s.tokens.ValidateToken(token)
	s.Require().NoError(err)
	s.Equal(s.address, caller, "the token carries the proven address")
}

func (s *AuthServiceSuite) TestRedeemRejections() {
	s.Run("no pending challenge", func() {
		_, _, err := s.service.Redeem(s.ctx, s.address, make([]byte, ed25519.SignatureSize))
		s.True(dErrors.Is(err, dErrors.CodeNotFound))
	})

	s.Run("bad signature consumes the challenge", func() {
		ch, err := s.service.NewChallenge(s.ctx, s.address)
		s.Require().NoError(err)

		_, _, err = s.service.Redeem(s.ctx, s.address, make([]byte, ed25519.SignatureSize))
		s.True(dErrors.Is(err, dErrors.CodeSignature))

		// Even the real signature is now useless; the nonce is gone.
		_, _, err = s.service.Redeem(s.ctx, s.address, ed25519.Sign(s.key, ch.Nonce))
		s.True(dErrors.Is(err, dErrors.CodeNotFound))
	})

	s.Run("malformed signature length", func() {
		_, err := s.service.NewChallenge(s.ctx, s.address)
		s.Require().NoError(err)

		_, _, err = s.service.Redeem(s.ctx, s.address, []byte("short"))
		s.True(dErrors.Is(err, dErrors.CodeSignature))
	})

	s.Run("a foreign key cannot redeem", func() {
		_, foreign, err := ed25519.GenerateKey(nil)
		s.Require().NoError(err)

		ch, err := s.service.NewChallenge(s.ctx, s.address)
		s.Require().NoError(err)

		_, _, err = s.service.Redeem(s.ctx, s.address, ed25519.Sign(foreign, ch.Nonce))
		s.True(dErrors.Is(err, dErrors.CodeSignature))
	})

	s.Run("expired challenge counts as absent", func() {
		ch, err := s.service.NewChallenge(s.ctx, s.address)
		s.Require().NoError(err)

		s.now = s.now.Add(service.DefaultChallengeTTL)
		_, _, err = s.service.Redeem(s.ctx, s.address, ed25519.Sign(s.key, ch.Nonce))
		s.True(dErrors.Is(err, dErrors.CodeNotFound))
	})
}

func (s *AuthServiceSuite) TestNewChallengeReplacesPending() {
	first, err := s.service.NewChallenge(s.ctx, s.address)
	s.Require().NoError(err)
	second, err := s.service.NewChallenge(s.ctx, s.address)
	s.Require().NoError(err)
	s.NotEqual(first.Nonce, second.Nonce)

	_, _, err = s.service.Redeem(s.ctx, s.address, ed25519.Sign(s.key, first.Nonce))
	s.True(dErrors.Is(err, dErrors.CodeSignature), "the stale nonce no longer matches")
}
