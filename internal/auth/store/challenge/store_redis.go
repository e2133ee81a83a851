package challenge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"cardvault/internal/auth/models"
	"cardvault/pkg/domain"
	dErrors "cardvault/pkg/domain-errors"
)

const challengeKeyPrefix = "auth:challenge:"

// RedisStore shares pending challenges across instances. Redis expiry
// enforces the TTL; GETDEL enforces single use.
type RedisStore struct {
	client *redis.Client
	clock  func() time.Time
}

func NewRedis(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, clock: time.Now}
}

func (s *RedisStore) Save(ctx context.Context, challenge *models.Challenge) error {
	ttl := challenge.ExpiresAt.Sub(s.clock())
	if ttl <= 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "challenge already expired")
	}
	key := challengeKeyPrefix + challenge.Address.String()
	if err := s.client.Set(ctx, key, challenge.Nonce, ttl).Err(); err != nil {
		return fmt.Errorf("save challenge: %w", err)
	}
	return nil
}

func (s *RedisStore) Take(ctx context.Context, address domain.Address) (*models.Challenge, error) {
	key := challengeKeyPrefix + address.String()
	nonce, err := s.client.GetDel(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, dErrors.New(dErrors.CodeNotFound, "no pending challenge")
	}
	if err != nil {
		return nil, fmt.Errorf("take challenge: %w", err)
	}
	return &models.Challenge{Address: address, Nonce: nonce}, nil
}
