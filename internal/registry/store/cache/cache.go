// Package cache decorates the registry stores with a Redis read-through
// layer. Cache failures never fail a request; reads fall through to the
// backing store and writes invalidate best-effort.
package cache

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"cardvault/internal/registry/models"
	"cardvault/pkg/domain"
)

const (
	channelKeyPrefix = "registry:channel:"
	fundKeyPrefix    = "registry:fund:"
	indexKeyPrefix   = "registry:fundidx:"
)

// FundStore is the full card-fund store contract, including the nonce
// advances that invalidate cached records.
type FundStore interface {
	CreateIfAbsent(ctx context.Context, fund *models.CardFund) error
	Get(ctx context.Context, address domain.Address) (*models.CardFund, error)
	LookupIndex(ctx context.Context, key models.IndexKey) (domain.Address, error)
	Delete(ctx context.Context, address domain.Address) error
	ActiveCount(ctx context.Context) (uint64, error)
	AdvancePaymentNonce(ctx context.Context, address domain.Address, next uint64) error
	AdvanceWithdrawalNonce(ctx context.Context, address domain.Address, next uint64) error
}

// ChannelStore is the partner-channel store contract.
type ChannelStore interface {
	CreateIfAbsent(ctx context.Context, ch *models.PartnerChannel) error
	Get(ctx context.Context, address domain.Address) (*models.PartnerChannel, error)
	Delete(ctx context.Context, address domain.Address) error
	ActiveCount(ctx context.Context) (uint64, error)
}

// CachedChannels wraps a channel store with Redis.
type CachedChannels struct {
	inner  ChannelStore
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewChannels(inner ChannelStore, client *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedChannels {
	return &CachedChannels{inner: inner, client: client, ttl: ttl, logger: logger}
}

func (c *CachedChannels) CreateIfAbsent(ctx context.Context, ch *models.PartnerChannel) error {
	if err := c.inner.CreateIfAbsent(ctx, ch); err != nil {
		return err
	}
	c.invalidate(ctx, channelKeyPrefix+ch.Address.String())
	return nil
}

func (c *CachedChannels) Get(ctx context.Context, address domain.Address) (*models.PartnerChannel, error) {
	key := channelKeyPrefix + address.String()
	var cached models.PartnerChannel
	if c.load(ctx, key, &cached) {
		return &cached, nil
	}
	ch, err := c.inner.Get(ctx, address)
	if err != nil {
		return nil, err
	}
	c.save(ctx, key, ch)
	return ch, nil
}

func (c *CachedChannels) Delete(ctx context.Context, address domain.Address) error {
	if err := c.inner.Delete(ctx, address); err != nil {
		return err
	}
	c.invalidate(ctx, channelKeyPrefix+address.String())
	return nil
}

func (c *CachedChannels) ActiveCount(ctx context.Context) (uint64, error) {
	return c.inner.ActiveCount(ctx)
}

func (c *CachedChannels) load(ctx context.Context, key string, v any) bool {
	return load(ctx, c.client, c.logger, key, v)
}

func (c *CachedChannels) save(ctx context.Context, key string, v any) {
	save(ctx, c.client, c.logger, key, v, c.ttl)
}

func (c *CachedChannels) invalidate(ctx context.Context, keys ...string) {
	invalidate(ctx, c.client, c.logger, keys...)
}

// CachedFunds wraps a fund store with Redis. Records carry nonces, so every
// mutation, including nonce advances, drops the cached entry. Invalidation
// runs inside the mutating transaction, so a concurrent read can repopulate
// the pre-commit value and serve it until the TTL expires; nonce guards stay
// correct regardless because every advance is CAS-checked against the backing
// store, never against a cached record.
type CachedFunds struct {
	inner  FundStore
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewFunds(inner FundStore, client *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedFunds {
	return &CachedFunds{inner: inner, client: client, ttl: ttl, logger: logger}
}

func (c *CachedFunds) CreateIfAbsent(ctx context.Context, fund *models.CardFund) error {
	if err := c.inner.CreateIfAbsent(ctx, fund); err != nil {
		return err
	}
	indexKey := models.FundIndexKey(fund.PartnerChannel, fund.Owner)
	c.invalidate(ctx, fundKeyPrefix+fund.Address.String(), indexKeyPrefix+hex.EncodeToString(indexKey[:]))
	return nil
}

func (c *CachedFunds) Get(ctx context.Context, address domain.Address) (*models.CardFund, error) {
	key := fundKeyPrefix + address.String()
	var cached models.CardFund
	if c.load(ctx, key, &cached) {
		return &cached, nil
	}
	fund, err := c.inner.Get(ctx, address)
	if err != nil {
		return nil, err
	}
	c.save(ctx, key, fund)
	return fund, nil
}

func (c *CachedFunds) LookupIndex(ctx context.Context, key models.IndexKey) (domain.Address, error) {
	cacheKey := indexKeyPrefix + hex.EncodeToString(key[:])
	var cached string
	if c.load(ctx, cacheKey, &cached) {
		if address, err := domain.ParseAddress(cached); err == nil {
			return address, nil
		}
	}
	address, err := c.inner.LookupIndex(ctx, key)
	if err != nil {
		return domain.ZeroAddress, err
	}
	c.save(ctx, cacheKey, address.String())
	return address, nil
}

func (c *CachedFunds) Delete(ctx context.Context, address domain.Address) error {
	fund, err := c.inner.Get(ctx, address)
	if err != nil {
		return err
	}
	if err := c.inner.Delete(ctx, address); err != nil {
		return err
	}
	indexKey := models.FundIndexKey(fund.PartnerChannel, fund.Owner)
	c.invalidate(ctx, fundKeyPrefix+address.String(), indexKeyPrefix+hex.EncodeToString(indexKey[:]))
	return nil
}

func (c *CachedFunds) ActiveCount(ctx context.Context) (uint64, error) {
	return c.inner.ActiveCount(ctx)
}

func (c *CachedFunds) AdvancePaymentNonce(ctx context.Context, address domain.Address, next uint64) error {
	if err := c.inner.AdvancePaymentNonce(ctx, address, next); err != nil {
		return err
	}
	c.invalidate(ctx, fundKeyPrefix+address.String())
	return nil
}

func (c *CachedFunds) AdvanceWithdrawalNonce(ctx context.Context, address domain.Address, next uint64) error {
	if err := c.inner.AdvanceWithdrawalNonce(ctx, address, next); err != nil {
		return err
	}
	c.invalidate(ctx, fundKeyPrefix+address.String())
	return nil
}

func (c *CachedFunds) load(ctx context.Context, key string, v any) bool {
	return load(ctx, c.client, c.logger, key, v)
}

func (c *CachedFunds) save(ctx context.Context, key string, v any) {
	save(ctx, c.client, c.logger, key, v, c.ttl)
}

func (c *CachedFunds) invalidate(ctx context.Context, keys ...string) {
	invalidate(ctx, c.client, c.logger, keys...)
}

func load(ctx context.Context, client *redis.Client, logger *slog.Logger, key string, v any) bool {
	raw, err := client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) && logger != nil {
			logger.WarnContext(ctx, "registry cache read failed", "key", key, "error", err)
		}
		return false
	}
	return json.Unmarshal(raw, v) == nil
}

func save(ctx context.Context, client *redis.Client, logger *slog.Logger, key string, v any, ttl time.Duration) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := client.Set(ctx, key, raw, ttl).Err(); err != nil && logger != nil {
		logger.WarnContext(ctx, "registry cache write failed", "key", key, "error", err)
	}
}

func invalidate(ctx context.Context, client *redis.Client, logger *slog.Logger, keys ...string) {
	if err := client.Del(ctx, keys...).Err(); err != nil && logger != nil {
		logger.WarnContext(ctx, "registry cache invalidation failed", "error", err)
	}
}
