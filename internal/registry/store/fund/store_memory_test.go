package fund

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cardvault/internal/registry/models"
	"cardvault/pkg/domain"
	dErrors "cardvault/pkg/domain-errors"
)

func newFund(t *testing.T, channel, owner domain.Address) *models.CardFund {
	t.Helper()
	address, err := domain.NewAddress()
	require.NoError(t, err)
	fund, err := models.NewCardFund(address, owner, channel, "ref", time.Unix(1_700_000_000, 0))
	require.NoError(t, err)
	return fund
}

func mustAddress(t *testing.T) domain.Address {
	t.Helper()
	address, err := domain.NewAddress()
	require.NoError(t, err)
	return address
}

func TestCreateIfAbsentEnforcesPairUniqueness(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	channel := mustAddress(t)
	owner := mustAddress(t)

	first := newFund(t, channel, owner)
	require.NoError(t, store.CreateIfAbsent(ctx, first))

	t.Run("same pair under a new address conflicts", func(t *testing.T) {
		err := store.CreateIfAbsent(ctx, newFund(t, channel, owner))
		assert.True(t, dErrors.Is(err, dErrors.CodeConflict))
	})

	t.Run("same owner under another channel is fine", func(t *testing.T) {
		assert.NoError(t, store.CreateIfAbsent(ctx, newFund(t, mustAddress(t), owner)))
	})

	t.Run("the index resolves the fund address", func(t *testing.T) {
		address, err := store.LookupIndex(ctx, models.FundIndexKey(channel, owner))
		require.NoError(t, err)
		assert.Equal(t, first.Address, address)
	})

	t.Run("delete removes record and index together", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, first.Address))
		_, err := store.Get(ctx, first.Address)
		assert.True(t, dErrors.Is(err, dErrors.CodeNotFound))
		_, err = store.LookupIndex(ctx, models.FundIndexKey(channel, owner))
		assert.True(t, dErrors.Is(err, dErrors.CodeNotFound))
	})
}

func TestNonceCompareAndAdvance(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	fund := newFund(t, mustAddress(t), mustAddress(t))
	require.NoError(t, store.CreateIfAbsent(ctx, fund))

	t.Run("payment nonce accepts only the successor", func(t *testing.T) {
		assert.True(t, dErrors.Is(store.AdvancePaymentNonce(ctx, fund.Address, 0), dErrors.CodeSequence))
		assert.True(t, dErrors.Is(store.AdvancePaymentNonce(ctx, fund.Address, 2), dErrors.CodeSequence))
		require.NoError(t, store.AdvancePaymentNonce(ctx, fund.Address, 1))
		assert.True(t, dErrors.Is(store.AdvancePaymentNonce(ctx, fund.Address, 1), dErrors.CodeSequence))
		require.NoError(t, store.AdvancePaymentNonce(ctx, fund.Address, 2))
	})

	t.Run("withdrawal nonce is independent", func(t *testing.T) {
		require.NoError(t, store.AdvanceWithdrawalNonce(ctx, fund.Address, 1))
		got, err := store.Get(ctx, fund.Address)
		require.NoError(t, err)
		assert.Equal(t, uint64(2), got.PaymentNonce)
		assert.Equal(t, uint64(1), got.WithdrawalNonce)
	})

	t.Run("unknown fund", func(t *testing.T) {
		err := store.AdvancePaymentNonce(ctx, mustAddress(t), 1)
		assert.True(t, dErrors.Is(err, dErrors.CodeNotFound))
	})
}
