package models

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cardvault/pkg/domain"
)

func testApproval(t *testing.T) Approval {
	t.Helper()
	fund, err := domain.NewAddress()
	require.NoError(t, err)
	recipient, err := domain.NewAddress()
	require.NoError(t, err)
	return Approval{
		CardFund:  fund,
		Recipient: recipient,
		Asset:     domain.AssetID(7),
		Amount:    1_500,
		ExpiresAt: time.Unix(1_700_000_000, 0),
		Nonce:     3,
		GenesisID: "net-1",
	}
}

func TestApprovalEncode(t *testing.T) {
	approval := testApproval(t)
	encoded := approval.Encode()

	prefix := []byte("cardvault/withdrawal-approval/v1")
	wantLen := len(prefix) + 2*domain.AddressByteLen + 4*8 + sha256.Size
	require.Len(t, encoded, wantLen, "the layout is fixed width")

	assert.True(t, bytes.HasPrefix(encoded, prefix), "domain separation prefix comes first")

	offset := len(prefix)
	assert.Equal(t, approval.CardFund.Bytes(), encoded[offset:offset+32])
	offset += 32
	assert.Equal(t, approval.Recipient.Bytes(), encoded[offset:offset+32])
	offset += 32
	assert.Equal(t, uint64(7), binary.BigEndian.Uint64(encoded[offset:offset+8]))
	offset += 8
	assert.Equal(t, uint64(1_500), binary.BigEndian.Uint64(encoded[offset:offset+8]))
	offset += 8
	assert.Equal(t, uint64(1_700_000_000), binary.BigEndian.Uint64(encoded[offset:offset+8]))
	offset += 8
	assert.Equal(t, uint64(3), binary.BigEndian.Uint64(encoded[offset:offset+8]))
	offset += 8
	genesis := sha256.Sum256([]byte("net-1"))
	assert.Equal(t, genesis[:], encoded[offset:])

	assert.Equal(t, encoded, approval.Encode(), "encoding is deterministic")
}

func TestApprovalSignVerify(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	approval := testApproval(t)
	signature := approval.Sign(priv)

	assert.True(t, approval.Verify(pub, signature))

	t.Run("any field change invalidates the signature", func(t *testing.T) {
		tampered := approval
		tampered.Amount++
		assert.False(t, tampered.Verify(pub, signature))

		tampered = approval
		tampered.Nonce++
		assert.False(t, tampered.Verify(pub, signature))

		tampered = approval
		tampered.ExpiresAt = tampered.ExpiresAt.Add(time.Second)
		assert.False(t, tampered.Verify(pub, signature))
	})

	t.Run("a different network rejects the signature", func(t *testing.T) {
		foreign := approval
		foreign.GenesisID = "net-2"
		assert.False(t, foreign.Verify(pub, signature))
	})

	t.Run("malformed inputs never verify", func(t *testing.T) {
		assert.False(t, approval.Verify(pub[:16], signature))
		assert.False(t, approval.Verify(pub, signature[:32]))
		assert.False(t, approval.Verify(nil, nil))
	})
}
