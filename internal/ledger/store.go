package ledger

import (
	"context"

	"cardvault/pkg/domain"
)

// Store is the persistence boundary for accounts. Implementations are pure
// I/O; conditional mutations (guarded debits, opt-in slots, reservations) are
// expressed as single atomic operations so concurrent transactions cannot
// interleave between a check and its write.
type Store interface {
	Create(ctx context.Context, account *Account) error
	Get(ctx context.Context, address domain.Address) (*Account, error)
	Delete(ctx context.Context, address domain.Address) error

	// Credit adds amount to the account's asset balance. Non-native credits
	// require an existing asset slot.
	Credit(ctx context.Context, address domain.Address, asset domain.AssetID, amount uint64) error

	// DebitGuarded subtracts amount only if the remaining balance stays legal:
	// non-negative for assets, and at or above MinBalance for the native unit.
	DebitGuarded(ctx context.Context, address domain.Address, asset domain.AssetID, amount uint64) error

	// OptIn creates a zero-balance slot for the asset and raises MinBalance
	// by the opt-in deposit. Fails on an existing slot.
	OptIn(ctx context.Context, address domain.Address, asset domain.AssetID) error

	// CloseOut removes an asset slot and releases its deposit. Fails while
	// the slot balance is non-zero.
	CloseOut(ctx context.Context, address domain.Address, asset domain.AssetID) error

	// Rekey changes the controlling authority of the account.
	Rekey(ctx context.Context, address, authAddr domain.Address) error

	// Reserve raises MinBalance by amount, failing when the account could not
	// cover it. Release lowers it again; the two must always pair up.
	Reserve(ctx context.Context, address domain.Address, amount uint64) error
	Release(ctx context.Context, address domain.Address, amount uint64) error
}
