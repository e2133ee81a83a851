// Package ledger is the account and balance substrate the custodial modules
// build on. It owns per-asset balances, minimum-balance (deposit) accounting,
// and the storage cost formulas, but no business rules: which transfers are
// allowed is decided by the registry, payments, and withdrawal services.
package ledger

import (
	"time"

	"cardvault/pkg/domain"
)

// Account is one ledger account. A sub-account controlled by the master
// holding account has AuthAddr set to the master address.
type Account struct {
	Address    domain.Address
	AuthAddr   domain.Address // controlling address; equals Address when not rekeyed
	MinBalance uint64         // native units that must stay on the account
	Balances   map[domain.AssetID]uint64
	CreatedAt  time.Time
}

// Balance returns the held amount for one asset, zero when not opted in.
func (a *Account) Balance(asset domain.AssetID) uint64 {
	return a.Balances[asset]
}

// OptedIn reports whether the account holds a slot for the asset. The native
// asset needs no slot.
func (a *Account) OptedIn(asset domain.AssetID) bool {
	if asset.IsNative() {
		return true
	}
	_, ok := a.Balances[asset]
	return ok
}

// ControlledBy reports whether controller is the account's effective
// authority.
func (a *Account) ControlledBy(controller domain.Address) bool {
	return a.AuthAddr == controller
}
