// Package audit captures the ledger's financially significant actions. Events
// are transport-agnostic so stores and sinks can fan out.
package audit

import (
	"time"

	"cardvault/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose. This
// enables different retention policies, storage backends, and routing.
type EventCategory string

const (
	// CategoryCompliance covers value-moving and lifecycle events with
	// regulatory significance: account creation and closure, debits, refunds,
	// settlements, withdrawals. Fail-closed persistence, long retention.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers events relevant to monitoring and forensics:
	// rejected signatures, nonce replays, role changes, pause flips.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine visibility events that can be
	// sampled: setup initiations, getter access, cache refreshes.
	CategoryOperations EventCategory = "operations"
)

// Action names one auditable action.
type Action string

const (
	// Registry lifecycle
	ActionChannelSetupInitiated Action = "partner_channel_setup_initiated"
	ActionChannelCreated        Action = "partner_channel_created"
	ActionChannelClosed         Action = "partner_channel_closed"
	ActionFundSetupInitiated    Action = "card_fund_setup_initiated"
	ActionFundCreated           Action = "card_fund_created"
	ActionFundClosed            Action = "card_fund_closed"

	// Payments
	ActionDebit            Action = "debit"
	ActionRefund           Action = "refund"
	ActionSettled          Action = "settled"
	ActionAssetAllowed     Action = "asset_allowlisted"
	ActionAssetRemoved     Action = "asset_removed"
	ActionSettlementAddset Action = "settlement_address_set"

	// Withdrawals
	ActionWithdrawalRequested  Action = "withdrawal_requested"
	ActionWithdrawalSuperseded Action = "withdrawal_request_superseded"
	ActionWithdrawalCancelled  Action = "withdrawal_cancelled"
	ActionWithdrawalExecuted   Action = "withdrawal_executed"
	ActionWithdrawalApproved   Action = "withdrawal_executed_approved"

	// Roles and lifecycle
	ActionOwnershipTransferred Action = "ownership_transferred"
	ActionSettlerChanged       Action = "settler_changed"
	ActionPauseChanged         Action = "pause_changed"
	ActionTimeoutChanged       Action = "withdrawal_timeout_changed"
	ActionDecommissioned       Action = "decommissioned"
	ActionAssetRecovered       Action = "asset_recovered"

	// Security signals
	ActionSignatureRejected Action = "withdrawal_signature_rejected"
	ActionNonceRejected     Action = "nonce_rejected"
)

var actionCategories = map[Action]EventCategory{
	ActionChannelCreated:       CategoryCompliance,
	ActionChannelClosed:        CategoryCompliance,
	ActionFundCreated:          CategoryCompliance,
	ActionFundClosed:           CategoryCompliance,
	ActionDebit:                CategoryCompliance,
	ActionRefund:               CategoryCompliance,
	ActionSettled:              CategoryCompliance,
	ActionWithdrawalExecuted:   CategoryCompliance,
	ActionWithdrawalApproved:   CategoryCompliance,
	ActionAssetRecovered:       CategoryCompliance,
	ActionDecommissioned:       CategoryCompliance,
	ActionOwnershipTransferred: CategorySecurity,
	ActionSettlerChanged:       CategorySecurity,
	ActionPauseChanged:         CategorySecurity,
	ActionSignatureRejected:    CategorySecurity,
	ActionNonceRejected:        CategorySecurity,
	ActionWithdrawalSuperseded: CategorySecurity,
}

// Category returns the category for the action; unmapped actions are
// operational noise.
func (a Action) Category() EventCategory {
	if cat, ok := actionCategories[a]; ok {
		return cat
	}
	return CategoryOperations
}

// Event is one audit record.
type Event struct {
	ID        string
	Timestamp time.Time
	Action    Action
	Actor     domain.Address // caller of the operation
	Subject   domain.Address // account acted on (fund, channel, master)
	Asset     domain.AssetID
	Amount    uint64
	Nonce     uint64
	Reference string // opaque annotation (payment ref, superseded request, device)
	RequestID string // correlation ID from the transport layer
}

// Category returns the event's routing category.
func (e Event) Category() EventCategory {
	return e.Action.Category()
}
