package ledger

// Storage deposit model. Every durable record charges a deposit proportional
// to its encoded size; deposits are fully refundable when the record is
// deleted. The linear formula must match the underlying cost model exactly so
// charged and refunded amounts always balance.
const (
	// BaseAccountMBR is the native deposit a bare account must hold.
	BaseAccountMBR uint64 = 100_000
	// AssetOptInMBR is the additional deposit per held asset slot.
	AssetOptInMBR uint64 = 100_000
	// BoxFlatCost is the fixed part of one stored record's deposit.
	BoxFlatCost uint64 = 2_500
	// BoxByteCost is the per-byte part, over key plus value bytes.
	BoxByteCost uint64 = 400
)

// BoxCost returns the deposit for one record of the given encoded key and
// value sizes.
func BoxCost(keyLen, valueLen int) uint64 {
	return BoxFlatCost + BoxByteCost*uint64(keyLen+valueLen)
}
