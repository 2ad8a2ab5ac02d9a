// Package wire defines the stable wire identifiers of the swap ledger:
// the public operation selectors, the callback selectors paired with
// outbound requests, and the transfer selectors of the external
// token-ledger contracts. These values are protocol, not implementation
// detail; changing them breaks every deployed counterparty.
package wire

// Selector is a compact operation identifier carried on the wire.
type Selector uint32

// Public operation surface. Initialize has no numeric selector on the
// original surface; 0x00 stands in for journal and metric labels.
const (
	OpInitialize       Selector = 0x00
	OpProvideLiquidity Selector = 0x01
	OpDeposit          Selector = 0x02
	OpSwap             Selector = 0x03
	OpWithdraw         Selector = 0x04
	OpClosePools       Selector = 0x05
)

// Callback selectors identifying the continuation registered with an
// outbound request.
const (
	CallbackProvideLiquidity Selector = 0x10
	CallbackDeposit          Selector = 0x20
)

// Transfer selectors of the external token-ledger contract.
const (
	// TokenTransfer pushes funds from this contract to a named recipient.
	TokenTransfer Selector = 0x01
	// TokenTransferFrom pulls funds from a sender into this contract.
	TokenTransferFrom Selector = 0x03
)

func (s Selector) String() string {
	switch s {
	case OpInitialize:
		return "init"
	case OpProvideLiquidity:
		return "provide_liquidity"
	case OpDeposit:
		return "deposit"
	case OpSwap:
		return "swap"
	case OpWithdraw:
		return "withdraw"
	case OpClosePools:
		return "close_pools"
	case CallbackProvideLiquidity:
		return "provide_liquidity_callback"
	case CallbackDeposit:
		return "deposit_callback"
	default:
		return "unknown"
	}
}
