package engine

import (
	"time"

	"SwapLedger/internal/ledger"
	"SwapLedger/internal/wire"

	"github.com/google/uuid"
)

// Record describes one applied state transition for the operation
// journal. Rejected operations are never journaled; they left no
// mutation to account for.
type Record struct {
	OperationID   uuid.UUID
	Selector      wire.Selector
	Sender        ledger.Address
	TokenAddress  string // empty for operations without a token argument
	Amount        uint64
	CorrelationID uuid.UUID // zero for synchronous operations

	// Post-transition snapshot of the aggregate ledger facts.
	PoolA        uint64
	PoolB        uint64
	SwapConstant uint64
	IsClosed     bool
	StateDigest  [32]byte

	AppliedAt time.Time
}
