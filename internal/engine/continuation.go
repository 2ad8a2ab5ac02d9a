package engine

import (
	"errors"

	"SwapLedger/internal/ledger"
	"SwapLedger/internal/wire"

	"github.com/google/uuid"
)

// ErrUnknownCorrelation: a transfer result arrived with no pending
// continuation. Either the reply was redelivered after it was already
// consumed, or it belongs to nobody; both are safe to drop.
var ErrUnknownCorrelation = errors.New("no pending continuation for correlation id")

// Continuation is the captured remainder of an operation that issued an
// outbound transfer request and is waiting for its outcome. The ledger
// may change arbitrarily between the request and the reply; the
// continuation carries everything the resume step is allowed to assume.
type Continuation struct {
	Kind   wire.Selector // CallbackProvideLiquidity or CallbackDeposit
	Sender ledger.Address
	Token  ledger.Token
	Amount uint64
}

// pendingSet keys outstanding continuations by the correlation ID the
// outbound request carried. Entries are consumed on first reply,
// success or failure, which also makes redelivered replies harmless.
type pendingSet map[uuid.UUID]Continuation

func (p pendingSet) take(id uuid.UUID) (Continuation, bool) {
	cont, ok := p[id]
	if ok {
		delete(p, id)
	}
	return cont, ok
}
