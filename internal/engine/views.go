package engine

import (
	"errors"

	"SwapLedger/internal/fixed"
	"SwapLedger/internal/ledger"

	"github.com/google/uuid"
)

// PoolsView is a read-only snapshot of the market-level state.
type PoolsView struct {
	Initialized   bool
	ContractOwner ledger.Address
	TokenAAddress ledger.Address
	TokenBAddress ledger.Address
	PoolA         uint64
	PoolB         uint64
	SwapConstant  uint64
	IsClosed      bool
}

// Pools returns the current pool sizes and contract phase.
func (e *Engine) Pools() PoolsView {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == nil {
		return PoolsView{}
	}
	return PoolsView{
		Initialized:   true,
		ContractOwner: e.state.ContractOwner,
		TokenAAddress: e.state.TokenPoolA.TokenAddress,
		TokenBAddress: e.state.TokenPoolB.TokenAddress,
		PoolA:         e.state.TokenPoolA.Pool,
		PoolB:         e.state.TokenPoolB.Pool,
		SwapConstant:  e.state.SwapConstant,
		IsClosed:      e.state.IsClosed,
	}
}

// Balances returns a user's withdrawable balances for both tokens.
func (e *Engine) Balances(user ledger.Address) (balanceA, balanceB uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == nil {
		return 0, 0
	}
	return e.state.BalanceFor(user, ledger.TokenA), e.state.BalanceFor(user, ledger.TokenB)
}

// PendingCount returns the number of continuations awaiting a reply.
func (e *Engine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Snapshot is a deep copy of everything the engine persists across
// restarts: the ledger state and the outstanding continuations.
type Snapshot struct {
	State   *ledger.State
	Pending map[uuid.UUID]Continuation
}

// TakeSnapshot copies the current state for persistence. Returns a
// snapshot with a nil State when the contract is not yet initialized.
func (e *Engine) TakeSnapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := Snapshot{Pending: make(map[uuid.UUID]Continuation, len(e.pending))}
	for id, cont := range e.pending {
		snap.Pending[id] = cont
	}
	if e.state == nil {
		return snap
	}

	st := &ledger.State{
		ContractOwner: e.state.ContractOwner,
		TokenPoolA:    e.state.TokenPoolA,
		TokenPoolB:    e.state.TokenPoolB,
		SwapConstant:  e.state.SwapConstant,
		UserBalances:  make(map[ledger.Address]*ledger.UserBalance, len(e.state.UserBalances)),
		IsClosed:      e.state.IsClosed,
	}
	for user, ub := range e.state.UserBalances {
		copied := *ub
		st.UserBalances[user] = &copied
	}
	snap.State = st
	return snap
}

// Restore replaces the engine's state with a snapshot. Used once at
// startup, before any operation has been accepted.
func (e *Engine) Restore(snap Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state = snap.State
	e.pending = make(pendingSet, len(snap.Pending))
	for id, cont := range snap.Pending {
		e.pending[id] = cont
	}
	if e.metrics != nil {
		e.metrics.PendingContinuations.Set(float64(len(e.pending)))
	}
}

// rejectReason maps the failure taxonomy to a stable metric label.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, ledger.ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ledger.ErrAlreadyClosed):
		return "already_closed"
	case errors.Is(err, ledger.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ledger.ErrUnknownToken):
		return "unknown_token"
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ledger.ErrExternalCallFailed):
		return "external_call_failed"
	case errors.Is(err, ledger.ErrDuplicateToken):
		return "duplicate_token"
	case errors.Is(err, ledger.ErrInvalidAddress):
		return "invalid_address"
	case errors.Is(err, fixed.ErrOverflow):
		return "overflow"
	default:
		return "internal"
	}
}
