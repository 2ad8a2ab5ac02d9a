// Package engine implements the swap/liquidity operations over the
// ledger state: initialize, provide-liquidity, deposit, swap, withdraw
// and close-pools, plus the callback continuations that resume once an
// outbound token transfer reports its outcome.
//
// Every operation is a single all-or-nothing state transition: all
// preconditions are checked before the first mutation, so a rejected
// operation leaves the ledger untouched. Transition atomicity across
// callers (HTTP handlers, the transfer-reply consumer) is provided by
// one mutex; there is no finer-grained locking and no interleaving
// within a transition.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"SwapLedger/internal/fixed"
	"SwapLedger/internal/ledger"
	"SwapLedger/internal/observability"
	"SwapLedger/internal/wire"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Outbox publishes outbound transfer requests to the external token
// ledgers. Implemented by transport.Outbox; tests substitute a recorder.
type Outbox interface {
	PublishTransfer(ctx context.Context, req wire.TransferRequest) error
}

// Engine executes operations against the ledger state.
type Engine struct {
	mu      sync.Mutex
	self    ledger.Address // this contract's own address, custody target of pulls
	state   *ledger.State
	pending pendingSet

	outbox  Outbox
	journal chan<- Record
	metrics *observability.Metrics
	log     zerolog.Logger
}

// New creates an engine with no ledger state; every operation except
// Initialize fails ErrInvalidState until Initialize has run (or a
// snapshot has been restored). journal may be nil, in which case no
// records are emitted.
func New(self ledger.Address, outbox Outbox, journal chan<- Record, metrics *observability.Metrics, log zerolog.Logger) *Engine {
	return &Engine{
		self:    self,
		pending: make(pendingSet),
		outbox:  outbox,
		journal: journal,
		metrics: metrics,
		log:     log,
	}
}

// Initialize creates the ledger state: both pools at zero, no swap
// constant, empty balances, closed. The sender becomes the contract
// owner. Fails if the state already exists or the token addresses are
// not two distinct deployed contracts.
func (e *Engine) Initialize(sender, tokenA, tokenB ledger.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.observe(wire.OpInitialize, time.Now())

	if e.state != nil {
		return e.reject(wire.OpInitialize, fmt.Errorf("contract already initialized: %w", ledger.ErrInvalidState))
	}

	state, err := ledger.NewState(sender, tokenA, tokenB)
	if err != nil {
		return e.reject(wire.OpInitialize, err)
	}
	e.state = state

	e.log.Info().
		Str("owner", sender.String()).
		Str("token_a", tokenA.String()).
		Str("token_b", tokenB.String()).
		Msg("contract initialized")

	e.applied(Record{
		OperationID: uuid.New(),
		Selector:    wire.OpInitialize,
		Sender:      sender,
	})
	return nil
}

// ProvideLiquidity asks the named token ledger to pull poolSize units
// from the owner into this contract's custody and registers the
// continuation that will grow the pool once the pull succeeds.
// Owner-only; closed-state-only.
func (e *Engine) ProvideLiquidity(ctx context.Context, sender, tokenAddress ledger.Address, poolSize uint64) (uuid.UUID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.observe(wire.OpProvideLiquidity, time.Now())

	if e.state == nil {
		return uuid.Nil, e.reject(wire.OpProvideLiquidity, fmt.Errorf("not initialized: %w", ledger.ErrInvalidState))
	}
	if sender != e.state.ContractOwner {
		return uuid.Nil, e.reject(wire.OpProvideLiquidity,
			fmt.Errorf("only the contract owner can provide liquidity: %w", ledger.ErrPermissionDenied))
	}
	if !e.state.IsClosed {
		return uuid.Nil, e.reject(wire.OpProvideLiquidity,
			fmt.Errorf("can only provide liquidity while closed: %w", ledger.ErrInvalidState))
	}

	fromToken, _, err := e.state.DeduceFromToTokens(tokenAddress)
	if err != nil {
		return uuid.Nil, e.reject(wire.OpProvideLiquidity, err)
	}

	correlationID, err := e.requestPull(ctx, tokenAddress, sender, poolSize, wire.CallbackProvideLiquidity)
	if err != nil {
		return uuid.Nil, e.reject(wire.OpProvideLiquidity, err)
	}

	e.pending[correlationID] = Continuation{
		Kind:   wire.CallbackProvideLiquidity,
		Sender: sender,
		Token:  fromToken,
		Amount: poolSize,
	}

	e.log.Info().
		Str("correlation_id", correlationID.String()).
		Str("token", fromToken.String()).
		Uint64("pool_size", poolSize).
		Msg("liquidity pull requested")

	e.applied(Record{
		OperationID:   uuid.New(),
		Selector:      wire.OpProvideLiquidity,
		Sender:        sender,
		TokenAddress:  tokenAddress.String(),
		Amount:        poolSize,
		CorrelationID: correlationID,
	})
	return correlationID, nil
}

// Deposit asks the named token ledger to pull amount units from the
// caller into this contract's custody and registers the continuation
// that will credit the caller's withdrawable balance once the pull
// succeeds. The pool is never touched by a deposit. Open-state-only.
func (e *Engine) Deposit(ctx context.Context, sender, tokenAddress ledger.Address, amount uint64) (uuid.UUID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.observe(wire.OpDeposit, time.Now())

	if e.state == nil {
		return uuid.Nil, e.reject(wire.OpDeposit, fmt.Errorf("not initialized: %w", ledger.ErrInvalidState))
	}
	if e.state.IsClosed {
		return uuid.Nil, e.reject(wire.OpDeposit,
			fmt.Errorf("cannot deposit while the contract is closed: %w", ledger.ErrInvalidState))
	}

	fromToken, _, err := e.state.DeduceFromToTokens(tokenAddress)
	if err != nil {
		return uuid.Nil, e.reject(wire.OpDeposit, err)
	}

	correlationID, err := e.requestPull(ctx, tokenAddress, sender, amount, wire.CallbackDeposit)
	if err != nil {
		return uuid.Nil, e.reject(wire.OpDeposit, err)
	}

	e.pending[correlationID] = Continuation{
		Kind:   wire.CallbackDeposit,
		Sender: sender,
		Token:  fromToken,
		Amount: amount,
	}

	e.applied(Record{
		OperationID:   uuid.New(),
		Selector:      wire.OpDeposit,
		Sender:        sender,
		TokenAddress:  tokenAddress.String(),
		Amount:        amount,
		CorrelationID: correlationID,
	})
	return correlationID, nil
}

// SwapResult reports the effect of a completed swap.
type SwapResult struct {
	FromToken   ledger.Token
	ToToken     ledger.Token
	Paid        uint64
	Received    uint64
	NewFromPool uint64
	NewToPool   uint64
}

// Swap converts amount of the input token into the opposite token at
// the rate dictated by the constant-product formula, against the
// caller's withdrawable balances. Fully synchronous; no external calls.
// Open-state-only.
func (e *Engine) Swap(sender, inputTokenAddress ledger.Address, amount uint64) (SwapResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.observe(wire.OpSwap, time.Now())

	if e.state == nil {
		return SwapResult{}, e.reject(wire.OpSwap, fmt.Errorf("not initialized: %w", ledger.ErrInvalidState))
	}
	if e.state.IsClosed {
		return SwapResult{}, e.reject(wire.OpSwap,
			fmt.Errorf("cannot swap while the contract is closed: %w", ledger.ErrInvalidState))
	}

	tokenFrom, tokenTo, err := e.state.DeduceFromToTokens(inputTokenAddress)
	if err != nil {
		return SwapResult{}, e.reject(wire.OpSwap, err)
	}

	fromPool := e.state.PoolFor(tokenFrom)
	toPool := e.state.PoolFor(tokenTo)

	newFromPool, err := fixed.AddChecked(fromPool, amount)
	if err != nil {
		return SwapResult{}, e.reject(wire.OpSwap, fmt.Errorf("pool %s: %w", tokenFrom, err))
	}

	// fromPool > 0 while open, so the division is well-defined. Ceiling
	// rounding keeps newToPool * newFromPool >= k: rounding error always
	// stays inside the pools, never leaks to the caller.
	newToPool := fixed.DivCeil(e.state.SwapConstant, newFromPool)
	payout := toPool - newToPool

	newToBalance, err := fixed.AddChecked(e.state.BalanceFor(sender, tokenTo), payout)
	if err != nil {
		return SwapResult{}, e.reject(wire.OpSwap, fmt.Errorf("balance %s: %w", tokenTo, err))
	}

	// Last fallible step; everything after it must succeed.
	if err := e.state.SubtractFromUserBalance(sender, tokenFrom, amount); err != nil {
		return SwapResult{}, e.reject(wire.OpSwap, err)
	}
	e.setUserBalance(sender, tokenTo, newToBalance)
	e.state.SetPoolFor(tokenFrom, newFromPool)
	e.state.SetPoolFor(tokenTo, newToPool)

	e.log.Info().
		Str("sender", sender.String()).
		Str("from", tokenFrom.String()).
		Str("to", tokenTo.String()).
		Uint64("paid", amount).
		Uint64("received", payout).
		Msg("swap applied")

	e.applied(Record{
		OperationID:  uuid.New(),
		Selector:     wire.OpSwap,
		Sender:       sender,
		TokenAddress: inputTokenAddress.String(),
		Amount:       amount,
	})
	return SwapResult{
		FromToken:   tokenFrom,
		ToToken:     tokenTo,
		Paid:        amount,
		Received:    payout,
		NewFromPool: newFromPool,
		NewToPool:   newToPool,
	}, nil
}

// Withdraw debits amount from the caller's named-token balance and then
// asks the token ledger to push the funds to the caller. The debit
// deliberately happens first and is kept even if the downstream
// transfer fails: the books may then undercount what the contract
// custodies, which is accepted over reentrancy or stuck funds. No
// continuation is registered and no open/closed precondition applies
// (withdraw is how the owner retrieves the drained pools after close).
func (e *Engine) Withdraw(ctx context.Context, sender, tokenAddress ledger.Address, amount uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.observe(wire.OpWithdraw, time.Now())

	if e.state == nil {
		return e.reject(wire.OpWithdraw, fmt.Errorf("not initialized: %w", ledger.ErrInvalidState))
	}

	tokenFrom, _, err := e.state.DeduceFromToTokens(tokenAddress)
	if err != nil {
		return e.reject(wire.OpWithdraw, err)
	}

	if err := e.state.SubtractFromUserBalance(sender, tokenFrom, amount); err != nil {
		return e.reject(wire.OpWithdraw, err)
	}

	req := wire.TransferRequest{
		CorrelationID: uuid.New(),
		TokenAddress:  tokenAddress.String(),
		Selector:      wire.TokenTransfer,
		To:            sender.String(),
		Amount:        amount,
	}
	if err := e.outbox.PublishTransfer(ctx, req); err != nil {
		// The debit stands; this is the same accepted state as a transfer
		// that fails downstream.
		e.log.Error().Err(err).
			Str("sender", sender.String()).
			Uint64("amount", amount).
			Msg("withdraw transfer failed to publish; books now undercount custody")
		if e.metrics != nil {
			e.metrics.WithdrawPublishFailures.Inc()
		}
	} else if e.metrics != nil {
		e.metrics.TransfersRequested.WithLabelValues("transfer").Inc()
	}

	e.applied(Record{
		OperationID:   uuid.New(),
		Selector:      wire.OpWithdraw,
		Sender:        sender,
		TokenAddress:  tokenAddress.String(),
		Amount:        amount,
		CorrelationID: req.CorrelationID,
	})
	return nil
}

// ClosePools drains both pools into the owner's withdrawable balance,
// zeroes them and closes the contract. No external transfer is issued;
// the owner withdraws explicitly afterwards. Owner-only; open-only.
func (e *Engine) ClosePools(sender ledger.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.observe(wire.OpClosePools, time.Now())

	if e.state == nil {
		return e.reject(wire.OpClosePools, fmt.Errorf("not initialized: %w", ledger.ErrInvalidState))
	}
	if sender != e.state.ContractOwner {
		return e.reject(wire.OpClosePools,
			fmt.Errorf("only the contract owner can close the pools: %w", ledger.ErrPermissionDenied))
	}
	if e.state.IsClosed {
		return e.reject(wire.OpClosePools, ledger.ErrAlreadyClosed)
	}

	owner := e.state.ContractOwner
	newABalance, err := fixed.AddChecked(e.state.BalanceFor(owner, ledger.TokenA), e.state.PoolFor(ledger.TokenA))
	if err != nil {
		return e.reject(wire.OpClosePools, fmt.Errorf("owner balance A: %w", err))
	}
	newBBalance, err := fixed.AddChecked(e.state.BalanceFor(owner, ledger.TokenB), e.state.PoolFor(ledger.TokenB))
	if err != nil {
		return e.reject(wire.OpClosePools, fmt.Errorf("owner balance B: %w", err))
	}

	e.setUserBalance(owner, ledger.TokenA, newABalance)
	e.setUserBalance(owner, ledger.TokenB, newBBalance)
	e.state.SetPoolFor(ledger.TokenA, 0)
	e.state.SetPoolFor(ledger.TokenB, 0)
	e.state.IsClosed = true

	e.log.Info().Msg("pools drained to owner balance; contract closed")

	e.applied(Record{
		OperationID: uuid.New(),
		Selector:    wire.OpClosePools,
		Sender:      sender,
	})
	return nil
}

// HandleTransferResult consumes the reply to an outbound pull and
// resumes the registered continuation. The continuation is consumed on
// first reply regardless of outcome, so redelivered replies resolve to
// ErrUnknownCorrelation and change nothing.
func (e *Engine) HandleTransferResult(result wire.TransferResult) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cont, ok := e.pending.take(result.CorrelationID)
	if !ok {
		return fmt.Errorf("correlation %s: %w", result.CorrelationID, ErrUnknownCorrelation)
	}
	if e.metrics != nil {
		e.metrics.PendingContinuations.Set(float64(len(e.pending)))
	}

	if !result.Success {
		e.log.Warn().
			Str("correlation_id", result.CorrelationID.String()).
			Str("callback", cont.Kind.String()).
			Str("reason", result.Reason).
			Msg("external transfer failed; continuation dropped")
		if e.metrics != nil {
			e.metrics.TransfersResolved.WithLabelValues("failure").Inc()
		}
		return fmt.Errorf("callback %s: %w", cont.Kind, ledger.ErrExternalCallFailed)
	}
	if e.metrics != nil {
		e.metrics.TransfersResolved.WithLabelValues("success").Inc()
	}

	switch cont.Kind {
	case wire.CallbackProvideLiquidity:
		return e.provideLiquidityCallback(result.CorrelationID, cont)
	case wire.CallbackDeposit:
		return e.depositCallback(result.CorrelationID, cont)
	default:
		return fmt.Errorf("correlation %s has unknown callback selector %#x", result.CorrelationID, uint32(cont.Kind))
	}
}

// provideLiquidityCallback grows the named pool. When the increment
// makes both pools strictly positive the swap constant is recomputed as
// their product and the contract opens. This recompute fires on every
// funding cycle, so re-funding after close_pools overwrites k.
func (e *Engine) provideLiquidityCallback(correlationID uuid.UUID, cont Continuation) error {
	newPool, err := fixed.AddChecked(e.state.PoolFor(cont.Token), cont.Amount)
	if err != nil {
		return e.reject(wire.CallbackProvideLiquidity, fmt.Errorf("pool %s: %w", cont.Token, err))
	}

	otherPool := e.state.PoolFor(cont.Token.Opposite())
	var swapConstant uint64
	open := newPool > 0 && otherPool > 0
	if open {
		swapConstant, err = fixed.MulChecked(newPool, otherPool)
		if err != nil {
			return e.reject(wire.CallbackProvideLiquidity, fmt.Errorf("swap constant: %w", err))
		}
	}

	e.state.SetPoolFor(cont.Token, newPool)
	if open {
		e.state.SwapConstant = swapConstant
		e.state.IsClosed = false
		e.log.Info().
			Uint64("swap_constant", swapConstant).
			Msg("both pools funded; contract open")
	}

	e.applied(Record{
		OperationID:   uuid.New(),
		Selector:      wire.CallbackProvideLiquidity,
		Sender:        cont.Sender,
		Amount:        cont.Amount,
		CorrelationID: correlationID,
	})
	return nil
}

// depositCallback credits the depositor's withdrawable balance. The
// pool is untouched: deposited tokens only enter a pool through a swap.
func (e *Engine) depositCallback(correlationID uuid.UUID, cont Continuation) error {
	if err := e.state.AddToUserBalance(cont.Sender, cont.Token, cont.Amount); err != nil {
		return e.reject(wire.CallbackDeposit, err)
	}

	e.applied(Record{
		OperationID:   uuid.New(),
		Selector:      wire.CallbackDeposit,
		Sender:        cont.Sender,
		Amount:        cont.Amount,
		CorrelationID: correlationID,
	})
	return nil
}

// requestPull publishes a transfer_from request moving amount of the
// token from source into this contract's custody.
func (e *Engine) requestPull(ctx context.Context, tokenAddress, source ledger.Address, amount uint64, callback wire.Selector) (uuid.UUID, error) {
	correlationID := uuid.New()
	req := wire.TransferRequest{
		CorrelationID: correlationID,
		TokenAddress:  tokenAddress.String(),
		Selector:      wire.TokenTransferFrom,
		From:          source.String(),
		To:            e.self.String(),
		Amount:        amount,
		Callback:      callback,
	}
	if err := e.outbox.PublishTransfer(ctx, req); err != nil {
		return uuid.Nil, fmt.Errorf("publish transfer request: %w", err)
	}
	if e.metrics != nil {
		e.metrics.TransfersRequested.WithLabelValues("transfer_from").Inc()
	}
	return correlationID, nil
}

// setUserBalance writes a pre-validated balance value. The credit was
// overflow-checked by the caller, so AddToUserBalance-style failure is
// impossible here.
func (e *Engine) setUserBalance(user ledger.Address, token ledger.Token, v uint64) {
	ub, ok := e.state.UserBalances[user]
	if !ok {
		ub = &ledger.UserBalance{}
		e.state.UserBalances[user] = ub
	}
	if token == ledger.TokenA {
		ub.PoolABalance = v
	} else {
		ub.PoolBBalance = v
	}
}

func (e *Engine) applied(rec Record) {
	rec.AppliedAt = time.Now()
	if e.state != nil {
		rec.PoolA = e.state.PoolFor(ledger.TokenA)
		rec.PoolB = e.state.PoolFor(ledger.TokenB)
		rec.SwapConstant = e.state.SwapConstant
		rec.IsClosed = e.state.IsClosed
		rec.StateDigest = e.state.Digest()
	}

	if e.metrics != nil {
		e.metrics.OpsApplied.WithLabelValues(rec.Selector.String()).Inc()
		e.metrics.PoolSize.WithLabelValues("A").Set(float64(rec.PoolA))
		e.metrics.PoolSize.WithLabelValues("B").Set(float64(rec.PoolB))
		e.metrics.SwapConstant.Set(float64(rec.SwapConstant))
		e.metrics.PendingContinuations.Set(float64(len(e.pending)))
	}

	if e.journal != nil {
		e.journal <- rec
	}
}

func (e *Engine) reject(op wire.Selector, err error) error {
	if e.metrics != nil {
		e.metrics.OpsRejected.WithLabelValues(op.String(), rejectReason(err)).Inc()
	}
	return err
}

func (e *Engine) observe(op wire.Selector, start time.Time) {
	if e.metrics != nil {
		e.metrics.OpDuration.WithLabelValues(op.String()).Observe(time.Since(start).Seconds())
	}
}
