package ledger

import (
	"fmt"

	"SwapLedger/internal/fixed"
)

// TokenPool is one side of the market: the external token contract it
// mirrors and the amount of that token currently custodied for swaps.
type TokenPool struct {
	TokenAddress Address
	Pool         uint64
}

// UserBalance tracks how much of each token a user can withdraw.
// Created lazily on first credit and never deleted; both fields may sit
// at zero indefinitely.
type UserBalance struct {
	PoolABalance uint64
	PoolBBalance uint64
}

// BalanceFor returns the balance of one token side.
func (ub *UserBalance) BalanceFor(token Token) uint64 {
	if token == TokenA {
		return ub.PoolABalance
	}
	return ub.PoolBBalance
}

func (ub *UserBalance) setBalanceFor(token Token, v uint64) {
	if token == TokenA {
		ub.PoolABalance = v
	} else {
		ub.PoolBBalance = v
	}
}

// State is the persisted contract state: the two pools, the
// constant-product invariant, every user's withdrawable balances and
// the open/closed flag. All mutation goes through the engine; State
// itself enforces only the per-field invariants (no negative balances,
// no unsigned wraparound).
type State struct {
	ContractOwner Address
	TokenPoolA    TokenPool
	TokenPoolB    TokenPool
	SwapConstant  uint64
	UserBalances  map[Address]*UserBalance
	IsClosed      bool
}

// NewState builds the post-initialize state: both pools at zero, no
// swap constant, no balances, closed. The two token addresses must be
// distinct deployed contracts.
func NewState(owner, tokenA, tokenB Address) (*State, error) {
	if !tokenA.IsContract() {
		return nil, fmt.Errorf("token A %s: %w", tokenA, ErrInvalidAddress)
	}
	if !tokenB.IsContract() {
		return nil, fmt.Errorf("token B %s: %w", tokenB, ErrInvalidAddress)
	}
	if tokenA == tokenB {
		return nil, fmt.Errorf("%s: %w", tokenA, ErrDuplicateToken)
	}

	return &State{
		ContractOwner: owner,
		TokenPoolA:    TokenPool{TokenAddress: tokenA},
		TokenPoolB:    TokenPool{TokenAddress: tokenB},
		SwapConstant:  0,
		UserBalances:  make(map[Address]*UserBalance),
		IsClosed:      true,
	}, nil
}

// PoolFor returns the current size of the pool matching token.
func (s *State) PoolFor(token Token) uint64 {
	if token == TokenA {
		return s.TokenPoolA.Pool
	}
	return s.TokenPoolB.Pool
}

// SetPoolFor overwrites the size of the pool matching token. The caller
// is responsible for the open-state positivity invariant.
func (s *State) SetPoolFor(token Token, v uint64) {
	if token == TokenA {
		s.TokenPoolA.Pool = v
	} else {
		s.TokenPoolB.Pool = v
	}
}

// AddToPool grows the pool matching token, failing fast on wraparound.
func (s *State) AddToPool(token Token, amount uint64) error {
	sum, err := fixed.AddChecked(s.PoolFor(token), amount)
	if err != nil {
		return fmt.Errorf("pool %s: %w", token, err)
	}
	s.SetPoolFor(token, sum)
	return nil
}

// AddToUserBalance credits amount of token to user, creating a zeroed
// balance record if the user has none. Fails fast on wraparound with no
// mutation.
func (s *State) AddToUserBalance(user Address, token Token, amount uint64) error {
	ub, ok := s.UserBalances[user]
	if !ok {
		ub = &UserBalance{}
		s.UserBalances[user] = ub
	}

	sum, err := fixed.AddChecked(ub.BalanceFor(token), amount)
	if err != nil {
		return fmt.Errorf("balance %s/%s: %w", user, token, err)
	}
	ub.setBalanceFor(token, sum)
	return nil
}

// SubtractFromUserBalance debits amount of token from user. Fails with
// ErrInsufficientFunds when the user has no balance record or the
// debit would underflow; the balance is untouched on failure.
func (s *State) SubtractFromUserBalance(user Address, token Token, amount uint64) error {
	ub, ok := s.UserBalances[user]
	if !ok {
		return fmt.Errorf("no balance record for %s: %w", user, ErrInsufficientFunds)
	}

	remaining, ok := fixed.SubChecked(ub.BalanceFor(token), amount)
	if !ok {
		return fmt.Errorf("debit %d of token %s from %s (have %d): %w",
			amount, token, user, ub.BalanceFor(token), ErrInsufficientFunds)
	}
	ub.setBalanceFor(token, remaining)
	return nil
}

// BalanceFor returns user's withdrawable balance of token; zero when
// the user has no record.
func (s *State) BalanceFor(user Address, token Token) uint64 {
	ub, ok := s.UserBalances[user]
	if !ok {
		return 0
	}
	return ub.BalanceFor(token)
}

// DeduceFromToTokens resolves an external token address to the
// (from, to) token pair for a swap or transfer, with the matched side
// as "from". Fails with ErrUnknownToken when the address matches
// neither pool.
func (s *State) DeduceFromToTokens(inputTokenAddress Address) (from, to Token, err error) {
	switch inputTokenAddress {
	case s.TokenPoolA.TokenAddress:
		return TokenA, TokenB, nil
	case s.TokenPoolB.TokenAddress:
		return TokenB, TokenA, nil
	default:
		return 0, 0, fmt.Errorf("%s: %w", inputTokenAddress, ErrUnknownToken)
	}
}

// TokenAddressFor returns the external contract address of one side.
func (s *State) TokenAddressFor(token Token) Address {
	if token == TokenA {
		return s.TokenPoolA.TokenAddress
	}
	return s.TokenPoolB.TokenAddress
}
