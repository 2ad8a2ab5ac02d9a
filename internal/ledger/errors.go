package ledger

import "errors"

// Failure taxonomy for ledger operations. Every violation aborts the
// whole attempted state transition; callers never observe a partial
// mutation alongside one of these.
var (
	// ErrPermissionDenied: a non-owner invoked an owner-only operation.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrInvalidState: the operation's open/closed precondition is unmet.
	ErrInvalidState = errors.New("invalid contract state")

	// ErrUnknownToken: the address matches neither configured pool.
	ErrUnknownToken = errors.New("unknown token address")

	// ErrInsufficientFunds: checked subtraction on a balance underflowed,
	// or the user has no balance record at all.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrExternalCallFailed: a callback observed that the paired external
	// transfer did not succeed.
	ErrExternalCallFailed = errors.New("external transfer did not succeed")

	// ErrAlreadyClosed: close was requested on an already-closed contract.
	ErrAlreadyClosed = errors.New("contract is already closed")

	// ErrDuplicateToken: both pools were configured with the same address.
	ErrDuplicateToken = errors.New("duplicate token address")

	// ErrInvalidAddress: a pool address does not denote a deployed contract.
	ErrInvalidAddress = errors.New("token address is not a contract")
)
