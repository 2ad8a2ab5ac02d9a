package wire

import "github.com/google/uuid"

// TransferRequest is the JSON payload of an outbound message to an
// external token-ledger contract. Field names use snake_case to match
// the token ledger's consumers.
//
// A pull (TokenTransferFrom) carries both From and To; a push
// (TokenTransfer) carries only To. Requests that expect a reply name
// the callback selector the reply should resume.
type TransferRequest struct {
	CorrelationID uuid.UUID `json:"correlation_id"`
	TokenAddress  string    `json:"token_address"`
	Selector      Selector  `json:"selector"`
	From          string    `json:"from,omitempty"`
	To            string    `json:"to"`
	Amount        uint64    `json:"amount"`
	Callback      Selector  `json:"callback,omitempty"`
}

// ExpectsReply reports whether a continuation was registered for this
// request. Withdraw pushes never register one.
func (r TransferRequest) ExpectsReply() bool {
	return r.Callback != 0
}

// TransferResult is the reply published by the token ledger once a
// transfer request resolved. Failure replies carry a best-effort
// human-readable reason; only Success drives ledger logic.
type TransferResult struct {
	CorrelationID uuid.UUID `json:"correlation_id"`
	Success       bool      `json:"success"`
	Reason        string    `json:"reason,omitempty"`
}
