package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"SwapLedger/internal/engine"
	"SwapLedger/internal/ledger"
	"SwapLedger/internal/server"
	"SwapLedger/internal/wire"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	owner    = "000000000000000000000000000000000000000001"
	user1    = "000000000000000000000000000000000000000002"
	selfAddr = ledger.MustParseAddress("0200000000000000000000000000000000000000ff")
	tokenA   = "02000000000000000000000000000000000000000a"
	tokenB   = "02000000000000000000000000000000000000000b"
)

type recordingOutbox struct {
	requests []wire.TransferRequest
	fail     bool
}

func (o *recordingOutbox) PublishTransfer(_ context.Context, req wire.TransferRequest) error {
	if o.fail {
		return errors.New("broker unavailable")
	}
	o.requests = append(o.requests, req)
	return nil
}

func newServer(t *testing.T) (http.Handler, *engine.Engine, *recordingOutbox) {
	t.Helper()
	outbox := &recordingOutbox{}
	eng := engine.New(selfAddr, outbox, nil, nil, zerolog.Nop())
	srv := server.New(":0", eng, nil, nil, nil, zerolog.Nop())
	return srv.Handler(), eng, outbox
}

// post issues a JSON POST with the given sender header.
func post(t *testing.T, h http.Handler, sender, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	if sender != "" {
		req.Header.Set("X-Swap-Sender", sender)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

// initAndOpen funds both pools through the request/callback cycle so
// the contract is open for swaps.
func initAndOpen(t *testing.T, h http.Handler, eng *engine.Engine, poolA, poolB uint64) {
	t.Helper()
	rec := post(t, h, owner, "/v1/initialize", map[string]string{
		"token_a_address": tokenA,
		"token_b_address": tokenB,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("initialize: status %d, body %s", rec.Code, rec.Body)
	}

	for token, size := range map[string]uint64{tokenA: poolA, tokenB: poolB} {
		rec := post(t, h, owner, "/v1/liquidity", map[string]any{
			"token_address": token,
			"pool_size":     size,
		})
		if rec.Code != http.StatusAccepted {
			t.Fatalf("liquidity(%s): status %d, body %s", token, rec.Code, rec.Body)
		}
		var resp struct {
			CorrelationID string `json:"correlation_id"`
		}
		decode(t, rec, &resp)
		id, err := uuid.Parse(resp.CorrelationID)
		if err != nil {
			t.Fatalf("correlation id %q: %v", resp.CorrelationID, err)
		}
		if err := eng.HandleTransferResult(wire.TransferResult{CorrelationID: id, Success: true}); err != nil {
			t.Fatalf("liquidity callback: %v", err)
		}
	}
}

// ============================================================================
// Test: sender header
// ============================================================================

func TestMissingSenderHeader(t *testing.T) {
	h, _, _ := newServer(t)
	rec := post(t, h, "", "/v1/swap", map[string]any{"token_address": tokenA, "amount": 1})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing sender: status %d, want 400", rec.Code)
	}
}

func TestMalformedSenderHeader(t *testing.T) {
	h, _, _ := newServer(t)
	rec := post(t, h, "not-an-address", "/v1/close", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed sender: status %d, want 400", rec.Code)
	}
}

// ============================================================================
// Test: operation endpoints
// ============================================================================

func TestInitializeAndPools(t *testing.T) {
	h, eng, _ := newServer(t)
	initAndOpen(t, h, eng, 1000, 500)

	rec := get(t, h, "/v1/pools")
	if rec.Code != http.StatusOK {
		t.Fatalf("pools: status %d", rec.Code)
	}
	var pools struct {
		Initialized  bool   `json:"initialized"`
		PoolA        uint64 `json:"pool_a"`
		PoolB        uint64 `json:"pool_b"`
		SwapConstant uint64 `json:"swap_constant"`
		IsClosed     bool   `json:"is_closed"`
	}
	decode(t, rec, &pools)
	if !pools.Initialized || pools.IsClosed {
		t.Errorf("pools view: initialized=%v closed=%v", pools.Initialized, pools.IsClosed)
	}
	if pools.PoolA != 1000 || pools.PoolB != 500 || pools.SwapConstant != 500000 {
		t.Errorf("pools view: A=%d B=%d k=%d", pools.PoolA, pools.PoolB, pools.SwapConstant)
	}
}

func TestLiquidityByNonOwner(t *testing.T) {
	h, _, _ := newServer(t)
	rec := post(t, h, owner, "/v1/initialize", map[string]string{
		"token_a_address": tokenA,
		"token_b_address": tokenB,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("initialize: status %d", rec.Code)
	}

	rec = post(t, h, user1, "/v1/liquidity", map[string]any{"token_address": tokenA, "pool_size": 100})
	if rec.Code != http.StatusForbidden {
		t.Errorf("non-owner liquidity: status %d, want 403", rec.Code)
	}
}

func TestSwapFlow(t *testing.T) {
	h, eng, _ := newServer(t)
	initAndOpen(t, h, eng, 1000, 500)

	// Credit user1 with 100 of token A through the deposit cycle.
	rec := post(t, h, user1, "/v1/deposit", map[string]any{"token_address": tokenA, "amount": 100})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("deposit: status %d, body %s", rec.Code, rec.Body)
	}
	var pending struct {
		CorrelationID string `json:"correlation_id"`
	}
	decode(t, rec, &pending)
	id, err := uuid.Parse(pending.CorrelationID)
	if err != nil {
		t.Fatalf("correlation id: %v", err)
	}
	if err := eng.HandleTransferResult(wire.TransferResult{CorrelationID: id, Success: true}); err != nil {
		t.Fatalf("deposit callback: %v", err)
	}

	rec = post(t, h, user1, "/v1/swap", map[string]any{"token_address": tokenA, "amount": 100})
	if rec.Code != http.StatusOK {
		t.Fatalf("swap: status %d, body %s", rec.Code, rec.Body)
	}
	var swap struct {
		Paid        uint64 `json:"paid"`
		Received    uint64 `json:"received"`
		NewFromPool uint64 `json:"new_from_pool"`
		NewToPool   uint64 `json:"new_to_pool"`
	}
	decode(t, rec, &swap)
	if swap.Paid != 100 || swap.Received != 45 {
		t.Errorf("swap: paid=%d received=%d, want 100/45", swap.Paid, swap.Received)
	}
	if swap.NewFromPool != 1100 || swap.NewToPool != 455 {
		t.Errorf("swap: pools %d/%d, want 1100/455", swap.NewFromPool, swap.NewToPool)
	}
}

func TestSwapWhileClosed(t *testing.T) {
	h, _, _ := newServer(t)
	rec := post(t, h, owner, "/v1/initialize", map[string]string{
		"token_a_address": tokenA,
		"token_b_address": tokenB,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("initialize: status %d", rec.Code)
	}

	rec = post(t, h, user1, "/v1/swap", map[string]any{"token_address": tokenA, "amount": 1})
	if rec.Code != http.StatusConflict {
		t.Errorf("swap while closed: status %d, want 409", rec.Code)
	}
}

func TestSwapUnknownToken(t *testing.T) {
	h, eng, _ := newServer(t)
	initAndOpen(t, h, eng, 1000, 500)

	other := "02000000000000000000000000000000000000000c"
	rec := post(t, h, user1, "/v1/swap", map[string]any{"token_address": other, "amount": 1})
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown token: status %d, want 404", rec.Code)
	}
}

func TestWithdrawInsufficientFunds(t *testing.T) {
	h, eng, _ := newServer(t)
	initAndOpen(t, h, eng, 1000, 500)

	rec := post(t, h, user1, "/v1/withdraw", map[string]any{"token_address": tokenA, "amount": 10})
	if rec.Code != http.StatusConflict {
		t.Errorf("withdraw with no balance: status %d, want 409", rec.Code)
	}
}

func TestCloseByNonOwner(t *testing.T) {
	h, eng, _ := newServer(t)
	initAndOpen(t, h, eng, 1000, 500)

	rec := post(t, h, user1, "/v1/close", nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("close by non-owner: status %d, want 403", rec.Code)
	}
}

func TestBalancesEndpoint(t *testing.T) {
	h, eng, _ := newServer(t)
	initAndOpen(t, h, eng, 1000, 500)

	rec := get(t, h, "/v1/balances/"+user1)
	if rec.Code != http.StatusOK {
		t.Fatalf("balances: status %d", rec.Code)
	}
	var resp struct {
		Address  string `json:"address"`
		BalanceA uint64 `json:"balance_a"`
		BalanceB uint64 `json:"balance_b"`
	}
	decode(t, rec, &resp)
	if resp.Address != user1 {
		t.Errorf("balances address: got %s", resp.Address)
	}
	if resp.BalanceA != 0 || resp.BalanceB != 0 {
		t.Errorf("fresh user balances: %d/%d, want 0/0", resp.BalanceA, resp.BalanceB)
	}
}

func TestBalancesBadAddress(t *testing.T) {
	h, _, _ := newServer(t)
	rec := get(t, h, "/v1/balances/zz")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad address: status %d, want 400", rec.Code)
	}
}

func TestOperationsWithoutJournal(t *testing.T) {
	h, _, _ := newServer(t)
	rec := get(t, h, "/v1/operations")
	if rec.Code != http.StatusNotImplemented {
		t.Errorf("operations without journal: status %d, want 501", rec.Code)
	}
}

func TestMalformedBody(t *testing.T) {
	h, _, _ := newServer(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/swap", bytes.NewReader([]byte("{not json")))
	req.Header.Set("X-Swap-Sender", user1)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body: status %d, want 400", rec.Code)
	}
}
