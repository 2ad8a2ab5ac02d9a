package persistence

import (
	"testing"
	"time"

	"SwapLedger/internal/engine"
	"SwapLedger/internal/ledger"
	"SwapLedger/internal/wire"

	"github.com/google/uuid"
)

var (
	testOwner  = ledger.MustParseAddress("000000000000000000000000000000000000000001")
	testUser   = ledger.MustParseAddress("000000000000000000000000000000000000000002")
	testTokenA = ledger.MustParseAddress("02000000000000000000000000000000000000000a")
	testTokenB = ledger.MustParseAddress("02000000000000000000000000000000000000000b")
)

func testSnapshot(t *testing.T) engine.Snapshot {
	t.Helper()
	st, err := ledger.NewState(testOwner, testTokenA, testTokenB)
	if err != nil {
		t.Fatalf("NewState: %v", err)
	}
	st.TokenPoolA.Pool = 1000
	st.TokenPoolB.Pool = 500
	st.SwapConstant = 500000
	st.IsClosed = false
	st.UserBalances[testUser] = &ledger.UserBalance{PoolABalance: 42, PoolBBalance: 7}

	return engine.Snapshot{
		State: st,
		Pending: map[uuid.UUID]engine.Continuation{
			uuid.New(): {
				Kind:   wire.CallbackDeposit,
				Sender: testUser,
				Token:  ledger.TokenB,
				Amount: 99,
			},
		},
	}
}

func TestSnapshotCodec_RoundTrip(t *testing.T) {
	snap := testSnapshot(t)

	decoded, err := decodeSnapshot(encodeSnapshot(snap))
	if err != nil {
		t.Fatalf("decodeSnapshot: %v", err)
	}

	if decoded.State.Digest() != snap.State.Digest() {
		t.Error("state digest changed across encode/decode")
	}
	if len(decoded.Pending) != 1 {
		t.Fatalf("pending continuations: got %d, want 1", len(decoded.Pending))
	}
	for id, cont := range snap.Pending {
		got, ok := decoded.Pending[id]
		if !ok {
			t.Fatalf("continuation %s missing after round trip", id)
		}
		if got != cont {
			t.Errorf("continuation %s: got %+v, want %+v", id, got, cont)
		}
	}
}

func TestSnapshotCodec_RejectsBadAddress(t *testing.T) {
	sd := encodeSnapshot(testSnapshot(t))
	sd.ContractOwner = "zz"
	if _, err := decodeSnapshot(sd); err == nil {
		t.Error("expected decode error for malformed owner address")
	}
}

func TestToRow_OptionalFields(t *testing.T) {
	rec := engine.Record{
		OperationID: uuid.New(),
		Selector:    wire.OpClosePools,
		Sender:      testOwner,
		AppliedAt:   time.Now(),
	}

	row := toRow(rec)
	if row.TokenAddress != nil {
		t.Errorf("close_pools row has token address %q, want nil", *row.TokenAddress)
	}
	if row.CorrelationID != nil {
		t.Errorf("close_pools row has correlation id %q, want nil", *row.CorrelationID)
	}

	rec.Selector = wire.OpDeposit
	rec.TokenAddress = testTokenA.String()
	rec.CorrelationID = uuid.New()
	row = toRow(rec)
	if row.TokenAddress == nil || *row.TokenAddress != testTokenA.String() {
		t.Error("deposit row should carry the token address")
	}
	if row.CorrelationID == nil || *row.CorrelationID != rec.CorrelationID.String() {
		t.Error("deposit row should carry the correlation id")
	}
}
