package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"SwapLedger/internal/engine"
	"SwapLedger/internal/ledger"
	"SwapLedger/internal/wire"

	"github.com/google/uuid"
)

// SnapshotManager persists and restores full contract snapshots: the
// ledger state plus the outstanding continuations, which are contract
// state carried across restarts like anything else.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData is the serialized contract state.
type SnapshotData struct {
	ContractOwner string                     `json:"contract_owner"`
	TokenAAddress string                     `json:"token_a_address"`
	TokenBAddress string                     `json:"token_b_address"`
	PoolA         uint64                     `json:"pool_a"`
	PoolB         uint64                     `json:"pool_b"`
	SwapConstant  uint64                     `json:"swap_constant"`
	IsClosed      bool                       `json:"is_closed"`
	Balances      map[string]BalanceSnapshot `json:"balances"`
	Pending       []PendingSnapshot          `json:"pending"`
	StateDigest   []byte                     `json:"state_digest"`
	CreatedAt     time.Time                  `json:"created_at"`
}

// BalanceSnapshot is one user's withdrawable balances.
type BalanceSnapshot struct {
	PoolA uint64 `json:"pool_a"`
	PoolB uint64 `json:"pool_b"`
}

// PendingSnapshot is one outstanding continuation.
type PendingSnapshot struct {
	CorrelationID string `json:"correlation_id"`
	Callback      uint32 `json:"callback"`
	Sender        string `json:"sender"`
	Token         uint8  `json:"token"`
	Amount        uint64 `json:"amount"`
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// Save persists an engine snapshot. Uninitialized snapshots (nil
// state) are skipped; there is nothing to restore from them.
func (sm *SnapshotManager) Save(ctx context.Context, snap engine.Snapshot) error {
	if snap.State == nil {
		return nil
	}

	data, err := json.Marshal(encodeSnapshot(snap))
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	digest := snap.State.Digest()
	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO swap_log.snapshots (data, state_digest, created_at)
		VALUES ($1, $2, $3)
	`, data, digest[:], time.Now())
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// LoadLatest restores the newest snapshot. Returns (zero, false, nil)
// when no snapshot exists yet.
func (sm *SnapshotManager) LoadLatest(ctx context.Context) (engine.Snapshot, bool, error) {
	var data []byte
	err := sm.db.QueryRowContext(ctx, `
		SELECT data FROM swap_log.snapshots
		ORDER BY created_at DESC
		LIMIT 1
	`).Scan(&data)
	if err == sql.ErrNoRows {
		return engine.Snapshot{}, false, nil
	}
	if err != nil {
		return engine.Snapshot{}, false, fmt.Errorf("load snapshot: %w", err)
	}

	var sd SnapshotData
	if err := json.Unmarshal(data, &sd); err != nil {
		return engine.Snapshot{}, false, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	snap, err := decodeSnapshot(sd)
	if err != nil {
		return engine.Snapshot{}, false, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, true, nil
}

func encodeSnapshot(snap engine.Snapshot) SnapshotData {
	st := snap.State
	digest := st.Digest()
	sd := SnapshotData{
		ContractOwner: st.ContractOwner.String(),
		TokenAAddress: st.TokenPoolA.TokenAddress.String(),
		TokenBAddress: st.TokenPoolB.TokenAddress.String(),
		PoolA:         st.TokenPoolA.Pool,
		PoolB:         st.TokenPoolB.Pool,
		SwapConstant:  st.SwapConstant,
		IsClosed:      st.IsClosed,
		Balances:      make(map[string]BalanceSnapshot, len(st.UserBalances)),
		StateDigest:   digest[:],
		CreatedAt:     time.Now(),
	}
	for user, ub := range st.UserBalances {
		sd.Balances[user.String()] = BalanceSnapshot{PoolA: ub.PoolABalance, PoolB: ub.PoolBBalance}
	}
	for id, cont := range snap.Pending {
		sd.Pending = append(sd.Pending, PendingSnapshot{
			CorrelationID: id.String(),
			Callback:      uint32(cont.Kind),
			Sender:        cont.Sender.String(),
			Token:         uint8(cont.Token),
			Amount:        cont.Amount,
		})
	}
	return sd
}

func decodeSnapshot(sd SnapshotData) (engine.Snapshot, error) {
	owner, err := ledger.ParseAddress(sd.ContractOwner)
	if err != nil {
		return engine.Snapshot{}, err
	}
	tokenA, err := ledger.ParseAddress(sd.TokenAAddress)
	if err != nil {
		return engine.Snapshot{}, err
	}
	tokenB, err := ledger.ParseAddress(sd.TokenBAddress)
	if err != nil {
		return engine.Snapshot{}, err
	}

	st := &ledger.State{
		ContractOwner: owner,
		TokenPoolA:    ledger.TokenPool{TokenAddress: tokenA, Pool: sd.PoolA},
		TokenPoolB:    ledger.TokenPool{TokenAddress: tokenB, Pool: sd.PoolB},
		SwapConstant:  sd.SwapConstant,
		UserBalances:  make(map[ledger.Address]*ledger.UserBalance, len(sd.Balances)),
		IsClosed:      sd.IsClosed,
	}
	for addr, bal := range sd.Balances {
		user, err := ledger.ParseAddress(addr)
		if err != nil {
			return engine.Snapshot{}, err
		}
		st.UserBalances[user] = &ledger.UserBalance{PoolABalance: bal.PoolA, PoolBBalance: bal.PoolB}
	}

	snap := engine.Snapshot{
		State:   st,
		Pending: make(map[uuid.UUID]engine.Continuation, len(sd.Pending)),
	}
	for _, p := range sd.Pending {
		id, err := uuid.Parse(p.CorrelationID)
		if err != nil {
			return engine.Snapshot{}, fmt.Errorf("pending correlation id: %w", err)
		}
		sender, err := ledger.ParseAddress(p.Sender)
		if err != nil {
			return engine.Snapshot{}, err
		}
		snap.Pending[id] = engine.Continuation{
			Kind:   wire.Selector(p.Callback),
			Sender: sender,
			Token:  ledger.Token(p.Token),
			Amount: p.Amount,
		}
	}
	return snap, nil
}
