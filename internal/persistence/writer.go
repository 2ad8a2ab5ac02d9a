package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// OperationRow is one applied state transition in swap_log.operations.
type OperationRow struct {
	OperationID   string
	Selector      string
	Sender        string
	TokenAddress  *string
	Amount        uint64
	CorrelationID *string
	PoolA         uint64
	PoolB         uint64
	SwapConstant  uint64
	IsClosed      bool
	StateDigest   []byte
	AppliedAt     time.Time
}

// OperationLogWriter writes the operation journal to Postgres using
// multi-row INSERTs. Writes are idempotent on operation_id so a replay
// after a crash never duplicates rows.
type OperationLogWriter struct {
	db *sql.DB
}

func NewOperationLogWriter(db *sql.DB) *OperationLogWriter {
	return &OperationLogWriter{db: db}
}

// WriteBatch inserts a batch of operation rows.
func (w *OperationLogWriter) WriteBatch(ctx context.Context, rows []OperationRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO swap_log.operations
		(operation_id, selector, sender, token_address, amount, correlation_id,
		 pool_a, pool_b, swap_constant, is_closed, state_digest, applied_at)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*12)

	for i, r := range rows {
		base := i * 12
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6,
			base+7, base+8, base+9, base+10, base+11, base+12,
		))
		args = append(args,
			r.OperationID, r.Selector, r.Sender, r.TokenAddress, int64(r.Amount), r.CorrelationID,
			int64(r.PoolA), int64(r.PoolB), int64(r.SwapConstant), r.IsClosed, r.StateDigest, r.AppliedAt,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (operation_id) DO NOTHING"

	if _, err := w.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("write operation batch: %w", err)
	}
	return nil
}

// ReadRecent returns the newest operations, newest first. Serves the
// operation-history query endpoint.
func (w *OperationLogWriter) ReadRecent(ctx context.Context, limit int) ([]OperationRow, error) {
	rows, err := w.db.QueryContext(ctx, `
		SELECT operation_id, selector, sender, token_address, amount, correlation_id,
		       pool_a, pool_b, swap_constant, is_closed, state_digest, applied_at
		FROM swap_log.operations
		ORDER BY applied_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query operations: %w", err)
	}
	defer rows.Close()

	var out []OperationRow
	for rows.Next() {
		var r OperationRow
		var amount, poolA, poolB, swapConstant int64
		if err := rows.Scan(
			&r.OperationID, &r.Selector, &r.Sender, &r.TokenAddress, &amount, &r.CorrelationID,
			&poolA, &poolB, &swapConstant, &r.IsClosed, &r.StateDigest, &r.AppliedAt,
		); err != nil {
			return nil, fmt.Errorf("scan operation row: %w", err)
		}
		r.Amount = uint64(amount)
		r.PoolA = uint64(poolA)
		r.PoolB = uint64(poolB)
		r.SwapConstant = uint64(swapConstant)
		out = append(out, r)
	}
	return out, rows.Err()
}
