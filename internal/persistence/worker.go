package persistence

import (
	"context"
	"database/sql"
	"time"

	"SwapLedger/internal/engine"
	"SwapLedger/internal/observability"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Worker drains the engine's journal channel and batch-writes the
// operation log to Postgres. The engine's sends are blocking, so a
// stalled worker stalls the engine rather than dropping records.
type Worker struct {
	writer       *OperationLogWriter
	input        <-chan engine.Record
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	log          zerolog.Logger
}

func NewWorker(
	db *sql.DB,
	input <-chan engine.Record,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *Worker {
	return &Worker{
		writer:       NewOperationLogWriter(db),
		input:        input,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		log:          log,
	}
}

// Run batches incoming records and flushes when the batch fills or the
// flush timeout expires. Blocks until ctx is cancelled; flushes the
// remainder on shutdown.
func (w *Worker) Run(ctx context.Context) error {
	batch := make([]OperationRow, 0, w.batchSize)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(batch) > 0 {
				// Shutdown flush uses a fresh context; ctx is already dead.
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				w.flush(flushCtx, batch)
				cancel()
			}
			return ctx.Err()

		case rec, ok := <-w.input:
			if !ok {
				if len(batch) > 0 {
					w.flush(ctx, batch)
				}
				return nil
			}
			batch = append(batch, toRow(rec))
			if len(batch) >= w.batchSize {
				batch = w.flush(ctx, batch)
				resetTimer(timer, w.flushTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				batch = w.flush(ctx, batch)
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

// flush writes the batch and returns an emptied slice reusing the
// backing array. Failed flushes drop the batch after logging; the
// in-memory ledger, not the journal, is authoritative.
func (w *Worker) flush(ctx context.Context, batch []OperationRow) []OperationRow {
	if err := w.writer.WriteBatch(ctx, batch); err != nil {
		w.log.Error().Err(err).Int("rows", len(batch)).Msg("journal flush failed")
		if w.metrics != nil {
			w.metrics.JournalErrors.Inc()
		}
		return batch[:0]
	}

	if w.metrics != nil {
		w.metrics.JournalRowsWritten.Add(float64(len(batch)))
		w.metrics.JournalBatchSize.Observe(float64(len(batch)))
	}
	return batch[:0]
}

func toRow(rec engine.Record) OperationRow {
	row := OperationRow{
		OperationID:  rec.OperationID.String(),
		Selector:     rec.Selector.String(),
		Sender:       rec.Sender.String(),
		Amount:       rec.Amount,
		PoolA:        rec.PoolA,
		PoolB:        rec.PoolB,
		SwapConstant: rec.SwapConstant,
		IsClosed:     rec.IsClosed,
		StateDigest:  rec.StateDigest[:],
		AppliedAt:    rec.AppliedAt,
	}
	if rec.TokenAddress != "" {
		token := rec.TokenAddress
		row.TokenAddress = &token
	}
	if rec.CorrelationID != uuid.Nil {
		correlation := rec.CorrelationID.String()
		row.CorrelationID = &correlation
	}
	return row
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
