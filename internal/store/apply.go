package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/eventq/internal/engine"
	"github.com/roach88/eventq/internal/ir"
)

// ErrBatchConflict is returned when a batch id that was already applied is
// delivered again with different content.
var ErrBatchConflict = errors.New("batch already applied with different content")

// ApplyBatch applies every event of batch in one transaction.
//
//   - CREATE inserts the entity at version 1, replacing a previous row
//   - UPDATE bumps the version, inserting the row if it is missing
//   - DELETE removes the row; deleting a missing entity is not an error
//
// The batch and the group's progress are recorded in the same transaction.
// The recorded seq is the queue's seq for the batch when the context
// carries one that is not behind the store; otherwise the next free seq.
// Re-applying a recorded batch id with the same fingerprint does nothing.
//
// ApplyBatch has the engine.Action signature and is the production queue
// action. SQLite busy and locked errors wrap engine.ErrServiceUnavailable.
func (s *Store) ApplyBatch(ctx context.Context, batch ir.Batch) error {
	if err := ir.ValidateBatch(batch); err != nil {
		return fmt.Errorf("apply batch: %w", err)
	}
	fingerprint, err := ir.Fingerprint(batch)
	if err != nil {
		return fmt.Errorf("apply batch %s: %w", batch.BatchID, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("apply batch %s: begin: %w", batch.BatchID, classify(err))
	}
	defer tx.Rollback()

	var recorded string
	err = tx.QueryRowContext(ctx, `
		SELECT fingerprint FROM applied_batches WHERE batch_id = ?
	`, batch.BatchID).Scan(&recorded)
	switch {
	case err == nil:
		if recorded == fingerprint {
			return nil
		}
		return fmt.Errorf("apply batch %s: %w", batch.BatchID, ErrBatchConflict)
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("apply batch %s: lookup: %w", batch.BatchID, classify(err))
	}

	var seq int64
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) + 1 FROM applied_batches
	`).Scan(&seq); err != nil {
		return fmt.Errorf("apply batch %s: next seq: %w", batch.BatchID, classify(err))
	}
	if queued, ok := engine.SeqFromContext(ctx); ok && queued >= seq {
		seq = queued
	}

	for i, ev := range batch.Events {
		if err := applyEvent(ctx, tx, batch, ev); err != nil {
			return fmt.Errorf("apply batch %s: events[%d]: %w", batch.BatchID, i, classify(err))
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO applied_batches (batch_id, group_id, seq, fingerprint, event_count)
		VALUES (?, ?, ?, ?, ?)
	`, batch.BatchID, batch.GroupID, seq, fingerprint, len(batch.Events)); err != nil {
		return fmt.Errorf("apply batch %s: record: %w", batch.BatchID, classify(err))
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO group_progress (group_id, last_batch_id, seq)
		VALUES (?, ?, ?)
		ON CONFLICT(group_id) DO UPDATE SET
			last_batch_id = excluded.last_batch_id,
			seq = excluded.seq
	`, batch.GroupID, batch.BatchID, seq); err != nil {
		return fmt.Errorf("apply batch %s: group progress: %w", batch.BatchID, classify(err))
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("apply batch %s: commit: %w", batch.BatchID, classify(err))
	}
	return nil
}

func applyEvent(ctx context.Context, tx *sql.Tx, batch ir.Batch, ev ir.EntityUpdate) error {
	scope, listID, instanceID := keyColumns(ev.Key())

	var err error
	switch ev.Operation {
	case ir.OperationCreate:
		_, err = tx.ExecContext(ctx, `
			INSERT INTO entities (scope, list_id, instance_id, group_id, version, last_batch)
			VALUES (?, ?, ?, ?, 1, ?)
			ON CONFLICT(scope, list_id, instance_id) DO UPDATE SET
				group_id = excluded.group_id,
				version = 1,
				last_batch = excluded.last_batch
		`, scope, listID, instanceID, batch.GroupID, batch.BatchID)
	case ir.OperationUpdate:
		_, err = tx.ExecContext(ctx, `
			INSERT INTO entities (scope, list_id, instance_id, group_id, version, last_batch)
			VALUES (?, ?, ?, ?, 1, ?)
			ON CONFLICT(scope, list_id, instance_id) DO UPDATE SET
				group_id = excluded.group_id,
				version = entities.version + 1,
				last_batch = excluded.last_batch
		`, scope, listID, instanceID, batch.GroupID, batch.BatchID)
	case ir.OperationDelete:
		_, err = tx.ExecContext(ctx, `
			DELETE FROM entities
			WHERE scope = ? AND list_id = ? AND instance_id = ?
		`, scope, listID, instanceID)
	default:
		return fmt.Errorf("%w %q", ir.ErrUnknownOperation, ev.Operation)
	}
	return err
}

const (
	scopeGlobal = "global"
	scopeScoped = "scoped"
)

func keyColumns(key ir.EntityKey) (scope, listID, instanceID string) {
	if key.IsScoped() {
		return scopeScoped, key.ListID, key.InstanceID
	}
	return scopeGlobal, "", key.InstanceID
}

func keyFromColumns(scope, listID, instanceID string) ir.EntityKey {
	if scope == scopeScoped {
		return ir.ScopedKey(listID, instanceID)
	}
	return ir.GlobalKey(instanceID)
}
