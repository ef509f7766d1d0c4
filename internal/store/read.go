package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/eventq/internal/ir"
)

// Entity is one live row of the local cache.
type Entity struct {
	Key       ir.EntityKey `json:"key"`
	GroupID   string       `json:"group_id"`
	Version   int64        `json:"version"`
	LastBatch string       `json:"last_batch"`
}

// AppliedBatch is the record of one applied batch.
type AppliedBatch struct {
	BatchID     string `json:"batch_id"`
	GroupID     string `json:"group_id"`
	Seq         int64  `json:"seq"`
	Fingerprint string `json:"fingerprint"`
	EventCount  int    `json:"event_count"`
}

// ReadEntity retrieves a single entity by key.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadEntity(ctx context.Context, key ir.EntityKey) (Entity, error) {
	scope, listID, instanceID := keyColumns(key)
	row := s.db.QueryRowContext(ctx, `
		SELECT scope, list_id, instance_id, group_id, version, last_batch
		FROM entities
		WHERE scope = ? AND list_id = ? AND instance_id = ?
	`, scope, listID, instanceID)

	return scanEntity(row)
}

// ListEntities returns all live entities ordered by key.
// Returns an empty slice (not nil) if there are none.
func (s *Store) ListEntities(ctx context.Context) ([]Entity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT scope, list_id, instance_id, group_id, version, last_batch
		FROM entities
		ORDER BY scope COLLATE BINARY ASC, list_id COLLATE BINARY ASC, instance_id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query entities: %w", err)
	}
	defer rows.Close()

	entities := []Entity{}
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entities: %w", err)
	}
	return entities, nil
}

// LastBatch returns the id of the last batch applied for groupID. This is
// what a producer resumes from after a failure.
// Returns sql.ErrNoRows if nothing was applied for the group.
func (s *Store) LastBatch(ctx context.Context, groupID string) (string, error) {
	var batchID string
	err := s.db.QueryRowContext(ctx, `
		SELECT last_batch_id FROM group_progress WHERE group_id = ?
	`, groupID).Scan(&batchID)
	if err != nil {
		return "", err
	}
	return batchID, nil
}

// AppliedBatches returns every applied batch in apply order.
func (s *Store) AppliedBatches(ctx context.Context) ([]AppliedBatch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT batch_id, group_id, seq, fingerprint, event_count
		FROM applied_batches
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query applied batches: %w", err)
	}
	defer rows.Close()

	batches := []AppliedBatch{}
	for rows.Next() {
		var b AppliedBatch
		if err := rows.Scan(&b.BatchID, &b.GroupID, &b.Seq, &b.Fingerprint, &b.EventCount); err != nil {
			return nil, fmt.Errorf("scan applied batch: %w", err)
		}
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied batches: %w", err)
	}
	return batches, nil
}

// GetLastSeq returns the highest apply seq recorded, or 0.
// Used to resume the queue clock numbering after a restart.
func (s *Store) GetLastSeq(ctx context.Context) (int64, error) {
	var seq int64
	if err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) FROM applied_batches
	`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("get last seq: %w", err)
	}
	return seq, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntity(row scanner) (Entity, error) {
	var (
		e                         Entity
		scope, listID, instanceID string
	)
	if err := row.Scan(&scope, &listID, &instanceID, &e.GroupID, &e.Version, &e.LastBatch); err != nil {
		if err == sql.ErrNoRows {
			return Entity{}, err
		}
		return Entity{}, fmt.Errorf("scan entity: %w", err)
	}
	e.Key = keyFromColumns(scope, listID, instanceID)
	return e, nil
}
