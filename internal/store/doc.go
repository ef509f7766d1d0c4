// Package store is the SQLite-backed local entity cache that queue batches
// are applied to.
//
// Tables:
//   - entities: one row per live entity, keyed by (scope, list_id, instance_id)
//   - applied_batches: every batch applied, with its content fingerprint
//   - group_progress: last applied batch per group
//
// # Critical Patterns
//
// One transaction per batch:
// ApplyBatch writes all events of a batch, the batch record and the group
// progress atomically. A batch is either fully applied or not at all.
//
// Redelivery is idempotent:
// Applying a batch id that is already recorded with the same fingerprint
// is a no-op. A different fingerprint is ErrBatchConflict.
//
// Deterministic reads:
// Every list query has an ORDER BY on seq or on the full key with
// COLLATE BINARY.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - one open connection
//
// Busy and locked errors surface as engine.ErrServiceUnavailable so the
// queue treats them as transient.
package store
