// Package ir defines the domain types shared by every eventq package.
//
// This package contains type definitions and pure helpers only. All other
// internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Entity identity is the EntityKey sum type, never a concatenated string
//   - Batch identity (BatchID, GroupID) is immutable; Events are owned by the
//     queue while a batch is pending
//   - Logical clocks (seq) only, never wall-clock timestamps
//   - All JSON/YAML tags use snake_case
package ir
