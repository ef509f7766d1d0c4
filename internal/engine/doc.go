// Package engine implements the eventq event-application queue.
//
// The queue sits between a producer that delivers server change
// notifications in batches and an action that applies one batch at a time
// to local state (see package store).
//
// ARCHITECTURE:
//
// Merge engine (Add):
// While a batch waits in the backlog, later batches of the same group are
// merged into it:
//  1. UPDATE after a pending CREATE or UPDATE is dropped
//  2. DELETE purges every later pending event for the instance
//  3. DELETE after a pending move (DELETE + CREATE) drops the CREATE and
//     the new DELETE, leaving only the original DELETE
//  4. UPDATE after a pending DELETE is rejected with an *InvariantError
//
// Batches whose events were all merged away are never handed to the
// action; they are counted as finished work immediately.
//
// Drain loop (Start/Pause/Resume):
// The head batch is handed to the action on its own goroutine. The next
// batch starts only after the action returned successfully. On failure the
// batch stays at the head and the loop stops until it is restarted.
//
// CRITICAL PATTERNS:
//
// Single flight:
// At most one action invocation is outstanding, including across Clear.
//
// Logical clock:
// Accepted batches are stamped from Clock.Next(). Never wall clock.
//
// Processing batch is frozen:
// The merge engine never edits or purges the batch being applied.
package engine
