package engine

import (
	"context"
	"slices"
	"time"

	"github.com/roach88/eventq/internal/ir"
)

// Start runs the drain loop if it is not paused, not already running and
// the backlog is non-empty. Calling it more than once is harmless.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.startLocked()
}

// Pause stops the drain loop from starting new actions. An action already
// running finishes normally.
func (q *Queue) Pause() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paused = true
	q.logger.Debug("queue paused", "queue_size", len(q.backlog))
}

// Resume clears the paused flag and restarts draining.
func (q *Queue) Resume() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paused = false
	q.logger.Debug("queue resumed", "queue_size", len(q.backlog))
	q.startLocked()
}

// Clear drops the backlog, the processing slot and the entity index. The
// paused flag is kept.
//
// An action still running when Clear is called completes into a discarded
// generation: its result is ignored and its batch is not counted. No new
// action starts until it has returned.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	dropped := len(q.backlog)
	clear(q.backlog)
	q.backlog = nil
	q.processing = nil
	clear(q.lastOp)
	q.generation++
	q.metrics.setBacklog(0)

	q.logger.Info("queue cleared",
		"dropped", dropped,
		"in_flight", q.running,
	)
}

// Idle returns a channel that is closed while no action is running.
// The channel is replaced when the next action starts, so callers should
// fetch a fresh one for every wait.
func (q *Queue) Idle() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.idle
}

// WaitIdle blocks until no action is running or ctx is done.
//
// The backlog may still be non-empty when it returns: the queue can be
// paused, or the last action can have failed.
func (q *Queue) WaitIdle(ctx context.Context) error {
	select {
	case <-q.Idle():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// startLocked hands the head batch to the action on a new goroutine.
// The head is peeked, not popped; it leaves the backlog only on success.
// CRITICAL: caller holds q.mu.
func (q *Queue) startLocked() {
	if q.paused || q.running || len(q.backlog) == 0 {
		return
	}

	head := q.backlog[0]
	q.processing = head
	q.running = true
	q.markBusy()

	q.logger.Debug("processing",
		"batch_id", head.BatchID,
		"group_id", head.GroupID,
		"seq", head.seq,
		"events", len(head.Events),
	)

	go q.process(head, q.generation, head.Clone())
}

// process runs the action for b and settles the outcome.
func (q *Queue) process(b *queuedBatch, gen uint64, batch ir.Batch) {
	started := time.Now()
	err := q.invoke(b.seq, batch)
	elapsed := time.Since(started)

	q.mu.Lock()
	defer q.mu.Unlock()

	q.running = false
	q.metrics.observeAction(elapsed)

	if gen != q.generation {
		q.logger.Debug("discarding result of cleared batch",
			"batch_id", b.BatchID,
			"group_id", b.GroupID,
			"seq", b.seq,
			"error", err,
		)
		q.settleLocked()
		return
	}

	q.processing = nil

	if err != nil {
		q.metrics.actionFailed(err)
		attrs := []any{
			"batch_id", b.BatchID,
			"group_id", b.GroupID,
			"seq", b.seq,
			"events", len(b.Events),
			"kind", FailureKind(err),
			"error", err,
		}
		if IsTransient(err) {
			q.logger.Debug("queue action failed", attrs...)
		} else {
			q.logger.Error("queue action failed", attrs...)
		}
		// The batch stays at the head; the loop waits for Start, Resume
		// or the next Add.
		q.markIdle()
		return
	}

	if i := slices.Index(q.backlog, b); i >= 0 {
		q.backlog = slices.Delete(q.backlog, i, i+1)
	}
	for key, owner := range q.lastOp {
		if owner == b {
			delete(q.lastOp, key)
		}
	}
	q.progress.WorkDone(1)
	q.metrics.batchProcessed()
	q.metrics.setBacklog(len(q.backlog))

	q.logger.Debug("processed",
		"batch_id", b.BatchID,
		"group_id", b.GroupID,
		"seq", b.seq,
		"events", len(b.Events),
		"duration", elapsed,
		"queue_size", len(q.backlog),
	)

	q.settleLocked()
}

// settleLocked starts the next action if one can run and otherwise marks
// the queue idle. The idle channel is never closed between two actions.
// CRITICAL: caller holds q.mu.
func (q *Queue) settleLocked() {
	q.startLocked()
	if !q.running {
		q.markIdle()
	}
}

// invoke calls the action, converting a panic into a *PanicError.
// The action context carries the batch's sequence number.
func (q *Queue) invoke(seq int64, batch ir.Batch) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return q.action(ContextWithSeq(q.ctx, seq), batch)
}

// CRITICAL: caller holds q.mu.
func (q *Queue) markBusy() {
	select {
	case <-q.idle:
		q.idle = make(chan struct{})
	default:
	}
}

// CRITICAL: caller holds q.mu.
func (q *Queue) markIdle() {
	select {
	case <-q.idle:
	default:
		close(q.idle)
	}
}
