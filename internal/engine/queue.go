package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/roach88/eventq/internal/ir"
)

// Action applies one batch to local state.
//
// The queue invokes it on its own goroutine, never more than one at a time,
// and hands it a copy of the batch. Returning an error halts the drain loop
// with the batch kept at the head of the backlog; wrap ErrConnection or
// ErrServiceUnavailable to have the failure logged quietly. A panic is
// recovered and treated as an unexpected failure. SeqFromContext reports
// the batch's sequence number.
type Action func(ctx context.Context, batch ir.Batch) error

// queuedBatch is a batch in the backlog together with the logical sequence
// number it was stamped with on insertion.
type queuedBatch struct {
	ir.Batch
	seq int64
}

// Queue is the ordered, deduplicating event-application queue.
//
// Producers call Add for every batch the server delivers. While a batch
// waits in the backlog, later batches of the same group may merge into it:
// redundant updates are dropped, deletes purge pending work for the
// entity, and a create-then-delete pair across two batches collapses to a
// bare delete. A single drain loop hands batches to the Action strictly in
// backlog order and starts the next one only after the previous one has
// returned.
//
// Thread-safety model:
//   - every exported method is safe from any goroutine
//   - all queue state is guarded by one mutex; the Action runs outside it
//   - the ProgressMonitor and Metrics are called with the mutex held
//
// INVARIANTS:
//   - at most one Action invocation is outstanding
//   - no backlog batch has an empty Events slice
//   - the processing batch is never modified by the merge engine
type Queue struct {
	mu sync.Mutex

	// backlog holds batches not yet applied. Oldest first.
	backlog []*queuedBatch

	// lastOp maps an entity to the batch believed to hold its most recent
	// pending operation. Advisory: entries are re-checked against batch
	// contents before they are trusted.
	lastOp map[ir.EntityKey]*queuedBatch

	// processing is the batch handed to the running Action, if any.
	processing *queuedBatch

	// running is true while an Action invocation is outstanding. It stays
	// set across Clear so a cleared in-flight action still blocks the next
	// one from starting.
	running bool

	// generation increments on Clear; results of actions started in an
	// older generation are discarded.
	generation uint64

	paused   bool
	optimize bool

	action   Action
	ctx      context.Context
	progress ProgressMonitor
	metrics  *Metrics
	logger   *slog.Logger
	clock    *Clock

	// idle is closed whenever no Action is running.
	idle chan struct{}
}

// Option configures a Queue.
type Option func(*Queue)

// WithOptimization enables or disables merging of pending events.
//
// Default: enabled. When disabled every batch is queued verbatim.
func WithOptimization(enabled bool) Option {
	return func(q *Queue) {
		q.optimize = enabled
	}
}

// WithProgressMonitor installs the initial progress monitor.
func WithProgressMonitor(m ProgressMonitor) Option {
	return func(q *Queue) {
		if m != nil {
			q.progress = m
		}
	}
}

// WithMetrics records queue activity on m.
func WithMetrics(m *Metrics) Option {
	return func(q *Queue) {
		q.metrics = m
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	}
}

// WithContext sets the context passed to every Action invocation.
// Default: context.Background().
func WithContext(ctx context.Context) Option {
	return func(q *Queue) {
		if ctx != nil {
			q.ctx = ctx
		}
	}
}

// WithClock sets the logical clock used to stamp accepted batches.
// Used to resume numbering, e.g. from the last applied seq in the store.
func WithClock(c *Clock) Option {
	return func(q *Queue) {
		if c != nil {
			q.clock = c
		}
	}
}

// New creates a Queue that applies batches with action.
// The queue starts idle and unpaused; the first Add starts draining.
func New(action Action, opts ...Option) *Queue {
	idle := make(chan struct{})
	close(idle)

	q := &Queue{
		lastOp:   make(map[ir.EntityKey]*queuedBatch),
		optimize: true,
		action:   action,
		ctx:      context.Background(),
		progress: noopMonitor{},
		logger:   slog.Default(),
		clock:    NewClock(),
		idle:     idle,
	}

	for _, opt := range opts {
		opt(q)
	}

	return q
}

// SetProgressMonitor replaces the progress monitor. The previous monitor is
// told it is Completed first so it does not keep waiting for work it will
// never hear about. A nil monitor disables progress reporting.
func (q *Queue) SetProgressMonitor(m ProgressMonitor) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.progress.Completed()
	if m == nil {
		m = noopMonitor{}
	}
	q.progress = m
}

// AddBatches adds every batch in order. A batch that is optimized away or
// rejected does not stop the remaining ones; invariant errors are joined
// and returned after all batches were attempted.
func (q *Queue) AddBatches(batches []ir.Batch) error {
	var errs []error
	for _, b := range batches {
		if _, err := q.Add(b.BatchID, b.GroupID, b.Events); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Add queues a batch and (re)starts the drain loop.
//
// It reports whether the batch was inserted, i.e. whether at least one of
// its events survived optimization. A batch optimized away entirely counts
// as one unit of finished work right away.
//
// An *InvariantError means the event stream contradicts itself (for
// example an UPDATE after a pending DELETE). The incoming batch is not
// queued; earlier events of the same call may already have been merged
// into the backlog, so callers must treat the error as fatal for the
// stream and Clear the queue before delivering again.
func (q *Queue) Add(batchID, groupID string, events []ir.EntityUpdate) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, ev := range events {
		if !ev.Operation.Valid() {
			return false, &InvariantError{
				Code:    ErrCodeUnknownOperation,
				Message: "unrecognized operation " + string(ev.Operation),
				BatchID: batchID,
				Key:     ev.Key(),
			}
		}
	}

	nb := &queuedBatch{Batch: ir.Batch{
		BatchID: batchID,
		GroupID: groupID,
		Events:  make([]ir.EntityUpdate, 0, len(events)),
	}}

	if !q.optimize {
		nb.Events = append(nb.Events, events...)
	} else if err := q.mergeInto(nb, events); err != nil {
		q.logger.Error("batch rejected",
			"batch_id", batchID,
			"group_id", groupID,
			"error", err,
		)
		return false, err
	}

	inserted := len(nb.Events) > 0
	if inserted {
		nb.seq = q.clock.Next()
		q.backlog = append(q.backlog, nb)
		for _, ev := range nb.Events {
			q.lastOp[ev.Key()] = nb
		}
		q.metrics.batchAdded()
		q.logger.Debug("batch queued",
			"batch_id", batchID,
			"group_id", groupID,
			"seq", nb.seq,
			"events", len(nb.Events),
			"queue_size", len(q.backlog),
		)
	} else {
		// Never drained, so it has to count as done now.
		q.progress.WorkDone(1)
		q.metrics.batchOptimizedAway()
		q.logger.Debug("batch optimized away",
			"batch_id", batchID,
			"group_id", groupID,
			"events", len(events),
		)
	}
	q.metrics.setBacklog(len(q.backlog))

	q.startLocked()
	return inserted, nil
}

// mergeInto appends to nb the incoming events that still have to be
// applied, merging the rest into the pending backlog.
// CRITICAL: caller holds q.mu.
func (q *Queue) mergeInto(nb *queuedBatch, incoming []ir.EntityUpdate) error {
	for _, ev := range incoming {
		key := ev.Key()
		prior, ok := q.lastOp[key]

		if ok && !prior.Contains(key) {
			// forgetStale keeps the index exact; reaching this is a bug.
			q.logger.Warn("dropping stale index entry",
				"key", key.String(),
				"batch_id", prior.BatchID,
				"seq", prior.seq,
			)
			delete(q.lastOp, key)
			ok = false
		}

		// Nothing to merge with: no pending operation, the pending one is
		// already being applied, or it belongs to another group.
		if !ok || prior == q.processing || prior.GroupID != nb.GroupID {
			nb.Events = append(nb.Events, ev)
			continue
		}

		newMod, err := ir.ModificationOf(incoming, key)
		if err != nil {
			return classifyError(nb.BatchID, key, err)
		}
		priorMod, err := ir.ModificationOf(prior.Events, key)
		if err != nil {
			return classifyError(prior.BatchID, key, err)
		}

		switch newMod {
		case ir.OperationUpdate:
			switch priorMod {
			case ir.OperationCreate, ir.OperationUpdate:
				// The pending create/update has not run yet and will fetch
				// the current state, which already includes this update.
			case ir.OperationDelete:
				return &InvariantError{
					Code:    ErrCodeUpdateAfterDelete,
					Message: "UPDATE not allowed after DELETE",
					BatchID: nb.BatchID,
					Key:     key,
				}
			default:
				return impossibleCombination(nb.BatchID, key, priorMod, newMod)
			}

		case ir.OperationDelete:
			q.mergeDelete(nb, ev)

		case ir.OperationCreate:
			if priorMod != ir.OperationDelete && priorMod != ir.OperationCreate {
				return impossibleCombination(nb.BatchID, key, priorMod, newMod)
			}
			// Re-created custom-id entity or duplicate create: keep it.
			nb.Events = append(nb.Events, ev)

		default:
			return impossibleCombination(nb.BatchID, key, priorMod, newMod)
		}
	}
	return nil
}

// mergeDelete resolves an incoming DELETE against the backlog.
//
// If a pending batch already deletes the instance (the first half of a
// move), its matching CREATE is dropped and the incoming delete is not
// needed. Otherwise the delete is kept. Either way every later pending
// event for the instance is purged.
// CRITICAL: caller holds q.mu.
func (q *Queue) mergeDelete(nb *queuedBatch, ev ir.EntityUpdate) {
	key := ev.Key()
	moveIdx := -1
	for i, b := range q.backlog {
		if b != q.processing && b.ContainsOp(ir.OperationDelete, ev.InstanceID) {
			moveIdx = i
			break
		}
	}

	if moveIdx >= 0 {
		moveBatch := q.backlog[moveIdx]
		if i, ok := moveBatch.EventOf(ir.OperationCreate, ev.InstanceID); ok {
			removed := moveBatch.RemoveAt(i)
			q.forgetStale(moveBatch, removed)
		}
		if moveBatch.Contains(key) {
			q.lastOp[key] = moveBatch
		} else {
			delete(q.lastOp, key)
		}
	} else {
		nb.Events = append(nb.Events, ev)
	}

	q.removeEventsForInstance(ev.InstanceID, moveIdx+1)
}

// removeEventsForInstance strips every event for instanceID from the
// backlog batches at index start and later, skipping the processing batch,
// and drops batches left empty. Backlog order is preserved.
// CRITICAL: caller holds q.mu.
func (q *Queue) removeEventsForInstance(instanceID string, start int) {
	if start < 0 {
		start = 0
	}
	if start > len(q.backlog) {
		return
	}

	kept := q.backlog[:start]
	for _, b := range q.backlog[start:] {
		if b != q.processing {
			removed := b.RemoveInstance(instanceID)
			q.forgetStale(b, removed...)
			if len(b.Events) == 0 {
				// Optimized away after insertion: it leaves the queue here.
				q.progress.WorkDone(1)
				q.metrics.batchOptimizedAway()
				q.logger.Debug("pending batch optimized away",
					"batch_id", b.BatchID,
					"group_id", b.GroupID,
					"seq", b.seq,
				)
				continue
			}
		}
		kept = append(kept, b)
	}

	for i := len(kept); i < len(q.backlog); i++ {
		q.backlog[i] = nil
	}
	q.backlog = kept
	q.metrics.setBacklog(len(q.backlog))
}

// forgetStale drops index entries that point at b for entities whose
// events were removed from b and that b no longer holds.
func (q *Queue) forgetStale(b *queuedBatch, removed ...ir.EntityUpdate) {
	for _, ev := range removed {
		key := ev.Key()
		if q.lastOp[key] == b && !b.Contains(key) {
			delete(q.lastOp, key)
		}
	}
}

func impossibleCombination(batchID string, key ir.EntityKey, prior, next ir.Operation) *InvariantError {
	return &InvariantError{
		Code:    ErrCodeImpossibleCombination,
		Message: "impossible modification combination " + string(prior) + " " + string(next),
		BatchID: batchID,
		Key:     key,
	}
}

// QueueSize returns the number of batches in the backlog, including the
// one being processed.
func (q *Queue) QueueSize() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.backlog)
}

// Paused reports whether the drain loop is paused.
func (q *Queue) Paused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused
}

// Processing returns a copy of the batch currently handed to the Action.
func (q *Queue) Processing() (ir.Batch, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.processing == nil {
		return ir.Batch{}, false
	}
	return q.processing.Clone(), true
}

// Snapshot returns a deep copy of the backlog, oldest first.
func (q *Queue) Snapshot() []ir.Batch {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]ir.Batch, len(q.backlog))
	for i, b := range q.backlog {
		out[i] = b.Clone()
	}
	return out
}
