package engine

import (
	"context"
	"sync/atomic"
)

// Clock is the monotonic logical clock that stamps accepted batches.
//
// Sequence numbers order log lines and traces. Wall-clock time is never
// used for ordering; the backlog order is the only order that matters for
// application.
//
// Safe for concurrent use.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock whose next value is start+1.
// Used to continue numbering after the last batch recorded in the store.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next increments the clock and returns the new value.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last value handed out, without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}

type seqKey struct{}

// ContextWithSeq returns ctx carrying the sequence number of the batch
// handed to an Action.
func ContextWithSeq(ctx context.Context, seq int64) context.Context {
	return context.WithValue(ctx, seqKey{}, seq)
}

// SeqFromContext returns the sequence number the queue stamped on the batch
// being applied. ok is false outside an Action invocation.
func SeqFromContext(ctx context.Context) (seq int64, ok bool) {
	seq, ok = ctx.Value(seqKey{}).(int64)
	return seq, ok
}
