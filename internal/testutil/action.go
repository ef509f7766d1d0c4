package testutil

import (
	"context"
	"sync"

	"github.com/roach88/eventq/internal/ir"
)

// Invocation is one recorded call of a ScriptedAction.
type Invocation struct {
	// Seq numbers calls in the order they started, from 1.
	Seq int64

	// Batch is the batch the queue handed over.
	Batch ir.Batch

	// Err is what the call returned. A scripted panic records the panic
	// value wrapped in PanicValue.
	Err error
}

// PanicValue is recorded as the outcome of a scripted panic.
type PanicValue struct {
	Value any
}

func (p PanicValue) Error() string { return "scripted panic" }

// ScriptedAction is a queue action whose outcomes are scripted by the test.
//
// By default every call succeeds. FailNext queues errors returned by the
// next calls, PanicNext makes the next call panic, and Hold makes the next
// call block until Release (or until its context is done).
//
// Safe for concurrent use.
type ScriptedAction struct {
	mu       sync.Mutex
	clock    *DeterministicClock
	calls    []Invocation
	failures []error
	panicMsg any
	hold     bool
	gate     chan struct{}
	entered  chan struct{}
}

// NewScriptedAction returns an action that succeeds until scripted otherwise.
func NewScriptedAction() *ScriptedAction {
	return &ScriptedAction{
		clock:   NewDeterministicClock(),
		entered: make(chan struct{}, 1),
	}
}

// FailNext makes the next len(errs) calls return errs in order.
func (s *ScriptedAction) FailNext(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, errs...)
}

// PanicNext makes the next call panic with v.
func (s *ScriptedAction) PanicNext(v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.panicMsg = v
}

// Hold makes the next call block until Release.
func (s *ScriptedAction) Hold() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hold = true
}

// Release unblocks a held call. It also cancels a pending Hold that no call
// has consumed yet.
func (s *ScriptedAction) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hold = false
	if s.gate != nil {
		close(s.gate)
		s.gate = nil
	}
}

// Held reports whether a call is currently blocked in Hold.
func (s *ScriptedAction) Held() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gate != nil
}

// Entered receives a value whenever a call starts blocking in Hold.
func (s *ScriptedAction) Entered() <-chan struct{} {
	return s.entered
}

// Calls returns a copy of the recorded invocations in call order.
func (s *ScriptedAction) Calls() []Invocation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Invocation, len(s.calls))
	copy(out, s.calls)
	return out
}

// BatchIDs returns the batch ids of all recorded invocations in call order.
func (s *ScriptedAction) BatchIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, len(s.calls))
	for i, c := range s.calls {
		ids[i] = c.Batch.BatchID
	}
	return ids
}

// Apply is the queue action.
func (s *ScriptedAction) Apply(ctx context.Context, batch ir.Batch) error {
	s.mu.Lock()
	seq := s.clock.Next()
	var err error
	if len(s.failures) > 0 {
		err = s.failures[0]
		s.failures = s.failures[1:]
	}
	panicMsg := s.panicMsg
	s.panicMsg = nil
	var gate chan struct{}
	if s.hold {
		s.hold = false
		gate = make(chan struct{})
		s.gate = gate
	}
	s.mu.Unlock()

	if gate != nil {
		select {
		case s.entered <- struct{}{}:
		default:
		}
		select {
		case <-gate:
		case <-ctx.Done():
			err = ctx.Err()
			s.mu.Lock()
			if s.gate == gate {
				s.gate = nil
			}
			s.mu.Unlock()
		}
	}

	if panicMsg != nil {
		s.record(seq, batch, PanicValue{Value: panicMsg})
		panic(panicMsg)
	}
	s.record(seq, batch, err)
	return err
}

func (s *ScriptedAction) record(seq int64, batch ir.Batch, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Invocation{Seq: seq, Batch: batch, Err: err})
}
