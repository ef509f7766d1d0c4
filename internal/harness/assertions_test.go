package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/eventq/internal/ir"
)

func sampleResult() *Result {
	r := NewResult()
	r.Trace = []TraceEvent{
		{Seq: 1, BatchID: "b1", GroupID: "g1", Outcome: "connection"},
		{Seq: 2, BatchID: "b1", GroupID: "g1", Outcome: OutcomeOK},
		{Seq: 3, BatchID: "b2", GroupID: "g1", Outcome: OutcomeOK},
		{Seq: 4, BatchID: "b3", GroupID: "g2", Outcome: OutcomeOK},
	}
	r.Progress = 3
	r.QueueSize = 1
	r.Backlog = []string{"b4"}
	return r
}

func TestAssertTraceOrder(t *testing.T) {
	r := sampleResult()

	assert.NoError(t, assertTraceOrder(r, Assertion{Batches: []string{"b1", "b3"}}))
	assert.NoError(t, assertTraceOrder(r, Assertion{Batches: []string{"b1", "b2", "b3"}}))

	err := assertTraceOrder(r, Assertion{Batches: []string{"b3", "b1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "applied order [b1 b2 b3]")

	err = assertTraceOrder(r, Assertion{Batches: []string{"b1", "b9"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch b9 never applied")
}

func TestAssertTraceCount(t *testing.T) {
	r := sampleResult()

	assert.NoError(t, assertTraceCount(r, Assertion{Batch: "b1", Count: 2}))
	assert.NoError(t, assertTraceCount(r, Assertion{Count: 4}))
	assert.NoError(t, assertTraceCount(r, Assertion{Batch: "b9", Count: 0}))

	err := assertTraceCount(r, Assertion{Batch: "b2", Count: 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 calls for b2")
}

func TestAssertQueueState(t *testing.T) {
	r := sampleResult()

	assert.NoError(t, assertQueueSize(r, Assertion{Count: 1}))
	assert.Error(t, assertQueueSize(r, Assertion{Count: 0}))

	assert.NoError(t, assertProgress(r, Assertion{Count: 3}))
	assert.Error(t, assertProgress(r, Assertion{Count: 4}))

	assert.NoError(t, assertBacklog(r, Assertion{Batches: []string{"b4"}}))
	err := assertBacklog(r, Assertion{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backlog [b4]")
}

func TestEvaluateAssertions(t *testing.T) {
	errs := EvaluateAssertions(sampleResult(), []Assertion{
		{Type: AssertTraceOrder, Batches: []string{"b1", "b2"}},
		{Type: AssertProgress, Count: 9},
		{Type: "final_state"},
	})

	require.Len(t, errs, 2)
	assert.Contains(t, errs[0], "Assertion failed: progress")
	assert.Contains(t, errs[1], `unknown assertion type "final_state"`)
}

func TestAssertionError_IncludesTrace(t *testing.T) {
	err := &AssertionError{
		Type:     AssertTraceCount,
		Expected: "1",
		Actual:   "2",
		Trace: []TraceEvent{{
			Seq: 7, BatchID: "b1", GroupID: "g1", Outcome: OutcomeOK,
			Events: []ir.EntityUpdate{{InstanceID: "e1", Operation: ir.OperationCreate}},
		}},
	}

	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: trace_count")
	assert.Contains(t, msg, "[7] b1 (g1) 1 events: ok")
}

func TestSnapshot_Canonical(t *testing.T) {
	r := sampleResult()
	r.Trace = r.Trace[:1]
	r.Trace[0].Events = []ir.EntityUpdate{{InstanceID: "e1", InstanceListID: "L1", Operation: ir.OperationCreate}}

	snap := NewSnapshot("snap", r)
	data, err := snap.MarshalCanonical()
	require.NoError(t, err)

	assert.Equal(t,
		`{"backlog":["b4"],"progress":3,"scenario_name":"snap","trace":[{"batch_id":"b1","events":[{"instance_id":"e1","list_id":"L1","op":"CREATE"}],"group_id":"g1","outcome":"connection","seq":1}]}`,
		string(data))
}
