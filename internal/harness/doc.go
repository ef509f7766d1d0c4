// Package harness runs queue scenarios: scripted sequences of batch
// deliveries and control calls executed against the real merge engine,
// with assertions on what the action saw and golden trace comparison.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: move_between_lists
//	description: "A DELETE+CREATE pair collapses to the surviving CREATE"
//	optimize: true
//	steps:
//	  - action: pause
//	  - action: add
//	    batch_id: b1
//	    group_id: mail
//	    events:
//	      - {instance_id: e1, list_id: inbox, op: CREATE}
//	    expect_added: true
//	  - action: fail_next
//	    fail: connection
//	  - action: resume
//	assertions:
//	  - type: trace_order
//	    batches: [b1]
//	  - type: queue_size
//	    count: 0
//
// # Step Actions
//
//   - add: deliver one batch (batch_id, group_id, events)
//   - pause, resume, start, clear: the queue control calls
//   - fail_next: make the next action call fail (connection,
//     service_unavailable, unexpected or panic)
//   - hold: make the next action call block until release
//   - release: unblock a held call
//
// Steps may carry expectations: expect_added and expect_error for add,
// expect_queue_size for any step.
//
// # Assertion Types
//
//   - trace_order: the listed batches were applied in that order
//   - trace_count: a batch (or, without batch, every batch) reached the
//     action exactly count times
//   - queue_size: the backlog holds exactly count batches at the end
//   - progress: the progress monitor received exactly count units of work
//   - backlog: the backlog holds exactly the listed batches, in order
//
// # Deterministic Testing
//
// Each step settles before the next one runs: the harness waits until the
// queue is idle or the running action is held. Action calls are numbered by
// a testutil.DeterministicClock, so traces are reproducible and can be
// compared against golden files in testdata/golden.
package harness
