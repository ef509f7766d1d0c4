package harness

import "github.com/roach88/eventq/internal/ir"

// Trace outcomes. Failed calls use engine.FailureKind labels.
const (
	OutcomeOK        = "ok"
	OutcomePanic     = "panic"
	OutcomeCancelled = "cancelled"
)

// TraceEvent is one call of the queue action.
type TraceEvent struct {
	// Seq numbers action calls in the order they started, from 1.
	Seq int64 `json:"seq"`

	BatchID string            `json:"batch_id"`
	GroupID string            `json:"group_id"`
	Events  []ir.EntityUpdate `json:"events"`

	// Outcome is "ok", "panic", "cancelled" or a failure kind.
	Outcome string `json:"outcome"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every step expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace lists every action call in call order.
	Trace []TraceEvent `json:"trace"`

	// Progress is the total work reported to the progress monitor.
	Progress int `json:"progress"`

	// QueueSize is the backlog length at the end of the scenario.
	QueueSize int `json:"queue_size"`

	// Backlog lists the batch ids left in the backlog, head first.
	Backlog []string `json:"backlog"`

	// Errors contains expectation and assertion failures.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Trace:   []TraceEvent{},
		Backlog: []string{},
		Errors:  []string{},
	}
}

// AddError adds a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Applied returns the ids of batches whose action call succeeded, in order.
func (r *Result) Applied() []string {
	ids := []string{}
	for _, ev := range r.Trace {
		if ev.Outcome == OutcomeOK {
			ids = append(ids, ev.BatchID)
		}
	}
	return ids
}
