package harness

import (
	"fmt"
	"slices"
	"strings"
)

// AssertionError represents a failed assertion with detailed context.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error formats the assertion failure with the trace for debugging.
func (e *AssertionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&b, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&b, "  Actual:   %s\n", e.Actual)

	if len(e.Trace) > 0 {
		b.WriteString("  Trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&b, "    [%d] %s (%s) %d events: %s\n",
				ev.Seq, ev.BatchID, ev.GroupID, len(ev.Events), ev.Outcome)
		}
	}
	return b.String()
}

// assertTraceOrder checks that the listed batches were applied in order.
// Only successful calls count; other applied batches may be interleaved.
func assertTraceOrder(result *Result, assertion Assertion) error {
	applied := result.Applied()

	next := 0
	for _, id := range applied {
		if next < len(assertion.Batches) && id == assertion.Batches[next] {
			next++
		}
	}
	if next == len(assertion.Batches) {
		return nil
	}

	actual := fmt.Sprintf("applied order %v", applied)
	if !slices.Contains(applied, assertion.Batches[next]) {
		actual = fmt.Sprintf("batch %s never applied (applied %v)", assertion.Batches[next], applied)
	}
	return &AssertionError{
		Type:     AssertTraceOrder,
		Expected: fmt.Sprintf("applied in order %v", assertion.Batches),
		Actual:   actual,
		Trace:    result.Trace,
	}
}

// assertTraceCount checks how many times a batch reached the action.
// Without a batch id every call is counted.
func assertTraceCount(result *Result, assertion Assertion) error {
	count := 0
	for _, ev := range result.Trace {
		if assertion.Batch == "" || ev.BatchID == assertion.Batch {
			count++
		}
	}
	if count == assertion.Count {
		return nil
	}

	subject := "action calls"
	if assertion.Batch != "" {
		subject = "calls for " + assertion.Batch
	}
	return &AssertionError{
		Type:     AssertTraceCount,
		Expected: fmt.Sprintf("%d %s", assertion.Count, subject),
		Actual:   fmt.Sprintf("%d %s", count, subject),
		Trace:    result.Trace,
	}
}

func assertQueueSize(result *Result, assertion Assertion) error {
	if result.QueueSize == assertion.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertQueueSize,
		Expected: fmt.Sprintf("%d queued batches", assertion.Count),
		Actual:   fmt.Sprintf("%d queued batches %v", result.QueueSize, result.Backlog),
	}
}

func assertProgress(result *Result, assertion Assertion) error {
	if result.Progress == assertion.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertProgress,
		Expected: fmt.Sprintf("%d units of work done", assertion.Count),
		Actual:   fmt.Sprintf("%d units of work done", result.Progress),
		Trace:    result.Trace,
	}
}

func assertBacklog(result *Result, assertion Assertion) error {
	want := assertion.Batches
	if want == nil {
		want = []string{}
	}
	if slices.Equal(result.Backlog, want) {
		return nil
	}
	return &AssertionError{
		Type:     AssertBacklog,
		Expected: fmt.Sprintf("backlog %v", want),
		Actual:   fmt.Sprintf("backlog %v", result.Backlog),
	}
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceOrder:
			err = assertTraceOrder(result, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result, assertion)
		case AssertQueueSize:
			err = assertQueueSize(result, assertion)
		case AssertProgress:
			err = assertProgress(result, assertion)
		case AssertBacklog:
			err = assertBacklog(result, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	return errs
}
