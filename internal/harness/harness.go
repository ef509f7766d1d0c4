package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/eventq/internal/engine"
	"github.com/roach88/eventq/internal/testutil"
)

// DefaultTimeout bounds a whole scenario run.
const DefaultTimeout = 10 * time.Second

// Harness executes scenarios against a fresh queue each run.
type Harness struct {
	logger  *slog.Logger
	timeout time.Duration
}

// Option configures a Harness.
type Option func(*Harness)

// WithLogger sets the logger handed to the queue. Defaults to a logger
// that discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithTimeout bounds a scenario run. Defaults to DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(h *Harness) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// New creates a Harness.
func New(opts ...Option) *Harness {
	h := &Harness{
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run executes a scenario with default options.
func Run(scenario *Scenario) (*Result, error) {
	return New().Run(context.Background(), scenario)
}

// Run executes the scenario and evaluates its assertions.
//
// Expectation and assertion failures are reported in Result.Errors. The
// returned error is reserved for runs that could not complete, such as a
// step that never settled before the timeout.
//
// A call still held when the steps run out is released, and the queue is
// allowed to go idle before the final state is read.
func (h *Harness) Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	act := testutil.NewScriptedAction()
	monitor := testutil.NewRecordingMonitor()
	q := engine.New(act.Apply,
		engine.WithOptimization(scenario.OptimizationEnabled()),
		engine.WithProgressMonitor(monitor),
		engine.WithLogger(h.logger),
		engine.WithContext(ctx),
	)

	result := NewResult()

	for i, step := range scenario.Steps {
		h.runStep(q, act, i, step, result)

		if err := settle(ctx, q, act); err != nil {
			return nil, fmt.Errorf("step %d (%s) did not settle: %w", i, step.Action, err)
		}

		if step.ExpectQueueSize != nil {
			if size := q.QueueSize(); size != *step.ExpectQueueSize {
				result.AddError(fmt.Sprintf("step %d (%s): expected queue size %d, got %d",
					i, step.Action, *step.ExpectQueueSize, size))
			}
		}
	}

	act.Release()
	if err := q.WaitIdle(ctx); err != nil {
		return nil, fmt.Errorf("queue did not go idle: %w", err)
	}

	for _, call := range act.Calls() {
		result.Trace = append(result.Trace, TraceEvent{
			Seq:     call.Seq,
			BatchID: call.Batch.BatchID,
			GroupID: call.Batch.GroupID,
			Events:  call.Batch.Events,
			Outcome: outcomeOf(call.Err),
		})
	}
	result.Progress = monitor.Done()
	result.QueueSize = q.QueueSize()
	for _, b := range q.Snapshot() {
		result.Backlog = append(result.Backlog, b.BatchID)
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}

	h.logger.Info("scenario finished",
		"scenario", scenario.Name,
		"pass", result.Pass,
		"calls", len(result.Trace),
		"queue_size", result.QueueSize,
	)
	return result, nil
}

func (h *Harness) runStep(q *engine.Queue, act *testutil.ScriptedAction, i int, step Step, result *Result) {
	switch step.Action {
	case StepAdd:
		added, err := q.Add(step.BatchID, step.GroupID, step.Events)
		code := string(engine.InvariantCodeOf(err))
		switch {
		case step.ExpectError != "" && code != step.ExpectError:
			result.AddError(fmt.Sprintf("step %d: add %s: expected error %s, got %v",
				i, step.BatchID, step.ExpectError, err))
		case step.ExpectError == "" && err != nil:
			result.AddError(fmt.Sprintf("step %d: add %s: unexpected error: %v", i, step.BatchID, err))
		}
		if step.ExpectAdded != nil && added != *step.ExpectAdded {
			result.AddError(fmt.Sprintf("step %d: add %s: expected added=%t, got %t",
				i, step.BatchID, *step.ExpectAdded, added))
		}
	case StepPause:
		q.Pause()
	case StepResume:
		q.Resume()
	case StepStart:
		q.Start()
	case StepClear:
		q.Clear()
	case StepFailNext:
		if step.Fail == FailPanic {
			act.PanicNext("scripted failure")
		} else {
			act.FailNext(failureError(step.Fail))
		}
	case StepHold:
		act.Hold()
	case StepRelease:
		act.Release()
	}
}

// settle waits until the queue is idle or its running call is held.
func settle(ctx context.Context, q *engine.Queue, act *testutil.ScriptedAction) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if act.Held() {
			return nil
		}
		select {
		case <-q.Idle():
			return nil
		case <-act.Entered():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func failureError(kind string) error {
	switch kind {
	case FailConnection:
		return fmt.Errorf("scripted: %w", engine.ErrConnection)
	case FailServiceUnavailable:
		return fmt.Errorf("scripted: %w", engine.ErrServiceUnavailable)
	default:
		return errors.New("scripted: unexpected failure")
	}
}

func outcomeOf(err error) string {
	var pv testutil.PanicValue
	switch {
	case err == nil:
		return OutcomeOK
	case errors.As(err, &pv):
		return OutcomePanic
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCancelled
	default:
		return engine.FailureKind(err)
	}
}
