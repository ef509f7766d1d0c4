package harness

import (
	"bytes"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/roach88/eventq/internal/engine"
	"github.com/roach88/eventq/internal/ir"
)

// Scenario defines one queue scenario.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Optimize enables the merge engine. Nil means enabled.
	Optimize *bool `yaml:"optimize,omitempty"`

	// Steps run in order; each settles before the next.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and queue state.
	Assertions []Assertion `yaml:"assertions"`
}

// OptimizationEnabled reports whether the scenario runs with merging on.
func (s *Scenario) OptimizationEnabled() bool {
	return s.Optimize == nil || *s.Optimize
}

// Step is one delivery or control call.
type Step struct {
	// Action is the step kind; see the Step* constants.
	Action string `yaml:"action"`

	// BatchID, GroupID and Events describe the batch for "add".
	BatchID string            `yaml:"batch_id,omitempty"`
	GroupID string            `yaml:"group_id,omitempty"`
	Events  []ir.EntityUpdate `yaml:"events,omitempty"`

	// Fail is the failure kind for "fail_next".
	Fail string `yaml:"fail,omitempty"`

	// ExpectAdded is the expected return of Add.
	ExpectAdded *bool `yaml:"expect_added,omitempty"`

	// ExpectError is the expected invariant code returned by Add.
	ExpectError string `yaml:"expect_error,omitempty"`

	// ExpectQueueSize is the expected backlog length once the step settled.
	ExpectQueueSize *int `yaml:"expect_queue_size,omitempty"`
}

// Step action constants.
const (
	StepAdd      = "add"
	StepPause    = "pause"
	StepResume   = "resume"
	StepStart    = "start"
	StepClear    = "clear"
	StepFailNext = "fail_next"
	StepHold     = "hold"
	StepRelease  = "release"
)

var validSteps = []string{StepAdd, StepPause, StepResume, StepStart, StepClear, StepFailNext, StepHold, StepRelease}

// Failure kinds accepted by fail_next.
const (
	FailConnection         = "connection"
	FailServiceUnavailable = "service_unavailable"
	FailUnexpected         = "unexpected"
	FailPanic              = "panic"
)

var validFailures = []string{FailConnection, FailServiceUnavailable, FailUnexpected, FailPanic}

// Assertion validates the trace or the final queue state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_order": Batches were applied in this order
	// - "trace_count": Batch reached the action exactly Count times
	// - "queue_size": Backlog length equals Count
	// - "progress": Units of work reported equal Count
	// - "backlog": Backlog holds exactly Batches, in order
	Type string `yaml:"type"`

	// Batch is the batch id (used by trace_count; empty counts all calls).
	Batch string `yaml:"batch,omitempty"`

	// Batches is the expected batch id list (used by trace_order, backlog).
	Batches []string `yaml:"batches,omitempty"`

	// Count is the expected number (used by trace_count, queue_size, progress).
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceOrder = "trace_order"
	AssertTraceCount = "trace_count"
	AssertQueueSize  = "queue_size"
	AssertProgress   = "progress"
	AssertBacklog    = "backlog"
)

var validInvariantCodes = []string{
	string(engine.ErrCodeUpdateAfterDelete),
	string(engine.ErrCodeImpossibleCombination),
	string(engine.ErrCodeMissingEvent),
	string(engine.ErrCodeUnknownOperation),
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	normalizeOperations(&scenario)

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// normalizeOperations upper-cases recognized operation names. Unrecognized
// ones are kept so a scenario can exercise the UNKNOWN_OPERATION path.
func normalizeOperations(s *Scenario) {
	for i := range s.Steps {
		for j, ev := range s.Steps[i].Events {
			if op, err := ir.ParseOperation(string(ev.Operation)); err == nil {
				s.Steps[i].Events[j].Operation = op
			}
		}
	}
}

// validateScenario checks required fields and step/assertion shapes.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(step Step) error {
	if !slices.Contains(validSteps, step.Action) {
		return fmt.Errorf("unknown action %q: must be one of %v", step.Action, validSteps)
	}

	if step.Action == StepAdd {
		if step.BatchID == "" {
			return fmt.Errorf("add requires batch_id")
		}
		if step.GroupID == "" {
			return fmt.Errorf("add requires group_id")
		}
		if step.ExpectError != "" && !slices.Contains(validInvariantCodes, step.ExpectError) {
			return fmt.Errorf("unknown expect_error %q: must be one of %v", step.ExpectError, validInvariantCodes)
		}
	} else {
		if step.BatchID != "" || step.GroupID != "" || len(step.Events) > 0 {
			return fmt.Errorf("%s does not take a batch", step.Action)
		}
		if step.ExpectAdded != nil || step.ExpectError != "" {
			return fmt.Errorf("expect_added and expect_error apply to add only")
		}
	}

	if step.Action == StepFailNext {
		if !slices.Contains(validFailures, step.Fail) {
			return fmt.Errorf("fail_next requires fail, one of %v", validFailures)
		}
	} else if step.Fail != "" {
		return fmt.Errorf("fail applies to fail_next only")
	}
	return nil
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case AssertTraceOrder:
		if len(a.Batches) == 0 {
			return fmt.Errorf("trace_order requires batches")
		}
	case AssertBacklog:
		// An empty list asserts an empty backlog.
	case AssertTraceCount, AssertQueueSize, AssertProgress:
		if a.Count < 0 {
			return fmt.Errorf("%s requires a non-negative count", a.Type)
		}
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
