package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/eventq/internal/ir"
)

func writeScenario(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadScenario_Valid(t *testing.T) {
	path := writeScenario(t, `
name: load_me
description: "parses every field"
optimize: false
steps:
  - action: pause
  - action: add
    batch_id: b1
    group_id: g1
    events:
      - {instance_id: e1, list_id: L1, op: create}
      - {instance_id: e2, op: Delete}
    expect_added: true
    expect_queue_size: 1
  - action: fail_next
    fail: panic
assertions:
  - type: backlog
    batches: [b1]
`)

	s, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "load_me", s.Name)
	assert.False(t, s.OptimizationEnabled())
	require.Len(t, s.Steps, 3)
	assert.Equal(t, []ir.EntityUpdate{
		{InstanceID: "e1", InstanceListID: "L1", Operation: ir.OperationCreate},
		{InstanceID: "e2", Operation: ir.OperationDelete},
	}, s.Steps[1].Events)
	require.NotNil(t, s.Steps[1].ExpectAdded)
	assert.True(t, *s.Steps[1].ExpectAdded)
	assert.Equal(t, FailPanic, s.Steps[2].Fail)
	assert.Equal(t, []string{"b1"}, s.Assertions[0].Batches)
}

func TestLoadScenario_OptimizeDefaultsOn(t *testing.T) {
	s, err := LoadScenario(writeScenario(t, "name: x\nsteps:\n  - action: start\n"))
	require.NoError(t, err)
	assert.True(t, s.OptimizationEnabled())
}

func TestLoadScenario_KeepsUnknownOperation(t *testing.T) {
	s, err := LoadScenario(writeScenario(t, `
name: x
steps:
  - action: add
    batch_id: b1
    group_id: g1
    events: [{instance_id: e1, op: patch}]
    expect_error: UNKNOWN_OPERATION
`))
	require.NoError(t, err)
	assert.Equal(t, ir.Operation("patch"), s.Steps[0].Events[0].Operation)
}

func TestLoadScenario_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"unknown field", "name: x\nstep: []\n", "field step not found"},
		{"missing name", "steps:\n  - action: start\n", "name is required"},
		{"no steps", "name: x\n", "steps is required"},
		{"unknown action", "name: x\nsteps:\n  - action: flush\n", `unknown action "flush"`},
		{"add without batch id", "name: x\nsteps:\n  - action: add\n    group_id: g1\n", "add requires batch_id"},
		{"add without group", "name: x\nsteps:\n  - action: add\n    batch_id: b1\n", "add requires group_id"},
		{"batch on control step", "name: x\nsteps:\n  - action: pause\n    batch_id: b1\n", "pause does not take a batch"},
		{"expect_added on control step", "name: x\nsteps:\n  - action: clear\n    expect_added: true\n", "apply to add only"},
		{"fail_next without kind", "name: x\nsteps:\n  - action: fail_next\n", "fail_next requires fail"},
		{"fail on other step", "name: x\nsteps:\n  - action: hold\n    fail: panic\n", "fail applies to fail_next only"},
		{"unknown error code", "name: x\nsteps:\n  - action: add\n    batch_id: b1\n    group_id: g1\n    expect_error: OOPS\n", `unknown expect_error "OOPS"`},
		{"unknown assertion", "name: x\nsteps:\n  - action: start\nassertions:\n  - type: final_state\n", `unknown assertion type "final_state"`},
		{"missing assertion type", "name: x\nsteps:\n  - action: start\nassertions:\n  - count: 1\n", "type is required"},
		{"trace_order without batches", "name: x\nsteps:\n  - action: start\nassertions:\n  - type: trace_order\n", "trace_order requires batches"},
		{"negative count", "name: x\nsteps:\n  - action: start\nassertions:\n  - type: progress\n    count: -1\n", "non-negative count"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadScenario(writeScenario(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}
