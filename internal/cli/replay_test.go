package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const moveScenario = `
name: move
description: "A move collapses into one delete and one create"
steps:
  - action: pause
  - action: add
    batch_id: b1
    group_id: g1
    events:
      - {instance_id: e1, list_id: inbox, op: create}
  - action: add
    batch_id: b2
    group_id: g1
    events:
      - {instance_id: e1, list_id: inbox, op: delete}
      - {instance_id: e1, list_id: archive, op: create}
  - action: resume
assertions:
  - type: queue_size
    count: 0
`

func TestReplay_Text(t *testing.T) {
	out, _, err := execute(t, "replay", writeTemp(t, "move.yaml", moveScenario))
	require.NoError(t, err)

	assert.Contains(t, out, "Scenario: move")
	assert.Contains(t, out, "✓ Deterministic across 2 run(s)")
	assert.Contains(t, out, "✓ All assertions passed")
}

func TestReplay_JSON(t *testing.T) {
	out, _, err := execute(t, "replay", writeTemp(t, "move.yaml", moveScenario), "--runs", "3", "--format", "json")
	require.NoError(t, err)

	var result ReplayResult
	resp := jsonResponse(t, out, &result)
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, result.Pass)
	assert.True(t, result.Deterministic)
	assert.Equal(t, 3, result.Runs)
	assert.NotEmpty(t, result.Trace)
	assert.Empty(t, result.Backlog)
}

func TestReplay_FailingScenario(t *testing.T) {
	path := writeTemp(t, "bad.yaml", `
name: bad
steps:
  - action: add
    batch_id: b1
    group_id: g1
    events: [{instance_id: e1, op: create}]
assertions:
  - type: progress
    count: 7
`)

	out, _, err := execute(t, "replay", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ Scenario failed")
	assert.Contains(t, out, "7 units of work done")
}

func TestReplay_InvalidScenario(t *testing.T) {
	_, _, err := execute(t, "replay", writeTemp(t, "bad.yaml", "name: x\n"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestReplay_BadRuns(t *testing.T) {
	_, _, err := execute(t, "replay", writeTemp(t, "move.yaml", moveScenario), "--runs", "0")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
