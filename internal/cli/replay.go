package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/eventq/internal/harness"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Runs int // how many times to run the scenario for the determinism check
}

// ReplayResult holds the result of replaying one scenario.
type ReplayResult struct {
	Scenario      string               `json:"scenario"`
	Pass          bool                 `json:"pass"`
	Deterministic bool                 `json:"deterministic"`
	Runs          int                  `json:"runs"`
	Trace         []harness.TraceEvent `json:"trace"`
	Progress      int                  `json:"progress"`
	Backlog       []string             `json:"backlog"`
	Errors        []string             `json:"errors,omitempty"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <scenario.yaml>",
		Short: "Run one scenario and print its trace",
		Long: `Run a queue scenario and print every action call it produced.

The scenario is run several times and the canonical traces compared, so
the command also reports whether the scenario is deterministic.

Exit codes:
  0 - Scenario passed and is deterministic
  1 - Assertion failure or differing traces
  2 - Command error (scenario not found or invalid)

Examples:
  eventq replay scenarios/move.yaml
  eventq replay scenarios/move.yaml --runs 5 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, args[0], cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Runs, "runs", 2, "number of runs compared for determinism")

	return cmd
}

func runReplay(opts *ReplayOptions, path string, cmd *cobra.Command) error {
	if opts.Runs < 1 {
		return NewExitError(ExitCommandError, fmt.Sprintf("--runs must be at least 1, got %d", opts.Runs))
	}

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	h := harness.New(harness.WithLogger(opts.newLogger(cfg, cmd.ErrOrStderr())))
	formatter := opts.formatter(cmd)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		first    *harness.Result
		baseline []byte
	)
	result := ReplayResult{Scenario: scenario.Name, Deterministic: true, Runs: opts.Runs}

	for i := 0; i < opts.Runs; i++ {
		run, err := h.Run(ctx, scenario)
		if err != nil {
			return WrapExitError(ExitFailure, fmt.Sprintf("run %d failed", i+1), err)
		}

		snapshot := harness.NewSnapshot(scenario.Name, run)
		data, err := snapshot.MarshalCanonical()
		if err != nil {
			return WrapExitError(ExitFailure, "failed to marshal trace", err)
		}

		if first == nil {
			first, baseline = run, data
			continue
		}
		if !bytes.Equal(baseline, data) {
			result.Deterministic = false
			formatter.VerboseLog("run %d differs from run 1", i+1)
		}
	}

	result.Pass = first.Pass
	result.Trace = first.Trace
	result.Progress = first.Progress
	result.Backlog = first.Backlog
	result.Errors = first.Errors

	render := func(w io.Writer) { writeReplayText(w, result) }
	switch {
	case !result.Pass:
		_ = formatter.Failure("E_SCENARIO_FAILED", fmt.Sprintf("scenario %s failed", scenario.Name), result, render)
		return NewExitError(ExitFailure, fmt.Sprintf("scenario %s failed", scenario.Name))
	case !result.Deterministic:
		_ = formatter.Failure("E_NONDETERMINISTIC", "traces differ between runs", result, render)
		return NewExitError(ExitFailure, "traces differ between runs")
	}
	return formatter.Success(result, render)
}

func writeReplayText(w io.Writer, r ReplayResult) {
	fmt.Fprintf(w, "Scenario: %s\n", r.Scenario)
	fmt.Fprintln(w, strings.Repeat("─", 40))
	for _, ev := range r.Trace {
		fmt.Fprintf(w, "[%d] %s (%s) %s\n", ev.Seq, ev.BatchID, ev.GroupID, ev.Outcome)
		for _, e := range ev.Events {
			fmt.Fprintf(w, "      %s %s\n", e.Operation, e.Key())
		}
	}
	fmt.Fprintln(w, strings.Repeat("─", 40))
	fmt.Fprintf(w, "Progress: %d  Backlog: %v\n", r.Progress, r.Backlog)

	if r.Deterministic {
		fmt.Fprintf(w, "✓ Deterministic across %d run(s)\n", r.Runs)
	} else {
		fmt.Fprintf(w, "✗ Traces differ across %d runs\n", r.Runs)
	}
	if r.Pass {
		fmt.Fprintln(w, "✓ All assertions passed")
		return
	}
	fmt.Fprintln(w, "✗ Scenario failed")
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
}
