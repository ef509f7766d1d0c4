package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/eventq/internal/feed"
)

// ValidationError is one feed problem as reported by validate.
type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid   bool              `json:"valid"`
	Batches int               `json:"batches,omitempty"`
	Events  int               `json:"events,omitempty"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <feed>",
		Short: "Validate a batch feed without applying it",
		Long: `Validate a YAML or CUE batch feed.

Checks syntax, the feed schema, operation names, group ids and batch id
uniqueness, and reports every problem found.

Exit codes:
  0 - Feed is valid
  1 - Feed has validation errors
  2 - Command error (feed not found, unsupported format)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	f, errs := feed.Load(path, nil)
	if len(errs) == 1 && isCommandError(errs[0]) {
		code := feed.CodeOf(errs[0])
		_ = formatter.Error(code, errs[0].Error(), nil)
		return WrapExitError(ExitCommandError, "cannot read feed", errs[0])
	}

	if len(errs) > 0 {
		result := ValidationResult{Errors: toValidationErrors(errs)}
		_ = formatter.Failure(result.Errors[0].Code, result.Errors[0].Message, result, func(w io.Writer) {
			fmt.Fprintln(w, "✗ Validation failed")
			fmt.Fprintln(w)
			for _, e := range result.Errors {
				if e.Line > 0 {
					fmt.Fprintf(w, "%s line %d\n", e.File, e.Line)
				}
				fmt.Fprintf(w, "  %s: %s\n\n", e.Code, e.Message)
			}
		})
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	result := ValidationResult{Valid: true, Batches: len(f.Batches)}
	for _, b := range f.Batches {
		result.Events += len(b.Events)
	}
	formatter.VerboseLog("Loaded %d batch(es) from %s", result.Batches, path)

	return formatter.Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "✓ Feed valid (%d batches, %d events)\n", result.Batches, result.Events)
	})
}

// isCommandError reports whether a load error means the feed could not be
// read at all, as opposed to being read and found invalid.
func isCommandError(err error) bool {
	switch feed.CodeOf(err) {
	case feed.ErrCodeNotFound, feed.ErrCodeUnsupported, feed.ErrCodeNoFiles, feed.ErrCodeScanError:
		return true
	}
	return false
}

func toValidationErrors(errs []error) []ValidationError {
	out := make([]ValidationError, 0, len(errs))
	for _, err := range errs {
		var le *feed.LoadError
		if !errors.As(err, &le) {
			out = append(out, ValidationError{Code: feed.ErrCodeGeneric, Message: err.Error()})
			continue
		}
		ve := ValidationError{Code: le.Code, Message: le.Message}
		if le.Pos.IsValid() {
			ve.File = le.Pos.Filename()
			ve.Line = le.Pos.Line()
		}
		out = append(out, ve)
	}
	return out
}
