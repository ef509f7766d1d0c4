package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/eventq/internal/store"
)

// InspectOptions holds flags for the inspect command.
type InspectOptions struct {
	*RootOptions
	Database string
	Batches  bool // include the applied batch log
}

// GroupProgress is the resume point of one group.
type GroupProgress struct {
	GroupID   string `json:"group_id"`
	LastBatch string `json:"last_batch"`
}

// InspectResult is the content of an entity cache.
type InspectResult struct {
	Entities []store.Entity       `json:"entities"`
	Groups   []GroupProgress      `json:"groups"`
	Applied  []store.AppliedBatch `json:"applied,omitempty"`
	LastSeq  int64                `json:"last_seq"`
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show the entities and group progress of an entity cache",
		Long: `Print the live entities of a SQLite entity cache and, per group, the
last batch applied (the point a producer resumes from).

Examples:
  eventq inspect --db cache.db
  eventq inspect --db cache.db --batches --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")
	cmd.Flags().BoolVar(&opts.Batches, "batches", false, "include the applied batch log")

	return cmd
}

func runInspect(opts *InspectOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}

	// store.Open creates missing files; inspecting one is a mistake.
	if _, err := os.Stat(cfg.Database); os.IsNotExist(err) {
		return NewExitError(ExitCommandError, fmt.Sprintf("database not found: %s", cfg.Database))
	}

	st, err := store.Open(cfg.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	result, err := inspectStore(ctx, st, opts.Batches)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read database", err)
	}

	return opts.formatter(cmd).Success(result, func(w io.Writer) {
		writeInspectText(w, result)
	})
}

func inspectStore(ctx context.Context, st *store.Store, withBatches bool) (InspectResult, error) {
	entities, err := st.ListEntities(ctx)
	if err != nil {
		return InspectResult{}, err
	}
	applied, err := st.AppliedBatches(ctx)
	if err != nil {
		return InspectResult{}, err
	}
	lastSeq, err := st.GetLastSeq(ctx)
	if err != nil {
		return InspectResult{}, err
	}

	var groupIDs []string
	for _, b := range applied {
		if !slices.Contains(groupIDs, b.GroupID) {
			groupIDs = append(groupIDs, b.GroupID)
		}
	}
	slices.Sort(groupIDs)

	groups := make([]GroupProgress, 0, len(groupIDs))
	for _, g := range groupIDs {
		last, err := st.LastBatch(ctx, g)
		if err != nil {
			return InspectResult{}, fmt.Errorf("group %s: %w", g, err)
		}
		groups = append(groups, GroupProgress{GroupID: g, LastBatch: last})
	}

	result := InspectResult{Entities: entities, Groups: groups, LastSeq: lastSeq}
	if withBatches {
		result.Applied = applied
	}
	return result, nil
}

func writeInspectText(w io.Writer, r InspectResult) {
	fmt.Fprintf(w, "Entities (%d):\n", len(r.Entities))
	for _, e := range r.Entities {
		fmt.Fprintf(w, "  %-30s v%d  group=%s  batch=%s\n", e.Key, e.Version, e.GroupID, e.LastBatch)
	}

	fmt.Fprintf(w, "Groups (%d):\n", len(r.Groups))
	for _, g := range r.Groups {
		fmt.Fprintf(w, "  %-20s last batch %s\n", g.GroupID, g.LastBatch)
	}

	if len(r.Applied) > 0 {
		fmt.Fprintf(w, "Applied batches (%d):\n", len(r.Applied))
		for _, b := range r.Applied {
			fmt.Fprintf(w, "  [%d] %s (%s) %d events  %s\n", b.Seq, b.BatchID, b.GroupID, b.EventCount, b.Fingerprint)
		}
	}
	fmt.Fprintf(w, "Last seq: %d\n", r.LastSeq)
}
