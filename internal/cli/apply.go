package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/roach88/eventq/internal/engine"
	"github.com/roach88/eventq/internal/feed"
	"github.com/roach88/eventq/internal/ir"
	"github.com/roach88/eventq/internal/store"
)

// ApplyOptions holds flags for the apply command.
type ApplyOptions struct {
	*RootOptions
	Database    string
	NoOptimize  bool
	MetricsAddr string

	// IDGenerator fills missing batch ids. Nil uses ir.UUIDv7Generator.
	IDGenerator ir.BatchIDGenerator
}

// ApplySummary reports what one apply run did.
type ApplySummary struct {
	Feed          string `json:"feed"`
	Database      string `json:"database"`
	Optimize      bool   `json:"optimize"`
	Delivered     int    `json:"delivered"`
	Added         int    `json:"added"`
	OptimizedAway int    `json:"optimized_away"`
	Applied       int    `json:"applied"`
	Progress      int    `json:"progress"`
	QueueSize     int    `json:"queue_size"`
	LastError     string `json:"last_error,omitempty"`
}

// NewApplyCommand creates the apply command.
func NewApplyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ApplyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "apply <feed>",
		Short: "Apply a batch feed to the local entity cache",
		Long: `Deliver every batch of a feed to the queue and apply the merged
result to a SQLite entity cache, in order.

All batches are delivered before draining starts, so redundant events
are merged away. A failed batch stays queued and the command reports it.

Exit codes:
  0 - Every batch applied or optimized away
  1 - Invariant violation, or batches left unapplied
  2 - Command error (config, feed or database problems)

Examples:
  eventq apply feed.yaml --db cache.db
  eventq apply ./feed-dir --no-optimize --format json
  eventq apply feed.cue --metrics-addr :9090`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")
	cmd.Flags().BoolVar(&opts.NoOptimize, "no-optimize", false, "apply every batch verbatim")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")

	return cmd
}

func runApply(opts *ApplyOptions, feedPath string, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	if opts.NoOptimize {
		cfg.Optimize = false
	}
	if opts.MetricsAddr != "" {
		cfg.MetricsAddr = opts.MetricsAddr
	}

	logger := opts.newLogger(cfg, cmd.ErrOrStderr())
	formatter := opts.formatter(cmd)

	f, errs := feed.Load(feedPath, opts.IDGenerator)
	if len(errs) > 0 {
		_ = formatter.Error(feed.CodeOf(errs[0]), errs[0].Error(), toValidationErrors(errs))
		return WrapExitError(ExitCommandError, "invalid feed", errors.Join(errs...))
	}
	logger.Info("feed loaded", "path", feedPath, "batches", len(f.Batches))

	st, err := store.Open(cfg.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	lastSeq, err := st.GetLastSeq(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read store", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	metrics, err := engine.NewMetrics(reg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to register metrics", err)
	}
	if cfg.MetricsAddr != "" {
		stop := serveMetrics(cfg.MetricsAddr, reg, logger)
		defer stop()
	}

	action := &countingAction{apply: st.ApplyBatch}
	progress := &progressCounter{}
	q := engine.New(action.Apply,
		engine.WithOptimization(cfg.Optimize),
		engine.WithProgressMonitor(progress),
		engine.WithMetrics(metrics),
		engine.WithLogger(logger),
		engine.WithContext(ctx),
		engine.WithClock(engine.NewClockAt(lastSeq)),
	)

	summary := ApplySummary{
		Feed:      feedPath,
		Database:  cfg.Database,
		Optimize:  cfg.Optimize,
		Delivered: len(f.Batches),
	}

	// Deliver everything before draining so the merge engine sees the
	// whole feed.
	q.Pause()
	for _, b := range f.Batches {
		added, err := q.Add(b.BatchID, b.GroupID, b.Events)
		if err != nil {
			q.Clear()
			_ = formatter.Error(string(engine.InvariantCodeOf(err)), err.Error(), nil)
			return WrapExitError(ExitFailure, "feed rejected", err)
		}
		if added {
			summary.Added++
		}
	}
	q.Resume()

	if err := q.WaitIdle(ctx); err != nil {
		return WrapExitError(ExitFailure, "interrupted", err)
	}

	summary.Applied = action.applied()
	summary.Progress = progress.done()
	summary.QueueSize = q.QueueSize()
	summary.OptimizedAway = summary.Delivered - summary.Applied - summary.QueueSize
	if err := action.lastError(); err != nil && summary.QueueSize > 0 {
		summary.LastError = err.Error()
	}

	logger.Info("apply finished",
		"applied", summary.Applied,
		"optimized_away", summary.OptimizedAway,
		"queue_size", summary.QueueSize,
	)

	if summary.QueueSize > 0 {
		msg := fmt.Sprintf("%d batch(es) left unapplied", summary.QueueSize)
		_ = formatter.Failure("E_UNAPPLIED", msg, summary, func(w io.Writer) {
			writeApplySummary(w, summary)
			fmt.Fprintf(w, "✗ %s: %s\n", msg, summary.LastError)
		})
		return NewExitError(ExitFailure, msg)
	}

	return formatter.Success(summary, func(w io.Writer) {
		writeApplySummary(w, summary)
		fmt.Fprintln(w, "✓ Feed applied")
	})
}

func writeApplySummary(w io.Writer, s ApplySummary) {
	fmt.Fprintf(w, "Feed:           %s\n", s.Feed)
	fmt.Fprintf(w, "Database:       %s\n", s.Database)
	fmt.Fprintf(w, "Optimize:       %t\n", s.Optimize)
	fmt.Fprintf(w, "Delivered:      %d\n", s.Delivered)
	fmt.Fprintf(w, "Added:          %d\n", s.Added)
	fmt.Fprintf(w, "Optimized away: %d\n", s.OptimizedAway)
	fmt.Fprintf(w, "Applied:        %d\n", s.Applied)
	fmt.Fprintf(w, "Queue size:     %d\n", s.QueueSize)
}

// serveMetrics exposes reg on addr until the returned stop is called.
func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) (stop func()) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// countingAction wraps the store action and counts successful applies.
type countingAction struct {
	apply engine.Action

	mu      sync.Mutex
	count   int
	lastErr error
}

func (a *countingAction) Apply(ctx context.Context, batch ir.Batch) error {
	err := a.apply(ctx, batch)
	a.mu.Lock()
	defer a.mu.Unlock()
	if err != nil {
		a.lastErr = err
		return err
	}
	a.count++
	return nil
}

func (a *countingAction) applied() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count
}

func (a *countingAction) lastError() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastErr
}

// progressCounter is the engine.ProgressMonitor for apply.
type progressCounter struct {
	n atomic.Int64
}

func (p *progressCounter) WorkDone(count int) { p.n.Add(int64(count)) }
func (p *progressCounter) Completed()         {}
func (p *progressCounter) done() int          { return int(p.n.Load()) }
