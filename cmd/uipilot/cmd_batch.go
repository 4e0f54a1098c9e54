package main

import (
	"context"
	"fmt"

	"uipilot/internal/engine"
	"uipilot/internal/flow"
	"uipilot/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// BATCH COMMAND - Independent flows, one session each
// =============================================================================

// batchEntry is the outcome of one flow in a batch.
type batchEntry struct {
	Path   string            `json:"path"`
	Result *engine.RunResult `json:"result,omitempty"`
	Error  string            `json:"error,omitempty"`

	err error
}

func newBatchCmd(a *app) *cobra.Command {
	var (
		fl          runFlags
		concurrency int
	)
	cmd := &cobra.Command{
		Use:   "batch [flow.yaml...]",
		Short: "Run independent flows concurrently",
		Long: `Runs each flow file in its own browser session, up to --concurrency at a
time. All flows are validated before any session is launched. The exit status
is that of the first failing flow in argument order.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fl.headlessSet = cmd.Flags().Changed("headless")
			if concurrency <= 0 {
				concurrency = a.cfg.Run.Concurrency
			}
			return a.runBatch(cmd.Context(), args, fl, concurrency)
		},
	}
	addRunFlags(cmd, &fl)
	cmd.Flags().IntVarP(&concurrency, "concurrency", "j", 0, "Flows run at once (default from config)")
	return cmd
}

func (a *app) runBatch(ctx context.Context, paths []string, fl runFlags, concurrency int) error {
	log := a.logs.Get(logging.CategoryCLI)

	plans := make([]plan, len(paths))
	for i, path := range paths {
		f, err := flow.Load(path)
		if err != nil {
			return err
		}
		p, err := resolvePlan(a.cfg, f, fl)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		plans[i] = p
	}

	sinks, err := a.openSinks()
	if err != nil {
		return err
	}
	defer sinks.close()

	if concurrency <= 0 {
		concurrency = 1
	}
	log.Info("batch started", zap.Int("flows", len(plans)), zap.Int("concurrency", concurrency))

	entries := make([]batchEntry, len(plans))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, p := range plans {
		i, p := i, p
		g.Go(func() error {
			res, err := a.execute(gctx, p, sinks)
			entries[i] = batchEntry{Path: paths[i], Result: res, err: err}
			if err != nil {
				entries[i].Error = err.Error()
			}
			// A failed flow never cancels its siblings.
			return nil
		})
	}
	_ = g.Wait()

	if err := a.printBatch(entries); err != nil {
		return err
	}

	failed := 0
	var first error
	for _, e := range entries {
		if e.err != nil {
			failed++
			if first == nil {
				first = fmt.Errorf("%s: %w", e.Path, e.err)
			}
		}
	}
	log.Info("batch finished", zap.Int("flows", len(entries)), zap.Int("failed", failed))
	return first
}

func (a *app) printBatch(entries []batchEntry) error {
	if a.jsonOut {
		return writeJSON(a.stdout, entries)
	}
	for i, e := range entries {
		if i > 0 {
			fmt.Fprintln(a.stdout)
		}
		if e.Result == nil {
			fmt.Fprintf(a.stdout, "%s  %s\n", titleStyle.Render(e.Path), failStyle.Render(e.Error))
			continue
		}
		fmt.Fprint(a.stdout, renderSummary(e.Result))
	}
	return nil
}
