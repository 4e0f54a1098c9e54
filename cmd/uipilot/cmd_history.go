package main

import (
	"errors"
	"fmt"
	"time"

	"uipilot/internal/logging"
	"uipilot/internal/store"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// =============================================================================
// HISTORY COMMAND - Query the run ledger
// =============================================================================

func newHistoryCmd(a *app) *cobra.Command {
	var (
		flowName  string
		limit     int
		stats     bool
		pruneDays int
	)
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show recorded runs",
		Long: `Lists recent runs from the history ledger, newest first. With a run ID,
prints that run in full. --stats summarizes success rates per flow and
--prune deletes runs older than the given number of days.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := store.Open(a.cfg.History.DatabasePath, a.logs.Get(logging.CategoryStore))
			if err != nil {
				return fmt.Errorf("failed to open run history: %w", err)
			}
			defer h.Close()
			ctx := cmd.Context()

			switch {
			case len(args) == 1:
				run, err := h.Get(ctx, args[0])
				if errors.Is(err, store.ErrRunNotFound) {
					return fmt.Errorf("%w: %s", err, args[0])
				}
				if err != nil {
					return err
				}
				return writeJSON(a.stdout, run)

			case pruneDays > 0:
				cutoff := time.Now().AddDate(0, 0, -pruneDays)
				n, err := h.Prune(ctx, cutoff)
				if err != nil {
					return err
				}
				a.logs.Get(logging.CategoryCLI).Info("history pruned", zap.Int64("runs", n), zap.Time("cutoff", cutoff))
				fmt.Fprintf(a.stdout, "pruned %d runs\n", n)
				return nil

			case stats:
				s, err := h.Stats(ctx)
				if err != nil {
					return err
				}
				if a.jsonOut {
					return writeJSON(a.stdout, s)
				}
				_, err = fmt.Fprint(a.stdout, renderStats(s))
				return err

			default:
				runs, err := h.List(ctx, flowName, limit)
				if err != nil {
					return err
				}
				if a.jsonOut {
					return writeJSON(a.stdout, runs)
				}
				_, err = fmt.Fprint(a.stdout, renderRuns(runs))
				return err
			}
		},
	}
	cmd.Flags().StringVarP(&flowName, "flow", "f", "", "Only runs of this flow")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum runs listed")
	cmd.Flags().BoolVar(&stats, "stats", false, "Summarize success rates per flow")
	cmd.Flags().IntVar(&pruneDays, "prune", 0, "Delete runs older than this many days")
	return cmd
}
