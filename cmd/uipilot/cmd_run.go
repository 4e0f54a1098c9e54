package main

import (
	"context"
	"fmt"
	"time"

	"uipilot/internal/engine"
	"uipilot/internal/flow"
	"uipilot/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// =============================================================================
// RUN COMMAND - Execute one flow file
// =============================================================================

func addRunFlags(cmd *cobra.Command, fl *runFlags) {
	cmd.Flags().StringVar(&fl.driver, "driver", "", "Browser driver (rod, static)")
	cmd.Flags().BoolVar(&fl.headless, "headless", true, "Run the browser headless")
	cmd.Flags().DurationVar(&fl.deadline, "deadline", 0, "Run deadline (overrides flow and config)")
	cmd.Flags().StringVar(&fl.diagnosticsDir, "diagnostics-dir", "", "Directory for failure screenshots and page text")
}

func newRunCmd(a *app) *cobra.Command {
	var (
		fl    runFlags
		watch bool
	)
	cmd := &cobra.Command{
		Use:   "run [flow.yaml]",
		Short: "Run a flow file",
		Long: `Runs the steps of a flow file in one browser session and prints the outcome.

The exit status reflects the outcome: 0 completed, 2 failed at step,
3 timed out, 4 session launch error, 5 navigation error.

With --watch the flow is re-run whenever the file changes, until interrupted.

Example:
  uipilot run flows/vercel-import.yaml --headless=false --deadline 5m`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fl.headlessSet = cmd.Flags().Changed("headless")
			if watch {
				return a.watchFlow(cmd.Context(), args[0], fl)
			}
			_, err := a.runFlowFile(cmd.Context(), args[0], fl)
			return err
		},
	}
	addRunFlags(cmd, &fl)
	cmd.Flags().StringVar(&fl.startURL, "url", "", "Start URL (overrides the flow's start_url)")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Re-run the flow when the file changes")
	return cmd
}

// runFlowFile loads, runs and prints one flow.
func (a *app) runFlowFile(ctx context.Context, path string, fl runFlags) (*engine.RunResult, error) {
	f, err := flow.Load(path)
	if err != nil {
		return nil, err
	}
	p, err := resolvePlan(a.cfg, f, fl)
	if err != nil {
		return nil, err
	}

	sinks, err := a.openSinks()
	if err != nil {
		return nil, err
	}
	defer sinks.close()

	res, err := a.execute(ctx, p, sinks)
	if res != nil {
		if perr := a.printResult(res); perr != nil {
			return res, perr
		}
	}
	return res, err
}

// execute runs one resolved plan.
func (a *app) execute(ctx context.Context, p plan, sinks *outcomeSinks) (*engine.RunResult, error) {
	runner, err := a.newRunner(p, sinks)
	if err != nil {
		return nil, err
	}
	log := a.logs.Get(logging.CategoryCLI)
	log.Info("running flow",
		zap.String("flow", p.file.Name),
		zap.String("path", p.file.Path),
		zap.String("driver", p.driver),
		zap.Int("steps", len(p.steps)))

	start := time.Now()
	res, err := runner.Run(ctx, p.run, p.steps)
	if res != nil {
		log.Info("flow finished",
			zap.String("flow", p.file.Name),
			zap.String("run", res.RunID),
			zap.String("outcome", res.Outcome()),
			zap.Duration("elapsed", time.Since(start)))
	}
	return res, err
}

func (a *app) printResult(res *engine.RunResult) error {
	if a.jsonOut {
		return writeJSON(a.stdout, res)
	}
	_, err := fmt.Fprint(a.stdout, renderSummary(res))
	return err
}
