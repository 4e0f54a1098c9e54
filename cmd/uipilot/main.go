// Package main implements the uipilot CLI.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"uipilot/internal/config"
	"uipilot/internal/engine"
	"uipilot/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// app carries the state shared by every command of one invocation.
type app struct {
	// Global flags
	configPath string
	verbose    bool
	logLevel   string
	jsonOut    bool

	cfg  *config.Config
	logs *logging.Logger

	stdout io.Writer
	stderr io.Writer
}

// exitCode maps a command error to the process status. Errors that carry no
// run failure are usage or config errors.
func exitCode(err error) int {
	return engine.ExitCode(err)
}

// newRootCmd builds the command tree. Output goes to stdout and stderr.
func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr, logs: logging.Nop()}

	rootCmd := &cobra.Command{
		Use:   "uipilot",
		Short: "uipilot - DOM-driven browser flow runner",
		Long: `uipilot drives a real browser through named steps declared in a YAML flow
file: navigate, click, type, wait and extract. Elements are found by CSS,
visible text or XPath and polled until they appear, so flows survive slow
dashboards without fixed sleeps. Every failure leaves a screenshot and a
page text excerpt behind.

Exit codes: 0 completed, 2 failed at step, 3 timed out,
4 session launch error, 5 navigation error, 1 usage or config error.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logs != nil {
				_ = a.logs.Sync()
			}
		},
	}

	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", filepath.Join(".uipilot", "config.yaml"), "Path to the config file")
	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level override (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&a.jsonOut, "json", false, "Print results as JSON")

	rootCmd.AddCommand(
		newRunCmd(a),
		newBatchCmd(a),
		newValidateCmd(a),
		newHistoryCmd(a),
	)

	return rootCmd
}

// setup loads config and builds the loggers.
func (a *app) setup() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", a.configPath, err)
	}

	logs, err := logging.New(cfg.Logging, a.verbose)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.cfg = cfg
	a.logs = logs
	logs.Get(logging.CategoryBoot).Debug("config loaded",
		zap.String("path", a.configPath),
		zap.String("driver", cfg.Browser.Driver),
		zap.Bool("history", cfg.History.Enabled),
		zap.Bool("metrics", cfg.Metrics.Enabled))
	return nil
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	rootCmd := newRootCmd(os.Stdout, os.Stderr)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		signal.Stop(sigCh)
		cancel()
		os.Exit(exitCode(err))
	}
}
