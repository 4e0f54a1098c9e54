package main

import (
	"errors"
	"fmt"

	"uipilot/internal/flow"

	"github.com/spf13/cobra"
)

// =============================================================================
// VALIDATE COMMAND - Parse flow files without launching a browser
// =============================================================================

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [flow.yaml...]",
		Short: "Check flow files for errors",
		Long: `Parses each flow file and checks every step, locator and condition, then
resolves it against the config. No browser is launched.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var errs []error
			for _, path := range args {
				f, err := flow.Load(path)
				if err == nil {
					_, err = resolvePlan(a.cfg, f, runFlags{})
				}
				if err != nil {
					fmt.Fprintf(a.stdout, "%s  %s\n", failStyle.Render("FAIL"), err)
					errs = append(errs, err)
					continue
				}
				fmt.Fprintf(a.stdout, "%s  %s (%s, %d steps)\n", okStyle.Render("ok"), path, f.Name, len(f.Steps))
			}
			if len(errs) > 0 {
				return fmt.Errorf("%d of %d flows invalid: %w", len(errs), len(args), errors.Join(errs...))
			}
			return nil
		},
	}
}
