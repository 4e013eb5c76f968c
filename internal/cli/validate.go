package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/ramp/internal/config"
	"github.com/wesleyorama2/ramp/internal/ramp"
)

func newValidateCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "validate [plan-file]",
		Short: "Check a plan file without sending any request",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				configFile = args[0]
			}
			if configFile == "" {
				return usageErrorf("a plan file is required")
			}
			return validatePlan(cmd, configFile)
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "plan file (YAML or JSON)")
	return cmd
}

func validatePlan(cmd *cobra.Command, path string) error {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return err
	}
	config.ApplyDefaults(cfg)

	plan, opts, err := cfg.ToPlan()
	if err != nil {
		return err
	}

	schedule, err := ramp.NewSchedule(plan.Stages)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s is valid\n", path)
	fmt.Fprintf(out, "  target:   %s %s\n", plan.Target.Method, plan.Target.URL)
	fmt.Fprintf(out, "  stages:   %d, %s total\n", len(plan.Stages), schedule.Total())
	fmt.Fprintf(out, "  peak VUs: %d\n", schedule.MaxTarget())
	fmt.Fprintf(out, "  tick:     %s, graceful stop %s\n", opts.TickInterval, opts.GracefulStop)
	return nil
}
