package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a scenario without running it",
		Long: `Load and validate a scenario the same way run does, then print the
resulting profile. Nothing is sent to the target.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			scenario, err := buildScenario(cmd)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Scenario %q is valid\n", scenario.Name)
			fmt.Fprintf(out, "  Target:    %s\n", scenario.BaseURL)
			fmt.Fprintf(out, "  Duration:  %s\n", scenario.TotalDuration())
			fmt.Fprintf(out, "  Start VUs: %d, max VUs: %d\n", scenario.StartVUs, scenario.MaxTarget())
			for i, stage := range scenario.Stages {
				fmt.Fprintf(out, "  Stage %d:   %s -> %d VUs\n", i+1, stage.Duration, stage.Target)
			}
			return nil
		},
	}

	addScenarioFlags(cmd.Flags())
	return cmd
}
