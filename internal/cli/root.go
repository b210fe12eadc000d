package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wesleyorama2/rampvu/internal/logger"
)

var version = "0.1.0"

// ErrChecksFailed is returned by the run command when the run finished but
// at least one check failed. The summary has already been printed.
var ErrChecksFailed = errors.New("one or more checks failed")

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "rampvu",
		Short:   "Ramping virtual-user load generator for message APIs",
		Version: version,
		Long: `rampvu ramps a pool of virtual users up and down against a message
service. Each VU posts a message, reads it back using the returned
timestamp, and records checks and latencies until the profile ends.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Run: func(cmd *cobra.Command, args []string) {
			// If no subcommand is provided, print help
			cmd.Help()
		},
	}

	root.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().Bool("log-json", false, "Write logs as JSON")

	root.AddCommand(newRunCmd())
	root.AddCommand(newValidateCmd())
	return root
}

// Execute runs the root command. This is called by main.main(). Errors
// other than failed checks are printed to stderr.
func Execute() error {
	err := NewRootCmd().Execute()
	if err != nil && !errors.Is(err, ErrChecksFailed) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}

// newLogger builds the logger from the persistent flags. Logs go to the
// command's stderr so stdout stays clean for --json.
func newLogger(cmd *cobra.Command) (*zap.Logger, error) {
	level, _ := cmd.Flags().GetString("log-level")
	jsonLogs, _ := cmd.Flags().GetBool("log-json")

	return logger.New(logger.Settings{
		Level:  level,
		JSON:   jsonLogs,
		Output: cmd.ErrOrStderr(),
	})
}
