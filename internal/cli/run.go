package cli

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/wesleyorama2/rampvu/internal/loadgen/config"
	"github.com/wesleyorama2/rampvu/internal/loadgen/engine"
	"github.com/wesleyorama2/rampvu/internal/loadgen/output"
)

// DefaultStages is the profile used when neither --config nor --stages is
// given: ramp to 10 VUs over 2s, jump to 100 and hold for 28s.
const DefaultStages = "2s:10,0:100,28s:100"

// progressInterval is how often the live status line is printed.
var progressInterval = time.Second

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a ramping load test",
		Long: `Run a ramping load test against a message service.

The scenario is read from a YAML file with --config, or built from flags.
Flags given alongside --config override the file.

Examples:
  rampvu run --base-url http://localhost:1323
  rampvu run --base-url http://localhost:1323 --stages "30s:10,1m:50,30s:0"
  rampvu run -c scenario.yaml --json > report.json`,
		Args: cobra.NoArgs,
		RunE: runLoadTest,
	}

	addScenarioFlags(cmd.Flags())
	cmd.Flags().Bool("json", false, "Print the final report as JSON")
	cmd.Flags().BoolP("quiet", "q", false, "Only print PASSED or FAILED")
	cmd.Flags().Bool("no-color", false, "Disable colored output")
	return cmd
}

// addScenarioFlags registers the flags shared by run and validate.
func addScenarioFlags(f *pflag.FlagSet) {
	f.StringP("config", "c", "", "Scenario file (YAML)")
	f.String("name", "", "Scenario name")
	f.String("base-url", "", "Base URL of the message service")
	f.String("stages", "", "Stages as duration:target pairs (default \""+DefaultStages+"\")")
	f.Int("start-vus", 1, "VU count before the first stage")
	f.String("think-time", "", "Pause between iterations (e.g. 100ms)")
	f.String("tick", "", "How often the VU count is recomputed (e.g. 1s)")
	f.String("drain-timeout", "", "How long to wait for VUs to stop (e.g. 30s)")
	f.String("request-timeout", "", "HTTP request timeout (e.g. 30s)")
	f.String("message", "", "Message text sent in every POST")
	f.Bool("no-timestamp", false, "Send GET without the timestamp returned by POST")
	f.Bool("validate-schema", false, "Check the POST response against the message schema")
}

// buildScenario loads --config or builds a scenario from flags, applies
// any overrides and validates the result.
func buildScenario(cmd *cobra.Command) (*config.Scenario, error) {
	f := cmd.Flags()
	path, _ := f.GetString("config")

	var scenario *config.Scenario
	if path != "" {
		s, err := config.LoadFile(path)
		if err != nil {
			return nil, err
		}
		scenario = s
	} else {
		baseURL, _ := f.GetString("base-url")
		startVUs, _ := f.GetInt("start-vus")
		stages, err := config.ParseStages(DefaultStages)
		if err != nil {
			return nil, err
		}
		scenario = config.NewScenario(baseURL, startVUs, stages...)
	}

	errs := &config.ConfigurationError{}

	if f.Changed("name") {
		scenario.Name, _ = f.GetString("name")
	}
	if f.Changed("base-url") {
		scenario.BaseURL, _ = f.GetString("base-url")
	}
	if f.Changed("start-vus") {
		scenario.StartVUs, _ = f.GetInt("start-vus")
	}
	if f.Changed("stages") {
		raw, _ := f.GetString("stages")
		stages, err := config.ParseStages(raw)
		if err != nil {
			return nil, err
		}
		scenario.Stages = stages
	}
	if f.Changed("message") {
		scenario.Message, _ = f.GetString("message")
	}
	if noTS, _ := f.GetBool("no-timestamp"); noTS {
		scenario.TimestampDependency = false
	}
	if schema, _ := f.GetBool("validate-schema"); schema {
		scenario.ValidateSchema = true
	}

	durationFlag(cmd, "think-time", "thinkTime", &scenario.ThinkTime, errs)
	durationFlag(cmd, "tick", "tick", &scenario.ControlTick, errs)
	durationFlag(cmd, "drain-timeout", "gracefulStop", &scenario.DrainTimeout, errs)
	durationFlag(cmd, "request-timeout", "requestTimeout", &scenario.RequestTimeout, errs)

	if errs.HasErrors() {
		return nil, errs
	}
	if err := scenario.Validate(); err != nil {
		return nil, err
	}
	return scenario, nil
}

func durationFlag(cmd *cobra.Command, flag, field string, dst *time.Duration, errs *config.ConfigurationError) {
	if !cmd.Flags().Changed(flag) {
		return
	}
	raw, _ := cmd.Flags().GetString(flag)
	d, err := config.ParseDurationString(raw)
	if err != nil {
		errs.Add(field, fmt.Sprintf("invalid duration: %v", err))
		return
	}
	*dst = d
}

func runLoadTest(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	quiet, _ := cmd.Flags().GetBool("quiet")
	noColor, _ := cmd.Flags().GetBool("no-color")

	log, err := newLogger(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	scenario, err := buildScenario(cmd)
	if err != nil {
		return err
	}

	ctrl, err := engine.New(scenario, engine.WithLogger(log))
	if err != nil {
		return err
	}

	console := output.NewConsoleOutput(output.ConsoleOutputConfig{
		Writer:   cmd.OutOrStdout(),
		Quiet:    quiet || jsonOutput,
		NoColors: noColor,
	})
	console.PrintHeader(scenario.Name, scenario.BaseURL, scenario.TotalDuration(), scenario.MaxTarget())

	// SIGINT and SIGTERM end the ramp early and drain the pool
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	var wg sync.WaitGroup
	if !quiet && !jsonOutput {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reportProgress(done, ctrl, console)
		}()
	}

	report, err := ctrl.Run(ctx)
	close(done)
	wg.Wait()
	if err != nil {
		return fmt.Errorf("load test failed: %w", err)
	}

	if ctx.Err() != nil {
		log.Warn("run interrupted by signal")
	}

	if jsonOutput {
		if err := output.WriteJSON(cmd.OutOrStdout(), report); err != nil {
			return err
		}
	} else {
		console.PrintSummary(report)
	}

	if !report.Passed() {
		log.Debug("checks failed", zap.Int64("checks_failed", report.ChecksFailed))
		return ErrChecksFailed
	}
	return nil
}

func reportProgress(done <-chan struct{}, ctrl *engine.Controller, console *output.ConsoleOutput) {
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if ctrl.Running() {
				console.PrintProgress(output.StatsFromController(ctrl))
			}
		}
	}
}
