package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/subdispatch/internal/harness"
	"github.com/roach88/subdispatch/internal/ir"
	"github.com/roach88/subdispatch/internal/journal"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Journal string
	Timeout time.Duration
}

// RunDelivery is one delivery in the run output.
type RunDelivery struct {
	Seq        int64  `json:"seq"`
	TriggerID  string `json:"trigger_id"`
	Subscriber string `json:"subscriber"`
	Data       any    `json:"data"`
}

// RunResult is the outcome of the run command.
type RunResult struct {
	Scenario   string        `json:"scenario"`
	Pass       bool          `json:"pass"`
	Deliveries []RunDelivery `json:"deliveries"`
	Failure    string        `json:"failure,omitempty"`
	Failures   []string      `json:"failures,omitempty"`
	Errors     []string      `json:"errors,omitempty"`
	Stats      RunStats      `json:"stats"`
}

// RunStats summarizes a run.
type RunStats struct {
	Steps      int `json:"steps"`
	Triggers   int `json:"triggers"`
	Deliveries int `json:"deliveries"`
	Failures   int `json:"failures"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario>",
		Short: "Run a scenario through the engine",
		Long: `Run a scenario through the dispatch engine and flow control.

Steps execute in order; each run step waits until its results have been
delivered. With --journal (or journal in the config file) every delivery
and failure is recorded in a SQLite journal for later inspection with
trace.

Exit codes:
  0 - Scenario expectations held
  1 - One or more expectations failed
  2 - Command error (missing scenario, journal error, etc.)

Example:
  subdispatch run ./scenarios/visibility.yaml
  subdispatch run ./scenarios/visibility.yaml --journal ./deliveries.db --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarioFile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Journal, "journal", "", "path to SQLite delivery journal (overrides config)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", harness.DefaultSettleTimeout, "maximum wait for each run step")

	return cmd
}

func runScenarioFile(opts *RunOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	cfg := opts.LoadedConfig()

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		code := ErrCodeInvalidScenario
		if errors.Is(err, fs.ErrNotExist) {
			code = ErrCodeNotFound
		}
		_ = formatter.Error(code, err.Error(), &ErrorContext{Path: path})
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}

	engineOpts, err := cfg.EngineOptions()
	if err != nil {
		_ = formatter.Error(ErrCodeInvalidConfig, err.Error(), &ErrorContext{Path: opts.Config})
		return WrapExitError(ExitCommandError, "invalid config", err)
	}

	runOpts := []harness.Option{
		harness.WithEngineOptions(engineOpts...),
		harness.WithLogger(slog.Default()),
		harness.WithSettleTimeout(opts.Timeout),
	}

	journalPath := opts.Journal
	if journalPath == "" {
		journalPath = cfg.Journal
	}
	if journalPath != "" {
		slog.Info("opening journal", "path", journalPath)
		j, err := journal.Open(journalPath)
		if err != nil {
			_ = formatter.Error(ErrCodeJournal, err.Error(), &ErrorContext{Path: journalPath, Scenario: scenario.Name})
			return WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		defer func() {
			if closeErr := j.Close(); closeErr != nil {
				slog.Error("error closing journal", "error", closeErr)
			}
		}()
		runOpts = append(runOpts, harness.WithJournal(j))
	}

	formatter.VerboseLog("Running scenario %s (%d steps)", scenario.Name, len(scenario.Steps))

	result, err := harness.Run(scenario, runOpts...)
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), &ErrorContext{Path: path, Scenario: scenario.Name})
		return WrapExitError(ExitCommandError, "scenario execution failed", err)
	}

	out := buildRunResult(scenario, result)
	if opts.Format == "json" {
		if err := outputRunJSON(formatter, out); err != nil {
			return err
		}
	} else {
		outputRunText(formatter, out)
	}

	if !out.Pass {
		return NewExitError(ExitFailure, fmt.Sprintf("%d expectation(s) failed", len(out.Errors)))
	}
	return nil
}

func buildRunResult(scenario *harness.Scenario, result *harness.Result) RunResult {
	out := RunResult{
		Scenario:   scenario.Name,
		Pass:       result.Pass,
		Deliveries: make([]RunDelivery, 0, len(result.Deliveries)),
		Failure:    result.Failure,
		Failures:   result.Failures,
		Errors:     result.Errors,
	}

	for _, d := range result.Deliveries {
		out.Deliveries = append(out.Deliveries, RunDelivery{
			Seq:        d.Seq,
			TriggerID:  d.TriggerID,
			Subscriber: d.Subscriber,
			Data:       d.Data,
		})
	}

	out.Stats.Steps = len(scenario.Steps)
	for _, ev := range result.Trace {
		if ev.Type == harness.EventRun && ev.OK {
			out.Stats.Triggers++
		}
	}
	out.Stats.Deliveries = len(result.Deliveries)
	out.Stats.Failures = len(result.Failures)

	return out
}

// outputRunJSON outputs the run result as JSON.
func outputRunJSON(formatter *OutputFormatter, result RunResult) error {
	response := CLIResponse{
		Status: "ok",
		Data:   result,
	}
	if !result.Pass {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    "E_EXPECTATION_FAILED",
			Message: fmt.Sprintf("%d expectation(s) failed", len(result.Errors)),
			Context: &ErrorContext{Scenario: result.Scenario, TriggerID: firstTrigger(result)},
		}
	}
	return formatter.JSON(response)
}

// firstTrigger returns the trigger of the first delivery, which is where a
// reader starts when an expectation fails.
func firstTrigger(result RunResult) string {
	if len(result.Deliveries) == 0 {
		return ""
	}
	return result.Deliveries[0].TriggerID
}

// outputRunText outputs the run result as text.
func outputRunText(formatter *OutputFormatter, result RunResult) {
	w := formatter.Writer

	fmt.Fprintf(w, "Scenario: %s\n", result.Scenario)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Deliveries ===")
	if len(result.Deliveries) == 0 {
		fmt.Fprintln(w, "  (no deliveries)")
	}
	for _, d := range result.Deliveries {
		fmt.Fprintf(w, "  [%d] %s -> %s %s\n", d.Seq, d.TriggerID, d.Subscriber, formatData(d.Data))
	}
	fmt.Fprintln(w)

	if len(result.Failures) > 0 {
		fmt.Fprintln(w, "=== Failures ===")
		for _, f := range result.Failures {
			fmt.Fprintf(w, "  %s\n", f)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Steps:      %d\n", result.Stats.Steps)
	fmt.Fprintf(w, "  Triggers:   %d\n", result.Stats.Triggers)
	fmt.Fprintf(w, "  Deliveries: %d\n", result.Stats.Deliveries)
	fmt.Fprintf(w, "  Failures:   %d\n", result.Stats.Failures)
	fmt.Fprintln(w)

	if result.Pass {
		fmt.Fprintln(w, "✓ All expectations held")
		return
	}
	fmt.Fprintln(w, "✗ Expectations failed")
	for _, e := range result.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
}

// formatData renders a result payload as canonical JSON for stable output.
func formatData(data any) string {
	raw, err := ir.MarshalCanonical(data)
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(raw)
}
