package cli

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/spf13/cobra"

	"github.com/roach88/subdispatch/internal/gql"
	"github.com/roach88/subdispatch/internal/harness"
	"github.com/roach88/subdispatch/internal/queryir"
)

// ValidationIssue is one problem found in a scenario.
type ValidationIssue struct {
	Step    int    `json:"step,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid         bool              `json:"valid"`
	Scenario      string            `json:"scenario,omitempty"`
	Subscriptions int               `json:"subscriptions"`
	Errors        []ValidationIssue `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <scenario>",
		Short: "Validate a scenario without running it",
		Long: `Validate a scenario file without starting the engine.

Checks the scenario structure, builds its schema and parses every
subscription query against it. Faster than run for authoring feedback.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return outputValidateError(formatter, ErrCodeNotFound, fmt.Sprintf("scenario not found: %s", path), path)
		}
		return outputValidationErrors(formatter, ValidationResult{
			Errors: []ValidationIssue{{Code: ErrCodeInvalidScenario, Message: err.Error()}},
		})
	}

	formatter.VerboseLog("Loaded scenario %s with %d step(s)", scenario.Name, len(scenario.Steps))

	result := validateScenario(scenario, formatter)
	if len(result.Errors) > 0 {
		return outputValidationErrors(formatter, result)
	}

	return outputValidateSuccess(formatter, result)
}

// validateScenario builds the scenario schema and checks every subscribe
// step's query the way the engine would on first subscription.
func validateScenario(scenario *harness.Scenario, formatter *OutputFormatter) ValidationResult {
	result := ValidationResult{Scenario: scenario.Name}

	schema, err := gql.BuildEchoSchema(scenario.Schema)
	if err != nil {
		result.Errors = append(result.Errors, ValidationIssue{Code: ErrCodeInvalidScenario, Message: err.Error()})
		return result
	}

	executor, err := gql.NewExecutor(schema)
	if err != nil {
		result.Errors = append(result.Errors, ValidationIssue{Code: ErrCodeGeneric, Message: err.Error()})
		return result
	}

	for i, step := range scenario.Steps {
		if step.Action != harness.ActionSubscribe {
			continue
		}
		n := i + 1
		formatter.VerboseLog("Checking step %d query", n)

		doc, err := executor.Parse(step.Query)
		if err != nil {
			result.Errors = append(result.Errors, ValidationIssue{Step: n, Code: ErrCodeInvalidQuery, Message: err.Error()})
			continue
		}

		fields, err := queryir.Extract(schema, doc, step.Variables)
		if err != nil {
			result.Errors = append(result.Errors, ValidationIssue{Step: n, Code: ErrCodeInvalidQuery, Message: err.Error()})
			continue
		}
		if fields == nil {
			result.Errors = append(result.Errors, ValidationIssue{
				Step:    n,
				Code:    ErrCodeInvalidScenario,
				Message: "schema declares no subscription fields",
			})
			continue
		}

		result.Subscriptions++
	}

	return result
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, result ValidationResult) error {
	result.Valid = true
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "✓ Scenario %s valid (%d subscription query(s))\n", result.Scenario, result.Subscriptions)
	return nil
}

// outputValidateError outputs a single command-level error.
func outputValidateError(formatter *OutputFormatter, code, message, path string) error {
	_ = formatter.Error(code, message, &ErrorContext{Path: path})
	// Missing inputs are command-level errors (exit code 2)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationErrors outputs every issue found.
func outputValidationErrors(formatter *OutputFormatter, result ValidationResult) error {
	errs := result.Errors
	if formatter.Format == "json" {
		if err := formatter.JSON(CLIResponse{
			Status: "error",
			Data:   result,
			Error: &CLIError{
				Code:    errs[0].Code,
				Message: errs[0].Message,
				Context: &ErrorContext{Scenario: result.Scenario},
			},
		}); err != nil {
			return err
		}

		// Validation failures = exit code 1
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, issue := range errs {
		if issue.Step > 0 {
			fmt.Fprintf(formatter.Writer, "step %d\n", issue.Step)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", issue.Code, issue.Message)
	}

	// Validation failures = exit code 1
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
