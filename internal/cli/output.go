package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Expectation or validation failure
	ExitCommandError = 2 // Command error (invalid paths, journal not found, etc.)
)

// Error codes reported in CLIError.Code.
const (
	ErrCodeGeneric         = "E001" // Generic/unknown error
	ErrCodeNotFound        = "E002" // Path not found
	ErrCodeInvalidScenario = "E003" // Scenario failed to parse or validate
	ErrCodeInvalidQuery    = "E004" // Subscription query rejected by the schema
	ErrCodeInvalidConfig   = "E005" // Configuration file rejected
	ErrCodeJournal         = "E006" // Journal could not be opened or read
	ErrCodeInvalidArgs     = "E007" // Bad command arguments
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the JSON envelope every command writes in --format json.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // command result
	Error  *CLIError `json:"error,omitempty"` // set when Status is "error"
}

// CLIError is the error part of a CLIResponse.
type CLIError struct {
	Code    string        `json:"code"` // ErrCode* constant
	Message string        `json:"message"`
	Context *ErrorContext `json:"context,omitempty"`
}

// ErrorContext names the scenario, trigger or file an error concerns.
// Only the fields a command knows are set.
type ErrorContext struct {
	Path      string `json:"path,omitempty"` // scenario, journal or query file
	Scenario  string `json:"scenario,omitempty"`
	TriggerID string `json:"trigger_id,omitempty"`
}

// lines renders the set fields as "key: value" pairs in a fixed order.
func (c *ErrorContext) lines() []string {
	if c == nil {
		return nil
	}
	var out []string
	for _, kv := range [][2]string{
		{"path", c.Path},
		{"scenario", c.Scenario},
		{"trigger", c.TriggerID},
	} {
		if kv[1] != "" {
			out = append(out, kv[0]+": "+kv[1])
		}
	}
	return out
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return f.JSON(CLIResponse{Status: "ok", Data: data})
	}
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format. In text mode the
// context is printed only with --verbose.
func (f *OutputFormatter) Error(code, message string, ctx *ErrorContext) error {
	if f.Format == "json" {
		return f.JSON(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: message, Context: ctx},
		})
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose {
		for _, line := range ctx.lines() {
			fmt.Fprintf(f.Writer, "  %s\n", line)
		}
	}
	return nil
}

// JSON writes an indented response.
func (f *OutputFormatter) JSON(response CLIResponse) error {
	encoder := json.NewEncoder(f.Writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(response)
}

// VerboseLog writes a diagnostic line when --verbose is set. It goes to
// ErrWriter when one is configured so JSON on Writer stays parseable.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}
