package ir

import (
	"errors"
	"fmt"
	"strings"
)

// ConfigurationError reports invalid constructor arguments.
// It is fatal at construction and never recovered.
type ConfigurationError struct {
	// Field names the offending argument or configuration key.
	Field string

	// Message is a human-readable description.
	Message string
}

func (e *ConfigurationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Message)
	}
	return "configuration error: " + e.Message
}

// InvalidArgumentError reports a malformed call to a public operation.
// It is returned to the immediate caller and affects no other work.
type InvalidArgumentError struct {
	Argument string
	Message  string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid argument %s: %s", e.Argument, e.Message)
}

// ValidationError reports a query document that is not valid against the
// schema, or a schema that cannot serve subscriptions.
type ValidationError struct {
	// Messages holds one entry per validation failure, in report order.
	Messages []string
}

func (e *ValidationError) Error() string {
	if len(e.Messages) == 0 {
		return "validation failed"
	}
	return strings.Join(e.Messages, "; ")
}

// NewValidationError creates a ValidationError from formatted text.
func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Messages: []string{fmt.Sprintf(format, args...)}}
}

// ExecutionError reports a query engine failure while resolving data.
type ExecutionError struct {
	// Hash identifies the subscription whose execution failed, when known.
	Hash string

	// Messages holds the engine's error messages, in report order.
	Messages []string
}

func (e *ExecutionError) Error() string {
	msg := "execution failed"
	if len(e.Messages) > 0 {
		msg = strings.Join(e.Messages, "; ")
	}
	if e.Hash != "" {
		return fmt.Sprintf("%s (hash=%s)", msg, e.Hash)
	}
	return msg
}

// IsConfigurationError reports whether err wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsInvalidArgument reports whether err wraps an InvalidArgumentError.
func IsInvalidArgument(err error) bool {
	var ie *InvalidArgumentError
	return errors.As(err, &ie)
}

// IsValidationError reports whether err wraps a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsExecutionError reports whether err wraps an ExecutionError.
func IsExecutionError(err error) bool {
	var ee *ExecutionError
	return errors.As(err, &ee)
}
