package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/subdispatch/internal/ir"
)

// HashOptions holds flags for the hash command.
type HashOptions struct {
	*RootOptions
	Query     string
	QueryFile string
	Variables string
}

// HashResult is the output of the hash command.
type HashResult struct {
	Hash      string         `json:"hash"`
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

// NewHashCommand creates the hash command.
func NewHashCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HashOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "hash",
		Short: "Compute the subscription hash of a query and variables",
		Long: `Compute the content-addressed hash the engine assigns to a subscription.

Subscriptions with equal hashes share one execution per trigger. Variable
key order does not affect the hash; query whitespace does.

Examples:
  subdispatch hash --query 'subscription { user { name } }'
  subdispatch hash --query-file ./user.graphql --vars '{"name":"Rohde"}'`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHash(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Query, "query", "", "subscription query text")
	cmd.Flags().StringVar(&opts.QueryFile, "query-file", "", "read the query from a file")
	cmd.Flags().StringVar(&opts.Variables, "vars", "", "variables as a JSON object")
	cmd.MarkFlagsMutuallyExclusive("query", "query-file")

	return cmd
}

func runHash(opts *HashOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	query := opts.Query
	if opts.QueryFile != "" {
		data, err := os.ReadFile(opts.QueryFile)
		if err != nil {
			_ = formatter.Error(ErrCodeNotFound, err.Error(), &ErrorContext{Path: opts.QueryFile})
			return WrapExitError(ExitCommandError, "failed to read query file", err)
		}
		query = string(data)
	}
	if query == "" {
		_ = formatter.Error(ErrCodeInvalidArgs, "one of --query or --query-file is required", nil)
		return NewExitError(ExitCommandError, "one of --query or --query-file is required")
	}

	vars, err := parseVariables(opts.Variables)
	if err != nil {
		_ = formatter.Error(ErrCodeInvalidArgs, err.Error(), &ErrorContext{Path: opts.QueryFile})
		return WrapExitError(ExitCommandError, "invalid --vars", err)
	}

	hash, err := ir.SubscriptionHash(query, vars)
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), &ErrorContext{Path: opts.QueryFile})
		return WrapExitError(ExitCommandError, "failed to hash subscription", err)
	}

	if opts.Format == "json" {
		return formatter.Success(HashResult{Hash: hash, Query: query, Variables: vars})
	}

	fmt.Fprintln(formatter.Writer, hash)
	return nil
}

// parseVariables decodes a JSON object of variables. Numbers stay
// json.Number so that 20 and 20.0 hash the way the engine sees them.
func parseVariables(raw string) (map[string]any, error) {
	vars := map[string]any{}
	if strings.TrimSpace(raw) == "" {
		return vars, nil
	}

	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&vars); err != nil {
		return nil, fmt.Errorf("variables must be a JSON object: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("variables must be a single JSON object")
	}
	return vars, nil
}
