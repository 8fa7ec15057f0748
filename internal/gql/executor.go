package gql

import (
	"context"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/gqlerrors"
	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/parser"

	"github.com/roach88/subdispatch/internal/ir"
)

// Executor parses and executes documents against one schema.
//
// Thread-safety: Executor is stateless beyond the schema and safe for
// concurrent use.
type Executor struct {
	schema *graphql.Schema
}

// NewExecutor creates an Executor bound to schema.
// Returns a ConfigurationError when schema is nil.
func NewExecutor(schema *graphql.Schema) (*Executor, error) {
	if schema == nil {
		return nil, &ir.ConfigurationError{Field: "schema", Message: "no GraphQL schema provided"}
	}
	return &Executor{schema: schema}, nil
}

// Schema returns the schema the executor is bound to.
func (x *Executor) Schema() *graphql.Schema {
	return x.schema
}

// Parse parses query and validates it against the schema.
// Syntax errors and validation failures are returned as *ir.ValidationError.
func (x *Executor) Parse(query string) (*ast.Document, error) {
	doc, err := parser.Parse(parser.ParseParams{Source: query})
	if err != nil {
		return nil, &ir.ValidationError{Messages: []string{parseMessage(err)}}
	}

	result := graphql.ValidateDocument(x.schema, doc, nil)
	if !result.IsValid {
		return nil, &ir.ValidationError{Messages: messages(result.Errors)}
	}

	return doc, nil
}

// Execute runs doc with variables and root.
// Any reported GraphQL error is returned as *ir.ExecutionError and the
// data is discarded.
func (x *Executor) Execute(ctx context.Context, doc *ast.Document, variables map[string]any, root any) (any, error) {
	if doc == nil {
		return nil, ir.NewValidationError("no document to execute")
	}

	result := graphql.Execute(graphql.ExecuteParams{
		Schema:  *x.schema,
		Root:    root,
		AST:     doc,
		Args:    variables,
		Context: ctx,
	})
	if result.HasErrors() {
		return nil, &ir.ExecutionError{Messages: messages(result.Errors)}
	}

	return result.Data, nil
}

func messages(errs []gqlerrors.FormattedError) []string {
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, e.Message)
	}
	return out
}

func parseMessage(err error) string {
	if ge, ok := err.(*gqlerrors.Error); ok {
		return ge.Message
	}
	return err.Error()
}
