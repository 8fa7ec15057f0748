package queryir

import (
	"strconv"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/language/ast"

	"github.com/roach88/subdispatch/internal/ir"
)

// Extract returns the top-level fields selected by the subscription
// operation of doc, with arguments resolved against variables.
//
// Returns nil, nil when schema defines no subscription root type.
// Inline fragments and fragment spreads at the root are flattened.
// Arguments not declared on the schema field are ignored.
func Extract(schema *graphql.Schema, doc *ast.Document, variables map[string]any) ([]Field, error) {
	if schema == nil {
		return nil, &ir.ConfigurationError{Field: "schema", Message: "no GraphQL schema provided"}
	}
	root := schema.SubscriptionType()
	if root == nil {
		return nil, nil
	}
	if doc == nil {
		return nil, ir.NewValidationError("no document provided")
	}

	x := &extractor{
		root:      root,
		variables: variables,
		fragments: make(map[string]*ast.FragmentDefinition),
		fields:    []Field{},
	}

	var op *ast.OperationDefinition
	for _, def := range doc.Definitions {
		switch d := def.(type) {
		case *ast.OperationDefinition:
			if op == nil && d.Operation == ast.OperationTypeSubscription {
				op = d
			}
		case *ast.FragmentDefinition:
			if d.Name != nil {
				x.fragments[d.Name.Value] = d
			}
		}
	}
	if op == nil {
		return nil, ir.NewValidationError("document contains no subscription operation")
	}

	x.walk(op.SelectionSet, make(map[string]bool))
	if len(x.errors) > 0 {
		return nil, &ir.ValidationError{Messages: x.errors}
	}
	return x.fields, nil
}

// extractor accumulates fields and errors during traversal.
type extractor struct {
	root      *graphql.Object
	variables map[string]any
	fragments map[string]*ast.FragmentDefinition
	fields    []Field
	errors    []string
}

func (x *extractor) walk(set *ast.SelectionSet, visiting map[string]bool) {
	if set == nil {
		return
	}
	for _, sel := range set.Selections {
		switch s := sel.(type) {
		case *ast.Field:
			x.field(s)
		case *ast.InlineFragment:
			x.walk(s.SelectionSet, visiting)
		case *ast.FragmentSpread:
			name := s.Name.Value
			frag, ok := x.fragments[name]
			if !ok {
				x.errors = append(x.errors, `Unknown fragment "`+name+`".`)
				continue
			}
			if visiting[name] {
				continue
			}
			visiting[name] = true
			x.walk(frag.SelectionSet, visiting)
			delete(visiting, name)
		}
	}
}

func (x *extractor) field(f *ast.Field) {
	name := f.Name.Value
	if len(name) > 1 && name[:2] == "__" {
		return
	}

	def, ok := x.root.Fields()[name]
	if !ok {
		x.errors = append(x.errors, `Cannot query field "`+name+`" on type "`+x.root.Name()+`".`)
		return
	}

	declared := make(map[string]bool, len(def.Args))
	for _, a := range def.Args {
		declared[a.Name()] = true
	}

	args := make(map[string]any)
	for _, arg := range f.Arguments {
		argName := arg.Name.Value
		if !declared[argName] {
			continue
		}
		if v, ok := x.value(arg.Value); ok {
			args[argName] = v
		}
	}

	out := Field{Name: name, Args: args}
	if f.Alias != nil {
		out.Alias = f.Alias.Value
	}
	x.fields = append(x.fields, out)
}

// value converts an AST value to a Go value. The second result is false
// when the value is a variable that was not supplied.
func (x *extractor) value(v ast.Value) (any, bool) {
	switch val := v.(type) {
	case *ast.Variable:
		got, ok := x.variables[val.Name.Value]
		return got, ok
	case *ast.IntValue:
		n, err := strconv.ParseInt(val.Value, 10, 64)
		if err != nil {
			f, _ := strconv.ParseFloat(val.Value, 64)
			return f, true
		}
		return n, true
	case *ast.FloatValue:
		f, err := strconv.ParseFloat(val.Value, 64)
		if err != nil {
			x.errors = append(x.errors, "invalid float literal "+val.Value)
			return nil, false
		}
		return f, true
	case *ast.StringValue:
		return val.Value, true
	case *ast.BooleanValue:
		return val.Value, true
	case *ast.EnumValue:
		return val.Value, true
	case *ast.ListValue:
		out := make([]any, 0, len(val.Values))
		for _, item := range val.Values {
			// A missing variable inside a list becomes null.
			got, _ := x.value(item)
			out = append(out, got)
		}
		return out, true
	case *ast.ObjectValue:
		out := make(map[string]any, len(val.Fields))
		for _, field := range val.Fields {
			if got, ok := x.value(field.Value); ok {
				out[field.Name.Value] = got
			}
		}
		return out, true
	default:
		return nil, false
	}
}
