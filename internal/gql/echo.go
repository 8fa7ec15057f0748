package gql

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/graphql-go/graphql"
)

// FieldDef declares one root field of an echo schema.
type FieldDef struct {
	// Name is the root field name (e.g. "user").
	Name string `yaml:"name" json:"name"`

	// Args maps argument names to type references ("String", "Int!", "[ID]").
	Args map[string]string `yaml:"args,omitempty" json:"args,omitempty"`

	// Returns maps the fields of the result object to scalar type references.
	Returns map[string]string `yaml:"returns" json:"returns"`
}

// SchemaDef declares an echo schema.
// Subscriptions and queries share the same field shapes; a definition with no
// subscriptions yields a schema without a subscription root.
type SchemaDef struct {
	Subscriptions []FieldDef `yaml:"subscriptions,omitempty" json:"subscriptions,omitempty"`
	Queries       []FieldDef `yaml:"queries,omitempty" json:"queries,omitempty"`
}

// BuildEchoSchema builds an executable schema whose resolvers return the
// root value merged with the field arguments. Arguments win on conflicts.
//
// GraphQL requires a query root; when def declares no queries, the
// subscription fields are mirrored onto it.
func BuildEchoSchema(def SchemaDef) (*graphql.Schema, error) {
	types := make(map[string]*graphql.Object)

	queries := def.Queries
	if len(queries) == 0 {
		queries = def.Subscriptions
	}
	if len(queries) == 0 {
		return nil, fmt.Errorf("echo schema needs at least one field")
	}

	queryFields, err := buildFields(queries, types)
	if err != nil {
		return nil, fmt.Errorf("query root: %w", err)
	}

	cfg := graphql.SchemaConfig{
		Query: graphql.NewObject(graphql.ObjectConfig{Name: "QueryType", Fields: queryFields}),
	}

	if len(def.Subscriptions) > 0 {
		subFields, err := buildFields(def.Subscriptions, types)
		if err != nil {
			return nil, fmt.Errorf("subscription root: %w", err)
		}
		cfg.Subscription = graphql.NewObject(graphql.ObjectConfig{Name: "SubscriptionType", Fields: subFields})
	}

	schema, err := graphql.NewSchema(cfg)
	if err != nil {
		return nil, fmt.Errorf("build schema: %w", err)
	}
	return &schema, nil
}

func buildFields(defs []FieldDef, types map[string]*graphql.Object) (graphql.Fields, error) {
	fields := graphql.Fields{}
	for _, def := range defs {
		if def.Name == "" {
			return nil, fmt.Errorf("field name is required")
		}
		if len(def.Returns) == 0 {
			return nil, fmt.Errorf("field %q: returns is required", def.Name)
		}

		obj, err := resultType(def, types)
		if err != nil {
			return nil, err
		}

		args := graphql.FieldConfigArgument{}
		for _, name := range sortedNames(def.Args) {
			t, err := inputType(def.Args[name])
			if err != nil {
				return nil, fmt.Errorf("field %q arg %q: %w", def.Name, name, err)
			}
			args[name] = &graphql.ArgumentConfig{Type: t}
		}

		fields[def.Name] = &graphql.Field{
			Type:    obj,
			Args:    args,
			Resolve: echoResolve,
		}
	}
	return fields, nil
}

// resultType returns the object type for a field, shared between roots so
// that the schema holds a single type per name.
func resultType(def FieldDef, types map[string]*graphql.Object) (*graphql.Object, error) {
	name := typeName(def.Name)
	if obj, ok := types[name]; ok {
		return obj, nil
	}

	fields := graphql.Fields{}
	for _, fname := range sortedNames(def.Returns) {
		t, err := outputType(def.Returns[fname])
		if err != nil {
			return nil, fmt.Errorf("field %q returns %q: %w", def.Name, fname, err)
		}
		fields[fname] = &graphql.Field{Type: t}
	}

	obj := graphql.NewObject(graphql.ObjectConfig{Name: name, Fields: fields})
	types[name] = obj
	return obj, nil
}

func echoResolve(p graphql.ResolveParams) (interface{}, error) {
	merged := make(map[string]interface{})
	if src, ok := p.Source.(map[string]interface{}); ok {
		for k, v := range src {
			merged[k] = v
		}
	}
	for k, v := range p.Args {
		merged[k] = v
	}
	return merged, nil
}

func scalar(name string) (*graphql.Scalar, error) {
	switch name {
	case "String":
		return graphql.String, nil
	case "Int":
		return graphql.Int, nil
	case "Float":
		return graphql.Float, nil
	case "Boolean":
		return graphql.Boolean, nil
	case "ID":
		return graphql.ID, nil
	default:
		return nil, fmt.Errorf("unknown scalar %q", name)
	}
}

// inputType parses a type reference such as "String", "Int!" or "[ID!]".
func inputType(ref string) (graphql.Input, error) {
	t, err := parseTypeRef(strings.TrimSpace(ref))
	if err != nil {
		return nil, err
	}
	return t.(graphql.Input), nil
}

func outputType(ref string) (graphql.Output, error) {
	t, err := parseTypeRef(strings.TrimSpace(ref))
	if err != nil {
		return nil, err
	}
	return t.(graphql.Output), nil
}

func parseTypeRef(ref string) (graphql.Type, error) {
	if ref == "" {
		return nil, fmt.Errorf("empty type reference")
	}
	if strings.HasSuffix(ref, "!") {
		inner, err := parseTypeRef(strings.TrimSuffix(ref, "!"))
		if err != nil {
			return nil, err
		}
		return graphql.NewNonNull(inner), nil
	}
	if strings.HasPrefix(ref, "[") && strings.HasSuffix(ref, "]") {
		inner, err := parseTypeRef(ref[1 : len(ref)-1])
		if err != nil {
			return nil, err
		}
		return graphql.NewList(inner), nil
	}
	return scalar(ref)
}

func typeName(field string) string {
	r := []rune(field)
	r[0] = unicode.ToUpper(r[0])
	return string(r) + "Type"
}

func sortedNames(m map[string]string) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
