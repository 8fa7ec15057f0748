// Package queryir extracts the top-level subscription field invocations
// from a parsed GraphQL document.
//
// A subscription document is reduced to the list of root fields it selects,
// each with the concrete argument values it was invoked with:
//
//	subscription($name: String!) { user(name: $name, age: 20) { name } }
//
// with variables {"name": "Rohde"} yields
//
//	[]Field{{Name: "user", Args: map[string]any{"name": "Rohde", "age": int64(20)}}}
//
// Extract distinguishes a schema that cannot serve subscriptions at all
// (nil result, nil error) from a document that selects nothing (empty
// result). Malformed documents are reported as *ir.ValidationError.
//
// Extract is a pure function with no side effects.
package queryir
