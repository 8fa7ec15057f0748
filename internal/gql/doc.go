// Package gql adapts github.com/graphql-go/graphql to the dispatch engine.
//
// The engine treats the query language as an opaque capability with two
// operations: Parse a document against a schema, and Execute a parsed
// document with variables and a root value. This package provides that
// capability and maps GraphQL failures onto the engine's error taxonomy:
//
//	syntax or schema mismatch   -> *ir.ValidationError   (Parse)
//	variable coercion, resolver -> *ir.ExecutionError    (Execute)
//
// A result carrying both data and errors counts as a failure; callers never
// see partial payloads.
//
// It also builds "echo" schemas from a small declarative definition. Echo
// resolvers return the trigger root merged with the field arguments, which
// is what the scenario harness, the CLI and the tests need to exercise the
// engine without host-specific resolvers.
package gql
