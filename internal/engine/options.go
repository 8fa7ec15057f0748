package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/graphql-go/graphql/language/ast"
	"github.com/rcrowley/go-metrics"

	"github.com/roach88/subdispatch/internal/ir"
)

// QueryExecutor is the query engine capability the pipeline consumes.
// Implemented by gql.Executor.
type QueryExecutor interface {
	// Parse parses and validates query. Fails with *ir.ValidationError.
	Parse(query string) (*ast.Document, error)

	// Execute runs doc. Fails with *ir.ExecutionError.
	Execute(ctx context.Context, doc *ast.Document, variables map[string]any, root any) (any, error)
}

// FailurePolicy decides what a query execution failure does to the stream.
type FailurePolicy int

const (
	// FailStream terminates the shared stream for every consumer.
	FailStream FailurePolicy = iota

	// IsolateFailures reports the failure to the failure handler and keeps
	// the stream open. Other subscriptions are unaffected.
	IsolateFailures
)

// String returns the policy's configuration name.
func (p FailurePolicy) String() string {
	switch p {
	case FailStream:
		return "stream"
	case IsolateFailures:
		return "isolate"
	default:
		return fmt.Sprintf("FailurePolicy(%d)", int(p))
	}
}

// ParseFailurePolicy maps a configuration name to a policy.
// The empty string selects FailStream.
func ParseFailurePolicy(name string) (FailurePolicy, error) {
	switch name {
	case "", "stream":
		return FailStream, nil
	case "isolate":
		return IsolateFailures, nil
	default:
		return 0, &ir.ConfigurationError{
			Field:   "failure_policy",
			Message: fmt.Sprintf("unknown policy %q (want stream or isolate)", name),
		}
	}
}

// Unbounded is the default concurrency limit.
const Unbounded = math.MaxInt64

// Option configures an Engine.
type Option func(*Engine)

// WithConcurrency bounds the number of query executions running at once
// across all triggers. n <= 0 means unbounded.
func WithConcurrency(n int64) Option {
	return func(e *Engine) {
		if n <= 0 {
			n = Unbounded
		}
		e.concurrency = n
	}
}

// WithFailurePolicy selects how execution failures propagate.
// Default: FailStream.
func WithFailurePolicy(p FailurePolicy) Option {
	return func(e *Engine) {
		e.policy = p
	}
}

// WithFailureHandler registers a callback for every execution failure,
// under either policy. It runs on the executing goroutine.
func WithFailureHandler(fn func(ir.ExecutionFailure)) Option {
	return func(e *Engine) {
		e.onFailure = fn
	}
}

// WithStreamBuffer sets the per-subscription event buffer.
// Default: DefaultStreamBuffer.
func WithStreamBuffer(n int) Option {
	return func(e *Engine) {
		e.streamBuffer = n
	}
}

// WithExecutor replaces the GraphQL executor, e.g. with an instrumented one.
func WithExecutor(x QueryExecutor) Option {
	return func(e *Engine) {
		e.executor = x
	}
}

// WithTriggerIDGenerator replaces the UUIDv7 trigger ID generator.
func WithTriggerIDGenerator(g TriggerIDGenerator) Option {
	return func(e *Engine) {
		e.idGen = g
	}
}

// WithMetrics registers engine metrics in r instead of a private registry.
func WithMetrics(r metrics.Registry) Option {
	return func(e *Engine) {
		e.metricsRegistry = r
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}
