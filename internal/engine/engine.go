package engine

import (
	"context"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/graphql-go/graphql"
	"github.com/rcrowley/go-metrics"
	"golang.org/x/sync/semaphore"

	"github.com/roach88/subdispatch/internal/gql"
	"github.com/roach88/subdispatch/internal/ir"
	"github.com/roach88/subdispatch/internal/queryir"
)

// Engine dispatches run triggers to the distinct subscriptions registered
// for them and publishes one result per (trigger, subscription).
//
// Thread-safety model:
//   - Subscribe, Unsubscribe, Run: safe from any goroutine, never block on
//     query execution
//   - Start: launches the single dispatcher goroutine; later calls are no-ops
//   - Close: stops the dispatcher, waits for running executions, ends the
//     stream
type Engine struct {
	schema   *graphql.Schema
	executor QueryExecutor
	registry *Registry
	queue    *triggerQueue
	stream   *Stream
	sem      *semaphore.Weighted
	idGen    TriggerIDGenerator
	metrics  *Metrics
	logger   *slog.Logger
	pending  *tracker

	concurrency     int64
	policy          FailurePolicy
	onFailure       func(ir.ExecutionFailure)
	streamBuffer    int
	metricsRegistry metrics.Registry

	lifecycle sync.Mutex
	started   bool
	cancel    context.CancelFunc
	done      chan struct{}
	inflight  sync.WaitGroup
	stopped   atomic.Bool
	closeOnce sync.Once
}

// New creates an Engine over schema.
// Returns a ConfigurationError when schema is nil.
func New(schema *graphql.Schema, opts ...Option) (*Engine, error) {
	if schema == nil {
		return nil, &ir.ConfigurationError{Field: "schema", Message: "no GraphQL schema provided"}
	}

	e := &Engine{
		schema:       schema,
		registry:     NewRegistry(),
		queue:        newTriggerQueue(),
		idGen:        UUIDv7Generator{},
		logger:       slog.Default(),
		pending:      newTracker(),
		concurrency:  Unbounded,
		policy:       FailStream,
		streamBuffer: DefaultStreamBuffer,
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.executor == nil {
		x, err := gql.NewExecutor(schema)
		if err != nil {
			return nil, err
		}
		e.executor = x
	}
	e.stream = NewStream(e.streamBuffer)
	e.sem = semaphore.NewWeighted(e.concurrency)
	e.metrics = NewMetrics(e.metricsRegistry)

	return e, nil
}

// Subscribe registers ref's interest in (category, namespace, query,
// variables) and returns the subscription hash.
//
// Returns "", nil without side effects when category, namespace or query is
// empty. A nil ref subscribes the anonymous identity ir.Anonymous(hash).
// The document is parsed only when the entry does not exist yet; parse and
// validation failures are returned as *ir.ValidationError and nothing is
// registered. Subscribing the same ref twice is a no-op that returns the
// same hash.
func (e *Engine) Subscribe(category, namespace, query string, variables map[string]any, ref ir.Subscriber) (string, error) {
	if category == "" || namespace == "" || query == "" {
		return "", nil
	}

	// The entry owns its variables; later writes to the caller's map must
	// not reach executions or change what the hash names.
	variables = cloneVariables(variables)

	hash, err := ir.SubscriptionHash(query, variables)
	if err != nil {
		return "", &ir.InvalidArgumentError{Argument: "variables", Message: err.Error()}
	}
	if ref == nil {
		ref = ir.Anonymous(hash)
	}
	if err := ir.CheckSubscriber(ref); err != nil {
		return "", err
	}

	key := Key{Category: category, Namespace: namespace, Hash: hash}
	if e.registry.attach(key, ref, nil) {
		return hash, nil
	}

	// Parse outside the registry lock; attach re-checks for a concurrent
	// insert of the same key.
	entry, err := e.newEntry(query, variables)
	if err != nil {
		return "", err
	}
	e.registry.attach(key, ref, entry)

	e.logger.Debug("subscription created",
		"category", category,
		"namespace", namespace,
		"hash", hash,
	)
	return hash, nil
}

func (e *Engine) newEntry(query string, variables map[string]any) (*Entry, error) {
	doc, err := e.executor.Parse(query)
	if err != nil {
		return nil, err
	}

	fields, err := queryir.Extract(e.schema, doc, variables)
	if err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, ir.NewValidationError("schema is not configured for subscriptions")
	}

	return &Entry{
		Query:     query,
		Document:  doc,
		Variables: variables,
		Fields:    fields,
	}, nil
}

// cloneVariables deep-copies maps and slices inside variables. Scalars and
// other values are shared.
func cloneVariables(variables map[string]any) map[string]any {
	if variables == nil {
		return nil
	}
	out := make(map[string]any, len(variables))
	for k, v := range variables {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneVariables(val)
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = cloneValue(elem)
		}
		return out
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice:
		if rv.IsNil() {
			return v
		}
		out := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out.Index(i).Set(cloneReflect(rv.Index(i)))
		}
		return out.Interface()
	case reflect.Map:
		if rv.IsNil() {
			return v
		}
		out := reflect.MakeMapWithSize(rv.Type(), rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), cloneReflect(iter.Value()))
		}
		return out.Interface()
	}
	return v
}

// cloneReflect clones an element of a typed slice or map, keeping its type.
func cloneReflect(elem reflect.Value) reflect.Value {
	if elem.Kind() == reflect.Interface && elem.IsNil() {
		return elem
	}
	c := cloneValue(elem.Interface())
	if c == nil {
		return reflect.Zero(elem.Type())
	}
	return reflect.ValueOf(c)
}

// Unsubscribe removes ref from the subscription at (category, namespace,
// hash). A nil ref removes the anonymous identity. Empty or unknown keys
// are a no-op. Returns whether a subscriber was removed.
//
// Executions already admitted for the hash still complete and publish.
func (e *Engine) Unsubscribe(category, namespace, hash string, ref ir.Subscriber) bool {
	if category == "" || namespace == "" || hash == "" {
		return false
	}
	if ref == nil {
		ref = ir.Anonymous(hash)
	}
	if ir.CheckSubscriber(ref) != nil {
		return false
	}

	removed := e.registry.detach(Key{Category: category, Namespace: namespace, Hash: hash}, ref)
	if removed {
		e.logger.Debug("subscriber removed",
			"category", category,
			"namespace", namespace,
			"hash", hash,
		)
	}
	return removed
}

// Run announces that an event of (category, namespace) occurred. root is
// forwarded to every execution as the root value; nil becomes an empty
// object.
//
// Run returns immediately. It returns false, doing nothing, when category
// or namespace is empty, when no subscription exists for the pair, or when
// the engine has stopped.
func (e *Engine) Run(category, namespace string, root any) bool {
	if category == "" || namespace == "" {
		return false
	}
	if e.stopped.Load() || !e.registry.HasNamespace(category, namespace) {
		return false
	}
	if root == nil {
		root = map[string]any{}
	}

	trigger := ir.Trigger{
		ID:        e.idGen.Generate(),
		Category:  category,
		Namespace: namespace,
		Root:      root,
	}

	e.pending.add(1)
	if !e.queue.Enqueue(trigger) {
		e.pending.done(1)
		return false
	}
	e.metrics.Triggers.Inc(1)
	return true
}

// Start launches the dispatcher. Cancelling ctx stops dispatching new
// work; Close must still be called to end the stream. Calling Start again
// is a no-op.
func (e *Engine) Start(ctx context.Context) {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	if e.started || e.stopped.Load() {
		return
	}
	e.started = true

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})

	go e.dispatch(runCtx)

	e.logger.Info("engine started",
		"concurrency", e.concurrency,
		"policy", e.policy.String(),
	)
}

// Close stops the dispatcher, waits for running executions to publish and
// closes the stream normally. Triggers not yet admitted are discarded.
// Close is idempotent.
//
// A consumer that stops reading without closing its Subscription blocks
// the executions publishing to it, and with them Close.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		e.halt()

		e.lifecycle.Lock()
		done := e.done
		e.lifecycle.Unlock()
		if done != nil {
			<-done
		}

		e.inflight.Wait()
		e.drain()
		e.stream.Close()

		e.logger.Info("engine closed")
	})
}

// halt stops accepting triggers and cancels dispatching.
func (e *Engine) halt() {
	e.stopped.Store(true)
	e.queue.Close()

	e.lifecycle.Lock()
	cancel := e.cancel
	e.lifecycle.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Flush blocks until every trigger accepted so far has been dispatched and
// every admitted execution has published or failed. It needs a started
// engine to make progress.
func (e *Engine) Flush(ctx context.Context) error {
	return e.pending.wait(ctx)
}

// Stream returns the outbound result stream.
func (e *Engine) Stream() *Stream {
	return e.stream
}

// Registry returns the subscription registry for inspection.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Schema returns the schema the engine executes against.
func (e *Engine) Schema() *graphql.Schema {
	return e.schema
}

// Concurrency returns the execution limit (Unbounded by default).
func (e *Engine) Concurrency() int64 {
	return e.concurrency
}

// Policy returns the failure policy.
func (e *Engine) Policy() FailurePolicy {
	return e.policy
}

// Metrics returns the engine metrics.
func (e *Engine) Metrics() *Metrics {
	return e.metrics
}

// Stopped reports whether the engine no longer accepts triggers, after
// Close or a stream-terminating failure.
func (e *Engine) Stopped() bool {
	return e.stopped.Load()
}
