package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/graphql-go/graphql/language/ast"
	"github.com/rcrowley/go-metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/subdispatch/internal/gql"
	"github.com/roach88/subdispatch/internal/ir"
	"github.com/roach88/subdispatch/internal/testutil"
)

const (
	cat = testutil.Category
	ns  = testutil.Namespace
)

// countingExecutor wraps the GraphQL executor, counts executions and can
// hold them at a gate.
type countingExecutor struct {
	*gql.Executor

	gate       chan struct{}
	calls      atomic.Int64
	running    atomic.Int64
	maxRunning atomic.Int64
}

func newCountingExecutor(t *testing.T, gated bool) *countingExecutor {
	t.Helper()
	x, err := gql.NewExecutor(testutil.UserSchema())
	require.NoError(t, err)

	c := &countingExecutor{Executor: x}
	if gated {
		c.gate = make(chan struct{})
	}
	return c
}

func (c *countingExecutor) Execute(ctx context.Context, doc *ast.Document, vars map[string]any, root any) (any, error) {
	c.calls.Add(1)
	n := c.running.Add(1)
	defer c.running.Add(-1)

	for {
		peak := c.maxRunning.Load()
		if n <= peak || c.maxRunning.CompareAndSwap(peak, n) {
			break
		}
	}

	if c.gate != nil {
		<-c.gate
	}
	return c.Executor.Execute(ctx, doc, vars, root)
}

func (c *countingExecutor) release() {
	close(c.gate)
}

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e, err := New(testutil.UserSchema(), opts...)
	require.NoError(t, err)
	e.Start(context.Background())
	t.Cleanup(e.Close)
	return e
}

func subscribe(t *testing.T, e *Engine, vars map[string]any, ref ir.Subscriber) string {
	t.Helper()
	hash, err := e.Subscribe(cat, ns, testutil.Queries[0], vars, ref)
	require.NoError(t, err)
	require.NotEmpty(t, hash)
	return hash
}

func collect(t *testing.T, sub *Subscription, n int) []ir.ResultEvent {
	t.Helper()
	events := make([]ir.ResultEvent, 0, n)
	for len(events) < n {
		events = append(events, receive(t, sub))
	}
	return events
}

func requireQuiet(t *testing.T, sub *Subscription, window time.Duration) {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		if ok {
			t.Fatalf("unexpected event for hash %s", ev.Hash)
		}
	case <-time.After(window):
	}
}

func flush(t *testing.T, e *Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, e.Flush(ctx))
}

func TestNew_NilSchema(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
	assert.True(t, ir.IsConfigurationError(err))
	assert.Contains(t, err.Error(), "no GraphQL schema provided")
}

func TestNew_Defaults(t *testing.T) {
	e, err := New(testutil.UserSchema())
	require.NoError(t, err)
	defer e.Close()

	assert.Equal(t, int64(Unbounded), e.Concurrency())
	assert.Equal(t, FailStream, e.Policy())
	assert.NotNil(t, e.Schema())
	assert.NotNil(t, e.Metrics())
}

func TestSubscribe_Idempotent(t *testing.T) {
	e := newTestEngine(t)
	vars := map[string]any{"name": "Rohde"}

	h1 := subscribe(t, e, vars, "ref1")
	h2 := subscribe(t, e, vars, "ref1")
	h3 := subscribe(t, e, vars, "ref2")

	assert.Equal(t, h1, h2)
	assert.Equal(t, h1, h3)
	assert.Equal(t, 1, e.Registry().Len())
	assert.Equal(t, []ir.Subscriber{"ref1", "ref2"}, e.Registry().Subscribers(Key{cat, ns, h1}))
}

func TestSubscribe_Anonymous(t *testing.T) {
	e := newTestEngine(t)
	vars := map[string]any{"name": "Rohde"}

	h1 := subscribe(t, e, vars, nil)
	h2 := subscribe(t, e, vars, nil)
	require.Equal(t, h1, h2)

	subs := e.Registry().Subscribers(Key{cat, ns, h1})
	assert.Equal(t, []ir.Subscriber{ir.Anonymous(h1)}, subs, "anonymous subscribes share one identity")

	assert.True(t, e.Unsubscribe(cat, ns, h1, nil))
	assert.Equal(t, 0, e.Registry().Len())
}

func TestSubscribe_HashDiscrimination(t *testing.T) {
	e := newTestEngine(t)

	h20 := subscribe(t, e, map[string]any{"name": "Rohde", "age": 20}, nil)
	h21 := subscribe(t, e, map[string]any{"name": "Rohde", "age": 21}, nil)
	hq, err := e.Subscribe(cat, ns, testutil.Queries[1], map[string]any{"name": "Rohde", "age": 20}, nil)
	require.NoError(t, err)

	assert.NotEqual(t, h20, h21)
	assert.NotEqual(t, h20, hq)
	assert.Equal(t, 3, e.Registry().Len())
}

func TestSubscribe_ExtractsFields(t *testing.T) {
	e := newTestEngine(t)
	hash := subscribe(t, e, map[string]any{"name": "Rohde"}, nil)

	entry, ok := e.Registry().Lookup(Key{cat, ns, hash})
	require.True(t, ok)
	require.Len(t, entry.Fields, 1)
	assert.Equal(t, "user", entry.Fields[0].Name)
	assert.Equal(t, map[string]any{"name": "Rohde"}, entry.Fields[0].Args)
	assert.Equal(t, testutil.Queries[0], entry.Query)
}

func TestSubscribe_ValidationError(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.Subscribe(cat, ns, `subscription { nope { name } }`, nil, "ref")
	require.Error(t, err)
	assert.True(t, ir.IsValidationError(err))
	assert.Equal(t, 0, e.Registry().Len(), "invalid subscriptions are never registered")

	_, err = e.Subscribe(cat, ns, "subscription {", nil, "ref")
	assert.True(t, ir.IsValidationError(err))
}

func TestSubscribe_SchemaWithoutSubscriptions(t *testing.T) {
	e, err := New(testutil.NoSubscriptionSchema())
	require.NoError(t, err)
	defer e.Close()

	_, err = e.Subscribe(cat, ns, `query { user(name: "a") { name } }`, nil, "ref")
	require.Error(t, err)
	assert.True(t, ir.IsValidationError(err))
}

func TestSubscribe_InvalidArguments(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.Subscribe(cat, ns, testutil.Queries[0], map[string]any{"name": "a"}, map[string]any{"id": 1})
	assert.True(t, ir.IsInvalidArgument(err), "non-comparable refs are rejected")

	_, err = e.Subscribe(cat, ns, testutil.Queries[0], map[string]any{"fn": func() {}}, "ref")
	assert.True(t, ir.IsInvalidArgument(err), "unhashable variables are rejected")

	assert.Equal(t, 0, e.Registry().Len())
}

func TestSubscribe_UnhashableSubscriber(t *testing.T) {
	e := newTestEngine(t)
	type session struct{ Auth any }

	var err error
	require.NotPanics(t, func() {
		_, err = e.Subscribe(cat, ns, testutil.Queries[0], map[string]any{"name": "Rohde"}, session{Auth: []string{"id-1"}})
	})
	assert.True(t, ir.IsInvalidArgument(err))
	assert.Equal(t, 0, e.Registry().Len())
	assert.False(t, e.Registry().HasCategory(cat))

	// Same rejection when the entry already exists.
	hash := subscribe(t, e, map[string]any{"name": "Rohde"}, "ref")
	require.NotPanics(t, func() {
		_, err = e.Subscribe(cat, ns, testutil.Queries[0], map[string]any{"name": "Rohde"}, session{Auth: map[string]int{}})
	})
	assert.True(t, ir.IsInvalidArgument(err))
	assert.Equal(t, []ir.Subscriber{"ref"}, e.Registry().Subscribers(Key{cat, ns, hash}))

	require.NotPanics(t, func() {
		assert.False(t, e.Unsubscribe(cat, ns, hash, session{Auth: []string{"id-1"}}))
	})
}

func TestSubscribe_UnicodeFormsAreDistinct(t *testing.T) {
	e := newTestEngine(t, WithConcurrency(1))
	sub := e.Stream().Subscribe()
	defer sub.Close()

	composed := "Am\u00e9lie"
	decomposed := "Ame\u0301lie"
	hc := subscribe(t, e, map[string]any{"name": composed}, "ref1")
	hd := subscribe(t, e, map[string]any{"name": decomposed}, "ref2")
	require.NotEqual(t, hc, hd)
	assert.Equal(t, 2, e.Registry().Len())

	require.True(t, e.Run(cat, ns, nil))

	names := map[string]string{composed: hc, decomposed: hd}
	for _, ev := range collect(t, sub, 2) {
		data, err := json.Marshal(ev.Data)
		require.NoError(t, err)
		for name, hash := range names {
			if ev.Hash == hash {
				assert.Equal(t, `{"user":{"age":null,"city":null,"name":"`+name+`"}}`, string(data))
				assert.Len(t, ev.Subscribers, 1)
			}
		}
	}
}

func TestSubscribe_CopiesVariables(t *testing.T) {
	e := newTestEngine(t)
	sub := e.Stream().Subscribe()
	defer sub.Close()

	vars := map[string]any{"name": "Rohde"}
	hash := subscribe(t, e, vars, "ref")

	vars["name"] = "Mallory"
	vars["age"] = 99

	entry, ok := e.Registry().Lookup(Key{cat, ns, hash})
	require.True(t, ok)
	assert.Equal(t, map[string]any{"name": "Rohde"}, entry.Variables)
	assert.Equal(t, ir.MustSubscriptionHash(testutil.Queries[0], map[string]any{"name": "Rohde"}), entry.Hash)

	require.True(t, e.Run(cat, ns, nil))
	ev := receive(t, sub)
	data, err := ir.MarshalCanonical(ev.Data)
	require.NoError(t, err)
	assert.Equal(t, `{"user":{"age":null,"city":null,"name":"Rohde"}}`, string(data))
}

func TestCloneVariables(t *testing.T) {
	nested := map[string]any{"k": "v"}
	list := []any{"a", map[string]any{"b": 1}}
	typed := []string{"x"}
	orig := map[string]any{"nested": nested, "list": list, "typed": typed, "n": 1}

	c := cloneVariables(orig)
	require.Equal(t, orig, c)

	nested["k"] = "changed"
	list[1].(map[string]any)["b"] = 2
	typed[0] = "y"

	assert.Equal(t, "v", c["nested"].(map[string]any)["k"])
	assert.Equal(t, 1, c["list"].([]any)[1].(map[string]any)["b"])
	assert.Equal(t, []string{"x"}, c["typed"])
	assert.Nil(t, cloneVariables(nil))
}

func TestNoOpGuards(t *testing.T) {
	e := newTestEngine(t)
	sub := e.Stream().Subscribe()
	defer sub.Close()

	for _, args := range [][3]string{{"", ns, testutil.Queries[0]}, {cat, "", testutil.Queries[0]}, {cat, ns, ""}} {
		hash, err := e.Subscribe(args[0], args[1], args[2], nil, "ref")
		assert.NoError(t, err)
		assert.Empty(t, hash)
	}
	assert.Equal(t, 0, e.Registry().Len())

	assert.False(t, e.Unsubscribe("", ns, "h", "ref"))
	assert.False(t, e.Unsubscribe(cat, "", "h", "ref"))
	assert.False(t, e.Unsubscribe(cat, ns, "", "ref"))
	assert.False(t, e.Unsubscribe(cat, ns, "unknown", "ref"))

	assert.False(t, e.Run("", ns, nil))
	assert.False(t, e.Run(cat, "", nil))

	requireQuiet(t, sub, 50*time.Millisecond)
	assert.Equal(t, int64(0), e.Metrics().Triggers.Count())
}

func TestUnsubscribe_CleanupCascade(t *testing.T) {
	e := newTestEngine(t)
	h1 := subscribe(t, e, map[string]any{"name": "a"}, "ref1")
	subscribe(t, e, map[string]any{"name": "a"}, "ref2")
	h2 := subscribe(t, e, map[string]any{"name": "b"}, "ref1")

	require.True(t, e.Unsubscribe(cat, ns, h1, "ref1"))
	assert.True(t, e.Registry().HasNamespace(cat, ns))
	assert.False(t, e.Unsubscribe(cat, ns, h1, "ref1"), "second unsubscribe is a no-op")

	require.True(t, e.Unsubscribe(cat, ns, h1, "ref2"))
	_, ok := e.Registry().Lookup(Key{cat, ns, h1})
	assert.False(t, ok, "hash leaf is removed with its last subscriber")
	assert.True(t, e.Registry().HasCategory(cat))

	require.True(t, e.Unsubscribe(cat, ns, h2, "ref1"))
	assert.False(t, e.Registry().HasNamespace(cat, ns))
	assert.False(t, e.Registry().HasCategory(cat))
	assert.Empty(t, e.Registry().Categories())
}

func TestRun_Coalesces(t *testing.T) {
	x := newCountingExecutor(t, false)
	e := newTestEngine(t, WithExecutor(x))
	sub := e.Stream().Subscribe()
	defer sub.Close()

	vars := map[string]any{"name": "Rohde", "age": 20}
	for _, ref := range []string{"ref1", "ref2", "ref3"} {
		subscribe(t, e, vars, ref)
	}

	require.True(t, e.Run(cat, ns, nil))
	ev := receive(t, sub)
	flush(t, e)

	assert.Equal(t, int64(1), x.calls.Load(), "one execution per distinct subscription")
	assert.Equal(t, []ir.Subscriber{"ref1", "ref2", "ref3"}, ev.Subscribers)
	assert.Equal(t, map[string]any{}, ev.Root, "nil root becomes an empty object")

	data, err := ir.MarshalCanonical(ev.Data)
	require.NoError(t, err)
	assert.Equal(t, `{"user":{"age":20,"city":null,"name":"Rohde"}}`, string(data))

	requireQuiet(t, sub, 50*time.Millisecond)
}

func TestRun_NoMatch(t *testing.T) {
	e := newTestEngine(t)
	sub := e.Stream().Subscribe()
	defer sub.Close()

	assert.False(t, e.Run(cat, ns, map[string]any{"namespace": ns}))

	subscribe(t, e, map[string]any{"name": "Rohde"}, "ref")
	assert.False(t, e.Run(cat, "other", nil))
	assert.False(t, e.Run("other", ns, nil))

	requireQuiet(t, sub, 100*time.Millisecond)
}

func TestRun_EventFields(t *testing.T) {
	e := newTestEngine(t, WithTriggerIDGenerator(NewFixedGenerator("trigger-1")))
	sub := e.Stream().Subscribe()
	defer sub.Close()

	hash := subscribe(t, e, map[string]any{"name": "Rohde"}, "ref")
	root := map[string]any{"city": "Oslo"}
	require.True(t, e.Run(cat, ns, root))

	ev := receive(t, sub)
	assert.Equal(t, "trigger-1", ev.TriggerID)
	assert.Equal(t, cat, ev.Category)
	assert.Equal(t, ns, ev.Namespace)
	assert.Equal(t, hash, ev.Hash)
	assert.Equal(t, root, ev.Root)
	assert.Equal(t, int64(1), ev.Seq)

	data, err := ir.MarshalCanonical(ev.Data)
	require.NoError(t, err)
	assert.Equal(t, `{"user":{"age":null,"city":"Oslo","name":"Rohde"}}`, string(data))
}

func TestRun_OrderedAtConcurrencyOne(t *testing.T) {
	e := newTestEngine(t,
		WithConcurrency(1),
		WithTriggerIDGenerator(NewFixedGenerator("t-1", "t-2")),
	)
	sub := e.Stream().Subscribe()
	defer sub.Close()

	hashes := []string{
		subscribe(t, e, map[string]any{"name": "a"}, nil),
		subscribe(t, e, map[string]any{"name": "b"}, nil),
		subscribe(t, e, map[string]any{"name": "c"}, nil),
	}

	require.True(t, e.Run(cat, ns, nil))
	require.True(t, e.Run(cat, ns, nil))

	events := collect(t, sub, 6)
	for i, ev := range events {
		assert.Equal(t, hashes[i%3], ev.Hash)
		assert.Equal(t, fmt.Sprintf("t-%d", i/3+1), ev.TriggerID)
		assert.Equal(t, int64(i+1), ev.Seq)
	}
}

func TestRun_ConcurrencyBound(t *testing.T) {
	x := newCountingExecutor(t, true)
	e := newTestEngine(t, WithExecutor(x), WithConcurrency(2))
	sub := e.Stream().Subscribe()
	defer sub.Close()

	for i := 0; i < 5; i++ {
		subscribe(t, e, map[string]any{"name": fmt.Sprintf("user-%d", i)}, nil)
	}
	require.True(t, e.Run(cat, ns, nil))

	require.Eventually(t, func() bool { return x.running.Load() == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(2), x.running.Load(), "no more than two executions run at once")

	x.release()
	collect(t, sub, 5)
	flush(t, e)

	assert.Equal(t, int64(2), x.maxRunning.Load())
	assert.Equal(t, int64(5), x.calls.Load())
}

func TestRun_SubscribersReadAtEmission(t *testing.T) {
	x := newCountingExecutor(t, true)
	e := newTestEngine(t, WithExecutor(x))
	sub := e.Stream().Subscribe()
	defer sub.Close()

	vars := map[string]any{"name": "Rohde"}
	subscribe(t, e, vars, "ref1")
	require.True(t, e.Run(cat, ns, nil))
	require.Eventually(t, func() bool { return x.running.Load() == 1 }, time.Second, 5*time.Millisecond)

	subscribe(t, e, vars, "ref2")
	x.release()

	ev := receive(t, sub)
	assert.Equal(t, []ir.Subscriber{"ref1", "ref2"}, ev.Subscribers)
	assert.Equal(t, int64(1), x.calls.Load(), "joining an in-flight subscription does not re-execute")
}

func TestRun_UnsubscribeDoesNotCancelInFlight(t *testing.T) {
	x := newCountingExecutor(t, true)
	e := newTestEngine(t, WithExecutor(x))
	sub := e.Stream().Subscribe()
	defer sub.Close()

	hash := subscribe(t, e, map[string]any{"name": "Rohde"}, "ref1")
	require.True(t, e.Run(cat, ns, nil))
	require.Eventually(t, func() bool { return x.running.Load() == 1 }, time.Second, 5*time.Millisecond)

	require.True(t, e.Unsubscribe(cat, ns, hash, "ref1"))
	assert.False(t, e.Run(cat, ns, nil), "future triggers no longer see the hash")
	x.release()

	ev := receive(t, sub)
	assert.Equal(t, hash, ev.Hash)
	assert.NotNil(t, ev.Subscribers)
	assert.Empty(t, ev.Subscribers)
}

func TestRun_MissingVariableFailsStream(t *testing.T) {
	var failures []ir.ExecutionFailure
	var mu sync.Mutex
	e := newTestEngine(t, WithFailureHandler(func(f ir.ExecutionFailure) {
		mu.Lock()
		failures = append(failures, f)
		mu.Unlock()
	}))
	sub := e.Stream().Subscribe()

	hash := subscribe(t, e, map[string]any{"age": 20}, "ref")
	require.True(t, e.Run(cat, ns, nil))

	requireClosed(t, sub)
	err := sub.Err()
	require.Error(t, err)
	assert.True(t, ir.IsExecutionError(err))
	assert.Contains(t, err.Error(), `Variable "$name" of required type "String!" was not provided.`)
	assert.Contains(t, err.Error(), hash)

	assert.True(t, e.Stopped())
	assert.False(t, e.Run(cat, ns, nil), "a failed stream accepts no more triggers")

	late := e.Stream().Subscribe()
	requireClosed(t, late)
	assert.Equal(t, err, late.Err())

	flush(t, e)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, failures, 1)
	assert.Equal(t, hash, failures[0].Hash)
	assert.Equal(t, int64(1), e.Metrics().Failures.Count())
}

func TestRun_IsolateFailures(t *testing.T) {
	failed := make(chan ir.ExecutionFailure, 1)
	e := newTestEngine(t,
		WithFailurePolicy(IsolateFailures),
		WithFailureHandler(func(f ir.ExecutionFailure) { failed <- f }),
		WithConcurrency(1),
	)
	sub := e.Stream().Subscribe()
	defer sub.Close()

	bad := subscribe(t, e, map[string]any{"age": 20}, "bad")
	good := subscribe(t, e, map[string]any{"name": "Rohde"}, "good")

	require.True(t, e.Run(cat, ns, nil))
	ev := receive(t, sub)
	assert.Equal(t, good, ev.Hash)

	select {
	case f := <-failed:
		assert.Equal(t, bad, f.Hash)
		assert.True(t, ir.IsExecutionError(f.Err))
	case <-time.After(time.Second):
		t.Fatal("failure handler not called")
	}

	assert.False(t, e.Stream().Ended())
	assert.True(t, e.Run(cat, ns, nil), "the stream stays open")
	assert.Equal(t, good, receive(t, sub).Hash)
}

func TestFlushAndMetrics(t *testing.T) {
	reg := metrics.NewRegistry()
	e := newTestEngine(t, WithMetrics(reg))
	sub := e.Stream().Subscribe()
	defer sub.Close()

	subscribe(t, e, map[string]any{"name": "a"}, nil)
	subscribe(t, e, map[string]any{"name": "b"}, nil)
	require.True(t, e.Run(cat, ns, nil))

	flush(t, e)
	collect(t, sub, 2)

	snap := e.Metrics().Snapshot()
	assert.Equal(t, int64(1), snap[MetricTriggers])
	assert.Equal(t, int64(2), snap[MetricExecutions])
	assert.Equal(t, int64(2), snap[MetricEvents])
	assert.Equal(t, int64(0), snap[MetricInflight])
	assert.Equal(t, int64(2), metrics.GetOrRegisterTimer(MetricExecutionTime, reg).Count())
	assert.Equal(t, 0, e.pending.count())
}

func TestClose(t *testing.T) {
	e, err := New(testutil.UserSchema())
	require.NoError(t, err)
	e.Start(context.Background())
	sub := e.Stream().Subscribe()

	subscribe(t, e, map[string]any{"name": "a"}, nil)
	e.Close()
	e.Close()

	requireClosed(t, sub)
	assert.NoError(t, sub.Err())
	assert.True(t, e.Stopped())
	assert.False(t, e.Run(cat, ns, nil))

	e.Start(context.Background())
	assert.True(t, e.Stream().Ended())
}

func TestClose_NeverStarted(t *testing.T) {
	e, err := New(testutil.UserSchema())
	require.NoError(t, err)

	subscribe(t, e, map[string]any{"name": "a"}, nil)
	require.True(t, e.Run(cat, ns, nil), "triggers queue up before Start")
	e.Close()

	assert.Equal(t, 0, e.pending.count(), "queued triggers are discarded")
}

func TestParseFailurePolicy(t *testing.T) {
	p, err := ParseFailurePolicy("")
	require.NoError(t, err)
	assert.Equal(t, FailStream, p)

	p, err = ParseFailurePolicy("isolate")
	require.NoError(t, err)
	assert.Equal(t, IsolateFailures, p)
	assert.Equal(t, "isolate", p.String())

	_, err = ParseFailurePolicy("retry")
	assert.True(t, ir.IsConfigurationError(err))
}

func TestTracker(t *testing.T) {
	tr := newTracker()
	require.NoError(t, tr.wait(context.Background()))

	tr.add(2)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, tr.wait(ctx), context.DeadlineExceeded)

	tr.done(1)
	tr.done(1)
	tr.done(1)
	assert.Equal(t, 0, tr.count())
	assert.NoError(t, tr.wait(context.Background()))
}

func TestConcurrentSubscribeUnsubscribeRun(t *testing.T) {
	e := newTestEngine(t, WithConcurrency(4))
	sub := e.Stream().Subscribe()
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for range sub.Events() {
		}
	}()

	const workers = 8
	const rounds = 50
	categories := []string{cat, "type-b"}
	namespaces := []string{ns, "ns-b", "ns-c"}

	stop := make(chan struct{})
	var runner sync.WaitGroup
	runner.Add(1)
	go func() {
		defer runner.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			e.Run(categories[i%len(categories)], namespaces[i%len(namespaces)], nil)
			runtime.Gosched()
		}
	}()

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			ref := fmt.Sprintf("ref-%d", w)
			for i := 0; i < rounds; i++ {
				c := categories[(w+i)%len(categories)]
				n := namespaces[i%len(namespaces)]
				vars := map[string]any{"name": fmt.Sprintf("user-%d", i%4)}

				hash, err := e.Subscribe(c, n, testutil.Queries[i%2], vars, ref)
				if !assert.NoError(t, err) {
					return
				}
				assert.True(t, e.Unsubscribe(c, n, hash, ref))
			}
		}(w)
	}

	wg.Wait()
	close(stop)
	runner.Wait()
	flush(t, e)

	assert.Equal(t, 0, e.Registry().Len())
	assert.Empty(t, e.Registry().Categories())
	for _, c := range categories {
		assert.False(t, e.Registry().HasCategory(c))
	}
	assert.False(t, e.Stream().Ended())
	assert.NoError(t, e.Stream().Err())

	sub.Close()
	<-drained
}
