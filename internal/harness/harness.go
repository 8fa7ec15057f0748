package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/roach88/subdispatch/internal/engine"
	"github.com/roach88/subdispatch/internal/flowcontrol"
	"github.com/roach88/subdispatch/internal/gql"
	"github.com/roach88/subdispatch/internal/ir"
	"github.com/roach88/subdispatch/internal/journal"
	"github.com/roach88/subdispatch/internal/testutil"
)

// DefaultSettleTimeout bounds the wait for a run step's results.
const DefaultSettleTimeout = 5 * time.Second

// Option configures a scenario run.
type Option func(*Harness)

// WithJournal records every delivery and failure in j.
func WithJournal(j *journal.Journal) Option {
	return func(h *Harness) {
		h.journal = j
	}
}

// WithLogger sets the logger for the engine and flow control.
// Logs are discarded by default.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithEngineOptions adds engine options after the harness defaults, so
// they may override the concurrency of one. A scenario's own policy still
// takes precedence.
func WithEngineOptions(opts ...engine.Option) Option {
	return func(h *Harness) {
		h.engineOpts = append(h.engineOpts, opts...)
	}
}

// WithSettleTimeout bounds the wait for each run step.
func WithSettleTimeout(d time.Duration) Option {
	return func(h *Harness) {
		if d > 0 {
			h.settle = d
		}
	}
}

// Harness drives one scenario through a real engine and flow control.
//
// Runs are deterministic: the engine executes one query at a time,
// trigger IDs come from a sequential generator and every run step waits
// until its results have been delivered before the next step starts.
type Harness struct {
	scenario *Scenario
	engine   *engine.Engine
	flow     *flowcontrol.FlowControl
	refs     map[string]*Subscriber
	journal  *journal.Journal
	logger   *slog.Logger
	settle   time.Duration

	engineOpts []engine.Option

	mu         sync.Mutex
	deliveries []Delivery
	failures   []ir.ExecutionFailure
}

// Run executes a scenario and returns the result. The error is non-nil
// only when the scenario could not be executed; unmet expectations are
// reported in Result.Errors.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	h := &Harness{
		scenario: scenario,
		refs:     make(map[string]*Subscriber, len(scenario.Subscribers)),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
		settle:   DefaultSettleTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}

	for name, auth := range scenario.Subscribers {
		h.refs[name] = &Subscriber{Name: name, Auth: auth}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := h.setup(ctx); err != nil {
		return nil, err
	}

	h.engine.Start(ctx)
	if err := h.flow.Attach(ctx); err != nil {
		h.engine.Close()
		return nil, fmt.Errorf("attach flow control: %w", err)
	}
	defer func() {
		h.engine.Close()
		h.flow.Detach()
	}()

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i+1, step, result); err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
	}

	if err := h.engine.Stream().Err(); err != nil {
		result.Failure = err.Error()
	}

	for _, msg := range EvaluateExpectations(result, scenario.Expect) {
		result.AddError(msg)
	}

	return result, nil
}

func (h *Harness) setup(ctx context.Context) error {
	schema, err := gql.BuildEchoSchema(h.scenario.Schema)
	if err != nil {
		return fmt.Errorf("build schema: %w", err)
	}

	opts := []engine.Option{
		engine.WithConcurrency(1),
		engine.WithFailureHandler(h.onFailure(ctx)),
		engine.WithTriggerIDGenerator(testutil.NewSequentialIDGenerator("trigger")),
		engine.WithLogger(h.logger),
	}
	opts = append(opts, h.engineOpts...)
	if h.scenario.Policy != "" {
		policy, err := engine.ParseFailurePolicy(h.scenario.Policy)
		if err != nil {
			return err
		}
		opts = append(opts, engine.WithFailurePolicy(policy))
	}

	h.engine, err = engine.New(schema, opts...)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}

	h.flow, err = flowcontrol.New(h.engine, h.operations(), h.onDelivery(ctx),
		flowcontrol.WithLogger(h.logger),
		flowcontrol.WithMetrics(h.engine.Metrics().Registry()),
	)
	if err != nil {
		return fmt.Errorf("create flow control: %w", err)
	}
	return nil
}

// operations registers one operation per category the scenario subscribes
// to. Events of other categories are consumed without delivery.
func (h *Harness) operations() map[string]flowcontrol.Operation {
	var op flowcontrol.Operation = func(ev ir.ResultEvent, push flowcontrol.PushFunc) error {
		return push(ev, nil, nil)
	}
	if h.scenario.Filter == FilterVisibility {
		op = func(ev ir.ResultEvent, push flowcontrol.PushFunc) error {
			return push(ev, VisibilityFilter(ev), nil)
		}
	}

	ops := make(map[string]flowcontrol.Operation)
	for _, step := range h.scenario.Steps {
		if step.Action == ActionSubscribe && step.Category != "" {
			ops[step.Category] = op
		}
	}
	return ops
}

func (h *Harness) onDelivery(ctx context.Context) flowcontrol.Callback {
	var record func(ir.ResultEvent, ir.Subscriber)
	if h.journal != nil {
		record = h.journal.Callback(ctx, label, h.logger)
	}

	return func(ev ir.ResultEvent, sub ir.Subscriber) {
		h.mu.Lock()
		h.deliveries = append(h.deliveries, Delivery{
			Seq:        ev.Seq,
			TriggerID:  ev.TriggerID,
			Subscriber: label(sub),
			Data:       ev.Data,
		})
		h.mu.Unlock()

		if record != nil {
			record(ev, sub)
		}
	}
}

func (h *Harness) onFailure(ctx context.Context) func(ir.ExecutionFailure) {
	var record func(ir.ExecutionFailure)
	if h.journal != nil {
		record = h.journal.FailureHandler(ctx, h.logger)
	}

	return func(f ir.ExecutionFailure) {
		h.mu.Lock()
		h.failures = append(h.failures, f)
		h.mu.Unlock()

		if record != nil {
			record(f)
		}
	}
}

func (h *Harness) ref(name string) ir.Subscriber {
	if name == "" {
		return nil
	}
	return h.refs[name]
}

func (h *Harness) executeStep(ctx context.Context, n int, step Step, result *Result) error {
	ev := TraceEvent{
		Type:       step.Action,
		Step:       n,
		Subscriber: step.Subscriber,
		Category:   step.Category,
		Namespace:  step.Namespace,
	}

	switch step.Action {
	case ActionSubscribe:
		hash, err := h.engine.Subscribe(step.Category, step.Namespace, step.Query, step.Variables, h.ref(step.Subscriber))
		if err != nil {
			ev.Message = err.Error()
		}
		ev.OK = hash != ""
		ev.Subscriptions = h.engine.Registry().Len()
		result.addStep(ev)

	case ActionUnsubscribe:
		hash, err := ir.SubscriptionHash(step.Query, step.Variables)
		if err != nil {
			return fmt.Errorf("hash subscription: %w", err)
		}
		ev.OK = h.engine.Unsubscribe(step.Category, step.Namespace, hash, h.ref(step.Subscriber))
		ev.Subscriptions = h.engine.Registry().Len()
		result.addStep(ev)

	case ActionRun:
		var root any
		if step.Root != nil {
			root = step.Root
		}
		ev.OK = h.engine.Run(step.Category, step.Namespace, root)
		result.addStep(ev)

		if err := h.awaitResults(ctx); err != nil {
			return err
		}
		h.collect(step, result)

	default:
		return fmt.Errorf("unknown action %q", step.Action)
	}

	h.logger.Debug("scenario step completed",
		"step", n,
		"action", step.Action,
		"ok", ev.OK,
	)
	return nil
}

// awaitResults waits until every accepted trigger has been executed and
// every published event has passed through flow control.
func (h *Harness) awaitResults(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, h.settle)
	defer cancel()

	if err := h.engine.Flush(ctx); err != nil {
		return fmt.Errorf("flush engine: %w", err)
	}

	published := h.engine.Metrics().Events.Count()
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	for h.flow.Processed() < published {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return fmt.Errorf("await deliveries: processed %d of %d events: %w",
				h.flow.Processed(), published, ctx.Err())
		}
	}
	return nil
}

// collect moves the deliveries and failures observed since the last run
// step into the result. A step's failures follow its deliveries.
func (h *Harness) collect(step Step, result *Result) {
	h.mu.Lock()
	deliveries, failures := h.deliveries, h.failures
	h.deliveries, h.failures = nil, nil
	h.mu.Unlock()

	sort.SliceStable(deliveries, func(i, j int) bool {
		return deliveries[i].Seq < deliveries[j].Seq
	})
	for _, d := range deliveries {
		result.addDelivery(d, step.Category, step.Namespace)
	}
	for _, f := range failures {
		result.Failures = append(result.Failures, f.Err.Error())
		result.addFailure(f.Trigger.ID, f.Err.Error())
	}
}
