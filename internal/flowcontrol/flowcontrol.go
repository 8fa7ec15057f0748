package flowcontrol

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/rcrowley/go-metrics"

	"github.com/roach88/subdispatch/internal/engine"
	"github.com/roach88/subdispatch/internal/ir"
)

// Metric names registered by FlowControl.
const (
	MetricDeliveries = "subdispatch.deliveries"
	MetricFiltered   = "subdispatch.filtered"
)

// Filter decides whether sub may receive ev.
type Filter func(ev ir.ResultEvent, sub ir.Subscriber) bool

// Callback delivers ev to sub.
type Callback func(ev ir.ResultEvent, sub ir.Subscriber)

// PushFunc fans ev out through filter to callback. A nil filter accepts
// every subscriber; a nil callback selects the default callback.
type PushFunc func(ev ir.ResultEvent, filter Filter, callback Callback) error

// Operation handles every event of one category.
type Operation func(ev ir.ResultEvent, push PushFunc) error

// StreamSource provides the result stream. Implemented by *engine.Engine.
type StreamSource interface {
	Stream() *engine.Stream
}

// FlowControl consumes a result stream and dispatches events to
// operations by category.
//
// Thread-safety: Push may be called from any goroutine. Events from the
// stream are handled on a single consumer goroutine, in stream order.
type FlowControl struct {
	source     StreamSource
	operations map[string]Operation
	callback   Callback
	logger     *slog.Logger

	deliveries metrics.Counter
	filtered   metrics.Counter
	processed  atomic.Int64

	mu       sync.Mutex
	attached bool
	sub      *engine.Subscription
	done     chan struct{}
	err      error
}

// Option configures a FlowControl.
type Option func(*FlowControl)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(fc *FlowControl) {
		fc.logger = l
	}
}

// WithMetrics registers delivery counters in r instead of a private
// registry.
func WithMetrics(r metrics.Registry) Option {
	return func(fc *FlowControl) {
		fc.deliveries = metrics.GetOrRegisterCounter(MetricDeliveries, r)
		fc.filtered = metrics.GetOrRegisterCounter(MetricFiltered, r)
	}
}

// New creates a FlowControl over source.
//
// Returns a ConfigurationError when source, operations or callback is nil.
// The operations map is copied.
func New(source StreamSource, operations map[string]Operation, callback Callback, opts ...Option) (*FlowControl, error) {
	if source == nil {
		return nil, &ir.ConfigurationError{Field: "source", Message: "stream source must not be nil"}
	}
	if operations == nil {
		return nil, &ir.ConfigurationError{Field: "operations", Message: "operations must be a map"}
	}
	if callback == nil {
		return nil, &ir.ConfigurationError{Field: "callback", Message: "default callback must be a function"}
	}

	ops := make(map[string]Operation, len(operations))
	for category, op := range operations {
		if op == nil {
			return nil, &ir.ConfigurationError{Field: "operations", Message: "operation for " + category + " is nil"}
		}
		ops[category] = op
	}

	reg := metrics.NewRegistry()
	fc := &FlowControl{
		source:     source,
		operations: ops,
		callback:   callback,
		logger:     slog.Default(),
		deliveries: metrics.GetOrRegisterCounter(MetricDeliveries, reg),
		filtered:   metrics.GetOrRegisterCounter(MetricFiltered, reg),
	}

	for _, opt := range opts {
		opt(fc)
	}

	return fc, nil
}

// Attach subscribes to the stream and starts consuming it. Consumption
// ends when ctx is cancelled, Detach is called or the stream ends.
// A FlowControl attaches once; a second call returns a ConfigurationError.
func (fc *FlowControl) Attach(ctx context.Context) error {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	if fc.attached {
		return &ir.ConfigurationError{Field: "attach", Message: "flow control is already attached"}
	}
	fc.attached = true
	fc.sub = fc.source.Stream().Subscribe()
	fc.done = make(chan struct{})

	go fc.consume(ctx, fc.sub, fc.done)
	return nil
}

func (fc *FlowControl) consume(ctx context.Context, sub *engine.Subscription, done chan struct{}) {
	defer close(done)

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				err := sub.Err()
				fc.mu.Lock()
				fc.err = err
				fc.mu.Unlock()
				if err != nil {
					fc.logger.Error("result stream failed", "error", err)
				}
				return
			}
			fc.handle(ev)
			fc.processed.Add(1)

		case <-ctx.Done():
			sub.Close()
			return
		}
	}
}

func (fc *FlowControl) handle(ev ir.ResultEvent) {
	op, ok := fc.operations[ev.Category]
	if !ok {
		fc.logger.Debug("no operation for category",
			"category", ev.Category,
			"hash", ev.Hash,
		)
		return
	}

	if err := op(ev, fc.Push); err != nil {
		fc.logger.Warn("operation failed",
			"category", ev.Category,
			"namespace", ev.Namespace,
			"hash", ev.Hash,
			"trigger_id", ev.TriggerID,
			"error", err,
		)
	}
}

// Push invokes callback once for every subscriber of ev that filter
// accepts, in subscriber order. Returns an InvalidArgumentError when
// ev.Subscribers is nil.
func (fc *FlowControl) Push(ev ir.ResultEvent, filter Filter, callback Callback) error {
	if ev.Subscribers == nil {
		return &ir.InvalidArgumentError{Argument: "subscribers", Message: "subscribers must be a slice"}
	}
	if callback == nil {
		callback = fc.callback
	}

	for _, sub := range ev.Subscribers {
		if filter != nil && !filter(ev, sub) {
			fc.filtered.Inc(1)
			continue
		}
		callback(ev, sub)
		fc.deliveries.Inc(1)
	}
	return nil
}

// Detach stops consuming and waits for the consumer goroutine to exit.
// Safe to call before Attach and more than once.
func (fc *FlowControl) Detach() {
	fc.mu.Lock()
	sub, done := fc.sub, fc.done
	fc.mu.Unlock()

	if sub == nil {
		return
	}
	sub.Close()
	<-done
}

// Err returns the stream failure that ended consumption, if any.
func (fc *FlowControl) Err() error {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.err
}

// Processed returns the number of events consumed from the stream,
// including events without an operation.
func (fc *FlowControl) Processed() int64 {
	return fc.processed.Load()
}

// Deliveries returns the number of callback invocations so far.
func (fc *FlowControl) Deliveries() int64 {
	return fc.deliveries.Count()
}

// Filtered returns the number of subscribers rejected by filters so far.
func (fc *FlowControl) Filtered() int64 {
	return fc.filtered.Count()
}

// Operations returns the categories with a registered operation, sorted.
func (fc *FlowControl) Operations() []string {
	return ir.SortedKeys(fc.operations)
}
