package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/roach88/subdispatch/internal/ir"
)

// dispatch is the single consumer of the trigger queue.
// Blocks until ctx is cancelled or the queue is closed.
func (e *Engine) dispatch(ctx context.Context) {
	defer close(e.done)

	for {
		if ctx.Err() != nil {
			e.abandon()
			return
		}

		trigger, ok := e.queue.TryDequeue()
		if ok {
			e.admit(ctx, trigger)
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Debug("dispatcher stopping: context cancelled")
			e.abandon()
			return

		case _, open := <-e.queue.Wait():
			if !open && e.queue.Len() == 0 {
				e.logger.Debug("dispatcher stopping: queue closed")
				return
			}
		}
	}
}

// admit snapshots the entries for trigger and starts one execution per
// entry, each holding a semaphore slot. Slots are acquired in order, so a
// later trigger's tasks never start before an earlier trigger's.
func (e *Engine) admit(ctx context.Context, trigger ir.Trigger) {
	entries := e.registry.Snapshot(trigger.Category, trigger.Namespace)
	e.pending.add(len(entries))
	e.pending.done(1)

	e.logger.Debug("trigger admitted",
		"trigger_id", trigger.ID,
		"category", trigger.Category,
		"namespace", trigger.Namespace,
		"subscriptions", len(entries),
	)

	for i, entry := range entries {
		if err := e.sem.Acquire(ctx, 1); err != nil {
			// Engine stopping: the remaining tasks never run.
			e.pending.done(len(entries) - i)
			return
		}

		e.inflight.Add(1)
		go e.execute(ctx, trigger, entry)
	}
}

// execute runs one entry's query for trigger and publishes the result.
// The semaphore slot is released only after publication.
func (e *Engine) execute(ctx context.Context, trigger ir.Trigger, entry *Entry) {
	defer e.inflight.Done()
	defer e.pending.done(1)
	defer e.sem.Release(1)

	if e.stream.Ended() {
		return
	}

	e.metrics.Executions.Inc(1)
	e.metrics.Inflight.Inc(1)
	start := time.Now()

	// In-flight executions are never cancelled, not even by Close.
	data, err := e.executor.Execute(context.WithoutCancel(ctx), entry.Document, entry.Variables, trigger.Root)

	e.metrics.ExecutionTime.UpdateSince(start)
	e.metrics.Inflight.Dec(1)

	if err != nil {
		e.fail(trigger, entry, err)
		return
	}

	ev := ir.ResultEvent{
		TriggerID:   trigger.ID,
		Category:    trigger.Category,
		Namespace:   trigger.Namespace,
		Hash:        entry.Hash,
		Root:        trigger.Root,
		Subscribers: e.registry.Subscribers(entry.Key),
		Data:        data,
	}
	if e.stream.Publish(ev) {
		e.metrics.Events.Inc(1)
	}
}

// fail applies the failure policy to an execution error.
func (e *Engine) fail(trigger ir.Trigger, entry *Entry, err error) {
	err = withHash(err, entry.Hash)
	e.metrics.Failures.Inc(1)

	e.logger.Error("query execution failed",
		"trigger_id", trigger.ID,
		"category", trigger.Category,
		"namespace", trigger.Namespace,
		"hash", entry.Hash,
		"policy", e.policy.String(),
		"error", err,
	)

	if e.onFailure != nil {
		e.onFailure(ir.ExecutionFailure{Trigger: trigger, Hash: entry.Hash, Err: err})
	}

	if e.policy == FailStream {
		e.stream.Fail(err)
		e.halt()
	}
}

// withHash tags err with the failing subscription. Errors that are neither
// validation nor execution errors are reported as execution errors.
func withHash(err error, hash string) error {
	var ee *ir.ExecutionError
	if errors.As(err, &ee) {
		if ee.Hash != "" {
			return err
		}
		return &ir.ExecutionError{Hash: hash, Messages: ee.Messages}
	}
	if ir.IsValidationError(err) {
		return err
	}
	return &ir.ExecutionError{Hash: hash, Messages: []string{err.Error()}}
}

// abandon rejects further triggers and discards the queued ones.
func (e *Engine) abandon() {
	e.stopped.Store(true)
	e.queue.Close()
	e.drain()
}

// drain discards triggers that will never be admitted.
func (e *Engine) drain() {
	for {
		if _, ok := e.queue.TryDequeue(); !ok {
			return
		}
		e.pending.done(1)
	}
}

// tracker counts outstanding work for Flush.
type tracker struct {
	mu   sync.Mutex
	n    int
	idle chan struct{} // closed while n == 0
}

func newTracker() *tracker {
	idle := make(chan struct{})
	close(idle)
	return &tracker{idle: idle}
}

func (t *tracker) add(n int) {
	if n <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.n == 0 {
		t.idle = make(chan struct{})
	}
	t.n += n
}

func (t *tracker) done(n int) {
	if n <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.n == 0 {
		return
	}
	t.n -= n
	if t.n <= 0 {
		t.n = 0
		close(t.idle)
	}
}

func (t *tracker) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.n
}

func (t *tracker) wait(ctx context.Context) error {
	t.mu.Lock()
	idle := t.idle
	t.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
