package engine

import (
	"sync"

	"github.com/roach88/subdispatch/internal/ir"
)

// triggerQueue is a thread-safe FIFO queue of run triggers.
//
// The queue is unbounded so that Run never blocks on query execution.
// Any goroutine may enqueue; only the dispatcher dequeues.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the dispatcher loop.
type triggerQueue struct {
	mu       sync.Mutex
	triggers []ir.Trigger
	closed   bool
	signal   chan struct{} // Signals availability (buffered, size 1)
}

func newTriggerQueue() *triggerQueue {
	return &triggerQueue{
		triggers: make([]ir.Trigger, 0, 64),
		signal:   make(chan struct{}, 1),
	}
}

// Enqueue adds a trigger to the back of the queue.
// Returns false if the queue is closed.
func (q *triggerQueue) Enqueue(t ir.Trigger) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.triggers = append(q.triggers, t)

	// Non-blocking: the buffer of 1 coalesces multiple signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue removes and returns the front trigger without blocking.
// Returns false if the queue is empty. Triggers still queued after Close
// remain dequeueable.
func (q *triggerQueue) TryDequeue() (ir.Trigger, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.triggers) == 0 {
		return ir.Trigger{}, false
	}

	t := q.triggers[0]

	// Clear the slot so the backing array does not pin Root payloads.
	q.triggers[0] = ir.Trigger{}

	if len(q.triggers) == 1 {
		q.triggers = q.triggers[:0]
	} else {
		q.triggers = q.triggers[1:]
	}

	return t, true
}

// Wait returns a channel that signals when triggers may be available.
// The channel is closed by Close.
func (q *triggerQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *triggerQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.triggers)
}

// Close rejects further enqueues and wakes any waiter.
func (q *triggerQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
