package testutil

import (
	"sync"
	"time"

	"github.com/roach88/subdispatch/internal/ir"
)

// Delivery is one recorded callback invocation.
type Delivery struct {
	Event      ir.ResultEvent
	Subscriber ir.Subscriber
}

// Recorder records delivery callbacks. Safe for concurrent use.
type Recorder struct {
	mu         sync.Mutex
	deliveries []Delivery
	notify     chan struct{}
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{notify: make(chan struct{}, 1)}
}

// Record appends a delivery. Its signature matches a flow control callback.
func (r *Recorder) Record(event ir.ResultEvent, sub ir.Subscriber) {
	r.mu.Lock()
	r.deliveries = append(r.deliveries, Delivery{Event: event, Subscriber: sub})
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Deliveries returns a copy of everything recorded so far.
func (r *Recorder) Deliveries() []Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Delivery, len(r.deliveries))
	copy(out, r.deliveries)
	return out
}

// Subscribers returns the recorded subscribers in delivery order.
func (r *Recorder) Subscribers() []ir.Subscriber {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ir.Subscriber, len(r.deliveries))
	for i, d := range r.deliveries {
		out[i] = d.Subscriber
	}
	return out
}

// Len returns the number of recorded deliveries.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.deliveries)
}

// WaitFor blocks until at least n deliveries were recorded or timeout
// elapses. Returns whether n was reached.
func (r *Recorder) WaitFor(n int, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		if r.Len() >= n {
			return true
		}
		select {
		case <-r.notify:
		case <-deadline.C:
			return r.Len() >= n
		}
	}
}
