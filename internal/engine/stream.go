package engine

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/roach88/subdispatch/internal/ir"
)

// DefaultStreamBuffer is the per-subscription event buffer.
const DefaultStreamBuffer = 64

// Stream is a hot multicast sequence of result events.
//
// Every Subscription observes every event published after it subscribed;
// nothing is replayed. A full subscription buffer blocks the publisher
// until the consumer catches up or closes its subscription.
//
// A Stream ends once, either by Close or by Fail. After that every current
// and future Subscription sees a closed Events channel, and Err reports the
// failure (nil after a normal Close).
type Stream struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	buffer int
	ended  bool
	err    error

	// seq stamps published events; strictly increasing, starting at 1.
	seq atomic.Int64

	// stop is closed before the write lock is taken so that blocked
	// publishers release their read locks.
	stop     chan struct{}
	stopOnce sync.Once
}

// NewStream creates a stream with the given per-subscription buffer.
// A negative buffer is treated as 0.
func NewStream(buffer int) *Stream {
	if buffer < 0 {
		buffer = 0
	}
	return &Stream{
		subs:   make(map[*Subscription]struct{}),
		buffer: buffer,
		stop:   make(chan struct{}),
	}
}

// Subscription is one consumer's view of a Stream.
type Subscription struct {
	stream *Stream
	events chan ir.ResultEvent

	done     chan struct{}
	doneOnce sync.Once

	mu  sync.Mutex
	err error
}

// Subscribe attaches a new consumer. Subscribing to an ended stream
// returns a Subscription whose Events channel is already closed.
func (s *Stream) Subscribe() *Subscription {
	sub := &Subscription{
		stream: s,
		events: make(chan ir.ResultEvent, s.buffer),
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended {
		sub.finish(s.err)
		return sub
	}
	s.subs[sub] = struct{}{}
	return sub
}

// Publish stamps ev with the next sequence number and delivers it to every
// current subscription. Returns false if the stream has ended.
func (s *Stream) Publish(ev ir.ResultEvent) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.ended {
		return false
	}

	ev.Seq = s.seq.Add(1)
	for sub := range s.subs {
		select {
		case sub.events <- ev:
		case <-sub.done:
		case <-s.stop:
			return false
		}
	}
	return true
}

// Fail ends the stream with err for all current and future consumers.
// Only the first Fail or Close takes effect.
func (s *Stream) Fail(err error) {
	if err == nil {
		err = errors.New("stream failed")
	}
	s.end(err)
}

// Close ends the stream normally.
func (s *Stream) Close() {
	s.end(nil)
}

func (s *Stream) end(err error) {
	s.stopOnce.Do(func() { close(s.stop) })

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended {
		return
	}
	s.ended = true
	s.err = err

	for sub := range s.subs {
		sub.finish(err)
		delete(s.subs, sub)
	}
}

// Err returns the error the stream failed with, nil while it is open or
// after a normal Close.
func (s *Stream) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Ended reports whether the stream was closed or failed.
func (s *Stream) Ended() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ended
}

// Seq returns the sequence number of the last published event, 0 before
// the first.
func (s *Stream) Seq() int64 {
	return s.seq.Load()
}

// Len returns the number of attached subscriptions.
func (s *Stream) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// Events returns the channel events are delivered on. It is closed when
// the subscription or its stream ends.
func (sub *Subscription) Events() <-chan ir.ResultEvent {
	return sub.events
}

// Err returns the stream's failure once Events is closed. It is nil after a
// normal close of either the stream or the subscription.
func (sub *Subscription) Err() error {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.err
}

// Close detaches the subscription and closes its Events channel.
// Safe to call more than once and from any goroutine.
func (sub *Subscription) Close() {
	sub.doneOnce.Do(func() { close(sub.done) })

	s := sub.stream
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subs[sub]; ok {
		delete(s.subs, sub)
		sub.finish(nil)
	}
}

// finish records err and closes the events channel. Callers hold the
// stream's write lock, and a subscription leaves s.subs exactly once, so
// events is closed once.
func (sub *Subscription) finish(err error) {
	sub.mu.Lock()
	sub.err = err
	sub.mu.Unlock()
	close(sub.events)
}
