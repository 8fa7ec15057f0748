package ir

import (
	"fmt"
)

// Subscriber is an opaque reference identifying one consumer of a
// subscription. Hosts typically pass a pointer to their session or
// connection record. The value must be hashable: it is used as a set key.
type Subscriber any

// Anonymous is the identity used when a subscriber does not supply a
// reference. It is keyed by the subscription hash, so every anonymous
// subscribe of the same hash maps to the same single identity.
type Anonymous string

// String returns the subscription hash the identity is keyed by.
func (a Anonymous) String() string {
	return string(a)
}

// CheckSubscriber returns an InvalidArgumentError when ref cannot be used
// as a set key. A comparable static type is not enough: a struct holding
// an interface field that carries a slice or map still panics on hashing.
func CheckSubscriber(ref Subscriber) error {
	if ref == nil {
		return &InvalidArgumentError{Argument: "subscriber", Message: "subscriber must not be nil"}
	}
	if !hashable(ref) {
		return &InvalidArgumentError{
			Argument: "subscriber",
			Message:  fmt.Sprintf("subscriber of type %T is not hashable", ref),
		}
	}
	return nil
}

// hashable reports whether ref can be inserted into a map keyed by any.
func hashable(ref Subscriber) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	set := map[any]struct{}{}
	set[ref] = struct{}{}
	return true
}

// Trigger announces that an event of (Category, Namespace) occurred.
// It is consumed exactly once by the pipeline and never persisted.
type Trigger struct {
	// ID correlates every result event produced for this trigger.
	ID string `json:"id"`

	Category  string `json:"category"`
	Namespace string `json:"namespace"`

	// Root is the business payload forwarded to query execution as the
	// root value (e.g. the changed record).
	Root any `json:"root"`
}

// ResultEvent is the outcome of executing one distinct subscription for
// one trigger. It carries a full payload; failures never produce events.
type ResultEvent struct {
	// Seq is a monotonic stamp assigned at emission time.
	Seq int64 `json:"seq"`

	TriggerID string `json:"trigger_id"`
	Category  string `json:"category"`
	Namespace string `json:"namespace"`
	Hash      string `json:"hash"`
	Root      any    `json:"root"`

	// Subscribers is the subscriber set of the entry read at emission time,
	// in insertion order. Never nil on events emitted by the engine.
	Subscribers []Subscriber `json:"-"`

	// Data is the query engine's result payload.
	Data any `json:"data"`
}

// ExecutionFailure describes a query engine failure for one subscription.
type ExecutionFailure struct {
	Trigger Trigger
	Hash    string
	Err     error
}
