// Package engine implements the subscription dispatch engine.
//
// ARCHITECTURE:
//
// Registry:
// Subscriptions live in a three-level index, category -> namespace -> hash.
// The hash is content-addressed over (query, variables), so every subscriber
// asking the same question shares one entry. Empty leaves are deleted as
// soon as their last subscriber leaves.
//
// Pipeline:
// Run enqueues a trigger on an unbounded FIFO queue. A single dispatcher
// goroutine dequeues triggers in order, snapshots the entries registered
// under the trigger's (category, namespace) and admits one execution task
// per entry through a global FIFO semaphore. Each task executes its query
// once and publishes one ResultEvent.
//
//	Run -> triggerQueue -> dispatcher -> semaphore -> execute -> Stream
//
// Stream:
// Results are published on a hot multicast Stream. Every consumer sees the
// same events from the moment it subscribes; nothing is replayed. A query
// failure terminates the Stream for all consumers unless the engine runs
// with the IsolateFailures policy.
//
// ORDERING:
//
// Triggers are admitted in Run call order. Tasks of one trigger are admitted
// before any task of a later trigger. With concurrency 1 results are
// published in admission order; above that, completion order is not
// guaranteed.
//
// Subscribers of a result are read when the result is published, not when
// the trigger is admitted. A subscriber that joined while the query was
// running receives the result; one that left may still be named in it.
//
// Thread-safety: all exported methods of Engine, Registry and Stream are
// safe for concurrent use.
package engine
