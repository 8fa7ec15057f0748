// Package journal records deliveries and execution failures in SQLite.
//
// The journal is an append-only log with two tables:
//   - deliveries: one row per (result event, subscriber) callback
//   - failures: one row per failed query execution
//
// A journal plugs into the dispatch path through Callback, a flow control
// delivery callback, and FailureHandler, an engine failure handler.
//
// # Ordering
//
// Reads are ordered by the event's logical sequence number, never by wall
// time: ORDER BY seq ASC, id ASC.
//
// Payloads are stored as canonical JSON, so identical results are stored
// byte-identically.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait up to 5s on lock contention
//   - Single open connection: SQLite allows one writer at a time
package journal
