// Package testutil holds shared fixtures for engine, flow control and
// harness tests: the user subscription schema, deterministic trigger ID
// generators and a thread-safe delivery recorder.
package testutil
