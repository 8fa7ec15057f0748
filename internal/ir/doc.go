// Package ir provides the shared value types of the dispatch engine.
//
// This package contains type definitions, the canonical JSON encoding and the
// content-addressed hashes. All other internal packages import ir; ir imports
// nothing internal, so it stays the foundational layer with no cycles.
//
// Key design constraints:
//   - Subscription identity is SHA-256 over canonical JSON, never json.Marshal
//   - Subscriber references are opaque hashable values owned by the host
//   - Result events are values; the Root payload is shared, not cloned
package ir
