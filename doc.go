// Package tokenkeep provides a refresh-token lifecycle manager: it persists,
// validates, revokes, and garbage-collects long-lived opaque refresh credentials
// on behalf of an external authentication service.
//
// The package is designed for concurrent server workloads: Manager methods are safe
// to call from multiple goroutines after initialization through [Builder.Build].
//
// # Architecture boundaries
//
// tokenkeep is the public surface. It exposes [Manager], [Builder], [Config], and
// value types (MetricsSnapshot, AuditEvent, etc.). Record state and the store
// backends live in the token sub-package; the Manager is the only boundary callers
// should depend on for validation semantics.
//
// # What this package must NOT do
//
//   - See raw token secrets. Callers hash secrets with token.HashSecret before any
//     store call; only digests cross this boundary.
//   - Decide authentication policy (session length, MFA requirements) or own user
//     identity records.
//   - Reveal why a validation failed. Missing, expired, revoked, and wrong-secret
//     tokens are indistinguishable at the public boundary; detailed reasons flow to
//     the audit sink only.
//
// # Performance contract
//
// Validate is the hot path. With the in-memory backend it is a single mutex-guarded
// map lookup plus a constant-time digest comparison; with the Redis backend it is
// one CAS round-trip. Cleanup is the only unbounded scan and runs chunked so it
// never holds the store lock across the whole record population.
package tokenkeep
