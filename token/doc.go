// Package token implements the record model, secret hashing, and store backends
// for opaque refresh tokens.
//
// # Token handling
//
// Raw secrets never enter this package's stores: callers digest them with
// HashSecret (SHA-256, base64url) and only the digest is persisted. Digest
// comparison during validation is constant time.
//
// # Architecture boundaries
//
// This package owns record state and storage. The uniform-failure policy — callers
// must not learn whether a token was missing, expired, revoked, or mismatched —
// is enforced one level up by the tokenkeep Manager; stores return distinct
// sentinel errors so that layer can log the real reason before collapsing it.
//
// # What this package must NOT do
//
//   - Generate or transport raw secrets beyond the NewSecret helper.
//   - Import tokenkeep (no import cycles).
//   - Schedule its own cleanup; the sweeper drives Cleanup from outside.
package token
