package token

import (
	"context"
	"errors"
	"sort"
)

// ErrTokenNotFound is returned by store backends when no record exists for a token ID.
var ErrTokenNotFound = errors.New("token not found")

// ErrTokenExpired is returned by store backends when the record's expiry has passed.
var ErrTokenExpired = errors.New("token expired")

// ErrTokenRevoked is returned by store backends when the record was revoked.
var ErrTokenRevoked = errors.New("token revoked")

// ErrHashMismatch is returned by store backends when the presented digest does not
// match the stored one.
var ErrHashMismatch = errors.New("token hash mismatch")

// IsValidationOutcome reports whether err is one of the four negative Validate
// sentinels, as opposed to a backend fault such as ErrRedisUnavailable.
func IsValidationOutcome(err error) bool {
	return errors.Is(err, ErrTokenNotFound) ||
		errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrTokenRevoked) ||
		errors.Is(err, ErrHashMismatch)
}

// Stats is a point-in-time aggregate over the full record set. Categories are
// mutually exclusive and exhaustive: Total = Active + Expired + Revoked. A record
// that is both revoked and expired counts as Revoked.
type Stats struct {
	Total   int
	Active  int
	Expired int
	Revoked int
}

// Store is the stable contract every token backend satisfies. MemoryStore is the
// in-process default; RedisStore backs the same operation set with durable keys.
// Methods take a context because durable backends perform I/O; the in-memory
// backend never blocks and never returns backend errors.
//
// Validate returns one of the sentinel errors above on every negative outcome.
// Backends do not collapse those into a uniform result — that is the Manager's
// job, so the detailed reason stays available for internal logging.
type Store interface {
	// Save inserts a record. An existing record with the same TokenID is
	// overwritten silently; callers generate collision-free identifiers.
	Save(ctx context.Context, rec *Record) error

	// Validate checks that a record exists, is not revoked, is not expired, and
	// that tokenHash matches in constant time. On success it advances LastUsedAt
	// and returns a copy of the record.
	Validate(ctx context.Context, tokenID, tokenHash string) (*Record, error)

	// Revoke marks the record revoked. It reports true only when a state change
	// occurred; revoking a missing or already-revoked token is a no-op.
	Revoke(ctx context.Context, tokenID string) (bool, error)

	// RevokeAllForUser revokes every non-revoked record owned by userID and
	// returns the number of records changed.
	RevokeAllForUser(ctx context.Context, userID int64) (int, error)

	// UserTokens returns the user's currently active records, most recently used
	// first.
	UserTokens(ctx context.Context, userID int64) ([]*Record, error)

	// Stats aggregates counts over the full record set.
	Stats(ctx context.Context) (Stats, error)

	// Cleanup removes expired records and revoked records past the grace window,
	// returning the number of records removed.
	Cleanup(ctx context.Context) (int, error)

	// ClearAll unconditionally empties the store.
	ClearAll(ctx context.Context) error
}

// sortByLastUsedDesc orders records most recently used first, with the token ID
// as a deterministic tie-break.
func sortByLastUsedDesc(recs []*Record) {
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].LastUsedAt.Equal(recs[j].LastUsedAt) {
			return recs[i].LastUsedAt.After(recs[j].LastUsedAt)
		}
		return recs[i].TokenID < recs[j].TokenID
	})
}
