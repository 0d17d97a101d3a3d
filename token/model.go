package token

import "time"

// Record is the stored state of one issued refresh token. The raw secret is never
// retained; TokenHash is its only representation.
//
// Revoked is monotonic: once set it never clears (there is no un-revoke path).
// LastUsedAt tracks the last mutation — it advances on successful validation and
// on revocation, never backwards.
type Record struct {
	TokenID   string
	UserID    int64
	TokenHash string

	Revoked bool

	IPAddress string
	UserAgent string

	CreatedAt  time.Time
	ExpiresAt  time.Time
	LastUsedAt time.Time
}

// Expired reports whether the record's expiry has passed at now. The boundary is
// inclusive: a record expiring exactly at now is expired.
func (r *Record) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Usable reports whether the record can still pass validation at now, ignoring
// the digest check.
func (r *Record) Usable(now time.Time) bool {
	return !r.Revoked && !r.Expired(now)
}

// Clone returns a copy safe to hand outside the store's critical section.
func (r *Record) Clone() *Record {
	c := *r
	return &c
}
