package token

import (
	"context"
	"sync"
	"time"
)

const (
	defaultGraceWindow      = 24 * time.Hour
	defaultCleanupBatchSize = 256
)

// MemoryStore is the in-process token backend: a mutex-guarded map plus a
// per-user index. Every operation is an atomic critical section; no operation
// blocks on I/O.
//
// Cleanup is chunked: the key set is snapshotted, then examined in batches of
// batchSize with the lock released between batches, so a large token population
// never stalls concurrent Validate calls for the whole scan.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
	byUser  map[int64]map[string]struct{}

	grace     time.Duration
	batchSize int
}

// NewMemoryStore creates a [MemoryStore]. grace is the retention window for
// revoked records before Cleanup purges them; batchSize bounds how many records
// one Cleanup critical section examines. Non-positive arguments fall back to the
// defaults (24h, 256).
func NewMemoryStore(grace time.Duration, batchSize int) *MemoryStore {
	if grace <= 0 {
		grace = defaultGraceWindow
	}
	if batchSize <= 0 {
		batchSize = defaultCleanupBatchSize
	}
	return &MemoryStore{
		records:   make(map[string]*Record),
		byUser:    make(map[int64]map[string]struct{}),
		grace:     grace,
		batchSize: batchSize,
	}
}

// Save inserts a copy of rec, overwriting silently on a duplicate TokenID.
// Zero CreatedAt/LastUsedAt default to now.
func (s *MemoryStore) Save(_ context.Context, rec *Record) error {
	now := time.Now()
	stored := rec.Clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	if stored.LastUsedAt.IsZero() {
		stored.LastUsedAt = stored.CreatedAt
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.records[stored.TokenID]; ok && prev.UserID != stored.UserID {
		s.unindex(prev)
	}
	s.records[stored.TokenID] = stored
	s.index(stored)
	return nil
}

// Validate checks existence, revocation, expiry, and digest equality in that
// order, returning the matching sentinel error on failure. On success it
// advances LastUsedAt and returns a copy.
func (s *MemoryStore) Validate(_ context.Context, tokenID, tokenHash string) (*Record, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[tokenID]
	if !ok {
		return nil, ErrTokenNotFound
	}
	if rec.Revoked {
		return nil, ErrTokenRevoked
	}
	if rec.Expired(now) {
		return nil, ErrTokenExpired
	}
	if !hashEqual(rec.TokenHash, tokenHash) {
		return nil, ErrHashMismatch
	}

	if now.After(rec.LastUsedAt) {
		rec.LastUsedAt = now
	}
	return rec.Clone(), nil
}

// Revoke marks the record revoked and stamps LastUsedAt with the revocation
// time. Reports true only when a state change occurred.
func (s *MemoryStore) Revoke(_ context.Context, tokenID string) (bool, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[tokenID]
	if !ok || rec.Revoked {
		return false, nil
	}
	rec.Revoked = true
	if now.After(rec.LastUsedAt) {
		rec.LastUsedAt = now
	}
	return true, nil
}

// RevokeAllForUser revokes every non-revoked record owned by userID, leaving
// other users' records and already-revoked records untouched.
func (s *MemoryStore) RevokeAllForUser(_ context.Context, userID int64) (int, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	changed := 0
	for id := range s.byUser[userID] {
		rec, ok := s.records[id]
		if !ok || rec.Revoked {
			continue
		}
		rec.Revoked = true
		if now.After(rec.LastUsedAt) {
			rec.LastUsedAt = now
		}
		changed++
	}
	return changed, nil
}

// UserTokens returns copies of the user's active records, LastUsedAt descending.
func (s *MemoryStore) UserTokens(_ context.Context, userID int64) ([]*Record, error) {
	now := time.Now()

	s.mu.Lock()
	out := make([]*Record, 0, len(s.byUser[userID]))
	for id := range s.byUser[userID] {
		rec, ok := s.records[id]
		if !ok || !rec.Usable(now) {
			continue
		}
		out = append(out, rec.Clone())
	}
	s.mu.Unlock()

	sortByLastUsedDesc(out)
	return out, nil
}

// Stats aggregates counts at the moment of the call. Revoked takes precedence
// over expired so the categories partition Total.
func (s *MemoryStore) Stats(_ context.Context) (Stats, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{Total: len(s.records)}
	for _, rec := range s.records {
		switch {
		case rec.Revoked:
			stats.Revoked++
		case rec.Expired(now):
			stats.Expired++
		default:
			stats.Active++
		}
	}
	return stats, nil
}

// Cleanup removes expired records and revoked records whose last mutation is
// older than the grace window. The scan is chunked so the lock is never held
// across the whole population.
func (s *MemoryStore) Cleanup(ctx context.Context) (int, error) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	removed := 0
	for start := 0; start < len(ids); start += s.batchSize {
		end := start + s.batchSize
		if end > len(ids) {
			end = len(ids)
		}

		s.mu.Lock()
		now := time.Now()
		horizon := now.Add(-s.grace)
		for _, id := range ids[start:end] {
			rec, ok := s.records[id]
			if !ok {
				continue
			}
			if rec.Expired(now) || (rec.Revoked && rec.LastUsedAt.Before(horizon)) {
				delete(s.records, id)
				s.unindex(rec)
				removed++
			}
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return removed, ctx.Err()
		default:
		}
	}
	return removed, nil
}

// ClearAll unconditionally empties the store.
func (s *MemoryStore) ClearAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make(map[string]*Record)
	s.byUser = make(map[int64]map[string]struct{})
	return nil
}

func (s *MemoryStore) index(rec *Record) {
	set, ok := s.byUser[rec.UserID]
	if !ok {
		set = make(map[string]struct{})
		s.byUser[rec.UserID] = set
	}
	set[rec.TokenID] = struct{}{}
}

func (s *MemoryStore) unindex(rec *Record) {
	set, ok := s.byUser[rec.UserID]
	if !ok {
		return
	}
	delete(set, rec.TokenID)
	if len(set) == 0 {
		delete(s.byUser, rec.UserID)
	}
}
