package token

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisStoreTest(t *testing.T) (*RedisStore, *miniredis.Miniredis, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStore(rdb, "tk", time.Hour)
	return store, mr, func() {
		rdb.Close()
		mr.Close()
	}
}

func TestRedisSaveValidateRoundTrip(t *testing.T) {
	store, _, done := newRedisStoreTest(t)
	defer done()
	ctx := context.Background()

	rec := testRecord("r-1", 1, time.Hour)
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.Validate(ctx, "r-1", rec.TokenHash)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if got.UserID != 1 || got.TokenID != "r-1" {
		t.Fatalf("unexpected record %+v", got)
	}
	if got.IPAddress != rec.IPAddress || got.UserAgent != rec.UserAgent {
		t.Fatalf("metadata lost in round trip: %+v", got)
	}
}

func TestRedisValidateSentinels(t *testing.T) {
	store, _, done := newRedisStoreTest(t)
	defer done()
	ctx := context.Background()

	if _, err := store.Validate(ctx, "missing", HashSecret("x")); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected not-found sentinel, got %v", err)
	}

	rec := testRecord("r-hash", 1, time.Hour)
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := store.Validate(ctx, "r-hash", HashSecret("other")); !errors.Is(err, ErrHashMismatch) {
		t.Fatalf("expected hash-mismatch sentinel, got %v", err)
	}

	revoked := testRecord("r-revoked", 1, time.Hour)
	if err := store.Save(ctx, revoked); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := store.Revoke(ctx, "r-revoked"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := store.Validate(ctx, "r-revoked", revoked.TokenHash); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected revoked sentinel, got %v", err)
	}
}

func TestRedisValidateExpiredDeletesRecord(t *testing.T) {
	store, _, done := newRedisStoreTest(t)
	defer done()
	ctx := context.Background()

	// Already expired at save time; the TTL clamp keeps the blob observable
	// briefly so Validate reports expiry instead of not-found.
	rec := testRecord("r-expired", 1, -time.Minute)
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	if _, err := store.Validate(ctx, "r-expired", rec.TokenHash); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected expired sentinel, got %v", err)
	}

	// The expired record is deleted in line; a second attempt sees not-found.
	if _, err := store.Validate(ctx, "r-expired", rec.TokenHash); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected not-found after inline delete, got %v", err)
	}
}

func TestRedisTTLEnforcesNaturalExpiry(t *testing.T) {
	store, mr, done := newRedisStoreTest(t)
	defer done()
	ctx := context.Background()

	rec := testRecord("r-ttl", 1, time.Minute)
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	mr.FastForward(2 * time.Minute)

	if _, err := store.Validate(ctx, "r-ttl", rec.TokenHash); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected TTL to purge record, got %v", err)
	}
}

func TestRedisRevokeClampsTTLToGrace(t *testing.T) {
	store, mr, done := newRedisStoreTest(t)
	defer done()
	ctx := context.Background()

	rec := testRecord("r-clamp", 1, 48*time.Hour)
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	changed, err := store.Revoke(ctx, "r-clamp")
	if err != nil || !changed {
		t.Fatalf("revoke: changed=%v err=%v", changed, err)
	}

	ttl := mr.TTL("tk:r-clamp")
	if ttl <= 0 || ttl > time.Hour {
		t.Fatalf("expected TTL clamped to grace window, got %v", ttl)
	}
}

func TestRedisRevokeIdempotent(t *testing.T) {
	store, _, done := newRedisStoreTest(t)
	defer done()
	ctx := context.Background()

	rec := testRecord("r-idem", 1, time.Hour)
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	changed, err := store.Revoke(ctx, "r-idem")
	if err != nil || !changed {
		t.Fatalf("first revoke: changed=%v err=%v", changed, err)
	}
	changed, err = store.Revoke(ctx, "r-idem")
	if err != nil || changed {
		t.Fatalf("second revoke must be a no-op: changed=%v err=%v", changed, err)
	}
	changed, err = store.Revoke(ctx, "r-missing")
	if err != nil || changed {
		t.Fatalf("revoking missing token must be a no-op: changed=%v err=%v", changed, err)
	}
}

func TestRedisRevokeAllForUser(t *testing.T) {
	store, _, done := newRedisStoreTest(t)
	defer done()
	ctx := context.Background()

	for _, id := range []string{"ra-1", "ra-2"} {
		if err := store.Save(ctx, testRecord(id, 4, time.Hour)); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}
	other := testRecord("rb-1", 5, time.Hour)
	if err := store.Save(ctx, other); err != nil {
		t.Fatalf("save other: %v", err)
	}

	count, err := store.RevokeAllForUser(ctx, 4)
	if err != nil {
		t.Fatalf("revoke all: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 revocations, got %d", count)
	}

	if got, err := store.Validate(ctx, "rb-1", other.TokenHash); err != nil || got == nil {
		t.Fatalf("other user's token must stay valid: rec=%v err=%v", got, err)
	}
}

func TestRedisUserTokensOrderedAndFiltered(t *testing.T) {
	store, _, done := newRedisStoreTest(t)
	defer done()
	ctx := context.Background()

	now := time.Now()
	older := testRecord("ut-old", 9, time.Hour)
	older.LastUsedAt = now.Add(-time.Hour)
	newer := testRecord("ut-new", 9, time.Hour)
	newer.LastUsedAt = now.Add(-time.Minute)
	revoked := testRecord("ut-revoked", 9, time.Hour)
	for _, rec := range []*Record{older, newer, revoked} {
		if err := store.Save(ctx, rec); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	if _, err := store.Revoke(ctx, "ut-revoked"); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	recs, err := store.UserTokens(ctx, 9)
	if err != nil {
		t.Fatalf("user tokens: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 active records, got %d", len(recs))
	}
	if recs[0].TokenID != "ut-new" || recs[1].TokenID != "ut-old" {
		t.Fatalf("expected recency order, got %s/%s", recs[0].TokenID, recs[1].TokenID)
	}
}

func TestRedisStatsClassification(t *testing.T) {
	store, _, done := newRedisStoreTest(t)
	defer done()
	ctx := context.Background()

	active := testRecord("st-active", 1, time.Hour)
	expired := testRecord("st-expired", 1, -time.Minute)
	revoked := testRecord("st-revoked", 1, time.Hour)
	for _, rec := range []*Record{active, expired, revoked} {
		if err := store.Save(ctx, rec); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	if _, err := store.Revoke(ctx, "st-revoked"); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	want := Stats{Total: 3, Active: 1, Expired: 1, Revoked: 1}
	if stats != want {
		t.Fatalf("expected %+v, got %+v", want, stats)
	}
}

func TestRedisCleanupRemovesExpiredAndPrunesIndex(t *testing.T) {
	store, mr, done := newRedisStoreTest(t)
	defer done()
	ctx := context.Background()

	expired := testRecord("cl-expired", 6, -time.Minute)
	fresh := testRecord("cl-fresh", 6, time.Hour)
	for _, rec := range []*Record{expired, fresh} {
		if err := store.Save(ctx, rec); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	removed, err := store.Cleanup(ctx)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removal, got %d", removed)
	}

	// The user index no longer references the removed token.
	if mr.Exists("tk:cl-expired") {
		t.Fatal("expected expired record key to be deleted")
	}
	recs, err := store.UserTokens(ctx, 6)
	if err != nil {
		t.Fatalf("user tokens: %v", err)
	}
	if len(recs) != 1 || recs[0].TokenID != "cl-fresh" {
		t.Fatalf("expected only the fresh record, got %+v", recs)
	}
}

func TestRedisCleanupPrunesDanglingIndexMembers(t *testing.T) {
	store, mr, done := newRedisStoreTest(t)
	defer done()
	ctx := context.Background()

	rec := testRecord("dangle", 8, time.Minute)
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	// TTL purges the blob but the index member survives until Cleanup.
	mr.FastForward(2 * time.Minute)

	if _, err := store.Cleanup(ctx); err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	if mr.Exists("tku:8") {
		members, err := mr.Members("tku:8")
		if err != nil {
			t.Fatalf("members: %v", err)
		}
		if len(members) != 0 {
			t.Fatalf("expected dangling index member pruned, got %v", members)
		}
	}
}

func TestRedisClearAll(t *testing.T) {
	store, mr, done := newRedisStoreTest(t)
	defer done()
	ctx := context.Background()

	for _, id := range []string{"ca-1", "ca-2"} {
		if err := store.Save(ctx, testRecord(id, 1, time.Hour)); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}

	if err := store.ClearAll(ctx); err != nil {
		t.Fatalf("clear all: %v", err)
	}

	if len(mr.Keys()) != 0 {
		t.Fatalf("expected empty keyspace, got %v", mr.Keys())
	}
	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 0 {
		t.Fatalf("expected empty stats, got %+v", stats)
	}
}

func TestRedisUnavailableWrapsSentinel(t *testing.T) {
	store, mr, done := newRedisStoreTest(t)
	defer done()
	ctx := context.Background()

	mr.Close()

	if err := store.Save(ctx, testRecord("down", 1, time.Hour)); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected unavailable sentinel from save, got %v", err)
	}
	if _, err := store.Validate(ctx, "down", HashSecret("x")); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected unavailable sentinel from validate, got %v", err)
	}
	if _, err := store.Stats(ctx); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected unavailable sentinel from stats, got %v", err)
	}
}

func TestRedisConcurrentValidatesAllSucceed(t *testing.T) {
	store, _, done := newRedisStoreTest(t)
	defer done()
	ctx := context.Background()

	rec := testRecord("cv-1", 1, time.Hour)
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Validation is repeatable; losing the CAS for the LastUsedAt bump must
	// never turn a live token into a negative verdict.
	const n = 32
	var wg sync.WaitGroup
	wg.Add(n)

	results := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			got, err := store.Validate(ctx, "cv-1", rec.TokenHash)
			if err == nil && got == nil {
				err = errors.New("nil record without error")
			}
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	for err := range results {
		if err != nil {
			t.Fatalf("concurrent validate of a live token failed: %v", err)
		}
	}
}

func TestRedisRevokeUnderValidateContention(t *testing.T) {
	store, _, done := newRedisStoreTest(t)
	defer done()
	ctx := context.Background()

	rec := testRecord("rc-1", 1, time.Hour)
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					_, _ = store.Validate(ctx, "rc-1", rec.TokenHash)
				}
			}
		}()
	}

	// The only revoker of a live token must observe a state change or a
	// retryable backend error — never (false, nil), which would claim the
	// token was absent or already revoked.
	changed, err := store.Revoke(ctx, "rc-1")
	close(stop)
	wg.Wait()

	if err != nil {
		if !errors.Is(err, ErrRedisUnavailable) {
			t.Fatalf("expected retryable backend error, got %v", err)
		}
		return
	}
	if !changed {
		t.Fatal("revoke of a live token reported no state change without error")
	}

	if _, err := store.Validate(ctx, "rc-1", rec.TokenHash); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected revoked sentinel after revoke, got %v", err)
	}
}

func TestTokenRecordCodecRoundTrip(t *testing.T) {
	rec := testRecord("codec", 42, time.Hour)
	rec.Revoked = true

	encoded, err := encodeTokenRecord(rec)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := decodeTokenRecord(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if decoded.UserID != rec.UserID || !decoded.Revoked {
		t.Fatalf("unexpected decode %+v", decoded)
	}
	if decoded.TokenHash != rec.TokenHash || decoded.IPAddress != rec.IPAddress || decoded.UserAgent != rec.UserAgent {
		t.Fatalf("string fields lost: %+v", decoded)
	}
	if !decoded.ExpiresAt.Equal(rec.ExpiresAt) {
		t.Fatalf("expiry drifted: %v vs %v", decoded.ExpiresAt, rec.ExpiresAt)
	}
}

func TestTokenRecordDecodeRejectsCorrupt(t *testing.T) {
	cases := [][]byte{
		nil,
		{},
		{99},
		{tokenRecordVersionV1},
		{tokenRecordVersionV1, 0, 1, 2, 3},
	}
	for i, data := range cases {
		if _, err := decodeTokenRecord(data); err == nil {
			t.Fatalf("case %d: expected decode error for corrupt blob", i)
		}
	}
}
