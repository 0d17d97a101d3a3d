package token

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps every Redis transport, command, or transaction
// failure surfaced by [RedisStore]. Callers detect it with errors.Is and may
// retry; it is never a verdict about a token.
var ErrRedisUnavailable = errors.New("redis unavailable")

const (
	tokenRecordVersionV1 = 1

	recordFlagRevoked = 1 << 0

	// Redis rejects non-positive expirations; records that are already expired
	// are kept alive briefly so Validate can observe and delete them.
	minRecordTTL = time.Second

	scanBatchSize = 256
)

// RedisStore is the durable token backend. It satisfies the same [Store]
// contract as [MemoryStore] with one record blob per token ID and a per-user
// index set, letting the TTL machinery enforce natural expiry and the
// grace-window purge of revoked records.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
	grace  time.Duration
}

// NewRedisStore creates a [RedisStore] on the given client. prefix namespaces
// all keys (default "tk"); grace is the revoked-record retention window
// (default 24h).
func NewRedisStore(client redis.UniversalClient, prefix string, grace time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "tk"
	}
	if grace <= 0 {
		grace = defaultGraceWindow
	}
	return &RedisStore{
		redis:  client,
		prefix: prefix,
		grace:  grace,
	}
}

func (s *RedisStore) key(tokenID string) string {
	return s.prefix + ":" + tokenID
}

func (s *RedisStore) userKey(userID int64) string {
	return s.prefix + "u:" + strconv.FormatInt(userID, 10)
}

func (s *RedisStore) tokenIDFromKey(key string) string {
	return strings.TrimPrefix(key, s.prefix+":")
}

func (s *RedisStore) recordTTL(rec *Record, now time.Time) time.Duration {
	ttl := rec.ExpiresAt.Sub(now)
	if rec.Revoked && ttl > s.grace {
		ttl = s.grace
	}
	if ttl < minRecordTTL {
		ttl = minRecordTTL
	}
	return ttl
}

// Save persists a record blob with TTL to natural expiry and adds the token ID
// to the owner's index set.
func (s *RedisStore) Save(ctx context.Context, rec *Record) error {
	now := time.Now()
	stored := rec.Clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	if stored.LastUsedAt.IsZero() {
		stored.LastUsedAt = stored.CreatedAt
	}

	encoded, err := encodeTokenRecord(stored)
	if err != nil {
		return err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(stored.TokenID), encoded, s.recordTTL(stored, now))
		pipe.SAdd(ctx, s.userKey(stored.UserID), stored.TokenID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Validate runs a WATCH-guarded compare-and-swap so the LastUsedAt bump cannot
// race a concurrent mutation of the same record. When contention exhausts the
// retry budget the record is re-read without the bump; the verdict never
// depends on winning the CAS.
func (s *RedisStore) Validate(ctx context.Context, tokenID, tokenHash string) (*Record, error) {
	const maxRetries = 4
	key := s.key(tokenID)

	for i := 0; i < maxRetries; i++ {
		var matched *Record

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			rec, err := decodeTokenRecord(data)
			if err != nil {
				return err
			}
			rec.TokenID = tokenID

			now := time.Now()
			if rec.Revoked {
				return ErrTokenRevoked
			}
			if rec.Expired(now) {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					pipe.SRem(ctx, s.userKey(rec.UserID), tokenID)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrTokenExpired
			}
			if !hashEqual(rec.TokenHash, tokenHash) {
				return ErrHashMismatch
			}

			if now.After(rec.LastUsedAt) {
				rec.LastUsedAt = now
			}
			updated, err := encodeTokenRecord(rec)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, s.recordTTL(rec, now))
				return nil
			})
			if err != nil {
				return err
			}

			matched = rec
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return nil, ErrTokenNotFound
			case errors.Is(err, ErrTokenRevoked), errors.Is(err, ErrTokenExpired), errors.Is(err, ErrHashMismatch):
				return nil, err
			default:
				return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
			}
		}
		return matched, nil
	}

	// Contention exhausted the retry budget. Validation is repeatable, so fall
	// back to a plain read and skip the LastUsedAt bump rather than misreport a
	// live token.
	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	rec, err := decodeTokenRecord(data)
	if err != nil {
		return nil, err
	}
	rec.TokenID = tokenID

	now := time.Now()
	if rec.Revoked {
		return nil, ErrTokenRevoked
	}
	if rec.Expired(now) {
		return nil, ErrTokenExpired
	}
	if !hashEqual(rec.TokenHash, tokenHash) {
		return nil, ErrHashMismatch
	}
	return rec, nil
}

// Revoke rewrites the blob with the revoked flag set and clamps its TTL to the
// grace window so Redis purges it without a separate sweep.
func (s *RedisStore) Revoke(ctx context.Context, tokenID string) (bool, error) {
	const maxRetries = 4
	key := s.key(tokenID)

	for i := 0; i < maxRetries; i++ {
		var changed bool

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			rec, err := decodeTokenRecord(data)
			if err != nil {
				return err
			}
			if rec.Revoked {
				return nil
			}

			now := time.Now()
			rec.TokenID = tokenID
			rec.Revoked = true
			if now.After(rec.LastUsedAt) {
				rec.LastUsedAt = now
			}

			updated, err := encodeTokenRecord(rec)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, s.recordTTL(rec, now))
				return nil
			})
			if err != nil {
				return err
			}

			changed = true
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return false, nil
			}
			return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		return changed, nil
	}

	// A false return means the token was absent or already revoked. Exhausted
	// retries mean neither; report a retryable backend error instead.
	return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, redis.TxFailedErr)
}

// RevokeAllForUser revokes each indexed token one CAS at a time. Index entries
// whose record has already vanished are left for Cleanup to reconcile.
func (s *RedisStore) RevokeAllForUser(ctx context.Context, userID int64) (int, error) {
	tokenIDs, err := s.redis.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	changed := 0
	for _, tokenID := range tokenIDs {
		ok, err := s.Revoke(ctx, tokenID)
		if err != nil {
			return changed, err
		}
		if ok {
			changed++
		}
	}
	return changed, nil
}

// UserTokens fetches the user's indexed records in one pipeline and returns the
// active ones, most recently used first.
func (s *RedisStore) UserTokens(ctx context.Context, userID int64) ([]*Record, error) {
	tokenIDs, err := s.redis.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*Record{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(tokenIDs) == 0 {
		return []*Record{}, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.StringCmd, len(tokenIDs))
	for i, tokenID := range tokenIDs {
		cmds[i] = pipe.Get(ctx, s.key(tokenID))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	now := time.Now()
	out := make([]*Record, 0, len(tokenIDs))
	for i, cmd := range cmds {
		data, cmdErr := cmd.Bytes()
		if cmdErr != nil {
			if errors.Is(cmdErr, redis.Nil) {
				continue
			}
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, cmdErr)
		}

		rec, decErr := decodeTokenRecord(data)
		if decErr != nil {
			return nil, decErr
		}
		rec.TokenID = tokenIDs[i]
		if !rec.Usable(now) {
			continue
		}
		out = append(out, rec)
	}

	sortByLastUsedDesc(out)
	return out, nil
}

// Stats scans all record keys and classifies them. This is an O(n) maintenance
// read and must not be used in request hot paths.
func (s *RedisStore) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	now := time.Now()

	err := s.scanRecords(ctx, func(_ string, rec *Record) error {
		stats.Total++
		switch {
		case rec.Revoked:
			stats.Revoked++
		case rec.Expired(now):
			stats.Expired++
		default:
			stats.Active++
		}
		return nil
	})
	if err != nil {
		return Stats{}, err
	}
	return stats, nil
}

// Cleanup deletes expired and stale-revoked records that outlived their TTL
// clamp (for example after the grace window was shortened), then prunes user
// index members whose record is gone.
func (s *RedisStore) Cleanup(ctx context.Context) (int, error) {
	removed := 0
	now := time.Now()
	horizon := now.Add(-s.grace)

	err := s.scanRecords(ctx, func(key string, rec *Record) error {
		if !rec.Expired(now) && !(rec.Revoked && rec.LastUsedAt.Before(horizon)) {
			return nil
		}
		_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.SRem(ctx, s.userKey(rec.UserID), s.tokenIDFromKey(key))
			return nil
		})
		if err != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		removed++
		return nil
	})
	if err != nil {
		return removed, err
	}

	if err := s.pruneUserIndexes(ctx); err != nil {
		return removed, err
	}
	return removed, nil
}

// ClearAll deletes every record blob and user index key under this prefix.
func (s *RedisStore) ClearAll(ctx context.Context) error {
	for _, pattern := range []string{s.prefix + ":*", s.prefix + "u:*"} {
		var cursor uint64
		for {
			keys, next, err := s.redis.Scan(ctx, cursor, pattern, scanBatchSize).Result()
			if err != nil {
				return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
			}
			if len(keys) > 0 {
				if err := s.redis.Del(ctx, keys...).Err(); err != nil {
					return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
				}
			}
			cursor = next
			if cursor == 0 {
				break
			}
		}
	}
	return nil
}

func (s *RedisStore) scanRecords(ctx context.Context, fn func(key string, rec *Record) error) error {
	var cursor uint64
	for {
		keys, next, err := s.redis.Scan(ctx, cursor, s.prefix+":*", scanBatchSize).Result()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}

		for _, key := range keys {
			data, err := s.redis.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue
				}
				return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
			}
			rec, err := decodeTokenRecord(data)
			if err != nil {
				return err
			}
			rec.TokenID = s.tokenIDFromKey(key)
			if err := fn(key, rec); err != nil {
				return err
			}
		}

		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (s *RedisStore) pruneUserIndexes(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := s.redis.Scan(ctx, cursor, s.prefix+"u:*", scanBatchSize).Result()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}

		for _, userKey := range keys {
			members, err := s.redis.SMembers(ctx, userKey).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue
				}
				return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
			}
			for _, tokenID := range members {
				exists, err := s.redis.Exists(ctx, s.key(tokenID)).Result()
				if err != nil {
					return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
				}
				if exists == 0 {
					if err := s.redis.SRem(ctx, userKey, tokenID).Err(); err != nil {
						return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
					}
				}
			}
		}

		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func encodeTokenRecord(rec *Record) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(tokenRecordVersionV1)

	var flags byte
	if rec.Revoked {
		flags |= recordFlagRevoked
	}
	buf.WriteByte(flags)

	if err := binary.Write(&buf, binary.BigEndian, rec.UserID); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, rec.CreatedAt.UnixNano()); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, rec.ExpiresAt.UnixNano()); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, rec.LastUsedAt.UnixNano()); err != nil {
		return nil, err
	}

	for _, field := range []string{rec.TokenHash, rec.IPAddress, rec.UserAgent} {
		if len(field) > 65535 {
			return nil, errors.New("token record field too long")
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(field))); err != nil {
			return nil, err
		}
		buf.WriteString(field)
	}

	return buf.Bytes(), nil
}

func decodeTokenRecord(data []byte) (*Record, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != tokenRecordVersionV1 {
		return nil, errors.New("invalid token record version")
	}

	flags, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	rec := &Record{
		Revoked: flags&recordFlagRevoked != 0,
	}

	if err := binary.Read(reader, binary.BigEndian, &rec.UserID); err != nil {
		return nil, err
	}

	var createdAt, expiresAt, lastUsedAt int64
	if err := binary.Read(reader, binary.BigEndian, &createdAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &expiresAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &lastUsedAt); err != nil {
		return nil, err
	}
	rec.CreatedAt = time.Unix(0, createdAt)
	rec.ExpiresAt = time.Unix(0, expiresAt)
	rec.LastUsedAt = time.Unix(0, lastUsedAt)

	for _, field := range []*string{&rec.TokenHash, &rec.IPAddress, &rec.UserAgent} {
		var length uint16
		if err := binary.Read(reader, binary.BigEndian, &length); err != nil {
			return nil, err
		}
		raw := make([]byte, length)
		if _, err := io.ReadFull(reader, raw); err != nil {
			return nil, err
		}
		*field = string(raw)
	}

	return rec, nil
}
