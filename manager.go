package tokenkeep

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/tokenkeep/tokenkeep/token"
)

// Metadata carries optional client context recorded alongside a stored token.
//
// Metadata instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Metadata struct {
	IPAddress string
	UserAgent string
}

// Manager defines a public type used by tokenkeep APIs.
//
// Manager instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Manager struct {
	config Config
	store  token.Store

	audit   *auditDispatcher
	metrics *Metrics
	sweeper *sweeper

	closed atomic.Bool
}

// StoreToken describes the storetoken operation and its observable behavior.
//
// StoreToken may return an error when input validation, dependency calls, or security checks fail.
// StoreToken does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m *Manager) StoreToken(ctx context.Context, tokenID string, userID int64, tokenHash string, expiresAt time.Time, meta Metadata) error {
	if m.closed.Load() {
		return ErrManagerClosed
	}
	if tokenID == "" {
		return ErrInvalidTokenID
	}
	if tokenHash == "" {
		return ErrInvalidTokenHash
	}
	if userID <= 0 {
		return ErrInvalidUserID
	}
	if expiresAt.IsZero() {
		return ErrInvalidExpiry
	}

	now := time.Now()
	record := &token.Record{
		TokenID:    tokenID,
		UserID:     userID,
		TokenHash:  tokenHash,
		IPAddress:  meta.IPAddress,
		UserAgent:  meta.UserAgent,
		CreatedAt:  now,
		ExpiresAt:  expiresAt,
		LastUsedAt: now,
	}

	if err := m.store.Save(ctx, record); err != nil {
		return err
	}

	m.metrics.Inc(MetricTokenStored)
	m.audit.Emit(ctx, AuditEvent{
		Timestamp: now,
		EventType: EventTokenStored,
		TokenID:   tokenID,
		UserID:    userID,
		IP:        meta.IPAddress,
		Success:   true,
	})

	return nil
}

// Validate checks a presented token against the stored record and returns the
// matching record on success. Every negative outcome (unknown ID, expired,
// revoked, hash mismatch) is reported identically as (nil, nil); the concrete
// reason reaches only the audit sink. A non-nil error signals a backend fault,
// never a verdict about the token.
//
// Validate may return an error when input validation, dependency calls, or security checks fail.
// Validate does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m *Manager) Validate(ctx context.Context, tokenID, tokenHash string) (*token.Record, error) {
	if m.closed.Load() {
		return nil, ErrManagerClosed
	}

	start := time.Now()
	record, err := m.store.Validate(ctx, tokenID, tokenHash)
	m.metrics.Observe(MetricValidateLatency, time.Since(start))

	if err != nil {
		if !token.IsValidationOutcome(err) {
			return nil, err
		}

		m.metrics.Inc(MetricValidateFailure)
		m.audit.Emit(ctx, AuditEvent{
			Timestamp: time.Now(),
			EventType: EventTokenValidated,
			TokenID:   tokenID,
			Success:   false,
			Reason:    err.Error(),
		})

		return nil, nil
	}

	m.metrics.Inc(MetricValidateSuccess)
	m.audit.Emit(ctx, AuditEvent{
		Timestamp: time.Now(),
		EventType: EventTokenValidated,
		TokenID:   tokenID,
		UserID:    record.UserID,
		IP:        record.IPAddress,
		Success:   true,
	})

	return record, nil
}

// Revoke describes the revoke operation and its observable behavior.
//
// Revoke may return an error when input validation, dependency calls, or security checks fail.
// Revoke does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m *Manager) Revoke(ctx context.Context, tokenID string) (bool, error) {
	if m.closed.Load() {
		return false, ErrManagerClosed
	}
	if tokenID == "" {
		return false, ErrInvalidTokenID
	}

	revoked, err := m.store.Revoke(ctx, tokenID)
	if err != nil {
		return false, err
	}

	if revoked {
		m.metrics.Inc(MetricRevoke)
	}
	m.audit.Emit(ctx, AuditEvent{
		Timestamp: time.Now(),
		EventType: EventTokenRevoked,
		TokenID:   tokenID,
		Success:   revoked,
	})

	return revoked, nil
}

// RevokeAllForUser describes the revokeallforuser operation and its observable behavior.
//
// RevokeAllForUser may return an error when input validation, dependency calls, or security checks fail.
// RevokeAllForUser does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m *Manager) RevokeAllForUser(ctx context.Context, userID int64) (int, error) {
	if m.closed.Load() {
		return 0, ErrManagerClosed
	}
	if userID <= 0 {
		return 0, ErrInvalidUserID
	}

	count, err := m.store.RevokeAllForUser(ctx, userID)
	if err != nil {
		return 0, err
	}

	m.metrics.Inc(MetricRevokeAll)
	m.metrics.Add(MetricTokensBulkRevoked, uint64(count))
	m.audit.Emit(ctx, AuditEvent{
		Timestamp: time.Now(),
		EventType: EventUserTokensRevoked,
		UserID:    userID,
		Success:   true,
		Metadata: map[string]string{
			"revoked": strconv.Itoa(count),
		},
	})

	return count, nil
}

// UserTokens describes the usertokens operation and its observable behavior.
//
// UserTokens may return an error when input validation, dependency calls, or security checks fail.
// UserTokens does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m *Manager) UserTokens(ctx context.Context, userID int64) ([]*token.Record, error) {
	if m.closed.Load() {
		return nil, ErrManagerClosed
	}
	if userID <= 0 {
		return nil, ErrInvalidUserID
	}

	return m.store.UserTokens(ctx, userID)
}

// Stats describes the stats operation and its observable behavior.
//
// Stats may return an error when input validation, dependency calls, or security checks fail.
// Stats does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m *Manager) Stats(ctx context.Context) (token.Stats, error) {
	if m.closed.Load() {
		return token.Stats{}, ErrManagerClosed
	}

	return m.store.Stats(ctx)
}

// Cleanup runs a single cleanup pass immediately, independent of the periodic
// sweeper. Returns the number of records removed.
//
// Cleanup may return an error when input validation, dependency calls, or security checks fail.
// Cleanup does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m *Manager) Cleanup(ctx context.Context) (int, error) {
	if m.closed.Load() {
		return 0, ErrManagerClosed
	}

	removed, err := m.store.Cleanup(ctx)
	m.handleSweepResult(removed, err)

	return removed, err
}

// ClearAll describes the clearall operation and its observable behavior.
//
// ClearAll may return an error when input validation, dependency calls, or security checks fail.
// ClearAll does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m *Manager) ClearAll(ctx context.Context) error {
	if m.closed.Load() {
		return ErrManagerClosed
	}

	if err := m.store.ClearAll(ctx); err != nil {
		return err
	}

	m.metrics.Inc(MetricClearAll)
	m.audit.Emit(ctx, AuditEvent{
		Timestamp: time.Now(),
		EventType: EventStoreCleared,
		Success:   true,
	})

	return nil
}

// MetricsSnapshot describes the metricssnapshot operation and its observable behavior.
//
// MetricsSnapshot may return an error when input validation, dependency calls, or security checks fail.
// MetricsSnapshot does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m *Manager) MetricsSnapshot() MetricsSnapshot {
	return m.metrics.Snapshot()
}

// AuditDropped describes the auditdropped operation and its observable behavior.
//
// AuditDropped may return an error when input validation, dependency calls, or security checks fail.
// AuditDropped does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m *Manager) AuditDropped() uint64 {
	return m.audit.Dropped()
}

// Close stops the sweeper and audit dispatcher. Subsequent calls on the
// manager return ErrManagerClosed. Close is idempotent.
//
// Close may return an error when input validation, dependency calls, or security checks fail.
// Close does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}

	m.sweeper.Close()
	m.audit.Close()

	return nil
}

func (m *Manager) handleSweepResult(removed int, err error) {
	now := time.Now()

	if err != nil {
		m.metrics.Inc(MetricCleanupFailure)
		m.audit.Emit(context.Background(), AuditEvent{
			Timestamp: now,
			EventType: EventCleanupCompleted,
			Success:   false,
			Reason:    err.Error(),
		})
		return
	}

	m.metrics.Inc(MetricCleanupRuns)
	m.metrics.Add(MetricCleanupRemoved, uint64(removed))
	m.audit.Emit(context.Background(), AuditEvent{
		Timestamp: now,
		EventType: EventCleanupCompleted,
		Success:   true,
		Metadata: map[string]string{
			"removed": strconv.Itoa(removed),
		},
	})
}
