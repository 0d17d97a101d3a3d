package tokenkeep

import (
	"errors"
	"time"
)

// Config defines a public type used by tokenkeep APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	Token   TokenConfig
	Audit   AuditConfig
	Metrics MetricsConfig
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig defines a public type used by tokenkeep APIs.
//
// TokenConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type TokenConfig struct {
	// GraceWindow is how long a revoked record is retained before the cleanup
	// sweep purges it. Revoked records kept within the window preserve evidence
	// for replay-attack diagnostics.
	GraceWindow time.Duration

	// CleanupInterval is the sweeper period. Zero disables the background
	// sweeper; callers may still invoke Manager.Cleanup themselves.
	CleanupInterval time.Duration

	// CleanupBatchSize bounds how many records one cleanup critical section
	// examines on the in-memory backend.
	CleanupBatchSize int

	// RedisPrefix namespaces all keys when the Redis backend is selected.
	RedisPrefix string
}

// AuditConfig defines a public type used by tokenkeep APIs.
//
// AuditConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig defines a public type used by tokenkeep APIs.
//
// MetricsConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

func defaultConfig() Config {
	return Config{
		Token: TokenConfig{
			GraceWindow:      24 * time.Hour,
			CleanupInterval:  time.Hour,
			CleanupBatchSize: 256,
			RedisPrefix:      "tk",
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Config holds only value fields; assignment is a deep copy.
func cloneConfig(cfg Config) Config {
	return cfg
}

// Validate describes the validate operation and its observable behavior.
//
// Validate may return an error when input validation, dependency calls, or security checks fail.
// Validate does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (c Config) Validate() error {
	if c.Token.GraceWindow < 0 {
		return errors.New("Token GraceWindow must not be negative")
	}
	if c.Token.CleanupInterval < 0 {
		return errors.New("Token CleanupInterval must not be negative")
	}
	if c.Token.CleanupBatchSize < 0 {
		return errors.New("Token CleanupBatchSize must not be negative")
	}
	if c.Audit.Enabled && c.Audit.BufferSize < 0 {
		return errors.New("Audit BufferSize must not be negative")
	}
	return nil
}
