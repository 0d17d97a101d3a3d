package internaldefs

import (
	tokenkeep "github.com/tokenkeep/tokenkeep"
)

// CounterDef defines a public type used by tokenkeep APIs.
//
// CounterDef instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type CounterDef struct {
	ID   tokenkeep.MetricID
	Name string
	Help string
}

// HistogramDef defines a public type used by tokenkeep APIs.
//
// HistogramDef instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type HistogramDef struct {
	ID   tokenkeep.MetricID
	Name string
	Help string
}

// CounterDefs is an exported constant or variable used by the token lifecycle manager.
var CounterDefs = []CounterDef{
	{ID: tokenkeep.MetricTokenStored, Name: "tokenkeep_token_stored_total", Help: "Stored token records."},
	{ID: tokenkeep.MetricValidateSuccess, Name: "tokenkeep_validate_success_total", Help: "Successful token validations."},
	{ID: tokenkeep.MetricValidateFailure, Name: "tokenkeep_validate_failure_total", Help: "Failed token validations."},
	{ID: tokenkeep.MetricRevoke, Name: "tokenkeep_revoke_total", Help: "Single-token revocations that changed state."},
	{ID: tokenkeep.MetricRevokeAll, Name: "tokenkeep_revoke_all_total", Help: "Per-user bulk revocation operations."},
	{ID: tokenkeep.MetricTokensBulkRevoked, Name: "tokenkeep_tokens_bulk_revoked_total", Help: "Tokens revoked by bulk revocation."},
	{ID: tokenkeep.MetricCleanupRuns, Name: "tokenkeep_cleanup_runs_total", Help: "Completed cleanup passes."},
	{ID: tokenkeep.MetricCleanupRemoved, Name: "tokenkeep_cleanup_removed_total", Help: "Records removed by cleanup."},
	{ID: tokenkeep.MetricCleanupFailure, Name: "tokenkeep_cleanup_failure_total", Help: "Failed cleanup passes."},
	{ID: tokenkeep.MetricClearAll, Name: "tokenkeep_clear_all_total", Help: "Store clear operations."},
}

// HistogramDefs is an exported constant or variable used by the token lifecycle manager.
var HistogramDefs = []HistogramDef{
	{ID: tokenkeep.MetricValidateLatency, Name: "tokenkeep_validate_latency_seconds", Help: "Validate latency histogram."},
}

// HistogramBounds is an exported constant or variable used by the token lifecycle manager.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix is an exported constant or variable used by the token lifecycle manager.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets describes the normalizebuckets operation and its observable behavior.
//
// NormalizeBuckets may return an error when input validation, dependency calls, or security checks fail.
// NormalizeBuckets does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets describes the cumulativebuckets operation and its observable behavior.
//
// CumulativeBuckets may return an error when input validation, dependency calls, or security checks fail.
// CumulativeBuckets does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
