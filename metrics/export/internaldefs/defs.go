package internaldefs

import (
	goGuard "github.com/MrEthical07/goGuard"
)

// CounterDef binds a counter to its exported name.
type CounterDef struct {
	ID   goGuard.MetricID
	Name string
	Help string
}

// HistogramDef binds a histogram to its exported name.
type HistogramDef struct {
	ID   goGuard.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter.
var CounterDefs = []CounterDef{
	{ID: goGuard.MetricRateLimited, Name: "goguard_rate_limited_total", Help: "Requests denied by the sliding window limiter."},
	{ID: goGuard.MetricDeviceLimited, Name: "goguard_device_limited_total", Help: "Device registrations over the per-window limit."},
	{ID: goGuard.MetricLoginFailure, Name: "goguard_login_failure_total", Help: "Recorded login failures."},
	{ID: goGuard.MetricLoginLocked, Name: "goguard_login_locked_total", Help: "Login attempts rejected by lockout."},
	{ID: goGuard.MetricCacheHit, Name: "goguard_cache_hit_total", Help: "Cache reads served from the store."},
	{ID: goGuard.MetricCacheMiss, Name: "goguard_cache_miss_total", Help: "Cache reads that fell through to the handler."},
	{ID: goGuard.MetricCacheInvalidated, Name: "goguard_cache_invalidated_total", Help: "Scheduled pattern invalidations."},
	{ID: goGuard.MetricCSRFIssued, Name: "goguard_csrf_issued_total", Help: "Issued or reissued CSRF tokens."},
	{ID: goGuard.MetricCSRFRejected, Name: "goguard_csrf_rejected_total", Help: "Rejected CSRF tokens."},
	{ID: goGuard.MetricThreatDetected, Name: "goguard_threat_detected_total", Help: "Requests matching an injection signature."},
	{ID: goGuard.MetricIPBlocked, Name: "goguard_ip_blocked_total", Help: "IPs added to the blocklist."},
	{ID: goGuard.MetricBlockedRequest, Name: "goguard_blocked_request_total", Help: "Requests rejected because the client IP is blocked."},
	{ID: goGuard.MetricStoreUnavailable, Name: "goguard_store_unavailable_total", Help: "Operations that hit an unreachable store."},
	{ID: goGuard.MetricDecryptFailure, Name: "goguard_decrypt_failure_total", Help: "Values that failed to decrypt."},
	{ID: goGuard.MetricVerificationIssued, Name: "goguard_verification_issued_total", Help: "Issued verification codes."},
	{ID: goGuard.MetricVerificationConfirmed, Name: "goguard_verification_confirmed_total", Help: "Confirmed verification codes."},
	{ID: goGuard.MetricVerificationFailed, Name: "goguard_verification_failed_total", Help: "Rejected verification codes."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: goGuard.MetricInspectLatency, Name: "goguard_inspect_latency_seconds", Help: "InspectRequest latency histogram."},
}

// HistogramBounds are the upper bucket bounds in seconds.
var HistogramBounds = []string{
	"0.0001",
	"0.00025",
	"0.0005",
	"0.001",
	"0.0025",
	"0.01",
	"0.05",
	"+Inf",
}

// HistogramBoundSuffix is HistogramBounds in a form valid in metric names.
var HistogramBoundSuffix = []string{
	"0_0001",
	"0_00025",
	"0_0005",
	"0_001",
	"0_0025",
	"0_01",
	"0_05",
	"inf",
}

// NormalizeBuckets copies raw into a fixed array, padding with zeros.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets describes the cumulativebuckets operation and its observable behavior.
//
// CumulativeBuckets turns per-bucket counts into the running totals that
// Prometheus "le" buckets expect.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
