package goGuard

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one in-process counter.
type MetricID uint16

const (
	// MetricRateLimited counts requests denied by the sliding window limiter.
	MetricRateLimited MetricID = iota
	// MetricDeviceLimited counts device registrations over the limit.
	MetricDeviceLimited
	// MetricLoginFailure counts recorded login failures.
	MetricLoginFailure
	// MetricLoginLocked counts login checks rejected by lockout.
	MetricLoginLocked
	// MetricCacheHit counts cache reads served from the store.
	MetricCacheHit
	// MetricCacheMiss counts cache reads that fell through.
	MetricCacheMiss
	// MetricCacheInvalidated counts scheduled pattern invalidations.
	MetricCacheInvalidated
	// MetricCSRFIssued counts generated or reissued CSRF tokens.
	MetricCSRFIssued
	// MetricCSRFRejected counts CSRF validation failures.
	MetricCSRFRejected
	// MetricThreatDetected counts requests rejected by signature matching.
	MetricThreatDetected
	// MetricIPBlocked counts IPs pushed onto the blocklist.
	MetricIPBlocked
	// MetricBlockedRequest counts requests rejected because the IP was blocked.
	MetricBlockedRequest
	// MetricStoreUnavailable counts operations that failed open because the store was down.
	MetricStoreUnavailable
	// MetricDecryptFailure counts decrypt calls that returned their input unchanged.
	MetricDecryptFailure
	// MetricVerificationIssued counts issued verification codes.
	MetricVerificationIssued
	// MetricVerificationConfirmed counts confirmed verification codes.
	MetricVerificationConfirmed
	// MetricVerificationFailed counts rejected verification codes.
	MetricVerificationFailed
	// MetricInspectLatency is the InspectRequest latency histogram.
	MetricInspectLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds lock-free counters. Each counter sits on its own cache
// line so hot counters do not contend.
type Metrics struct {
	enabled    bool
	counters   [metricIDCount]paddedCounter
	histograms [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of every counter.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics describes the newmetrics operation and its observable behavior.
//
// NewMetrics returns a collector that ignores every update when cfg.Enabled is false.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{enabled: cfg.Enabled}
}

// Enabled reports whether updates are recorded.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// Inc increments id by one.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d into the histogram for id. Only MetricInspectLatency
// carries a histogram.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || id != MetricInspectLatency {
		return
	}
	atomic.AddUint64(&m.histograms[id].buckets[bucketIndex(d)], 1)
}

// Value returns the current count for id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot describes the snapshot operation and its observable behavior.
//
// Snapshot returns empty maps when metrics are disabled. Counters are read
// individually, so a snapshot taken under load is not a single atomic cut.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		if id == MetricInspectLatency {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	buckets := make([]uint64, histBucketCount)
	for i := 0; i < histBucketCount; i++ {
		buckets[i] = atomic.LoadUint64(&m.histograms[MetricInspectLatency].buckets[i])
	}
	s.Histograms[MetricInspectLatency] = buckets

	return s
}

// Buckets: <=0.1ms, 0.25ms, 0.5ms, 1ms, 2.5ms, 10ms, 50ms, +Inf.
func bucketIndex(d time.Duration) int {
	us := d.Microseconds()

	switch {
	case us <= 100:
		return 0
	case us <= 250:
		return 1
	case us <= 500:
		return 2
	case us <= 1000:
		return 3
	case us <= 2500:
		return 4
	case us <= 10000:
		return 5
	case us <= 50000:
		return 6
	default:
		return 7
	}
}
