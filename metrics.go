package claimgate

import "sync/atomic"

// MetricID identifies one counter tracked by [Metrics].
type MetricID uint16

const (
	// MetricSessionSaved counts successful SaveSession calls.
	MetricSessionSaved MetricID = iota
	// MetricSessionEvicted counts sessions evicted to honor the cap.
	MetricSessionEvicted
	// MetricSessionRefreshed counts re-saves of an existing triple.
	MetricSessionRefreshed
	// MetricSessionExpired counts explicit session expirations.
	MetricSessionExpired
	// MetricSessionMiss counts GetSession lookups that found nothing.
	MetricSessionMiss
	// MetricTokenIssued counts tokens produced by the issuer.
	MetricTokenIssued
	// MetricTokenRejected counts bearer tokens that failed validation.
	MetricTokenRejected
	// MetricAuthAllowed counts requests the gate forwarded.
	MetricAuthAllowed
	// MetricAuthDenied counts requests the gate answered with 401.
	MetricAuthDenied
	// MetricAuthContained counts downstream failures contained as 500.
	MetricAuthContained

	metricIDCount
)

var metricNames = [metricIDCount]string{
	MetricSessionSaved:     "claimgate_session_saved_total",
	MetricSessionEvicted:   "claimgate_session_evicted_total",
	MetricSessionRefreshed: "claimgate_session_refreshed_total",
	MetricSessionExpired:   "claimgate_session_expired_total",
	MetricSessionMiss:      "claimgate_session_miss_total",
	MetricTokenIssued:      "claimgate_token_issued_total",
	MetricTokenRejected:    "claimgate_token_rejected_total",
	MetricAuthAllowed:      "claimgate_auth_allowed_total",
	MetricAuthDenied:       "claimgate_auth_denied_total",
	MetricAuthContained:    "claimgate_auth_contained_total",
}

// Name returns the exported metric name for id, or "" for out-of-range ids.
func (id MetricID) Name() string {
	if id >= metricIDCount {
		return ""
	}
	return metricNames[id]
}

// MetricCount is the number of defined metric IDs.
const MetricCount = int(metricIDCount)

// paddedCounter keeps each counter on its own cache line to avoid false
// sharing between hot-path increments.
type paddedCounter struct {
	value uint64
	_     [56]byte
}

// Metrics is a fixed set of lock-free counters. The zero value and the nil
// pointer are both valid no-op receivers, so instrumented code never needs a
// nil check at call sites.
type Metrics struct {
	counters [metricIDCount]paddedCounter
}

// NewMetrics returns an enabled metrics set.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// Inc adds one to the counter for id.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Value returns the current value of the counter for id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// MetricsSnapshot is a point-in-time copy of every counter.
type MetricsSnapshot struct {
	Counters map[MetricID]uint64
}

// Snapshot copies all counters. Safe to call concurrently with Inc.
func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{Counters: make(map[MetricID]uint64, MetricCount)}
	if m == nil {
		return s
	}
	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	return s
}
