package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds every metric the engine exports.
type Registry struct {
	// Service operations
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	OperationTimeouts *prometheus.CounterVec

	// Graph accessor
	StoreOperationsTotal   *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec
	StoreConflictsTotal    prometheus.Counter

	// Recalculation
	RecalculationsTotal *prometheus.CounterVec
	RecalculatedNodes   *prometheus.HistogramVec

	// Cache
	CacheHitsTotal                 *prometheus.CounterVec
	CacheMissesTotal               *prometheus.CounterVec
	CacheInvalidationsTotal        *prometheus.CounterVec
	CacheInvalidationFailuresTotal *prometheus.CounterVec

	// Serialization domains
	StrandQueueDepth *prometheus.GaugeVec
	StrandWait       *prometheus.HistogramVec

	// Locks
	LocksHeld          prometheus.Gauge
	LockConflictsTotal *prometheus.CounterVec

	registry *prometheus.Registry
}
