package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initOperationMetrics() {
	r.OperationsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "rbd_operations_total",
			Help: "Total number of service operations by outcome",
		},
		[]string{"operation", "status"},
	)

	r.OperationDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rbd_operation_duration_seconds",
			Help:    "Service operation duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		},
		[]string{"operation"},
	)

	r.OperationTimeouts = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "rbd_operation_timeouts_total",
			Help: "Operations that exceeded the method timeout",
		},
		[]string{"operation"},
	)

	r.LocksHeld = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "rbd_locks_held",
			Help: "Advisory node locks currently held",
		},
	)

	r.LockConflictsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "rbd_lock_conflicts_total",
			Help: "Mutations rejected because a node is locked by another actor",
		},
		[]string{"operation"},
	)
}

func (r *Registry) initRecalcMetrics() {
	r.RecalculationsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "rbd_recalculations_total",
			Help: "Recalculation runs by scope",
		},
		[]string{"scope"},
	)

	r.RecalculatedNodes = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rbd_recalculated_nodes",
			Help:    "Nodes recomputed per recalculation run",
			Buckets: []float64{1, 5, 10, 50, 100, 500, 1000},
		},
		[]string{"scope"},
	)
}

func (r *Registry) initCacheMetrics() {
	r.CacheHitsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "rbd_cache_hits_total",
			Help: "Cache lookups served without populating",
		},
		[]string{"kind"},
	)

	r.CacheMissesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "rbd_cache_misses_total",
			Help: "Cache lookups that populated from the accessor",
		},
		[]string{"kind"},
	)

	r.CacheInvalidationsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "rbd_cache_invalidations_total",
			Help: "Cache keys invalidated",
		},
		[]string{"backend"},
	)

	r.CacheInvalidationFailuresTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "rbd_cache_invalidation_failures_total",
			Help: "Invalidations that failed and were left stale",
		},
		[]string{"backend"},
	)
}

func (r *Registry) initStrandMetrics() {
	r.StrandQueueDepth = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rbd_strand_queue_depth",
			Help: "Tasks waiting in a serialization domain",
		},
		[]string{"domain"},
	)

	r.StrandWait = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rbd_strand_wait_seconds",
			Help:    "Time a task waited before its domain ran it",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 1.0, 5.0},
		},
		[]string{"domain"},
	)
}
