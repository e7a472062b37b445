package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// NewRegistry creates a registry on its own prometheus.Registry so several
// services can live in one process (and one test binary).
func NewRegistry() *Registry {
	r := &Registry{registry: prometheus.NewRegistry()}

	r.initOperationMetrics()
	r.initStoreMetrics()
	r.initRecalcMetrics()
	r.initCacheMetrics()
	r.initStrandMetrics()

	return r
}

// GetPrometheusRegistry returns the underlying Prometheus registry.
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}

// RecordOperation records one public service operation.
func (r *Registry) RecordOperation(op, status string, duration time.Duration) {
	r.OperationsTotal.WithLabelValues(op, status).Inc()
	r.OperationDuration.WithLabelValues(op).Observe(duration.Seconds())
	if status == "timeout" {
		r.OperationTimeouts.WithLabelValues(op).Inc()
	}
}

// RecordStoreOperation records one accessor call.
func (r *Registry) RecordStoreOperation(backend, op string, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	r.StoreOperationsTotal.WithLabelValues(backend, op, status).Inc()
	r.StoreOperationDuration.WithLabelValues(backend, op).Observe(duration.Seconds())
}

// RecordRecalculation records a recalculation run and how many nodes it visited.
func (r *Registry) RecordRecalculation(scope string, visited int) {
	r.RecalculationsTotal.WithLabelValues(scope).Inc()
	r.RecalculatedNodes.WithLabelValues(scope).Observe(float64(visited))
}

// RecordCacheLookup records a get-or-populate outcome for a key kind.
func (r *Registry) RecordCacheLookup(kind string, hit bool) {
	if hit {
		r.CacheHitsTotal.WithLabelValues(kind).Inc()
		return
	}
	r.CacheMissesTotal.WithLabelValues(kind).Inc()
}

// RecordInvalidation records an invalidation of n keys.
func (r *Registry) RecordInvalidation(backend string, n int, err error) {
	r.CacheInvalidationsTotal.WithLabelValues(backend).Add(float64(n))
	if err != nil {
		r.CacheInvalidationFailuresTotal.WithLabelValues(backend).Inc()
	}
}

// RecordStrandWait records how long a task waited in a domain queue.
func (r *Registry) RecordStrandWait(domain string, wait time.Duration) {
	r.StrandWait.WithLabelValues(domain).Observe(wait.Seconds())
}

// SetStrandQueueDepth publishes the pending task count of a domain.
func (r *Registry) SetStrandQueueDepth(domain string, depth int) {
	r.StrandQueueDepth.WithLabelValues(domain).Set(float64(depth))
}

// RecordLockConflict records a mutation rejected by a lock.
func (r *Registry) RecordLockConflict(op string) {
	r.LockConflictsTotal.WithLabelValues(op).Inc()
}
