package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	OperationsCreated   = prometheus.NewCounter(prometheus.CounterOpts{Name: "bulkops_operations_created_total", Help: "Bulk operations accepted by the API"})
	RateLimitRejects    = prometheus.NewCounter(prometheus.CounterOpts{Name: "bulkops_rate_limit_rejects_total", Help: "Creation requests rejected by the rate limiter"})
	OperationsCompleted = prometheus.NewCounter(prometheus.CounterOpts{Name: "bulkops_operations_completed_total", Help: "Operations that finished successfully"})
	OperationsFailed    = prometheus.NewCounter(prometheus.CounterOpts{Name: "bulkops_operations_failed_total", Help: "Operations that ended in failure"})
	OperationsCancelled = prometheus.NewCounter(prometheus.CounterOpts{Name: "bulkops_operations_cancelled_total", Help: "Operations aborted by a cancel action"})
	UnitsProcessed      = prometheus.NewCounter(prometheus.CounterOpts{Name: "bulkops_units_processed_total", Help: "Units of work completed across all operations"})
	ControlActions      = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "bulkops_control_actions_total", Help: "Control actions applied, by action"}, []string{"action"})
	QueueDepthGauge     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "bulkops_queue_depth", Help: "Ready queue depth"})
	InFlightGauge       = prometheus.NewGauge(prometheus.GaugeOpts{Name: "bulkops_inflight", Help: "Operations currently leased by a worker"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			OperationsCreated,
			RateLimitRejects,
			OperationsCompleted,
			OperationsFailed,
			OperationsCancelled,
			UnitsProcessed,
			ControlActions,
			QueueDepthGauge,
			InFlightGauge,
		)
	})
	return promhttp.Handler()
}
