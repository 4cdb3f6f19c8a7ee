package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	UploadCounter     = prometheus.NewCounter(prometheus.CounterOpts{Name: "cleaning_uploads_total", Help: "Datasets accepted for cleaning"})
	RateLimitRejects  = prometheus.NewCounter(prometheus.CounterOpts{Name: "cleaning_rate_limit_rejects_total", Help: "Uploads rejected by rate limiter"})
	PhaseDispatched   = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "cleaning_phase_dispatched_total", Help: "Phase tasks dispatched"}, []string{"phase"})
	PhaseSuccess      = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "cleaning_phase_completed_total", Help: "Phases completed successfully"}, []string{"phase"})
	PhaseFailures     = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "cleaning_phase_failed_total", Help: "Phases that failed their job"}, []string{"phase"})
	PhaseDuration     = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "cleaning_phase_duration_seconds", Help: "Phase run time", Buckets: prometheus.DefBuckets}, []string{"phase"})
	SkippedOperations = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "cleaning_operations_skipped_total", Help: "Suggested operations skipped as unknown"}, []string{"operation"})
	TaskRetries       = prometheus.NewCounter(prometheus.CounterOpts{Name: "cleaning_task_retries_total", Help: "Phase tasks rescheduled because the job was busy"})
	WorkerDeadLetter  = prometheus.NewCounter(prometheus.CounterOpts{Name: "cleaning_task_dead_letter_total", Help: "Phase tasks moved to DLQ"})
	QueueDepthGauge   = prometheus.NewGauge(prometheus.GaugeOpts{Name: "cleaning_queue_depth", Help: "Ready phase tasks across lanes"})
	InFlightGauge     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "cleaning_tasks_inflight", Help: "Phase tasks currently leased"})
	SweptArtifacts    = prometheus.NewCounter(prometheus.CounterOpts{Name: "cleaning_artifacts_swept_total", Help: "Stored artifacts removed by retention sweeps"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			UploadCounter,
			RateLimitRejects,
			PhaseDispatched,
			PhaseSuccess,
			PhaseFailures,
			PhaseDuration,
			SkippedOperations,
			TaskRetries,
			WorkerDeadLetter,
			QueueDepthGauge,
			InFlightGauge,
			SweptArtifacts,
		)
	})
	return promhttp.Handler()
}
