package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	UploadCounter    = prometheus.NewCounter(prometheus.CounterOpts{Name: "ocr_uploads_total", Help: "Documents accepted by the API and enqueued"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "ocr_rate_limit_rejects_total", Help: "Uploads rejected by rate limiter"})
	JobsCompleted    = prometheus.NewCounter(prometheus.CounterOpts{Name: "ocr_jobs_completed_total", Help: "Jobs that reached COMPLETED"})
	JobsRetried      = prometheus.NewCounter(prometheus.CounterOpts{Name: "ocr_jobs_retried_total", Help: "Attempts that failed and reverted the job to QUEUED"})
	JobsFailed       = prometheus.NewCounter(prometheus.CounterOpts{Name: "ocr_jobs_failed_total", Help: "Jobs forced to FAILED after exhausting retries"})
	JobsSkipped      = prometheus.NewCounter(prometheus.CounterOpts{Name: "ocr_jobs_duplicate_total", Help: "Deliveries of jobs already in a terminal state"})
	ChunkResults     = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "ocr_chunks_total", Help: "Chunk outcomes by status"}, []string{"status"})
	TokensUsed       = prometheus.NewCounter(prometheus.CounterOpts{Name: "ocr_tokens_total", Help: "Model tokens consumed by surviving chunks"})
	QueueDepthGauge  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "ocr_queue_depth", Help: "Messages waiting in the ready list"})
	InFlightGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "ocr_inflight", Help: "Jobs currently being processed by this worker"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			UploadCounter,
			RateLimitRejects,
			JobsCompleted,
			JobsRetried,
			JobsFailed,
			JobsSkipped,
			ChunkResults,
			TokensUsed,
			QueueDepthGauge,
			InFlightGauge,
		)
	})
	return promhttp.Handler()
}
