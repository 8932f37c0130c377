package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	fortify = "fortify"

	jobStatusCount          = "job_status_count"
	jobCancellationsTotal   = "job_cancellations_total"
	workerCancelSignalTotal = "worker_cancel_signal_total"
	findingsWrittenTotal    = "findings_written_total"

	// Labels
	jobStatusLabel     = "status"
	jobTypeLabel       = "type"
	signalOutcomeLabel = "outcome"

	SignalOutcomeDelivered   = "delivered"
	SignalOutcomeUnreachable = "unreachable"
)

var jobStatusCountMetric = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Subsystem: fortify,
		Name:      jobStatusCount,
		Help:      "number of jobs currently recorded in each status",
	},
	[]string{jobStatusLabel},
)

var jobCancellationsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: fortify,
		Name:      jobCancellationsTotal,
		Help:      "number of job cancellations committed to the store",
	},
	[]string{jobTypeLabel},
)

var workerCancelSignalTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: fortify,
		Name:      workerCancelSignalTotal,
		Help:      "best-effort cancellation signals sent to the worker, by outcome",
	},
	[]string{signalOutcomeLabel},
)

var findingsWrittenTotalMetric = prometheus.NewCounter(
	prometheus.CounterOpts{
		Subsystem: fortify,
		Name:      findingsWrittenTotal,
		Help:      "number of findings persisted from completed scan jobs",
	},
)

func UpdateJobStatusCountMetric(status string, count int) {
	jobStatusCountMetric.With(prometheus.Labels{jobStatusLabel: status}).Set(float64(count))
}

func IncreaseJobCancellationsMetric(jobType string) {
	jobCancellationsTotalMetric.With(prometheus.Labels{jobTypeLabel: jobType}).Inc()
}

func IncreaseWorkerCancelSignalMetric(outcome string) {
	workerCancelSignalTotalMetric.With(prometheus.Labels{signalOutcomeLabel: outcome}).Inc()
}

func AddFindingsWrittenMetric(count int) {
	findingsWrittenTotalMetric.Add(float64(count))
}

type PrometheusMetricsHandler struct{}

func NewPrometheusMetricsHandler() *PrometheusMetricsHandler {
	return &PrometheusMetricsHandler{}
}

func (h *PrometheusMetricsHandler) Handler() http.Handler {
	return promhttp.Handler()
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(jobStatusCountMetric)
	prometheus.MustRegister(jobCancellationsTotalMetric)
	prometheus.MustRegister(workerCancelSignalTotalMetric)
	prometheus.MustRegister(findingsWrittenTotalMetric)
}
