package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics of the console backend.
type Metrics struct {
	// Registry owns these metrics; the /metrics endpoint serves it.
	Registry *prometheus.Registry

	requestDuration    *prometheus.HistogramVec
	externalErrors     *prometheus.CounterVec
	schedulesGenerated prometheus.Counter
	installmentsTotal  prometheus.Histogram
	submissions        *prometheus.CounterVec
	draftsSwept        prometheus.Counter
}

// NewMetrics creates a dedicated registry so NewMetrics can be called more
// than once (tests) without duplicate-collector panics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "installments_http_request_duration_seconds",
				Help:    "Duration of HTTP requests by route and status.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "installments_policy_api_errors_total",
				Help: "Total failed calls to the Policy API by operation.",
			},
			[]string{"operation"},
		),
		schedulesGenerated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "installments_schedules_generated_total",
				Help: "Total schedules generated (previews and drafts).",
			},
		),
		installmentsTotal: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "installments_schedule_size",
				Help:    "Number of installments per generated schedule.",
				Buckets: []float64{1, 2, 3, 6, 10, 12, 24, 36, 60, 120, 360},
			},
		),
		submissions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "installments_submissions_total",
				Help: "Total draft submissions by outcome.",
			},
			[]string{"outcome"},
		),
		draftsSwept: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "installments_drafts_swept_total",
				Help: "Total idle drafts deleted by the sweeper.",
			},
		),
	}
}

// RecordRequest records one HTTP request.
func (m *Metrics) RecordRequest(method, route string, status int, d time.Duration) {
	m.requestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}

// IncrExternalError counts a failed Policy API call.
func (m *Metrics) IncrExternalError(operation string) {
	m.externalErrors.WithLabelValues(operation).Inc()
}

// RecordSchedule counts a generated schedule of n installments.
func (m *Metrics) RecordSchedule(n int) {
	m.schedulesGenerated.Inc()
	m.installmentsTotal.Observe(float64(n))
}

// IncrSubmission counts a submission by outcome: success, partial, failed or rejected.
func (m *Metrics) IncrSubmission(outcome string) {
	m.submissions.WithLabelValues(outcome).Inc()
}

// AddDraftsSwept counts drafts removed by one sweep.
func (m *Metrics) AddDraftsSwept(n int) {
	m.draftsSwept.Add(float64(n))
}

// SubmissionCount returns the number of submissions recorded with outcome.
func (m *Metrics) SubmissionCount(outcome string) float64 {
	return getCounterValue(m.submissions, outcome)
}

// getCounterValue extracts the current value of a CounterVec for a label.
func getCounterValue(cv *prometheus.CounterVec, label string) float64 {
	counter := cv.WithLabelValues(label)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
