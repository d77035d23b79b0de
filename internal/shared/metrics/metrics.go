package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus collector the service exposes. Each
// instance owns a private registry so tests can build as many as they like.
type Metrics struct {
	Registry *prometheus.Registry

	pollAttempts     *prometheus.CounterVec
	syncOutcomes     *prometheus.CounterVec
	syncDuration     *prometheus.HistogramVec
	transactions     *prometheus.CounterVec
	aggregatorErrors *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	jobsProcessed    *prometheus.CounterVec
	jobDuration      prometheus.Histogram
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		pollAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finlink_poll_attempts_total",
				Help: "Status poll attempts by outcome.",
			},
			[]string{"outcome"},
		),
		syncOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finlink_sync_outcomes_total",
				Help: "Connection synchronization results by outcome.",
			},
			[]string{"outcome"},
		),
		syncDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "finlink_sync_duration_seconds",
				Help:    "Duration of connection flows by operation.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		transactions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finlink_transactions_total",
				Help: "Transactions seen during reconciliation, saved or skipped.",
			},
			[]string{"result"},
		),
		aggregatorErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finlink_aggregator_errors_total",
				Help: "Failed calls to the aggregator API by endpoint.",
			},
			[]string{"endpoint"},
		),
		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finlink_http_requests_total",
				Help: "HTTP requests served.",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "finlink_http_request_duration_seconds",
				Help:    "HTTP request latency.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		jobsProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finlink_scheduler_jobs_total",
				Help: "Scheduled jobs processed by status.",
			},
			[]string{"status"},
		),
		jobDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "finlink_scheduler_job_duration_seconds",
				Help:    "Scheduled job duration.",
				Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120},
			},
		),
	}
}

// Handler serves the private registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

func (m *Metrics) IncPollAttempt(outcome string) {
	if m == nil {
		return
	}
	m.pollAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncSyncOutcome(outcome string) {
	if m == nil {
		return
	}
	m.syncOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveSync(operation string, d time.Duration) {
	if m == nil {
		return
	}
	m.syncDuration.WithLabelValues(operation).Observe(d.Seconds())
}

func (m *Metrics) AddTransactions(saved, skipped int) {
	if m == nil {
		return
	}
	m.transactions.WithLabelValues("saved").Add(float64(saved))
	m.transactions.WithLabelValues("skipped").Add(float64(skipped))
}

func (m *Metrics) IncAggregatorError(endpoint string) {
	if m == nil {
		return
	}
	m.aggregatorErrors.WithLabelValues(endpoint).Inc()
}

func (m *Metrics) ObserveHTTP(method, route, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, status).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (m *Metrics) ObserveJob(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobsProcessed.WithLabelValues(status).Inc()
	m.jobDuration.Observe(d.Seconds())
}
