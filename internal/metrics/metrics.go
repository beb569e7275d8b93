// Package metrics exposes Prometheus collectors for the engine, ingestion,
// summary and HTTP surfaces. A nil *Metrics is valid and records nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "dealhealth"

// Metrics holds every collector. Build one per registry with New.
type Metrics struct {
	viewDuration    *prometheus.HistogramVec
	viewErrors      *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
	ingestRows      *prometheus.CounterVec
	ingestRuns      *prometheus.CounterVec
	summaryRequests *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec

	openPipeline  prometheus.Gauge
	atRiskValue   prometheus.Gauge
	pctOfTarget   prometheus.Gauge
	alertsEmitted *prometheus.CounterVec
}

// New registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	auto := promauto.With(reg)
	return &Metrics{
		viewDuration: auto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "view_duration_seconds",
			Help:      "Time to compute a view, cache misses only.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"view"}),
		viewErrors: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "view_errors_total",
			Help:      "Views that failed with a batch-level error.",
		}, []string{"view"}),
		cacheLookups: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Query cache lookups by view and result.",
		}, []string{"view", "result"}),
		ingestRows: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "rows_total",
			Help:      "Snapshot rows seen by ingestion, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		ingestRuns: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "runs_total",
			Help:      "Ingestion batches by source and status.",
		}, []string{"source", "status"}),
		summaryRequests: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "summary",
			Name:      "requests_total",
			Help:      "Narrative summaries by producer (llm or fallback).",
		}, []string{"producer"}),
		httpRequests: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "status_code"}),
		httpDuration: auto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		openPipeline: auto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "open_value",
			Help:      "Open pipeline value at the last health check.",
		}),
		atRiskValue: auto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "at_risk_value",
			Help:      "At-risk open pipeline value at the last health check.",
		}),
		pctOfTarget: auto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pace",
			Name:      "pct_of_target",
			Help:      "Percent of the quarterly target achieved at the last health check.",
		}),
		alertsEmitted: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitoring",
			Name:      "alerts_total",
			Help:      "Health alerts emitted by type.",
		}, []string{"type"}),
	}
}

// ObserveView records the compute time of a view.
func (m *Metrics) ObserveView(view string, d time.Duration) {
	if m == nil {
		return
	}
	m.viewDuration.WithLabelValues(view).Observe(d.Seconds())
}

// ViewError counts a failed view.
func (m *Metrics) ViewError(view string) {
	if m == nil {
		return
	}
	m.viewErrors.WithLabelValues(view).Inc()
}

// CacheLookup counts a cache hit or miss.
func (m *Metrics) CacheLookup(view string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(view, result).Inc()
}

// IngestRows counts seen rows split into inserted and skipped.
func (m *Metrics) IngestRows(kind string, seen int, inserted int64) {
	if m == nil {
		return
	}
	m.ingestRows.WithLabelValues(kind, "inserted").Add(float64(inserted))
	m.ingestRows.WithLabelValues(kind, "skipped").Add(float64(max(int64(seen)-inserted, 0)))
}

// IngestRun counts a finished batch.
func (m *Metrics) IngestRun(source string, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.ingestRuns.WithLabelValues(source, status).Inc()
}

// Summary counts a produced narrative summary.
func (m *Metrics) Summary(producer string) {
	if m == nil {
		return
	}
	m.summaryRequests.WithLabelValues(producer).Inc()
}

// HTTPRequest records one served request.
func (m *Metrics) HTTPRequest(route, method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(d.Seconds())
}

// PipelineHealth sets the gauges refreshed by the health checker.
func (m *Metrics) PipelineHealth(openValue, atRiskValue, pctOfTarget float64) {
	if m == nil {
		return
	}
	m.openPipeline.Set(openValue)
	m.atRiskValue.Set(atRiskValue)
	m.pctOfTarget.Set(pctOfTarget)
}

// Alert counts an emitted health alert.
func (m *Metrics) Alert(alertType string) {
	if m == nil {
		return
	}
	m.alertsEmitted.WithLabelValues(alertType).Inc()
}
