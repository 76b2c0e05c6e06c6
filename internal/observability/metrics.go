// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Ingress metrics
	EventsReceived *prometheus.CounterVec

	// Fetch metrics
	FetchAttempts  *prometheus.CounterVec
	FetchLatency   *prometheus.HistogramVec
	RaceSettlement *prometheus.CounterVec

	// Extraction metrics
	ExtractionsTotal   *prometheus.CounterVec
	ExtractionDuration prometheus.Histogram
	ArtifactsWritten   *prometheus.CounterVec
	SecondaryErrors    *prometheus.CounterVec

	// Retry metrics
	ReplaysTotal   *prometheus.CounterVec
	FailureRecords *prometheus.CounterVec

	// Analytics metrics
	AnalyticsDropped prometheus.Counter

	// Health metrics
	LastSuccessfulArchive prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a Metrics instance registered on a fresh registry.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	m := newMetrics(namespace, reg)
	m.registry = reg
	return m
}

// NewMetricsWith registers metrics on reg.
func NewMetricsWith(namespace string, reg prometheus.Registerer) *Metrics {
	return newMetrics(namespace, reg)
}

func newMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "xrpl_nft_archiver"
	}
	factory := promauto.With(reg)

	return &Metrics{
		EventsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingress",
			Name:      "events_received_total",
			Help:      "Total number of trigger events received by source",
		}, []string{"source"}),

		FetchAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "attempts_total",
			Help:      "Total number of HTTP fetch attempts by kind and result",
		}, []string{"kind", "result"}),
		FetchLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "latency_seconds",
			Help:      "Fetch attempt latency in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"kind"}),
		RaceSettlement: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "gateway_races_total",
			Help:      "Total number of gateway races by policy and result",
		}, []string{"policy", "result"}),

		ExtractionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "extract",
			Name:      "runs_total",
			Help:      "Total number of pipeline runs by outcome",
		}, []string{"outcome"}),
		ExtractionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "extract",
			Name:      "duration_seconds",
			Help:      "Pipeline run duration in seconds",
			Buckets:   []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		ArtifactsWritten: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "objects_written_total",
			Help:      "Total number of archive objects written by category",
		}, []string{"category"}),
		SecondaryErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "extract",
			Name:      "secondary_errors_total",
			Help:      "Total number of secondary asset failures by field",
		}, []string{"field"}),

		ReplaysTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retry",
			Name:      "replays_total",
			Help:      "Total number of replays by origin and resulting state",
		}, []string{"origin", "state"}),
		FailureRecords: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retry",
			Name:      "records_written_total",
			Help:      "Total number of failure records written by partition",
		}, []string{"partition"}),

		AnalyticsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analytics",
			Name:      "events_dropped_total",
			Help:      "Total number of analytics events dropped on a full buffer",
		}),

		LastSuccessfulArchive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_successful_archive_timestamp",
			Help:      "Unix timestamp of last successful archive run",
		}),
	}
}

// EventReceived counts a trigger event.
func (m *Metrics) EventReceived(source string) {
	if m == nil {
		return
	}
	m.EventsReceived.WithLabelValues(source).Inc()
}

// ObserveFetch records one HTTP fetch attempt.
func (m *Metrics) ObserveFetch(kind string, ok bool, d time.Duration) {
	if m == nil {
		return
	}
	m.FetchAttempts.WithLabelValues(kind, result(ok)).Inc()
	m.FetchLatency.WithLabelValues(kind).Observe(d.Seconds())
}

// ObserveRace records how a gateway race settled.
func (m *Metrics) ObserveRace(policy string, ok bool) {
	if m == nil {
		return
	}
	m.RaceSettlement.WithLabelValues(policy, result(ok)).Inc()
}

// ObserveExtraction records a finished pipeline run.
func (m *Metrics) ObserveExtraction(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ExtractionsTotal.WithLabelValues(outcome).Inc()
	m.ExtractionDuration.Observe(d.Seconds())
	if outcome == "archived" {
		m.LastSuccessfulArchive.SetToCurrentTime()
	}
}

// ArtifactWritten counts archive objects written.
func (m *Metrics) ArtifactWritten(category string, n int) {
	if m == nil {
		return
	}
	m.ArtifactsWritten.WithLabelValues(category).Add(float64(n))
}

// SecondaryError counts a failed secondary reference.
func (m *Metrics) SecondaryError(field string) {
	if m == nil {
		return
	}
	m.SecondaryErrors.WithLabelValues(field).Inc()
}

// ReplayFinished counts a replay by its resulting state.
func (m *Metrics) ReplayFinished(origin, state string) {
	if m == nil {
		return
	}
	m.ReplaysTotal.WithLabelValues(origin, state).Inc()
}

// FailureRecorded counts a failure record write.
func (m *Metrics) FailureRecorded(partition string) {
	if m == nil {
		return
	}
	m.FailureRecords.WithLabelValues(partition).Inc()
}

// AnalyticsDrop counts a dropped analytics event.
func (m *Metrics) AnalyticsDrop() {
	if m == nil {
		return
	}
	m.AnalyticsDropped.Inc()
}

// Handler returns HTTP handler for Prometheus metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m != nil && m.registry != nil {
		return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	}
	return promhttp.Handler()
}

func result(ok bool) string {
	return strconv.FormatBool(ok)
}
