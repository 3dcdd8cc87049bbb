// Package metrics exposes Prometheus collectors for uploads, annotation writes,
// exports and HTTP traffic.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ekaya-inc/substation-labeler/pkg/retry"
)

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics holds the collectors. A nil *Metrics records nothing.
type Metrics struct {
	UploadsTotal        *prometheus.CounterVec
	FeaturesIngested    *prometheus.CounterVec
	ArchivesFailedTotal prometheus.Counter
	AnnotationWrites    *prometheus.CounterVec
	EntitiesCompleted   prometheus.Counter
	ExportsTotal        *prometheus.CounterVec
	UploadDurationMs    prometheus.Histogram
	HTTPRequests        *prometheus.CounterVec
	HTTPDuration        *prometheus.HistogramVec
	StoreErrors         *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them with reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		UploadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "labeler_uploads_total",
			Help: "Total uploads by outcome",
		}, []string{"outcome"}),
		FeaturesIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "labeler_features_ingested_total",
			Help: "Shapefile features inserted as component annotations, by outcome",
		}, []string{"outcome"}),
		ArchivesFailedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "labeler_archives_failed_total",
			Help: "Shapefile archives that could not be parsed",
		}),
		AnnotationWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "labeler_annotation_writes_total",
			Help: "Component annotation writes from the annotate session, by operation and outcome",
		}, []string{"operation", "outcome"}),
		EntitiesCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "labeler_entities_completed_total",
			Help: "Entities marked complete",
		}),
		ExportsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "labeler_exports_total",
			Help: "annotations.json downloads by outcome",
		}, []string{"outcome"}),
		UploadDurationMs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "labeler_upload_duration_ms",
			Help:    "Upload processing duration in milliseconds",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "labeler_http_requests_total",
			Help: "HTTP requests by method, route pattern and status",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "labeler_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		StoreErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "labeler_store_errors_total",
			Help: "Failed row writes by operation and error class (pg_<sqlstate>, connection, timeout, broken_pipe, unknown)",
		}, []string{"operation", "class"}),
		gatherer: reg,
	}

	reg.MustRegister(
		m.UploadsTotal,
		m.FeaturesIngested,
		m.ArchivesFailedTotal,
		m.AnnotationWrites,
		m.EntitiesCompleted,
		m.ExportsTotal,
		m.UploadDurationMs,
		m.HTTPRequests,
		m.HTTPDuration,
		m.StoreErrors,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func outcome(err error) string {
	if err != nil {
		return OutcomeFailure
	}
	return OutcomeSuccess
}

// ObserveUpload records an upload's outcome and duration.
func (m *Metrics) ObserveUpload(err error, durationMs float64) {
	if m == nil {
		return
	}
	m.UploadsTotal.WithLabelValues(outcome(err)).Inc()
	m.UploadDurationMs.Observe(durationMs)
}

// ObserveFeature records one feature insert.
func (m *Metrics) ObserveFeature(err error) {
	if m == nil {
		return
	}
	m.FeaturesIngested.WithLabelValues(outcome(err)).Inc()
	m.storeError("feature_insert", err)
}

// ArchiveFailed records an archive that could not be parsed.
func (m *Metrics) ArchiveFailed() {
	if m == nil {
		return
	}
	m.ArchivesFailedTotal.Inc()
}

// ObserveAnnotationWrite records a create, update or delete from the session.
func (m *Metrics) ObserveAnnotationWrite(operation string, err error) {
	if m == nil {
		return
	}
	m.AnnotationWrites.WithLabelValues(operation, outcome(err)).Inc()
	m.storeError(operation, err)
}

func (m *Metrics) storeError(operation string, err error) {
	if err == nil {
		return
	}
	m.StoreErrors.WithLabelValues(operation, retry.Classify(err)).Inc()
}

// EntityCompleted records a successful completion.
func (m *Metrics) EntityCompleted() {
	if m == nil {
		return
	}
	m.EntitiesCompleted.Inc()
}

// ObserveExport records a download attempt.
func (m *Metrics) ObserveExport(err error) {
	if m == nil {
		return
	}
	m.ExportsTotal.WithLabelValues(outcome(err)).Inc()
}

// ObserveRequest records one HTTP request. route is the matched mux pattern,
// or "unmatched" so that raw paths never become label values.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}
