// Package metrics provides Prometheus metrics for the sighting pipeline.
// All methods are safe to call on a nil *Metrics.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains the counters and gauges for detection, admission and persistence.
type Metrics struct {
	Frames          prometheus.Counter
	Detections      prometheus.Counter
	Submissions     *prometheus.CounterVec
	Rejections      *prometheus.CounterVec
	Records         prometheus.Gauge
	PersistFailures *prometheus.CounterVec
	SubmitDuration  prometheus.Histogram
	registry        *prometheus.Registry
}

// New creates the metrics and registers them with registry.
func New(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register facelog metrics: %w", err)
	}
	return m, nil
}

func (m *Metrics) initMetrics() {
	m.Frames = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "facelog_frames_total",
		Help: "Total number of frames read from the source.",
	})

	m.Detections = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "facelog_detections_total",
		Help: "Total number of candidate face regions found by the detector.",
	})

	m.Submissions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "facelog_submissions_total",
		Help: "Candidates submitted to the admission engine, by outcome.",
	}, []string{"outcome"})

	m.Rejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "facelog_quality_rejections_total",
		Help: "Candidates rejected by the quality gate, by reason.",
	}, []string{"reason"})

	m.Records = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "facelog_records",
		Help: "Number of admitted records held in memory.",
	})

	m.PersistFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "facelog_persist_failures_total",
		Help: "Failed persistence attempts, by stage.",
	}, []string{"stage"})

	m.SubmitDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "facelog_submit_duration_seconds",
		Help:    "Time spent processing one submission.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
	})
}

// IncFrames counts one frame read.
func (m *Metrics) IncFrames() {
	if m == nil {
		return
	}
	m.Frames.Inc()
}

// AddDetections counts n detector hits.
func (m *Metrics) AddDetections(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Detections.Add(float64(n))
}

// ObserveSubmission records the outcome and duration of one submission.
func (m *Metrics) ObserveSubmission(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.Submissions.WithLabelValues(outcome).Inc()
	m.SubmitDuration.Observe(seconds)
}

// IncRejection counts a quality rejection.
func (m *Metrics) IncRejection(reason string) {
	if m == nil {
		return
	}
	m.Rejections.WithLabelValues(reason).Inc()
}

// SetRecords sets the in-memory record count.
func (m *Metrics) SetRecords(n int) {
	if m == nil {
		return
	}
	m.Records.Set(float64(n))
}

// IncPersistFailure counts a persistence failure at stage (encode, enqueue, write, journal).
func (m *Metrics) IncPersistFailure(stage string) {
	if m == nil {
		return
	}
	m.PersistFailures.WithLabelValues(stage).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Describe implements the prometheus.Collector interface.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.Frames.Describe(ch)
	m.Detections.Describe(ch)
	m.Submissions.Describe(ch)
	m.Rejections.Describe(ch)
	m.Records.Describe(ch)
	m.PersistFailures.Describe(ch)
	m.SubmitDuration.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.Frames.Collect(ch)
	m.Detections.Collect(ch)
	m.Submissions.Collect(ch)
	m.Rejections.Collect(ch)
	m.Records.Collect(ch)
	m.PersistFailures.Collect(ch)
	m.SubmitDuration.Collect(ch)
}
