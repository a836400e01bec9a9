// Package metrics exposes Prometheus metrics for the mixer service.
package metrics

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics contains all Prometheus metrics for the mixer service.
type Metrics struct {
	registry *prometheus.Registry

	// Mix metrics
	Mixes          *prometheus.CounterVec
	MixDuration    prometheus.Histogram
	StageDuration  *prometheus.HistogramVec
	InputDuration  *prometheus.HistogramVec
	OutputDuration prometheus.Histogram
	OutputSize     prometheus.Histogram
	MasterLoudness prometheus.Histogram

	// Worker metrics
	WorkerMessages *prometheus.CounterVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// New creates all metrics on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		Mixes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mixer_mixes_total",
			Help: "Total number of mix requests by outcome and error kind",
		}, []string{"outcome", "kind"}),
		MixDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mixer_mix_duration_seconds",
			Help:    "Wall time spent producing a master, including encoding",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mixer_stage_duration_seconds",
			Help:    "Wall time spent in each pipeline stage",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
		}, []string{"stage"}),
		InputDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mixer_input_duration_seconds",
			Help:    "Duration of decoded input tracks",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~34 minutes
		}, []string{"track"}),
		OutputDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mixer_output_duration_seconds",
			Help:    "Duration of produced masters",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		OutputSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mixer_output_size_bytes",
			Help:    "Size of encoded masters in bytes",
			Buckets: prometheus.ExponentialBuckets(16*1024, 2, 12), // 16KB to ~32MB
		}),
		MasterLoudness: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mixer_master_loudness_lufs",
			Help:    "Integrated loudness of produced masters",
			Buckets: prometheus.LinearBuckets(-36, 2, 18), // -36 to -2 LUFS
		}),

		WorkerMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mixer_worker_messages_total",
			Help: "Total number of NATS mix jobs handled by result",
		}, []string{"result"}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mixer_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mixer_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mixer_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveStage records one pipeline stage timing.
func (m *Metrics) ObserveStage(stage string, elapsed time.Duration) {
	m.StageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// RecordInput records the duration of a decoded input track.
func (m *Metrics) RecordInput(track string, durationSeconds float64) {
	m.InputDuration.WithLabelValues(track).Observe(durationSeconds)
}

// RecordMixSuccess records a produced master.
func (m *Metrics) RecordMixSuccess(elapsed time.Duration, durationSeconds float64, sizeBytes int, lufs float64) {
	m.Mixes.WithLabelValues(OutcomeSuccess, "").Inc()
	m.MixDuration.Observe(elapsed.Seconds())
	m.OutputDuration.Observe(durationSeconds)
	m.OutputSize.Observe(float64(sizeBytes))

	if !math.IsInf(lufs, 0) && !math.IsNaN(lufs) {
		m.MasterLoudness.Observe(lufs)
	}
}

// RecordMixFailure records a failed mix by error kind.
func (m *Metrics) RecordMixFailure(kind string, elapsed time.Duration) {
	m.Mixes.WithLabelValues(OutcomeFailure, kind).Inc()
	m.MixDuration.Observe(elapsed.Seconds())
}

// RecordWorkerMessage increments the worker message counter.
func (m *Metrics) RecordWorkerMessage(result string) {
	m.WorkerMessages.WithLabelValues(result).Inc()
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, endpoint string, statusCode int, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error.
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
