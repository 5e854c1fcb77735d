package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the enhancement service
type Metrics struct {
	// Upload metrics
	UploadsReceived     prometheus.Counter
	UploadBytes         prometheus.Histogram
	UploadAudioDuration prometheus.Histogram
	PersistFailures     prometheus.Counter

	// Enhancement metrics
	EnhancementSuccesses prometheus.Counter
	EnhancementFailures  prometheus.Counter
	EnhancementDuration  prometheus.Histogram
	EnhancementQueued    prometheus.Gauge

	// Event metrics
	EventsPublished prometheus.Counter
	EventFailures   prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewRegistry returns a registry with the Go runtime and process collectors
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// NewMetrics creates all metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Upload metrics
		UploadsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "enhancer_uploads_received_total",
			Help: "Total number of uploads accepted for processing",
		}),
		UploadBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "enhancer_upload_size_bytes",
			Help:    "Size of uploaded PCM payloads in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 14), // 1KB to ~8MB
		}),
		UploadAudioDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "enhancer_upload_audio_duration_seconds",
			Help:    "Duration of uploaded audio",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8), // 0.5s to ~1 minute
		}),
		PersistFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "enhancer_persist_failures_total",
			Help: "Total number of uploads that could not be stored",
		}),

		// Enhancement metrics
		EnhancementSuccesses: factory.NewCounter(prometheus.CounterOpts{
			Name: "enhancer_enhancement_successes_total",
			Help: "Total number of uploads enhanced by the backend",
		}),
		EnhancementFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "enhancer_enhancement_fallbacks_total",
			Help: "Total number of uploads that fell back to the original audio",
		}),
		EnhancementDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "enhancer_enhancement_duration_seconds",
			Help:    "Duration of enhancement backend calls",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~1 minute
		}),
		EnhancementQueued: factory.NewGauge(prometheus.GaugeOpts{
			Name: "enhancer_enhancement_queued",
			Help: "Uploads waiting for or holding the enhancement worker",
		}),

		// Event metrics
		EventsPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "enhancer_events_published_total",
			Help: "Total number of result events published",
		}),
		EventFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "enhancer_event_failures_total",
			Help: "Total number of result events that could not be published",
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "enhancer_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "enhancer_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "enhancer_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordUpload records a received upload
func (m *Metrics) RecordUpload(sizeBytes int, audioSeconds float64) {
	m.UploadsReceived.Inc()
	m.UploadBytes.Observe(float64(sizeBytes))
	if audioSeconds > 0 {
		m.UploadAudioDuration.Observe(audioSeconds)
	}
}

// RecordPersistFailure increments the persistence failure counter
func (m *Metrics) RecordPersistFailure() {
	m.PersistFailures.Inc()
}

// RecordEnhancementSuccess records a successful enhancement
func (m *Metrics) RecordEnhancementSuccess(durationSeconds float64) {
	m.EnhancementSuccesses.Inc()
	m.EnhancementDuration.Observe(durationSeconds)
}

// RecordEnhancementFallback records an enhancement that fell back to the original
func (m *Metrics) RecordEnhancementFallback(durationSeconds float64) {
	m.EnhancementFailures.Inc()
	m.EnhancementDuration.Observe(durationSeconds)
}

// SetEnhancementQueued sets the number of uploads queued for enhancement
func (m *Metrics) SetEnhancementQueued(n int) {
	m.EnhancementQueued.Set(float64(n))
}

// RecordEvent records a result event publish attempt
func (m *Metrics) RecordEvent(err error) {
	if err != nil {
		m.EventFailures.Inc()
		return
	}
	m.EventsPublished.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
