// Package metrics provides Prometheus metrics for the keyguard verification service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// scoreBuckets cover the cosine similarity range in 0.05 steps.
var scoreBuckets = prometheus.LinearBuckets(0, 0.05, 21) //nolint:gochecknoglobals // fixed bucket layout

// Manager manages all Prometheus metrics for the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Biometric pipeline
	verifications      *prometheus.CounterVec
	verificationScore  prometheus.Histogram
	extractionLatency  prometheus.Histogram
	pasteDetections    *prometheus.CounterVec
	malformedEvents    prometheus.Counter
	templatesExcluded  *prometheus.CounterVec
	enrollmentSamples  *prometheus.CounterVec
	templatesFinalized prometheus.Counter
	enrolledIdentities prometheus.Gauge

	// Submissions
	submissionsDuplicate prometheus.Counter
	submissionsProcessed prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Repository
	repositoryUpdateLatency *prometheus.HistogramVec
	repositoryQueryLatency  *prometheus.HistogramVec

	// Queue
	queueSize              prometheus.Gauge
	queueCapacity          prometheus.Gauge
	queueUtilization       prometheus.Gauge
	queueEnqueued          prometheus.Counter
	queueDequeued          prometheus.Counter
	queueEnqueueErrors     prometheus.Counter
	queueProcessingLatency prometheus.Histogram

	// Workers
	workerCount             prometheus.Gauge
	workerMessagesPerSecond prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrors            prometheus.Counter

	// Errors
	errorRateByComponent *prometheus.CounterVec
	errorRateByType      *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec
	errorLatency         *prometheus.HistogramVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "keyguard",
		subsystem:        "biometrics",
		histogramBuckets: prometheus.DefBuckets,
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()
	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
		Buckets: buckets,
	})
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
		Buckets: m.histogramBuckets,
	}, labels)
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every metric definition
	m.verifications = m.counterVec("verifications_total", "Verification decisions by verdict", "verdict")
	m.verificationScore = m.histogram("verification_score", "Cosine similarity of live samples against templates", scoreBuckets)
	m.extractionLatency = m.histogram("extraction_latency_milliseconds", "Feature extraction latency in milliseconds", m.histogramBuckets)
	m.pasteDetections = m.counterVec("paste_detections_total", "Paste detections by source (explicit, heuristic)", "source")
	m.malformedEvents = m.counter("malformed_events_total", "Key events skipped because they carried no timestamp")
	m.templatesExcluded = m.counterVec("templates_excluded_total", "Stored templates excluded from comparison", "reason")
	m.enrollmentSamples = m.counterVec("enrollment_samples_total", "Enrollment samples by outcome (accepted, rejected)", "outcome")
	m.templatesFinalized = m.counter("templates_finalized_total", "Templates produced by enrollment finish")
	m.enrolledIdentities = m.gauge("enrolled_identities", "Identities with a finalized template")

	m.submissionsDuplicate = m.counter("submissions_duplicate_total", "Answer submissions rejected as duplicates")
	m.submissionsProcessed = m.counter("submissions_processed_total", "Answer submissions verified by workers")

	m.httpRequests = m.counterVec("http_requests_total", "Total number of HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds", "endpoint", "method", "status_code")

	m.repositoryUpdateLatency = m.histogramVec("repository_update_latency_milliseconds", "Repository write latency in milliseconds", "driver", "op")
	m.repositoryQueryLatency = m.histogramVec("repository_query_latency_milliseconds", "Repository read latency in milliseconds", "driver", "op")

	m.queueSize = m.gauge("queue_size", "Current number of queued submissions")
	m.queueCapacity = m.gauge("queue_capacity", "Maximum capacity of the submission queue")
	m.queueUtilization = m.gauge("queue_utilization_ratio", "Queue utilization ratio (size / capacity)")
	m.queueEnqueued = m.counter("queue_enqueued_total", "Total submissions enqueued")
	m.queueDequeued = m.counter("queue_dequeued_total", "Total submissions dequeued")
	m.queueEnqueueErrors = m.counter("queue_enqueue_errors_total", "Total enqueue failures")
	m.queueProcessingLatency = m.histogram("queue_processing_latency_milliseconds", "Enqueue latency in milliseconds", m.histogramBuckets)

	m.workerCount = m.gauge("worker_count", "Current number of verification workers")
	m.workerMessagesPerSecond = m.gauge("worker_messages_per_second", "Submissions verified per second")
	m.workerProcessingLatency = m.histogram("worker_processing_latency_milliseconds", "Worker processing latency in milliseconds", m.histogramBuckets)
	m.workerErrors = m.counter("worker_errors_total", "Total worker processing errors")

	m.errorRateByComponent = m.counterVec("errors_by_component_total", "Errors by component and type", "component", "error_type")
	m.errorRateByType = m.counterVec("errors_by_type_total", "Errors by type and severity", "error_type", "severity")
	m.errorRateByEndpoint = m.counterVec("errors_by_endpoint_total", "Errors by endpoint, method and type", "endpoint", "method", "error_type")
	m.errorLatency = m.histogramVec("error_latency_milliseconds", "Latency of operations that ended in an error", "component", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "Allocated heap bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_milliseconds", "Average GC pause in milliseconds", m.histogramBuckets)
}

// Biometric pipeline.

// RecordVerification counts a verdict and observes its score.
func RecordVerification(verdict string, score float64) {
	globalManager.verifications.WithLabelValues(verdict).Inc()
	globalManager.verificationScore.Observe(score)
}

// RecordExtractionLatency records feature extraction latency.
func RecordExtractionLatency(latencyMs float64) {
	globalManager.extractionLatency.Observe(latencyMs)
}

// RecordPasteDetection counts a paste detection by source.
func RecordPasteDetection(source string) {
	globalManager.pasteDetections.WithLabelValues(source).Inc()
}

// RecordMalformedEvents adds n skipped events.
func RecordMalformedEvents(n int) {
	if n > 0 {
		globalManager.malformedEvents.Add(float64(n))
	}
}

// RecordTemplatesExcluded adds n templates excluded for reason.
func RecordTemplatesExcluded(reason string, n int) {
	if n > 0 {
		globalManager.templatesExcluded.WithLabelValues(reason).Add(float64(n))
	}
}

// RecordEnrollmentSample counts an enrollment sample outcome.
func RecordEnrollmentSample(outcome string) {
	globalManager.enrollmentSamples.WithLabelValues(outcome).Inc()
}

// RecordTemplateFinalized counts a finished enrollment.
func RecordTemplateFinalized() {
	globalManager.templatesFinalized.Inc()
}

// UpdateEnrolledIdentities sets the enrolled identity gauge.
func UpdateEnrolledIdentities(count int) {
	globalManager.enrolledIdentities.Set(float64(count))
}

// Submissions.

// RecordSubmissionDuplicate counts a duplicate answer submission.
func RecordSubmissionDuplicate() {
	globalManager.submissionsDuplicate.Inc()
}

// RecordSubmissionProcessed counts a verified answer submission.
func RecordSubmissionProcessed() {
	globalManager.submissionsProcessed.Inc()
}

// HTTP.

// RecordHTTPRequest increments the HTTP request counter.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// Repository.

// RecordRepositoryUpdateLatency records a write latency.
func RecordRepositoryUpdateLatency(driver, op string, latencyMs float64) {
	globalManager.repositoryUpdateLatency.WithLabelValues(driver, op).Observe(latencyMs)
}

// RecordRepositoryQueryLatency records a read latency.
func RecordRepositoryQueryLatency(driver, op string, latencyMs float64) {
	globalManager.repositoryQueryLatency.WithLabelValues(driver, op).Observe(latencyMs)
}

// Queue.

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) {
	globalManager.queueUtilization.Set(utilization)
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueued.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeued.Inc()
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// RecordQueueProcessingLatency records queue processing latency.
func RecordQueueProcessingLatency(latencyMs float64) {
	globalManager.queueProcessingLatency.Observe(latencyMs)
}

// Workers.

// UpdateWorkerCount sets the number of workers.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// UpdateWorkerMessagesPerSecond sets the average submissions verified per second.
func UpdateWorkerMessagesPerSecond(rate float64) {
	globalManager.workerMessagesPerSecond.Set(rate)
}

// RecordWorkerProcessingLatency records worker processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	globalManager.workerErrors.Inc()
}

// Errors.

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByType records an error with type and severity labels.
func RecordErrorByType(errorType, severity string) {
	globalManager.errorRateByType.WithLabelValues(errorType, severity).Inc()
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// RecordErrorLatency records the latency of an operation that resulted in an error.
func RecordErrorLatency(component, errorType string, latencyMs float64) {
	globalManager.errorLatency.WithLabelValues(component, errorType).Observe(latencyMs)
}

// System.

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
