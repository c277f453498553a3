// Package metrics provides Prometheus metrics for the realm history service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every Prometheus collector of the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Import lifecycle
	importsStarted   prometheus.Counter
	importsFinished  *prometheus.CounterVec
	importDuration   prometheus.Histogram
	phaseDuration    *prometheus.HistogramVec
	activeImports    prometheus.Gauge
	snapshotBytes    prometheus.Histogram
	encodingFallback *prometheus.CounterVec

	// Data quality
	changes       *prometheus.CounterVec
	droppedRows   *prometheus.CounterVec
	anomalies     *prometheus.CounterVec
	progressFails prometheus.Counter

	// Repository
	repositoryWriteLatency prometheus.Histogram
	repositoryQueryLatency prometheus.Histogram
	activeRows             *prometheus.GaugeVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Job queue and worker
	queueSize       prometheus.Gauge
	queueCapacity   prometheus.Gauge
	queueEnqueue    prometheus.Counter
	queueDequeue    prometheus.Counter
	queueRejections prometheus.Counter
	workerErrors    prometheus.Counter

	// Errors
	errorRateByComponent *prometheus.CounterVec
	errorRateByCategory  *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // avoids default Go collectors

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "realmhist",
		subsystem:        "ingest",
		histogramBuckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
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
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels, Buckets: buckets,
	})
}

func (m *Manager) histogramVec(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels, Buckets: buckets,
	}, labels)
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for all collectors
	secondsBuckets := []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 900, 1800}

	m.importsStarted = m.counter("imports_started_total", "Total number of imports accepted for processing")
	m.importsFinished = m.counterVec("imports_finished_total", "Total number of imports by terminal status", "status")
	m.importDuration = m.histogram("import_duration_seconds", "Wall-clock duration of imports in seconds", secondsBuckets)
	m.phaseDuration = m.histogramVec("phase_duration_seconds", "Duration of import phases in seconds", secondsBuckets, "phase")
	m.activeImports = m.gauge("active_imports", "Number of imports currently processing")
	m.snapshotBytes = m.histogram("snapshot_bytes", "Size of submitted snapshots in bytes",
		prometheus.ExponentialBuckets(1024, 4, 10))
	m.encodingFallback = m.counterVec("encoding_fallback_total", "Snapshots decoded through a legacy encoding", "encoding")

	m.changes = m.counterVec("changes_total", "Detected changes by entity kind and change type", "kind", "change")
	m.droppedRows = m.counterVec("dropped_rows_total", "Staged rows dropped by safety nets", "kind", "reason")
	m.anomalies = m.counterVec("anomalies_total", "Soft-validation anomalies by entity kind and type", "kind", "type")
	m.progressFails = m.counter("progress_persist_failures_total", "Progress updates that failed to persist")

	m.repositoryWriteLatency = m.histogram("repository_write_latency_milliseconds", "Versioned store batch write latency in milliseconds", m.histogramBuckets)
	m.repositoryQueryLatency = m.histogram("repository_query_latency_milliseconds", "Versioned store query latency in milliseconds", m.histogramBuckets)
	m.activeRows = promauto.With(m.registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: "active_rows",
		Help: "Active versioned rows by realm and kind after the last import", ConstLabels: m.constLabels,
	}, []string{"realm", "kind"})

	m.httpRequests = m.counterVec("http_requests_total", "Total number of HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds",
		m.histogramBuckets, "endpoint", "method", "status_code")

	m.queueSize = m.gauge("job_queue_size", "Current number of queued import jobs")
	m.queueCapacity = m.gauge("job_queue_capacity", "Maximum import job queue capacity")
	m.queueEnqueue = m.counter("job_queue_enqueue_total", "Total number of import jobs enqueued")
	m.queueDequeue = m.counter("job_queue_dequeue_total", "Total number of import jobs dequeued")
	m.queueRejections = m.counter("job_queue_rejections_total", "Total number of import jobs rejected by the queue")
	m.workerErrors = m.counter("worker_errors_total", "Total number of import jobs that ended with an error")

	m.errorRateByComponent = m.counterVec("errors_by_component_total", "Total number of errors by component", "component", "error_type")
	m.errorRateByCategory = m.counterVec("errors_by_category_total", "Total number of import errors by category", "category")
	m.errorRateByEndpoint = m.counterVec("errors_by_endpoint_total", "Total number of errors by endpoint", "endpoint", "method", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

// RecordImportStarted increments the started imports counter.
func RecordImportStarted() { globalManager.importsStarted.Inc() }

// RecordImportFinished records a terminal import status and its duration.
func RecordImportFinished(status string, seconds float64) {
	globalManager.importsFinished.WithLabelValues(status).Inc()
	globalManager.importDuration.Observe(seconds)
}

// RecordPhaseDuration records how long one import phase took.
func RecordPhaseDuration(phase string, seconds float64) {
	globalManager.phaseDuration.WithLabelValues(phase).Observe(seconds)
}

// UpdateActiveImports sets the number of imports currently processing.
func UpdateActiveImports(n int) { globalManager.activeImports.Set(float64(n)) }

// RecordSnapshotBytes records the size of a submitted snapshot.
func RecordSnapshotBytes(n int) { globalManager.snapshotBytes.Observe(float64(n)) }

// RecordEncodingFallback counts a snapshot decoded through a legacy encoding.
func RecordEncodingFallback(encoding string) {
	globalManager.encodingFallback.WithLabelValues(encoding).Inc()
}

// RecordChanges adds n detected changes of the given kind and change type.
func RecordChanges(kind, change string, n int) {
	if n > 0 {
		globalManager.changes.WithLabelValues(kind, change).Add(float64(n))
	}
}

// RecordDroppedRows adds n staged rows dropped by a safety net.
func RecordDroppedRows(kind, reason string, n int) {
	if n > 0 {
		globalManager.droppedRows.WithLabelValues(kind, reason).Add(float64(n))
	}
}

// RecordAnomalies adds n soft-validation anomalies.
func RecordAnomalies(kind, anomaly string, n int) {
	if n > 0 {
		globalManager.anomalies.WithLabelValues(kind, anomaly).Add(float64(n))
	}
}

// RecordProgressPersistFailure counts a progress update that failed to persist.
func RecordProgressPersistFailure() { globalManager.progressFails.Inc() }

// RecordRepositoryWriteLatency records a batch write latency in milliseconds.
func RecordRepositoryWriteLatency(latencyMs float64) {
	globalManager.repositoryWriteLatency.Observe(latencyMs)
}

// RecordRepositoryQueryLatency records a query latency in milliseconds.
func RecordRepositoryQueryLatency(latencyMs float64) {
	globalManager.repositoryQueryLatency.Observe(latencyMs)
}

// UpdateActiveRows sets the active row count for a realm and kind.
func UpdateActiveRows(realm, kind string, n int) {
	globalManager.activeRows.WithLabelValues(realm, kind).Set(float64(n))
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// UpdateQueueSize sets the current job queue size.
func UpdateQueueSize(size int) { globalManager.queueSize.Set(float64(size)) }

// UpdateQueueCapacity sets the job queue capacity.
func UpdateQueueCapacity(capacity int) { globalManager.queueCapacity.Set(float64(capacity)) }

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() { globalManager.queueEnqueue.Inc() }

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() { globalManager.queueDequeue.Inc() }

// RecordQueueRejection increments the rejected enqueue counter.
func RecordQueueRejection() { globalManager.queueRejections.Inc() }

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() { globalManager.workerErrors.Inc() }

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByCategory records a classified import error.
func RecordErrorByCategory(category string) {
	globalManager.errorRateByCategory.WithLabelValues(category).Inc()
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) { globalManager.systemMemoryUsage.Set(float64(bytes)) }

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) { globalManager.systemGoroutineCount.Set(float64(count)) }

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) { globalManager.systemGCPauseTime.Observe(pauseMs) }

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
