package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	envelopesTotal      *prometheus.CounterVec
	operationDuration   *prometheus.HistogramVec
	probeResultsTotal   *prometheus.CounterVec
	ingestTotal         *prometheus.CounterVec
	ingestChunks        prometheus.Histogram
	ingestDuration      *prometheus.HistogramVec
	retrievalResults    *prometheus.HistogramVec
	retrievalDuration   *prometheus.HistogramVec
	retrievalEmptyTotal *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"service": service}

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tk",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tk",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   "tk",
			Subsystem:   "http",
			Name:        "in_flight_requests",
			Help:        "Number of in-flight HTTP requests.",
			ConstLabels: constLabels,
		},
	)
	envelopesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "tk",
			Subsystem:   "pipeline",
			Name:        "envelopes_total",
			Help:        "Orchestrated operations by execution source.",
			ConstLabels: constLabels,
		},
		[]string{"operation", "source"},
	)
	operationDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   "tk",
			Subsystem:   "pipeline",
			Name:        "operation_duration_seconds",
			Help:        "Orchestrated operation duration in seconds by source.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: constLabels,
		},
		[]string{"operation", "source"},
	)
	probeResultsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "tk",
			Subsystem:   "pipeline",
			Name:        "probe_results_total",
			Help:        "Remote pipeline availability probes by result.",
			ConstLabels: constLabels,
		},
		[]string{"result"},
	)
	ingestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "tk",
			Subsystem:   "ingest",
			Name:        "documents_total",
			Help:        "Local ingestions by outcome.",
			ConstLabels: constLabels,
		},
		[]string{"outcome"},
	)
	ingestChunks := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace:   "tk",
			Subsystem:   "ingest",
			Name:        "chunks",
			Help:        "Chunks written per ingested document.",
			Buckets:     []float64{0, 1, 5, 10, 25, 50, 100, 250, 500, 1000},
			ConstLabels: constLabels,
		},
	)
	ingestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   "tk",
			Subsystem:   "ingest",
			Name:        "duration_seconds",
			Help:        "Local ingestion duration in seconds by outcome.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: constLabels,
		},
		[]string{"outcome"},
	)
	retrievalResults := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   "tk",
			Subsystem:   "retrieval",
			Name:        "results",
			Help:        "Results returned per search by retrieval mode.",
			Buckets:     []float64{0, 1, 2, 3, 5, 8, 13, 21, 50},
			ConstLabels: constLabels,
		},
		[]string{"mode"},
	)
	retrievalDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   "tk",
			Subsystem:   "retrieval",
			Name:        "duration_seconds",
			Help:        "Search duration in seconds by retrieval mode.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: constLabels,
		},
		[]string{"mode"},
	)
	retrievalEmptyTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "tk",
			Subsystem:   "retrieval",
			Name:        "no_results_total",
			Help:        "Searches that returned no results.",
			ConstLabels: constLabels,
		},
		[]string{"mode"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		envelopesTotal,
		operationDuration,
		probeResultsTotal,
		ingestTotal,
		ingestChunks,
		ingestDuration,
		retrievalResults,
		retrievalDuration,
		retrievalEmptyTotal,
	)

	return &HTTPServerMetrics{
		registry:            registry,
		requestTotal:        requestTotal,
		requestDuration:     requestDuration,
		requestInFlight:     requestInFlight,
		envelopesTotal:      envelopesTotal,
		operationDuration:   operationDuration,
		probeResultsTotal:   probeResultsTotal,
		ingestTotal:         ingestTotal,
		ingestChunks:        ingestChunks,
		ingestDuration:      ingestDuration,
		retrievalResults:    retrievalResults,
		retrievalDuration:   retrievalDuration,
		retrievalEmptyTotal: retrievalEmptyTotal,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func normalizePath(path string) string {
	if !strings.HasPrefix(path, "/v1/documents/") {
		return path
	}
	rest := strings.TrimPrefix(path, "/v1/documents/")
	if i := strings.Index(rest, "/"); i >= 0 {
		return "/v1/documents/{document_id}" + rest[i:]
	}
	return "/v1/documents/{document_id}"
}

// RecordEnvelope counts one orchestrated operation by the source that served it.
func (m *HTTPServerMetrics) RecordEnvelope(operation, source string, duration time.Duration) {
	m.envelopesTotal.WithLabelValues(operation, source).Inc()
	m.operationDuration.WithLabelValues(operation, source).Observe(duration.Seconds())
}

func (m *HTTPServerMetrics) RecordProbe(available bool) {
	result := "unavailable"
	if available {
		result = "available"
	}
	m.probeResultsTotal.WithLabelValues(result).Inc()
}

func (m *HTTPServerMetrics) RecordIngest(outcome string, chunks int, duration time.Duration) {
	if outcome == "" {
		outcome = "unknown"
	}
	m.ingestTotal.WithLabelValues(outcome).Inc()
	m.ingestDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	if outcome == "created" {
		m.ingestChunks.Observe(float64(chunks))
	}
}

func (m *HTTPServerMetrics) RecordRetrieval(mode string, results int, duration time.Duration) {
	if mode == "" {
		mode = "unknown"
	}
	m.retrievalResults.WithLabelValues(mode).Observe(float64(results))
	m.retrievalDuration.WithLabelValues(mode).Observe(duration.Seconds())
	if results == 0 {
		m.retrievalEmptyTotal.WithLabelValues(mode).Inc()
	}
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}

func (w *statusRecorder) Push(target string, opts *http.PushOptions) error {
	pusher, ok := w.ResponseWriter.(http.Pusher)
	if !ok {
		return http.ErrNotSupported
	}
	return pusher.Push(target, opts)
}
