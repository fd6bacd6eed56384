package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type WorkerMetrics struct {
	registry *prometheus.Registry

	sweepTotal      *prometheus.CounterVec
	sweepDuration   *prometheus.HistogramVec
	sweepInFlight   prometheus.Gauge
	recoveredTotal  prometheus.Counter
	lastSweepUnixTS prometheus.Gauge
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"service": service}

	sweepTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tk",
			Subsystem: "worker",
			Name:      "stale_sweeps_total",
			Help:      "Total stale ingestion sweeps by status.",
		},
		[]string{"service", "status"},
	)
	sweepDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tk",
			Subsystem: "worker",
			Name:      "stale_sweep_duration_seconds",
			Help:      "Stale ingestion sweep duration in seconds by status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "status"},
	)
	sweepInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   "tk",
			Subsystem:   "worker",
			Name:        "stale_sweep_in_flight",
			Help:        "Number of running stale ingestion sweeps.",
			ConstLabels: constLabels,
		},
	)
	recoveredTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   "tk",
			Subsystem:   "worker",
			Name:        "stale_documents_failed_total",
			Help:        "Documents marked failed by the stale ingestion sweeper.",
			ConstLabels: constLabels,
		},
	)
	lastSweepUnixTS := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   "tk",
			Subsystem:   "worker",
			Name:        "last_sweep_timestamp_seconds",
			Help:        "Unix time of the last finished sweep.",
			ConstLabels: constLabels,
		},
	)

	registry.MustRegister(sweepTotal, sweepDuration, sweepInFlight, recoveredTotal, lastSweepUnixTS)

	return &WorkerMetrics{
		registry:        registry,
		sweepTotal:      sweepTotal,
		sweepDuration:   sweepDuration,
		sweepInFlight:   sweepInFlight,
		recoveredTotal:  recoveredTotal,
		lastSweepUnixTS: lastSweepUnixTS,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartSweep() {
	m.sweepInFlight.Inc()
}

func (m *WorkerMetrics) FinishSweep(service string, recovered int, duration time.Duration, err error) {
	m.sweepInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}

	m.sweepTotal.WithLabelValues(service, status).Inc()
	m.sweepDuration.WithLabelValues(service, status).Observe(duration.Seconds())
	if recovered > 0 {
		m.recoveredTotal.Add(float64(recovered))
	}
	m.lastSweepUnixTS.SetToCurrentTime()
}
