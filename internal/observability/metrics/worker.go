package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// WorkerMetrics covers onboarding request processing and reclaim sweeps.
type WorkerMetrics struct {
	*taggingCounters
	registry *prometheus.Registry

	processTotal    *prometheus.CounterVec
	processDuration *prometheus.HistogramVec
	processInFlight prometheus.Gauge
	sweepTotal      *prometheus.CounterVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	processTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tagger",
			Subsystem: "worker",
			Name:      "onboard_process_total",
			Help:      "Total processed onboarding requests by status.",
		},
		[]string{"service", "status"},
	)
	processDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tagger",
			Subsystem: "worker",
			Name:      "onboard_process_duration_seconds",
			Help:      "Onboarding request processing duration in seconds by status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "status"},
	)
	processInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tagger",
			Subsystem: "worker",
			Name:      "onboard_process_in_flight",
			Help:      "Number of in-flight onboarding requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	sweepTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tagger",
			Subsystem: "worker",
			Name:      "reclaim_sweeps_total",
			Help:      "Lease reclaim sweeps by status.",
		},
		[]string{"service", "status"},
	)

	registry.MustRegister(processTotal, processDuration, processInFlight, sweepTotal)

	return &WorkerMetrics{
		taggingCounters: newTaggingCounters(service, registry),
		registry:        registry,
		processTotal:    processTotal,
		processDuration: processDuration,
		processInFlight: processInFlight,
		sweepTotal:      sweepTotal,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartOnboard() {
	m.processInFlight.Inc()
}

func (m *WorkerMetrics) FinishOnboard(duration time.Duration, err error) {
	m.processInFlight.Dec()

	status := statusOf(err)
	m.processTotal.WithLabelValues(m.service, status).Inc()
	m.processDuration.WithLabelValues(m.service, status).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObserveSweep(err error) {
	m.sweepTotal.WithLabelValues(m.service, statusOf(err)).Inc()
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
