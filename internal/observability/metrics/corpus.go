package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type CorpusMetrics struct {
	service string

	opTotal    *prometheus.CounterVec
	opDuration *prometheus.HistogramVec
	opInFlight prometheus.Gauge
	chunks     prometheus.Gauge
	builtAt    prometheus.Gauge
}

func NewCorpusMetrics(service string, registerer prometheus.Registerer) *CorpusMetrics {
	opTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "corpus",
			Name:      "operations_total",
			Help:      "Corpus rebuilds and reloads by status.",
		},
		[]string{"service", "operation", "status"},
	)
	opDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "corpus",
			Name:      "operation_duration_seconds",
			Help:      "Corpus rebuild and reload duration in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"service", "operation", "status"},
	)
	opInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "corpus",
			Name:      "operations_in_flight",
			Help:      "Number of in-flight corpus operations.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	chunks := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "corpus",
			Name:      "chunks",
			Help:      "Chunks in the active snapshot.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	builtAt := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "corpus",
			Name:      "snapshot_built_timestamp_seconds",
			Help:      "Build time of the active snapshot as a unix timestamp.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)

	registerer.MustRegister(opTotal, opDuration, opInFlight, chunks, builtAt)

	return &CorpusMetrics{
		service:    service,
		opTotal:    opTotal,
		opDuration: opDuration,
		opInFlight: opInFlight,
		chunks:     chunks,
		builtAt:    builtAt,
	}
}

func (m *CorpusMetrics) Start() {
	m.opInFlight.Inc()
}

func (m *CorpusMetrics) Finish(operation string, duration time.Duration, err error) {
	m.opInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}

	m.opTotal.WithLabelValues(m.service, operation, status).Inc()
	m.opDuration.WithLabelValues(m.service, operation, status).Observe(duration.Seconds())
}

func (m *CorpusMetrics) SetSnapshot(chunks int, builtAt time.Time) {
	m.chunks.Set(float64(chunks))
	if !builtAt.IsZero() {
		m.builtAt.Set(float64(builtAt.Unix()))
	}
}
