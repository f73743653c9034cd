package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/core/domain"
)

// PipelineMetrics records the per-request orchestration machine. It satisfies
// ports.PipelineObserver.
type PipelineMetrics struct {
	service string

	stageDuration      *prometheus.HistogramVec
	outcomeTotal       *prometheus.CounterVec
	citations          *prometheus.HistogramVec
	ragDuration        *prometheus.HistogramVec
	failureTotal       *prometheus.CounterVec
	persistFailedTotal prometheus.Counter
	retryTotal         *prometheus.CounterVec
}

func NewPipelineMetrics(service string, registerer prometheus.Registerer) *PipelineMetrics {
	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rag",
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each orchestration stage.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"service", "stage"},
	)
	outcomeTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rag",
			Name:      "requests_total",
			Help:      "Answered requests by mode and context state (grounded, fallback, empty).",
		},
		[]string{"service", "mode", "context"},
	)
	citations := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rag",
			Name:      "citations",
			Help:      "Citations returned per answered request.",
			Buckets:   []float64{0, 1, 2, 3},
		},
		[]string{"service", "mode"},
	)
	ragDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rag",
			Name:      "duration_seconds",
			Help:      "End-to-end RAG execution duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "mode"},
	)
	failureTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rag",
			Name:      "failures_total",
			Help:      "Failed requests by the stage they failed in and error kind.",
		},
		[]string{"service", "stage", "kind"},
	)
	persistFailedTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rag",
			Name:      "persistence_failures_total",
			Help:      "Answers delivered whose conversation write failed.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	retryTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dependency",
			Name:      "retries_total",
			Help:      "Retried calls to external dependencies by operation.",
		},
		[]string{"service", "operation"},
	)

	registerer.MustRegister(
		stageDuration,
		outcomeTotal,
		citations,
		ragDuration,
		failureTotal,
		persistFailedTotal,
		retryTotal,
	)

	return &PipelineMetrics{
		service:            service,
		stageDuration:      stageDuration,
		outcomeTotal:       outcomeTotal,
		citations:          citations,
		ragDuration:        ragDuration,
		failureTotal:       failureTotal,
		persistFailedTotal: persistFailedTotal,
		retryTotal:         retryTotal,
	}
}

func (m *PipelineMetrics) ObserveStage(stage domain.Stage, duration time.Duration) {
	m.stageDuration.WithLabelValues(m.service, string(stage)).Observe(duration.Seconds())
}

func (m *PipelineMetrics) ObserveOutcome(mode, contextState string, citations int, duration time.Duration) {
	m.outcomeTotal.WithLabelValues(m.service, mode, contextState).Inc()
	m.citations.WithLabelValues(m.service, mode).Observe(float64(citations))
	m.ragDuration.WithLabelValues(m.service, mode).Observe(duration.Seconds())
}

func (m *PipelineMetrics) ObserveFailure(stage domain.Stage, err error) {
	m.failureTotal.WithLabelValues(m.service, string(stage), ErrorKind(err)).Inc()
}

func (m *PipelineMetrics) ObservePersistenceFailure() {
	m.persistFailedTotal.Inc()
}

// RecordRetry matches resilience.RetryObserver.
func (m *PipelineMetrics) RecordRetry(operation string, _ int, _ error) {
	m.retryTotal.WithLabelValues(m.service, operation).Inc()
}

// ErrorKind returns a bounded label for err.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case domain.IsKind(err, domain.ErrInvalidInput):
		return "invalid_input"
	case domain.IsKind(err, domain.ErrNotFound):
		return "not_found"
	case domain.IsKind(err, domain.ErrEmbedding):
		return "embedding"
	case domain.IsKind(err, domain.ErrRetrieval):
		return "retrieval"
	case domain.IsKind(err, domain.ErrFusionAlignment):
		return "fusion_alignment"
	case domain.IsKind(err, domain.ErrGenerationTimeout):
		return "generation_timeout"
	case domain.IsKind(err, domain.ErrGenerationUnavailable):
		return "generation_unavailable"
	case domain.IsKind(err, domain.ErrPersistence):
		return "persistence"
	case domain.IsKind(err, domain.ErrTemporary):
		return "temporary"
	default:
		return "internal"
	}
}
