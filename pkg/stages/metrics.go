package stages

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes per-stage Prometheus instrumentation, scaled down from
// the teacher's much larger security-scanner metrics collector to the
// handful of series this run loop actually produces: stage duration,
// outcome counts, and the findings a stage contributes.
type Metrics struct {
	registry        *prometheus.Registry
	stageDuration   *prometheus.HistogramVec
	stageTotal      *prometheus.CounterVec
	findingsTotal   *prometheus.CounterVec
}

// NewMetrics builds and registers the stage metrics under namespace
// "depguard".
func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.stageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "depguard",
		Name:      "stage_duration_seconds",
		Help:      "Duration of each specialist stage in seconds",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
	}, []string{"stage"})

	m.stageTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "depguard",
		Name:      "stage_runs_total",
		Help:      "Total number of stage runs by outcome status",
	}, []string{"stage", "status"})

	m.findingsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "depguard",
		Name:      "findings_total",
		Help:      "Total number of findings produced, by stage and severity",
	}, []string{"stage", "severity"})

	m.registry.MustRegister(m.stageDuration, m.stageTotal, m.findingsTotal)
	return m
}

// Registry returns the Prometheus registry for exposition.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// RecordStage records one stage run's outcome and duration.
func (m *Metrics) RecordStage(stage, status string, duration time.Duration) {
	m.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
	m.stageTotal.WithLabelValues(stage, status).Inc()
}

// RecordFinding increments the findings counter for stage/severity.
func (m *Metrics) RecordFinding(stage, severity string) {
	m.findingsTotal.WithLabelValues(stage, severity).Inc()
}
