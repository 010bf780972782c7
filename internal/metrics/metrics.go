// Package metrics exposes Prometheus instrumentation for the engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is
// valid and records nothing, so instrumentation stays optional.
type Metrics struct {
	stagesExecuted *prometheus.CounterVec
	stageFailures  *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec
	sessionsEnded  *prometheus.CounterVec
}

// New registers the engine collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		stagesExecuted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tally",
			Name:      "stages_executed_total",
			Help:      "Number of stage executions, by stage name.",
		}, []string{"stage"}),
		stageFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tally",
			Name:      "stage_failures_total",
			Help:      "Number of failed stage executions, by stage name and failure kind.",
		}, []string{"stage", "kind"}),
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tally",
			Name:      "stage_duration_seconds",
			Help:      "Wall time spent executing a stage.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		sessionsEnded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tally",
			Name:      "sessions_ended_total",
			Help:      "Number of sessions that reached a terminal status.",
		}, []string{"status"}),
	}
}

// ObserveStage records one stage execution.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stagesExecuted.WithLabelValues(stage).Inc()
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveFailure records one failed stage execution.
func (m *Metrics) ObserveFailure(stage, kind string) {
	if m == nil {
		return
	}
	m.stageFailures.WithLabelValues(stage, kind).Inc()
}

// ObserveSessionEnd records a session reaching a terminal status.
func (m *Metrics) ObserveSessionEnd(status string) {
	if m == nil {
		return
	}
	m.sessionsEnded.WithLabelValues(status).Inc()
}
