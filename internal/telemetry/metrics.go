package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for interview sessions.
type Metrics struct {
	registry *prometheus.Registry

	SessionsStarted  prometheus.Counter
	SessionsActive   prometheus.Gauge
	SessionsEnded    *prometheus.CounterVec
	SessionDuration  prometheus.Histogram
	CompletedStages  prometheus.Histogram
	StageTransitions prometheus.Counter
	StageDuration    prometheus.Histogram
	EventWriteErrors *prometheus.CounterVec
	Admissions       *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance on its own registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "interview_agent"
	}
	registry := prometheus.NewRegistry()

	sessionsStarted := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_started_total",
		Help:      "Total number of sessions started",
	})
	sessionsActive := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Number of sessions in progress",
	})
	sessionsEnded := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_ended_total",
		Help:      "Total number of sessions ended, by end reason",
	}, []string{"reason"})
	sessionDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "session_duration_seconds",
		Help:      "Session duration in seconds",
		Buckets:   []float64{60, 300, 600, 900, 1200, 1800, 2700, 3600},
	})
	completedStages := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "session_completed_stages",
		Help:      "Stages completed per session",
		Buckets:   []float64{0, 1, 2, 3, 5, 8, 13},
	})
	stageTransitions := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stage_transitions_total",
		Help:      "Total number of stage transitions",
	})
	stageDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "stage_duration_seconds",
		Help:      "Stage duration in seconds",
		Buckets:   []float64{10, 30, 60, 120, 300, 600, 900},
	})
	eventWriteErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "event_write_errors_total",
		Help:      "Session event log writes that failed",
	}, []string{"event"})
	admissions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "admissions_total",
		Help:      "Admission decisions, by outcome",
	}, []string{"outcome"})

	registry.MustRegister(
		sessionsStarted,
		sessionsActive,
		sessionsEnded,
		sessionDuration,
		completedStages,
		stageTransitions,
		stageDuration,
		eventWriteErrors,
		admissions,
	)

	return &Metrics{
		registry:         registry,
		SessionsStarted:  sessionsStarted,
		SessionsActive:   sessionsActive,
		SessionsEnded:    sessionsEnded,
		SessionDuration:  sessionDuration,
		CompletedStages:  completedStages,
		StageTransitions: stageTransitions,
		StageDuration:    stageDuration,
		EventWriteErrors: eventWriteErrors,
		Admissions:       admissions,
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for gathering.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) RecordSessionStart() {
	m.SessionsStarted.Inc()
	m.SessionsActive.Inc()
}

func (m *Metrics) RecordSessionEnd(reason string, duration time.Duration, completedStages int) {
	m.SessionsActive.Dec()
	m.SessionsEnded.WithLabelValues(reason).Inc()
	m.SessionDuration.Observe(duration.Seconds())
	m.CompletedStages.Observe(float64(completedStages))
}

func (m *Metrics) RecordStageTransition(took time.Duration) {
	m.StageTransitions.Inc()
	m.StageDuration.Observe(took.Seconds())
}

func (m *Metrics) RecordEventWriteError(event string) {
	m.EventWriteErrors.WithLabelValues(event).Inc()
}

// RecordAdmission counts an admission decision such as "accepted" or an
// error code.
func (m *Metrics) RecordAdmission(outcome string) {
	m.Admissions.WithLabelValues(outcome).Inc()
}
