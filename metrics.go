package aqgeval

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of one workspace. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	LLMRequestsTotal   *prometheus.CounterVec
	LLMRequestDuration *prometheus.HistogramVec

	ParseAttemptsTotal  *prometheus.CounterVec
	ParseFallbacksTotal *prometheus.CounterVec

	SegmentWritesTotal      *prometheus.CounterVec
	StageDuration           *prometheus.HistogramVec
	QuestionsGeneratedTotal *prometheus.CounterVec
	QuestionsEvaluatedTotal *prometheus.CounterVec
}

// NewMetrics creates the collectors on a private registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	m := &Metrics{registry: reg}

	m.LLMRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aqg_llm_requests_total",
			Help: "Total number of text generation requests",
		},
		[]string{"purpose", "status"},
	)

	m.LLMRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aqg_llm_request_duration_seconds",
			Help:    "Duration of text generation requests in seconds",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 20, 40, 80},
		},
		[]string{"purpose"},
	)

	m.ParseAttemptsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aqg_parse_attempts_total",
			Help: "Structured output decode attempts",
		},
		[]string{"contract", "outcome"},
	)

	m.ParseFallbacksTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aqg_parse_fallbacks_total",
			Help: "Decodes that exhausted their retries and returned the fallback value",
		},
		[]string{"contract"},
	)

	m.SegmentWritesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aqg_segment_writes_total",
			Help: "Segment record writes by outcome",
		},
		[]string{"outcome"},
	)

	m.StageDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aqg_stage_duration_seconds",
			Help:    "Duration of pipeline stages in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		},
		[]string{"stage"},
	)

	m.QuestionsGeneratedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aqg_questions_generated_total",
			Help: "Questions generated by type",
		},
		[]string{"type"},
	)

	m.QuestionsEvaluatedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aqg_questions_evaluated_total",
			Help: "Questions evaluated by type",
		},
		[]string{"type"},
	)

	return m
}

// Registry returns the registry the collectors are registered on
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.registry
}

// RecordLLMRequest counts one model request and observes its duration
func (m *Metrics) RecordLLMRequest(purpose string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.LLMRequestsTotal.WithLabelValues(purpose, status).Inc()
	m.LLMRequestDuration.WithLabelValues(purpose).Observe(d.Seconds())
}

// RecordParseAttempt counts one decode attempt by outcome
func (m *Metrics) RecordParseAttempt(contract string, ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "invalid"
	}
	m.ParseAttemptsTotal.WithLabelValues(contract, outcome).Inc()
}

// RecordParseFallback counts a decode that used its fallback value
func (m *Metrics) RecordParseFallback(contract string) {
	if m == nil {
		return
	}
	m.ParseFallbacksTotal.WithLabelValues(contract).Inc()
}

// RecordSegmentWrite counts a write outcome: written, skipped or failed
func (m *Metrics) RecordSegmentWrite(outcome string) {
	if m == nil {
		return
	}
	m.SegmentWritesTotal.WithLabelValues(outcome).Inc()
}

// ObserveStage records the time since start for a pipeline stage
func (m *Metrics) ObserveStage(stage string, start time.Time) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// RecordQuestionsGenerated adds n generated questions of type t
func (m *Metrics) RecordQuestionsGenerated(t QuestionType, n int) {
	if m == nil {
		return
	}
	m.QuestionsGeneratedTotal.WithLabelValues(t.String()).Add(float64(n))
}

// RecordQuestionEvaluated counts one evaluated question of type t
func (m *Metrics) RecordQuestionEvaluated(t QuestionType) {
	if m == nil {
		return
	}
	m.QuestionsEvaluatedTotal.WithLabelValues(t.String()).Inc()
}
