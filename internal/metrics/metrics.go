// Package metrics holds the Prometheus instruments of the scoring worker.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Event outcomes.
const (
	OutcomeRoutine = "routine"
	OutcomeFraud   = "fraud"
	OutcomeDropped = "dropped"
	OutcomeFailed  = "failed"
)

// Pipeline stages.
const (
	StageFetch   = "fetch"
	StageBuild   = "build"
	StageInfer   = "infer"
	StageRoute   = "route"
	StageProcess = "process"
)

var (
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ato_events_total",
			Help: "Events handled by the scoring pipeline, by outcome",
		},
		[]string{"outcome"},
	)

	DropsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ato_drops_total",
			Help: "Events dropped by the scoring pipeline, by reason",
		},
		[]string{"reason"},
	)

	AlertsPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ato_alerts_published_total",
			Help: "Fraud alerts published to the alert topic",
		},
	)

	DeadLettersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ato_dead_letters_total",
			Help: "Drop reports written to the dead-letter sink, by result",
		},
		[]string{"result"}, // "ok", "error"
	)

	ReconstructionError = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ato_reconstruction_error",
			Help:    "Last-timestep reconstruction error of scored events",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ato_stage_duration_seconds",
			Help:    "Duration of pipeline stages in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)
)

// RecordEvent counts one processed event.
func RecordEvent(outcome string) {
	EventsTotal.WithLabelValues(outcome).Inc()
}

// RecordDrop counts one dropped event under its reason.
func RecordDrop(reason string) {
	DropsTotal.WithLabelValues(reason).Inc()
	EventsTotal.WithLabelValues(OutcomeDropped).Inc()
}

func RecordAlert() {
	AlertsPublished.Inc()
}

func RecordDeadLetter(err error) {
	if err != nil {
		DeadLettersTotal.WithLabelValues("error").Inc()
		return
	}
	DeadLettersTotal.WithLabelValues("ok").Inc()
}

func RecordScore(reconstructionError float64) {
	ReconstructionError.Observe(reconstructionError)
}

// ObserveStage records the time elapsed since start for a stage.
func ObserveStage(stage string, start time.Time) {
	StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
