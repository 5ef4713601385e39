// Package pipeline scores account-activity events for takeover fraud.
//
// An event flows through three stages that share one artifact cache:
//
//	SequenceBuilder -> ModelScorer -> OutputRouter
//
// Stage failures are *DropError values. Process logs each drop once,
// counts it and hands a DropReport to the dead-letter sink; the event is
// then considered handled. Sink failures in the OutputRouter, and store or
// inference failures seen after the caller's context ended, are returned
// to the caller so the transport can redeliver the event.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/PratikDhanave/ato-scoring-service/internal/logging"
	"github.com/PratikDhanave/ato-scoring-service/internal/metrics"
	"github.com/PratikDhanave/ato-scoring-service/internal/models"
)

// Outcome summarizes how one event was handled.
type Outcome struct {
	Dropped             bool
	Reason              Reason
	Verdict             Verdict
	ReconstructionError float64
}

// Pipeline runs the three stages for one event at a time. It is safe for
// concurrent use; all stage state is read-only after construction.
type Pipeline struct {
	builder     *SequenceBuilder
	scorer      *ModelScorer
	router      *OutputRouter
	deadLetters DeadLetterSink
	now         func() time.Time
}

// Deps are the capabilities a worker injects into its pipeline.
type Deps struct {
	History     HistoryStore
	Inference   InferenceClient
	Analytics   AnalyticsSink
	Alerts      AlertSink
	DeadLetters DeadLetterSink
	Artifacts   Artifacts
}

// New builds all stages around one shared artifact cache.
func New(deps Deps, cfg Config) (*Pipeline, error) {
	builder, err := NewSequenceBuilder(deps.History, deps.Artifacts, cfg)
	if err != nil {
		return nil, err
	}
	dlq := deps.DeadLetters
	if dlq == nil {
		dlq = DiscardDeadLetters{}
	}
	return &Pipeline{
		builder:     builder,
		scorer:      NewModelScorer(deps.Inference, deps.Artifacts, cfg),
		router:      NewOutputRouter(deps.Analytics, deps.Alerts, cfg),
		deadLetters: dlq,
		now:         time.Now,
	}, nil
}

// Process scores one raw event. A dropped event returns a nil error; a
// non-nil error means a sink failed or ctx ended mid-flight, and the event
// should be retried.
func (p *Pipeline) Process(ctx context.Context, raw []byte) (Outcome, error) {
	start := time.Now()
	defer metrics.ObserveStage(metrics.StageProcess, start)

	seq, err := p.builder.Build(ctx, raw)
	if err != nil {
		return p.dropped(ctx, raw, err)
	}
	rec, err := p.scorer.Score(ctx, seq)
	if err != nil {
		return p.dropped(ctx, raw, err)
	}
	if err := p.router.Route(ctx, rec); err != nil {
		metrics.RecordEvent(metrics.OutcomeFailed)
		return Outcome{}, err
	}

	outcome := metrics.OutcomeRoutine
	if rec.Verdict == Fraud {
		outcome = metrics.OutcomeFraud
		logging.Ctx(ctx).Info().
			Str("user_id", rec.UserID).
			Float64("reconstruction_error", rec.ReconstructionError).
			Msg("fraud alert published")
	}
	metrics.RecordEvent(outcome)
	return Outcome{Verdict: rec.Verdict, ReconstructionError: rec.ReconstructionError}, nil
}

func (p *Pipeline) dropped(ctx context.Context, raw []byte, err error) (Outcome, error) {
	var de *DropError
	if !errors.As(err, &de) {
		return Outcome{}, err
	}
	if cerr := ctx.Err(); cerr != nil && (de.Reason == ReasonStoreFetch || de.Reason == ReasonInference) {
		// The worker is shutting down; the event goes back for redelivery.
		logging.Ctx(ctx).Warn().
			Err(de.Err).
			Str("reason", string(de.Reason)).
			Str("user_id", de.UserID).
			Msg("event interrupted")
		metrics.RecordEvent(metrics.OutcomeFailed)
		return Outcome{}, cerr
	}

	logging.Ctx(ctx).Error().
		Err(de.Err).
		Str("reason", string(de.Reason)).
		Str("user_id", de.UserID).
		Msg("event dropped")
	metrics.RecordDrop(string(de.Reason))

	report := newDropReport(de, models.MessageIDFromContext(ctx), raw, p.now())
	dlqErr := p.deadLetters.DeadLetter(ctx, report)
	metrics.RecordDeadLetter(dlqErr)
	if dlqErr != nil {
		logging.Ctx(ctx).Warn().Err(dlqErr).Str("reason", string(de.Reason)).Msg("dead-letter write failed")
	}
	return Outcome{Dropped: true, Reason: de.Reason}, nil
}
