package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/PratikDhanave/ato-scoring-service/internal/metrics"
)

// Verdict tags a scored record for the output router.
type Verdict int

const (
	Routine Verdict = iota
	Fraud
)

func (v Verdict) String() string {
	if v == Fraud {
		return "fraud"
	}
	return "routine"
}

// ScoredRecord is the per-event result handed to the OutputRouter.
type ScoredRecord struct {
	UserID              string
	RawRecord           map[string]any
	ReconstructionError float64
	IsFraud             int
	Verdict             Verdict
}

// ModelScorer asks the model to reconstruct a sequence and classifies the
// event by the reconstruction error of its last timestep.
type ModelScorer struct {
	client    InferenceClient
	threshold float64
	timeout   time.Duration
}

func NewModelScorer(client InferenceClient, art Artifacts, cfg Config) *ModelScorer {
	return &ModelScorer{client: client, threshold: art.Threshold(), timeout: cfg.InferenceTimeout}
}

// Score returns a *DropError with ReasonInference when the call fails or the
// reconstruction is unusable.
func (s *ModelScorer) Score(ctx context.Context, seq *BuiltSequence) (*ScoredRecord, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	recon, err := s.client.Predict(ctx, seq.Sequence)
	metrics.ObserveStage(metrics.StageInfer, start)
	if err != nil {
		return nil, drop(ReasonInference, seq.UserID, err)
	}
	if err := checkShape(seq.Sequence, recon); err != nil {
		return nil, drop(ReasonInference, seq.UserID, err)
	}

	rows, out := seq.Rows(), recon[0]
	mse := lastStepMSE(rows[len(rows)-1], out[len(out)-1])
	if math.IsNaN(mse) || math.IsInf(mse, 0) {
		return nil, drop(ReasonInference, seq.UserID, errors.New("reconstruction error is not finite"))
	}
	metrics.RecordScore(mse)

	rec := &ScoredRecord{
		UserID:              seq.UserID,
		RawRecord:           seq.RawRecord,
		ReconstructionError: mse,
	}
	if mse > s.threshold {
		rec.IsFraud = 1
		rec.Verdict = Fraud
	}
	return rec, nil
}

func checkShape(in, out [][][]float64) error {
	if len(out) != len(in) {
		return fmt.Errorf("%w: batch %d, want %d", ErrShapeMismatch, len(out), len(in))
	}
	for b := range in {
		if len(out[b]) != len(in[b]) {
			return fmt.Errorf("%w: length %d, want %d", ErrShapeMismatch, len(out[b]), len(in[b]))
		}
		for t := range in[b] {
			if len(out[b][t]) != len(in[b][t]) {
				return fmt.Errorf("%w: width %d at step %d, want %d",
					ErrShapeMismatch, len(out[b][t]), t, len(in[b][t]))
			}
		}
	}
	if len(in) == 0 || len(in[0]) == 0 {
		return fmt.Errorf("%w: empty sequence", ErrShapeMismatch)
	}
	return nil
}

func lastStepMSE(original, reconstructed []float64) float64 {
	if len(original) == 0 {
		return 0
	}
	var sum float64
	for i := range original {
		d := original[i] - reconstructed[i]
		sum += d * d
	}
	return sum / float64(len(original))
}
