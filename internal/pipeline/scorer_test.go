package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func builtSequence(rows ...[]float64) *BuiltSequence {
	return &BuiltSequence{
		UserID:    "u1",
		Sequence:  [][][]float64{rows},
		RawRecord: map[string]any{"user_id": "u1"},
	}
}

func TestScore_Threshold(t *testing.T) {
	tests := []struct {
		name      string
		err       float64
		threshold float64
		verdict   Verdict
		isFraud   int
	}{
		{"above threshold", 0.8, 0.5, Fraud, 1},
		{"below threshold", 0.3, 0.5, Routine, 0},
		{"zero error", 0, 0.5, Routine, 0},
		{"negative threshold flags any error", 0, -1, Fraud, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewModelScorer(&shiftModel{lastStepErr: tt.err}, amountOnlyCache(t, tt.threshold), DefaultConfig())

			rec, err := s.Score(context.Background(), builtSequence([]float64{0.2}, []float64{0.9}))
			require.NoError(t, err)
			assert.InDelta(t, tt.err, rec.ReconstructionError, 1e-12)
			assert.GreaterOrEqual(t, rec.ReconstructionError, 0.0)
			assert.Equal(t, tt.verdict, rec.Verdict)
			assert.Equal(t, tt.isFraud, rec.IsFraud)
			assert.Equal(t, "u1", rec.UserID)
		})
	}
}

func TestScore_ThresholdIsStrict(t *testing.T) {
	// An exact reconstruction scores 0, equal to the threshold.
	s := NewModelScorer(&shiftModel{}, amountOnlyCache(t, 0), DefaultConfig())

	rec, err := s.Score(context.Background(), builtSequence([]float64{0.5}))
	require.NoError(t, err)
	assert.Equal(t, Routine, rec.Verdict)
}

func TestLastStepMSE_IgnoresEarlierSteps(t *testing.T) {
	in := [][][]float64{{{0, 0}, {1, 0.5}}}
	recon := [][][]float64{{{1, 1}, {0.5, 0.5}}}
	model := inferenceFunc(func(context.Context, [][][]float64) ([][][]float64, error) { return recon, nil })
	s := NewModelScorer(model, amountOnlyCache(t, 0.5), DefaultConfig())

	rec, err := s.Score(context.Background(), &BuiltSequence{UserID: "u1", Sequence: in})
	require.NoError(t, err)
	assert.InDelta(t, 0.125, rec.ReconstructionError, 1e-12)
}

func TestScore_Drops(t *testing.T) {
	tests := []struct {
		name  string
		model InferenceClient
	}{
		{"inference error", &shiftModel{err: errBoom}},
		{"shape mismatch", &shiftModel{mangle: true}},
		{"empty response", inferenceFunc(func(context.Context, [][][]float64) ([][][]float64, error) { return nil, nil })},
		{"width mismatch", inferenceFunc(func(context.Context, [][][]float64) ([][][]float64, error) {
			return [][][]float64{{{0.1, 0.2}, {0.3, 0.4}}}, nil
		})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewModelScorer(tt.model, amountOnlyCache(t, 0.5), DefaultConfig())

			rec, err := s.Score(context.Background(), builtSequence([]float64{0.1}, []float64{0.2}))
			assert.Nil(t, rec)
			assert.ErrorIs(t, err, &DropError{Reason: ReasonInference})
		})
	}
}

func TestScore_InferenceTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InferenceTimeout = 20 * time.Millisecond
	model := inferenceFunc(func(ctx context.Context, _ [][][]float64) ([][][]float64, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	s := NewModelScorer(model, amountOnlyCache(t, 0.5), cfg)

	_, err := s.Score(context.Background(), builtSequence([]float64{0.1}))
	assert.ErrorIs(t, err, &DropError{Reason: ReasonInference})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestVerdictString(t *testing.T) {
	assert.Equal(t, "fraud", Fraud.String())
	assert.Equal(t, "routine", Routine.String())
}

type inferenceFunc func(context.Context, [][][]float64) ([][][]float64, error)

func (f inferenceFunc) Predict(ctx context.Context, in [][][]float64) ([][][]float64, error) {
	return f(ctx, in)
}
