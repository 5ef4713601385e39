package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/PratikDhanave/ato-scoring-service/internal/metrics"
	"github.com/PratikDhanave/ato-scoring-service/internal/models"
)

// BuiltSequence is the model input for one event.
type BuiltSequence struct {
	UserID string
	// Sequence has shape [1][length][width], oldest row first, the new event
	// last.
	Sequence  [][][]float64
	RawRecord map[string]any
}

// Rows returns the single sequence of the batch.
func (b *BuiltSequence) Rows() [][]float64 {
	if len(b.Sequence) == 0 {
		return nil
	}
	return b.Sequence[0]
}

// SequenceBuilder turns a raw event into a normalized sequence using the
// user's stored footprint.
type SequenceBuilder struct {
	store   HistoryStore
	columns []string
	mins    []float64
	maxs    []float64
	cfg     Config
}

// NewSequenceBuilder projects the scaler onto the model columns once.
func NewSequenceBuilder(store HistoryStore, art Artifacts, cfg Config) (*SequenceBuilder, error) {
	if cfg.MinHistory < 1 || cfg.MaxSequenceLength <= cfg.MinHistory {
		return nil, fmt.Errorf("invalid sequence bounds: min_history=%d max_sequence_length=%d",
			cfg.MinHistory, cfg.MaxSequenceLength)
	}
	columns, mins, maxs := art.Project(cfg.ExcludedColumns)
	if len(columns) == 0 {
		return nil, errors.New("no model columns left after exclusions")
	}
	return &SequenceBuilder{store: store, columns: columns, mins: mins, maxs: maxs, cfg: cfg}, nil
}

// Build decodes raw and hydrates it into a sequence. Every error is a
// *DropError.
func (b *SequenceBuilder) Build(ctx context.Context, raw []byte) (*BuiltSequence, error) {
	ev, err := models.DecodeEvent(raw)
	switch {
	case errors.Is(err, models.ErrMissingUserID):
		return nil, drop(ReasonMissingKey, "", err)
	case err != nil:
		return nil, drop(ReasonDecode, "", err)
	}

	history, err := b.fetch(ctx, ev.UserID)
	if err != nil {
		return nil, drop(ReasonStoreFetch, ev.UserID, err)
	}

	start := time.Now()
	newRow := make([]float64, len(b.columns))
	for i, c := range b.columns {
		newRow[i] = ev.Float(c)
	}
	rows := b.assemble(history, newRow)
	b.normalize(rows)
	metrics.ObserveStage(metrics.StageBuild, start)

	return &BuiltSequence{
		UserID:    ev.UserID,
		Sequence:  [][][]float64{rows},
		RawRecord: ev.Fields,
	}, nil
}

// fetch returns the stored footprint in chronological order.
func (b *SequenceBuilder) fetch(ctx context.Context, userID string) ([][]float64, error) {
	if b.cfg.StoreTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.StoreTimeout)
		defer cancel()
	}

	start := time.Now()
	rows, err := b.store.FetchFootprint(ctx, userID, b.columns, b.cfg.MaxSequenceLength-1)
	metrics.ObserveStage(metrics.StageFetch, start)
	if err != nil {
		return nil, err
	}
	if len(rows) > b.cfg.MaxSequenceLength-1 {
		rows = rows[:b.cfg.MaxSequenceLength-1]
	}

	out := make([][]float64, len(rows))
	for i, row := range rows {
		if len(row) != len(b.columns) {
			return nil, fmt.Errorf("footprint row has %d values, want %d", len(row), len(b.columns))
		}
		out[len(rows)-1-i] = row
	}
	return out, nil
}

// assemble pads short histories at the front with the earliest row (zeros
// when there is none), keeps the newest MaxSequenceLength-1 rows and
// appends newRow. The result is a fresh matrix; history rows are copied.
func (b *SequenceBuilder) assemble(history [][]float64, newRow []float64) [][]float64 {
	width := len(newRow)
	keep := b.cfg.MaxSequenceLength - 1

	var padded [][]float64
	if h := len(history); h < b.cfg.MinHistory {
		filler := make([]float64, width)
		if h > 0 {
			filler = history[0]
		}
		for i := 0; i < b.cfg.MinHistory-h; i++ {
			padded = append(padded, filler)
		}
	}
	padded = append(padded, history...)
	if len(padded) > keep {
		padded = padded[len(padded)-keep:]
	}

	out := make([][]float64, 0, len(padded)+1)
	for _, row := range padded {
		out = append(out, append([]float64(nil), row...))
	}
	return append(out, append([]float64(nil), newRow...))
}

// normalize scales each value into [0,1] in place. A feature whose min and
// max coincide scales to 0.
func (b *SequenceBuilder) normalize(rows [][]float64) {
	for _, row := range rows {
		for j, x := range row {
			span := b.maxs[j] - b.mins[j]
			if span <= 0 {
				row[j] = 0
				continue
			}
			v := (x - b.mins[j]) / span
			switch {
			case v < 0 || math.IsNaN(v):
				v = 0
			case v > 1:
				v = 1
			}
			row[j] = v
		}
	}
}
