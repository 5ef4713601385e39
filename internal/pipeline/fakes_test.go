package pipeline

import (
	"bytes"
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/PratikDhanave/ato-scoring-service/internal/artifacts"
	"github.com/PratikDhanave/ato-scoring-service/internal/logging"
)

// fakeHistory returns canned rows per user, most recent first.
type fakeHistory struct {
	mu        sync.Mutex
	rows      map[string][][]float64
	err       error
	block     bool
	calls     int
	lastLimit int
	lastCols  []string
}

func (f *fakeHistory) FetchFootprint(ctx context.Context, userID string, columns []string, limit int) ([][]float64, error) {
	f.mu.Lock()
	f.calls++
	f.lastLimit = limit
	f.lastCols = columns
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.rows[userID], nil
}

// shiftModel reconstructs the input exactly except the last timestep, which
// is offset so its mean squared error equals lastStepErr.
type shiftModel struct {
	lastStepErr float64
	err         error
	mangle      bool
	calls       int
}

func (m *shiftModel) Predict(_ context.Context, in [][][]float64) ([][][]float64, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	out := make([][][]float64, len(in))
	for b := range in {
		out[b] = make([][]float64, len(in[b]))
		for t, row := range in[b] {
			out[b][t] = append([]float64(nil), row...)
		}
		last := out[b][len(out[b])-1]
		for i := range last {
			last[i] -= math.Sqrt(m.lastStepErr)
		}
	}
	if m.mangle {
		out[0] = out[0][1:]
	}
	return out, nil
}

type appendCall struct {
	table string
	row   map[string]any
}

type memAnalytics struct {
	mu   sync.Mutex
	rows []appendCall
	err  error
}

func (m *memAnalytics) Append(_ context.Context, table string, row map[string]any) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, appendCall{table: table, row: row})
	return nil
}

type publishCall struct {
	topic   string
	payload []byte
}

type memAlerts struct {
	mu       sync.Mutex
	messages []publishCall
	err      error
}

func (m *memAlerts) Publish(_ context.Context, topic string, payload []byte) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, publishCall{topic: topic, payload: payload})
	return nil
}

type memDeadLetters struct {
	reports []DropReport
	err     error
}

func (m *memDeadLetters) DeadLetter(_ context.Context, r DropReport) error {
	m.reports = append(m.reports, r)
	return m.err
}

func testCache(t *testing.T, threshold float64) *artifacts.Cache {
	t.Helper()
	c, err := artifacts.New(artifacts.ScalerParams{
		FeatureOrder: []string{"amount", "user_id", "login_attempts", "is_fraud"},
		DataMin:      []float64{0, 0, 1, 0},
		DataMax:      []float64{100, 0, 11, 1},
	}, threshold)
	require.NoError(t, err)
	return c
}

func amountOnlyCache(t *testing.T, threshold float64) *artifacts.Cache {
	t.Helper()
	c, err := artifacts.New(artifacts.ScalerParams{
		FeatureOrder: []string{"amount"},
		DataMin:      []float64{0},
		DataMax:      []float64{100},
	}, threshold)
	require.NoError(t, err)
	return c
}

// captureLogs swaps the global logger for one writing into a buffer.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := logging.Logger()
	logging.SetLogger(zerolog.New(&buf))
	t.Cleanup(func() { logging.SetLogger(prev) })
	return &buf
}

func countLines(buf *bytes.Buffer, substr string) int {
	n := 0
	for _, line := range strings.Split(buf.String(), "\n") {
		if strings.Contains(line, substr) {
			n++
		}
	}
	return n
}

var errBoom = errors.New("boom")
