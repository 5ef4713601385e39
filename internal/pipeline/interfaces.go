package pipeline

import "context"

// HistoryStore reads a user's historical feature rows, most recent first.
type HistoryStore interface {
	FetchFootprint(ctx context.Context, userID string, columns []string, limit int) ([][]float64, error)
}

// InferenceClient returns the model's reconstruction of a batch of sequences.
type InferenceClient interface {
	Predict(ctx context.Context, instances [][][]float64) ([][][]float64, error)
}

// AnalyticsSink appends one scored row to a table.
type AnalyticsSink interface {
	Append(ctx context.Context, table string, row map[string]any) error
}

// AlertSink publishes an encoded fraud alert to a topic.
type AlertSink interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// DeadLetterSink receives a report for every dropped event.
type DeadLetterSink interface {
	DeadLetter(ctx context.Context, report DropReport) error
}

// Artifacts is the read-only view of the artifact cache used by the stages.
type Artifacts interface {
	Project(exclude []string) (columns []string, mins, maxs []float64)
	Threshold() float64
}
