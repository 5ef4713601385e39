package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/PratikDhanave/ato-scoring-service/internal/metrics"
)

// IngestTimeLayout is the UTC format of the ingest_ts column.
const IngestTimeLayout = "2006-01-02T15:04:05Z"

// OutputRouter writes every scored record to the analytics sink and fraud
// records to the alert sink as well.
type OutputRouter struct {
	analytics AnalyticsSink
	alerts    AlertSink
	table     string
	topic     string
	now       func() time.Time
}

func NewOutputRouter(analytics AnalyticsSink, alerts AlertSink, cfg Config) *OutputRouter {
	return &OutputRouter{
		analytics: analytics,
		alerts:    alerts,
		table:     cfg.ResultsTable,
		topic:     cfg.FraudTopic,
		now:       time.Now,
	}
}

// Format copies the raw record and attaches the score fields. ingest_ts is
// the wall clock at format time, not the event time.
func (r *OutputRouter) Format(rec *ScoredRecord) map[string]any {
	row := make(map[string]any, len(rec.RawRecord)+3)
	for k, v := range rec.RawRecord {
		row[k] = v
	}
	row["is_fraud"] = rec.IsFraud
	row["reconstruction_error"] = rec.ReconstructionError
	row["ingest_ts"] = r.now().UTC().Format(IngestTimeLayout)
	return row
}

// Route appends the row and, for fraud verdicts, publishes it. Errors are
// sink failures and leave the event eligible for redelivery.
func (r *OutputRouter) Route(ctx context.Context, rec *ScoredRecord) error {
	start := time.Now()
	defer metrics.ObserveStage(metrics.StageRoute, start)

	row := r.Format(rec)
	if err := r.analytics.Append(ctx, r.table, row); err != nil {
		return fmt.Errorf("append to %s: %w", r.table, err)
	}
	if rec.Verdict != Fraud {
		return nil
	}

	payload, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	if err := r.alerts.Publish(ctx, r.topic, payload); err != nil {
		return fmt.Errorf("publish alert to %s: %w", r.topic, err)
	}
	metrics.RecordAlert()
	return nil
}
