package store

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/PratikDhanave/ato-scoring-service/internal/models"
)

// Append writes one scored record. The table is created on first use;
// rows are never updated or deduplicated.
func (p *PostgresStore) Append(ctx context.Context, table string, row map[string]any) error {
	if err := p.EnsureSchema(ctx, table); err != nil {
		return err
	}

	record, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("encode row: %w", err)
	}

	ingestTS, err := time.Parse(time.RFC3339, fmt.Sprint(row["ingest_ts"]))
	if err != nil {
		ingestTS = time.Now().UTC()
	}

	var msgID *string
	if id := models.MessageIDFromContext(ctx); id != "" {
		msgID = &id
	}

	_, err = p.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s(id, message_id, user_id, is_fraud, reconstruction_error, ingest_ts, record)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, tableIdent(table)),
		uuid.New(), msgID, models.UserID(row["user_id"]), row["is_fraud"], row["reconstruction_error"], ingestTS, record,
	)
	if err != nil {
		return fmt.Errorf("insert into %s: %w", table, err)
	}
	return nil
}

// CountResults returns scored and fraud-flagged counts in [from,to).
// An empty userID counts all users.
func (p *PostgresStore) CountResults(ctx context.Context, table, userID string, from, to time.Time) (scored, fraud int64, err error) {
	err = p.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT COUNT(*), COUNT(*) FILTER (WHERE is_fraud = 1)
		FROM %s
		WHERE ingest_ts >= $1
		  AND ingest_ts <  $2
		  AND ($3::text = '' OR user_id = $3::text)
	`, tableIdent(table)), from, to, userID).Scan(&scored, &fraud)

	return scored, fraud, err
}
