package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/PratikDhanave/ato-scoring-service/internal/models"
)

// FetchFootprint returns up to limit of the user's past feature rows, most
// recent first by (day_of_week, hour_of_day). Every value is coerced to
// float64; NULL reads as 0.
func (p *PostgresStore) FetchFootprint(ctx context.Context, userID string, columns []string, limit int) ([][]float64, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("no columns requested")
	}

	rows, err := p.pool.Query(ctx, footprintQuery(p.historyTable, columns), userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query footprint: %w", err)
	}
	defer rows.Close()

	var out [][]float64
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("scan footprint: %w", err)
		}
		row := make([]float64, len(values))
		for i, v := range values {
			row[i] = pgFloat(v)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read footprint: %w", err)
	}
	return out, nil
}

// footprintQuery parameterizes user_id and the limit; column and table names
// come from the scaler bundle and config, so they are quoted identifiers.
func footprintQuery(table string, columns []string) string {
	cols := make([]string, len(columns))
	for i, c := range columns {
		cols[i] = pgx.Identifier{c}.Sanitize()
	}
	return fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE user_id = $1
		ORDER BY day_of_week DESC, hour_of_day DESC
		LIMIT $2
	`, strings.Join(cols, ", "), tableIdent(table))
}

func pgFloat(v any) float64 {
	switch x := v.(type) {
	case pgtype.Numeric:
		f, err := x.Float64Value()
		if err != nil || !f.Valid {
			return 0
		}
		return f.Float64
	default:
		return models.ToFloat(v)
	}
}
