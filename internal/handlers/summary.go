package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/PratikDhanave/ato-scoring-service/internal/auth"
	"github.com/PratikDhanave/ato-scoring-service/internal/logging"
	"github.com/PratikDhanave/ato-scoring-service/internal/models"
)

// SummaryStore counts scored rows in the analytics table.
type SummaryStore interface {
	CountResults(ctx context.Context, table, userID string, from, to time.Time) (scored, fraud int64, err error)
}

// parseRFC3339 parses an RFC3339 timestamp and normalizes it to UTC.
func parseRFC3339(ts string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// RegisterSummaryRoutes registers the fraud summary endpoint.
//
// GET /results/summary?from=...&to=...[&user_id=...]
// - Requires X-API-Key
// - Counts scored and fraud-flagged records ingested in [from,to)
func RegisterSummaryRoutes(r gin.IRoutes, st SummaryStore, table string) {
	r.GET("/results/summary", func(c *gin.Context) {
		if auth.Client(c) == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		fromStr := c.Query("from")
		toStr := c.Query("to")
		userID := c.Query("user_id")

		if fromStr == "" || toStr == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "from, to are required"})
			return
		}

		from, err := parseRFC3339(fromStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "from must be RFC3339"})
			return
		}
		to, err := parseRFC3339(toStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "to must be RFC3339"})
			return
		}
		if !from.Before(to) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "from must be < to"})
			return
		}

		scored, fraud, err := st.CountResults(c.Request.Context(), table, userID, from, to)
		if err != nil {
			logging.Ctx(c.Request.Context()).Error().Err(err).Msg("summary query failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db query failed"})
			return
		}

		summary := models.ResultSummary{
			From:   from.Format(time.RFC3339),
			To:     to.Format(time.RFC3339),
			UserID: userID,
			Scored: scored,
			Fraud:  fraud,
		}
		if scored > 0 {
			summary.FraudRatio = float64(fraud) / float64(scored)
		}
		c.JSON(http.StatusOK, summary)
	})
}
