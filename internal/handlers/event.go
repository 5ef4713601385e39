package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/PratikDhanave/ato-scoring-service/internal/auth"
	"github.com/PratikDhanave/ato-scoring-service/internal/logging"
	"github.com/PratikDhanave/ato-scoring-service/internal/models"
)

// EventPublisher puts an activity event on the input subject.
type EventPublisher interface {
	PublishWithID(ctx context.Context, topic, id string, payload []byte) error
}

// RegisterEventRoutes registers the ingest endpoint.
//
// POST /events
// - Requires X-API-Key
// - Body must be a JSON object with user_id; it is published unchanged
// - 202 once the broker has accepted the message; scoring is asynchronous
func RegisterEventRoutes(r gin.IRoutes, pub EventPublisher, topic string) {
	r.POST("/events", func(c *gin.Context) {
		client := auth.Client(c)
		if client == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		raw, err := c.GetRawData()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
			return
		}

		ev, err := models.DecodeEvent(raw)
		if errors.Is(err, models.ErrMissingUserID) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user_id required"})
			return
		}
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
			return
		}

		// Message id precedence:
		// 1) Idempotency-Key header, deduplicated by JetStream within its window
		// 2) event_id in payload
		// 3) generated UUID
		messageID := c.GetHeader("Idempotency-Key")
		if messageID == "" {
			messageID, _ = ev.Fields["event_id"].(string)
		}
		if messageID == "" {
			messageID = uuid.New().String()
		}

		ctx := c.Request.Context()
		if err := pub.PublishWithID(ctx, topic, messageID, raw); err != nil {
			logging.Ctx(ctx).Error().Err(err).
				Str("client", client).
				Str("message_id", messageID).
				Msg("publish event failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "publish failed"})
			return
		}

		c.JSON(http.StatusAccepted, models.EventIngestResponse{
			MessageID: messageID,
			Topic:     topic,
		})
	})
}
