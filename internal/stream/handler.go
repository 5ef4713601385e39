package stream

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/PratikDhanave/ato-scoring-service/internal/logging"
	"github.com/PratikDhanave/ato-scoring-service/internal/models"
	"github.com/PratikDhanave/ato-scoring-service/internal/pipeline"
)

// Processor is implemented by *pipeline.Pipeline.
type Processor interface {
	Process(ctx context.Context, raw []byte) (pipeline.Outcome, error)
}

// ScoringHandler adapts a Processor to a Watermill consumer handler. The
// message UUID travels with the context as the event's message id, and the
// correlation id is reused from metadata when the producer set one.
// Returning nil acks the message; dropped events are acked too.
func ScoringHandler(p Processor) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		ctx := msg.Context()
		if cid := msg.Metadata.Get(MetadataCorrelationID); cid != "" {
			ctx = logging.ContextWithCorrelationID(ctx, cid)
		} else {
			ctx = logging.ContextWithNewCorrelationID(ctx)
		}
		ctx = models.ContextWithMessageID(ctx, msg.UUID)

		_, err := p.Process(ctx, msg.Payload)
		if err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("message_id", msg.UUID).Msg("scoring failed, message will be retried")
		}
		return err
	}
}
