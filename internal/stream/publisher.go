package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	natsgo "github.com/nats-io/nats.go"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/PratikDhanave/ato-scoring-service/internal/logging"
	"github.com/PratikDhanave/ato-scoring-service/internal/models"
	"github.com/PratikDhanave/ato-scoring-service/internal/pipeline"
)

// Metadata keys set on every outbound message.
const (
	MetadataMessageID     = "message_id"
	MetadataCorrelationID = "correlation_id"
	MetadataSource        = "source"
)

var ErrPublisherClosed = errors.New("publisher is closed")

// Publisher publishes raw payloads through a Watermill publisher behind a
// circuit breaker. It is the alert sink of the pipeline and the transport of
// the ingest endpoint.
type Publisher struct {
	publisher message.Publisher
	breaker   *gobreaker.CircuitBreaker[struct{}]
	source    string

	mu     sync.RWMutex
	closed bool
}

// BreakerConfig controls when publishing stops hitting a failing broker.
type BreakerConfig struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{MaxRequests: 1, Interval: time.Minute, Timeout: 10 * time.Second, FailureThreshold: 5}
}

func NewPublisher(pub message.Publisher, source string, cfg BreakerConfig) *Publisher {
	return &Publisher{
		publisher: pub,
		source:    source,
		breaker: gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
			Name:        "publisher-" + source,
			MaxRequests: cfg.MaxRequests,
			Interval:    cfg.Interval,
			Timeout:     cfg.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.FailureThreshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logging.Warn().
					Str("breaker", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("circuit breaker state changed")
			},
		}),
	}
}

// Publish sends payload to topic under a fresh message UUID.
func (p *Publisher) Publish(ctx context.Context, topic string, payload []byte) error {
	return p.PublishWithID(ctx, topic, uuid.NewString(), payload)
}

// PublishWithID sends payload using id as both the Watermill UUID and the
// JetStream Nats-Msg-Id, so the broker drops resends of the same id inside
// its duplicate window.
func (p *Publisher) PublishWithID(ctx context.Context, topic, id string, payload []byte) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPublisherClosed
	}

	msg := message.NewMessage(id, payload)
	msg.Metadata.Set(natsgo.MsgIdHdr, id)
	msg.Metadata.Set(MetadataSource, p.source)
	if mid := models.MessageIDFromContext(ctx); mid != "" {
		msg.Metadata.Set(MetadataMessageID, mid)
	}
	if cid := logging.CorrelationIDFromContext(ctx); cid != "" {
		msg.Metadata.Set(MetadataCorrelationID, cid)
	}
	msg.SetContext(ctx)

	_, err := p.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, p.publisher.Publish(topic, msg)
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// BreakerState reports the breaker state for readiness output.
func (p *Publisher) BreakerState() string {
	return p.breaker.State().String()
}

// Close closes the underlying publisher once.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.publisher.Close()
}

// DeadLetterPublisher writes drop reports as JSON to a fixed topic.
type DeadLetterPublisher struct {
	publisher *Publisher
	topic     string
}

func NewDeadLetterPublisher(p *Publisher, topic string) *DeadLetterPublisher {
	return &DeadLetterPublisher{publisher: p, topic: topic}
}

func (d *DeadLetterPublisher) DeadLetter(ctx context.Context, report pipeline.DropReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode drop report: %w", err)
	}
	return d.publisher.Publish(ctx, d.topic, payload)
}
