package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	natsgo "github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PratikDhanave/ato-scoring-service/internal/logging"
	"github.com/PratikDhanave/ato-scoring-service/internal/models"
	"github.com/PratikDhanave/ato-scoring-service/internal/pipeline"
)

type seen struct {
	payload       string
	messageID     string
	correlationID string
}

type fakeProcessor struct {
	mu    sync.Mutex
	calls []seen
	err   error
	done  chan struct{}
}

func newFakeProcessor(err error) *fakeProcessor {
	return &fakeProcessor{err: err, done: make(chan struct{}, 16)}
}

func (f *fakeProcessor) Process(ctx context.Context, raw []byte) (pipeline.Outcome, error) {
	f.mu.Lock()
	f.calls = append(f.calls, seen{
		payload:       string(raw),
		messageID:     models.MessageIDFromContext(ctx),
		correlationID: logging.CorrelationIDFromContext(ctx),
	})
	f.mu.Unlock()
	f.done <- struct{}{}
	return pipeline.Outcome{}, f.err
}

func (f *fakeProcessor) snapshot() []seen {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]seen(nil), f.calls...)
}

func newGoChannel(t *testing.T) *gochannel.GoChannel {
	t.Helper()
	pubsub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { _ = pubsub.Close() })
	return pubsub
}

func receive(t *testing.T, ch <-chan *message.Message) *message.Message {
	t.Helper()
	select {
	case msg := <-ch:
		msg.Ack()
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestScoringHandler_PropagatesIDs(t *testing.T) {
	p := newFakeProcessor(nil)
	h := ScoringHandler(p)

	msg := message.NewMessage("msg-123", []byte(`{"user_id":"u1"}`))
	msg.Metadata.Set(MetadataCorrelationID, "abcd1234")
	require.NoError(t, h(msg))

	calls := p.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, "msg-123", calls[0].messageID)
	assert.Equal(t, "abcd1234", calls[0].correlationID)
	assert.Equal(t, `{"user_id":"u1"}`, calls[0].payload)

	require.NoError(t, h(message.NewMessage("msg-456", []byte(`{}`))))
	assert.Len(t, p.snapshot()[1].correlationID, 8)
}

func TestScoringHandler_ReturnsProcessorError(t *testing.T) {
	boom := errors.New("analytics down")
	h := ScoringHandler(newFakeProcessor(boom))
	assert.ErrorIs(t, h(message.NewMessage("m", nil)), boom)
}

func TestPublisher_SetsMetadata(t *testing.T) {
	pubsub := newGoChannel(t)

	out, err := pubsub.Subscribe(context.Background(), "ato.fraud")
	require.NoError(t, err)

	p := NewPublisher(pubsub, "alerts", DefaultBreakerConfig())
	ctx := models.ContextWithMessageID(context.Background(), "in-1")
	ctx = logging.ContextWithCorrelationID(ctx, "cid00001")
	require.NoError(t, p.Publish(ctx, "ato.fraud", []byte(`{"is_fraud":1}`)))

	msg := receive(t, out)
	assert.Equal(t, `{"is_fraud":1}`, string(msg.Payload))
	assert.Equal(t, "in-1", msg.Metadata.Get(MetadataMessageID))
	assert.Equal(t, "cid00001", msg.Metadata.Get(MetadataCorrelationID))
	assert.Equal(t, "alerts", msg.Metadata.Get(MetadataSource))
	assert.Equal(t, msg.UUID, msg.Metadata.Get(natsgo.MsgIdHdr))
	assert.Equal(t, "closed", p.BreakerState())
}

func TestPublisher_PublishWithID(t *testing.T) {
	pubsub := newGoChannel(t)

	out, err := pubsub.Subscribe(context.Background(), "ato.activity")
	require.NoError(t, err)

	p := NewPublisher(pubsub, "ingest", DefaultBreakerConfig())
	require.NoError(t, p.PublishWithID(context.Background(), "ato.activity", "idem-1", []byte(`{}`)))

	msg := receive(t, out)
	assert.Equal(t, "idem-1", msg.UUID)
	assert.Equal(t, "idem-1", msg.Metadata.Get(natsgo.MsgIdHdr))
}

func TestPublisher_Closed(t *testing.T) {
	p := NewPublisher(newGoChannel(t), "alerts", DefaultBreakerConfig())
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.ErrorIs(t, p.Publish(context.Background(), "t", nil), ErrPublisherClosed)
}

type failingPublisher struct{ calls int }

func (f *failingPublisher) Publish(string, ...*message.Message) error {
	f.calls++
	return errors.New("nats: no responders")
}

func (f *failingPublisher) Close() error { return nil }

func TestPublisher_BreakerOpens(t *testing.T) {
	inner := &failingPublisher{}
	p := NewPublisher(inner, "alerts", BreakerConfig{MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute, FailureThreshold: 2})

	for i := 0; i < 4; i++ {
		assert.Error(t, p.Publish(context.Background(), "ato.fraud", []byte(`{}`)))
	}
	assert.Equal(t, 2, inner.calls)
	assert.Equal(t, "open", p.BreakerState())
}

func TestDeadLetterPublisher(t *testing.T) {
	pubsub := newGoChannel(t)

	out, err := pubsub.Subscribe(context.Background(), "ato.dead_letter")
	require.NoError(t, err)

	dlq := NewDeadLetterPublisher(NewPublisher(pubsub, "dead-letter", DefaultBreakerConfig()), "ato.dead_letter")
	report := pipeline.DropReport{
		Reason:    pipeline.ReasonDecode,
		Error:     "DecodeError: invalid character",
		Payload:   "{not json",
		DroppedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	require.NoError(t, dlq.DeadLetter(context.Background(), report))

	var got pipeline.DropReport
	require.NoError(t, json.Unmarshal(receive(t, out).Payload, &got))
	assert.Equal(t, report, got)
}

func testRouterConfig() RouterConfig {
	return RouterConfig{
		CloseTimeout:         time.Second,
		RetryMaxRetries:      2,
		RetryInitialInterval: time.Millisecond,
		RetryMaxInterval:     5 * time.Millisecond,
		RetryMultiplier:      2,
		PoisonQueueTopic:     "ato.poison",
	}
}

func runRouter(t *testing.T, r *Router) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx) }()

	select {
	case <-r.Running():
	case <-time.After(5 * time.Second):
		t.Fatal("router did not start")
	}
	t.Cleanup(func() {
		cancel()
		_ = r.Close()
		<-errCh
	})
}

func TestRouter_DeliversToProcessor(t *testing.T) {
	pubsub := newGoChannel(t)

	r, err := NewRouter(testRouterConfig(), pubsub, watermill.NopLogger{})
	require.NoError(t, err)
	p := newFakeProcessor(nil)
	r.AddScoringHandler("ato.activity", pubsub, p)
	runRouter(t, r)
	assert.True(t, r.IsRunning())

	require.NoError(t, pubsub.Publish("ato.activity", message.NewMessage("m-1", []byte(`{"user_id":"u1"}`))))

	select {
	case <-p.done:
	case <-time.After(5 * time.Second):
		t.Fatal("processor not called")
	}
	assert.Equal(t, "m-1", p.snapshot()[0].messageID)
}

func TestRouter_SinkFailureGoesToPoisonQueue(t *testing.T) {
	pubsub := newGoChannel(t)

	poison, err := pubsub.Subscribe(context.Background(), "ato.poison")
	require.NoError(t, err)

	r, err := NewRouter(testRouterConfig(), pubsub, watermill.NopLogger{})
	require.NoError(t, err)
	p := newFakeProcessor(errors.New("analytics down"))
	r.AddScoringHandler("ato.activity", pubsub, p)
	runRouter(t, r)

	require.NoError(t, pubsub.Publish("ato.activity", message.NewMessage("m-2", []byte(`{"user_id":"u1"}`))))

	msg := receive(t, poison)
	assert.Equal(t, `{"user_id":"u1"}`, string(msg.Payload))
	assert.Contains(t, msg.Metadata.Get(middleware.ReasonForPoisonedKey), "analytics down")
	// First attempt plus two retries.
	assert.Len(t, p.snapshot(), 3)
}

func TestPoisonable(t *testing.T) {
	assert.True(t, poisonable(errors.New("analytics down")))
	assert.False(t, poisonable(context.Canceled))
	assert.False(t, poisonable(fmt.Errorf("fetch: %w", context.Canceled)))
}
