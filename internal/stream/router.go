package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	"github.com/PratikDhanave/ato-scoring-service/internal/config"
)

// HandlerName is the name of the scoring handler in router logs.
const HandlerName = "ato-scoring"

// RouterConfig holds the Watermill router settings.
type RouterConfig struct {
	CloseTimeout time.Duration

	RetryMaxRetries      int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	RetryMultiplier      float64

	// ThrottlePerSecond caps handled messages per second; 0 disables it.
	ThrottlePerSecond int64

	PoisonQueueTopic string
}

// RouterConfigFrom maps the stream section onto router settings.
func RouterConfigFrom(cfg config.StreamConfig) RouterConfig {
	return RouterConfig{
		CloseTimeout:         cfg.CloseTimeout,
		RetryMaxRetries:      cfg.RetryMax,
		RetryInitialInterval: cfg.RetryInterval,
		RetryMaxInterval:     cfg.RetryMaxInterval,
		RetryMultiplier:      2.0,
		ThrottlePerSecond:    cfg.ThrottlePerSec,
		PoisonQueueTopic:     cfg.PoisonTopic,
	}
}

// Router wraps the Watermill router with the scoring middleware stack:
// throttle, poison queue, retry with backoff, panic recovery (outer to
// inner). A handler error is retried; once retries run out the message is
// published to the poison topic and acked. Cancellation errors skip the
// poison queue and are nacked for redelivery.
type Router struct {
	router *message.Router
	logger watermill.LoggerAdapter
}

func NewRouter(cfg RouterConfig, poisonPublisher message.Publisher, logger watermill.LoggerAdapter) (*Router, error) {
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	wmRouter, err := message.NewRouter(message.RouterConfig{CloseTimeout: cfg.CloseTimeout}, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill router: %w", err)
	}

	if cfg.ThrottlePerSecond > 0 {
		throttle := middleware.NewThrottle(cfg.ThrottlePerSecond, time.Second)
		wmRouter.AddMiddleware(throttle.Middleware)
	}

	if poisonPublisher != nil && cfg.PoisonQueueTopic != "" {
		poisonQueue, err := middleware.PoisonQueueWithFilter(poisonPublisher, cfg.PoisonQueueTopic, poisonable)
		if err != nil {
			return nil, fmt.Errorf("create poison queue middleware: %w", err)
		}
		wmRouter.AddMiddleware(poisonQueue)
	}

	retry := middleware.Retry{
		MaxRetries:      cfg.RetryMaxRetries,
		InitialInterval: cfg.RetryInitialInterval,
		MaxInterval:     cfg.RetryMaxInterval,
		Multiplier:      cfg.RetryMultiplier,
		Logger:          logger,
	}
	wmRouter.AddMiddleware(retry.Middleware, middleware.Recoverer)

	return &Router{router: wmRouter, logger: logger}, nil
}

// AddScoringHandler consumes topic and feeds each message to the processor.
func (r *Router) AddScoringHandler(topic string, sub message.Subscriber, p Processor) {
	r.router.AddConsumerHandler(HandlerName, topic, sub, ScoringHandler(p))
}

// Run blocks until ctx is cancelled or Close is called.
func (r *Router) Run(ctx context.Context) error {
	return r.router.Run(ctx)
}

// Running is closed once all handlers are subscribed.
func (r *Router) Running() chan struct{} {
	return r.router.Running()
}

func (r *Router) IsRunning() bool {
	return r.router.IsRunning()
}

// Close stops the router, waiting up to CloseTimeout for in-flight messages.
func (r *Router) Close() error {
	return r.router.Close()
}

// poisonable reports whether a handler error belongs on the poison topic.
func poisonable(err error) bool {
	return !errors.Is(err, context.Canceled)
}
