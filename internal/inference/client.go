// Package inference is the HTTP client for the sequence-reconstruction model
// server. The server speaks the TensorFlow Serving REST shape:
// {"instances": [...]} in, {"predictions": [...]} out.
package inference

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/PratikDhanave/ato-scoring-service/internal/config"
	"github.com/PratikDhanave/ato-scoring-service/internal/logging"
)

// ErrUnavailable wraps failures rejected by the open circuit breaker.
var ErrUnavailable = errors.New("inference service unavailable")

// Client calls the model server's predict endpoint.
type Client struct {
	url        string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[[][][]float64]
}

// PredictRequest is the body sent to the model server.
type PredictRequest struct {
	Instances [][][]float64 `json:"instances"`
}

// PredictResponse is the body returned by the model server.
type PredictResponse struct {
	Predictions [][][]float64 `json:"predictions"`
}

// NewClient creates a client for cfg.URL. The HTTP timeout is a backstop;
// callers are expected to bound each call with their own context deadline.
func NewClient(cfg config.InferenceConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	threshold := cfg.BreakerFailureThreshold
	if threshold == 0 {
		threshold = 5
	}

	settings := gobreaker.Settings{
		Name:        "inference",
		MaxRequests: cfg.BreakerMaxRequests,
		Interval:    cfg.BreakerInterval,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// A caller giving up is not a fault of the model server.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	}

	return &Client{
		url:        cfg.URL,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    gobreaker.NewCircuitBreaker[[][][]float64](settings),
	}
}

// Predict sends one batch of sequences and returns the reconstruction.
// Shape checking is left to the caller.
func (c *Client) Predict(ctx context.Context, instances [][][]float64) ([][][]float64, error) {
	out, err := c.breaker.Execute(func() ([][][]float64, error) {
		return c.predict(ctx, instances)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return out, err
}

// BreakerState reports the circuit breaker state for readiness output.
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

func (c *Client) predict(ctx context.Context, instances [][][]float64) ([][][]float64, error) {
	body, err := json.Marshal(PredictRequest{Instances: instances})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build predict request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("predict request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("predict failed with status %d: %s", resp.StatusCode, string(snippet))
	}

	var result PredictResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode predict response: %w", err)
	}
	return result.Predictions, nil
}
