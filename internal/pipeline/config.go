package pipeline

import (
	"time"

	"github.com/PratikDhanave/ato-scoring-service/internal/config"
)

// Config is the per-worker configuration handed to each stage at
// construction.
type Config struct {
	MinHistory        int
	MaxSequenceLength int
	StoreTimeout      time.Duration
	InferenceTimeout  time.Duration

	// ExcludedColumns are label/id columns of feature_order that are neither
	// fetched nor fed to the model.
	ExcludedColumns []string

	ResultsTable string
	FraudTopic   string
}

// DefaultConfig mirrors the service defaults.
func DefaultConfig() Config {
	return ConfigFrom(config.Default())
}

// ConfigFrom extracts the pipeline settings from the service configuration.
func ConfigFrom(cfg config.Config) Config {
	return Config{
		MinHistory:        cfg.Pipeline.MinHistory,
		MaxSequenceLength: cfg.Pipeline.MaxSequenceLength,
		StoreTimeout:      cfg.Pipeline.StoreTimeout,
		InferenceTimeout:  cfg.Pipeline.InferenceTimeout,
		ExcludedColumns:   append([]string(nil), cfg.Pipeline.ExcludedColumns...),
		ResultsTable:      cfg.Database.ResultsTable,
		FraudTopic:        cfg.Stream.FraudTopic,
	}
}
