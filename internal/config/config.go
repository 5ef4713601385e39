package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// Config contains runtime configuration required by the scoring worker.
type Config struct {
	Logging   LoggingConfig   `koanf:"logging"`
	Database  DatabaseConfig  `koanf:"database"`
	Artifacts ArtifactsConfig `koanf:"artifacts"`
	Inference InferenceConfig `koanf:"inference"`
	Pipeline  PipelineConfig  `koanf:"pipeline"`
	Stream    StreamConfig    `koanf:"stream"`
	Server    ServerConfig    `koanf:"server"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// DatabaseConfig points at the Postgres instance holding both the historical
// footprint table (read-only) and the scored results table (append-only).
type DatabaseConfig struct {
	URL          string `koanf:"url"`
	HistoryTable string `koanf:"history_table"`
	ResultsTable string `koanf:"results_table"`
}

// ArtifactsConfig selects where the scaler bundle and threshold document live.
// Backend is one of "file", "s3" or "redis".
type ArtifactsConfig struct {
	Backend       string        `koanf:"backend"`
	Dir           string        `koanf:"dir"`
	Bucket        string        `koanf:"bucket"`
	Region        string        `koanf:"region"`
	RedisAddr     string        `koanf:"redis_addr"`
	RedisPrefix   string        `koanf:"redis_prefix"`
	ScalerPath    string        `koanf:"scaler_path"`
	ThresholdPath string        `koanf:"threshold_path"`
	LoadTimeout   time.Duration `koanf:"load_timeout"`
}

type InferenceConfig struct {
	URL     string        `koanf:"url"`
	Timeout time.Duration `koanf:"timeout"`

	// Circuit breaker around the predict call.
	BreakerMaxRequests      uint32        `koanf:"breaker_max_requests"`
	BreakerInterval         time.Duration `koanf:"breaker_interval"`
	BreakerTimeout          time.Duration `koanf:"breaker_timeout"`
	BreakerFailureThreshold uint32        `koanf:"breaker_failure_threshold"`
}

type PipelineConfig struct {
	MinHistory        int           `koanf:"min_history"`
	MaxSequenceLength int           `koanf:"max_sequence_length"`
	StoreTimeout      time.Duration `koanf:"store_timeout"`
	InferenceTimeout  time.Duration `koanf:"inference_timeout"`
	ExcludedColumns   []string      `koanf:"excluded_columns"`
}

// StreamConfig describes the NATS JetStream side: the inbound activity
// subject, the alert subject and the two failure subjects.
type StreamConfig struct {
	NATSURL          string        `koanf:"nats_url"`
	InputTopic       string        `koanf:"input_topic"`
	FraudTopic       string        `koanf:"fraud_topic"`
	DeadLetterTopic  string        `koanf:"dead_letter_topic"`
	PoisonTopic      string        `koanf:"poison_topic"`
	QueueGroup       string        `koanf:"queue_group"`
	DurableName      string        `koanf:"durable_name"`
	Subscribers      int           `koanf:"subscribers"`
	AckWait          time.Duration `koanf:"ack_wait"`
	MaxDeliver       int           `koanf:"max_deliver"`
	MaxAckPending    int           `koanf:"max_ack_pending"`
	ThrottlePerSec   int64         `koanf:"throttle_per_second"`
	RetryMax         int           `koanf:"retry_max"`
	RetryInterval    time.Duration `koanf:"retry_interval"`
	RetryMaxInterval time.Duration `koanf:"retry_max_interval"`
	CloseTimeout     time.Duration `koanf:"close_timeout"`
}

type ServerConfig struct {
	Addr string `koanf:"addr"`

	// APIKeysRaw format: "client1:key1,client2:key2"
	APIKeysRaw string            `koanf:"api_keys"`
	APIKeys    map[string]string `koanf:"-"` // apiKey -> client name
}

// ConfigPathEnvVar overrides the YAML config file location.
const ConfigPathEnvVar = "CONFIG_PATH"

// EnvPrefix marks variables that map onto config keys:
// ATO_STREAM__FRAUD_TOPIC -> stream.fraud_topic.
const EnvPrefix = "ATO_"

var defaultConfigPaths = []string{"config.yaml", "config.yml", "/etc/ato-scorer/config.yaml"}

// legacyEnv keeps the short variable names used by the compose files working.
var legacyEnv = map[string]string{
	"DB_URL":        "database.url",
	"API_KEYS":      "server.api_keys",
	"NATS_URL":      "stream.nats_url",
	"INFERENCE_URL": "inference.url",
	"LOG_LEVEL":     "logging.level",
	"LOG_FORMAT":    "logging.format",
}

var sliceKeys = []string{"pipeline.excluded_columns"}

// Default returns the built-in configuration before file and env overrides.
func Default() Config {
	return Config{
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Database: DatabaseConfig{
			HistoryTable: "customer_footprint_v1",
			ResultsTable: "fraud_detection_results",
		},
		Artifacts: ArtifactsConfig{
			Backend:       "file",
			Dir:           "./artifacts",
			RedisPrefix:   "ato:",
			ScalerPath:    "artifacts/scaler_params.json",
			ThresholdPath: "artifacts/threshold.json",
			LoadTimeout:   30 * time.Second,
		},
		Inference: InferenceConfig{
			Timeout:                 10 * time.Second,
			BreakerMaxRequests:      3,
			BreakerInterval:         30 * time.Second,
			BreakerTimeout:          10 * time.Second,
			BreakerFailureThreshold: 5,
		},
		Pipeline: PipelineConfig{
			MinHistory:        5,
			MaxSequenceLength: 128,
			StoreTimeout:      5 * time.Second,
			InferenceTimeout:  10 * time.Second,
			ExcludedColumns:   []string{"is_fraud", "session_id", "user_id"},
		},
		Stream: StreamConfig{
			NATSURL:          "nats://127.0.0.1:4222",
			InputTopic:       "ato.activity",
			FraudTopic:       "ato.fraud",
			DeadLetterTopic:  "ato.dead_letter",
			PoisonTopic:      "ato.poison",
			QueueGroup:       "ato-scorers",
			DurableName:      "ato-scorer",
			Subscribers:      4,
			AckWait:          30 * time.Second,
			MaxDeliver:       5,
			MaxAckPending:    1000,
			RetryMax:         3,
			RetryInterval:    200 * time.Millisecond,
			RetryMaxInterval: 5 * time.Second,
			CloseTimeout:     30 * time.Second,
		},
		Server: ServerConfig{Addr: ":8080"},
	}
}

// Load layers defaults, an optional YAML file and the environment, then
// validates the result.
func Load() (Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", legacyTransform), nil); err != nil {
		return Config{}, fmt.Errorf("load legacy env: %w", err)
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envTransform), nil); err != nil {
		return Config{}, fmt.Errorf("load env: %w", err)
	}

	if err := splitSliceKeys(k); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	keys, err := ParseAPIKeys(cfg.Server.APIKeysRaw)
	if err != nil {
		return Config{}, err
	}
	cfg.Server.APIKeys = keys

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the values without which a worker cannot start.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Database.URL) == "" {
		errs = append(errs, errors.New("database.url (DB_URL) required"))
	}
	if strings.TrimSpace(c.Inference.URL) == "" {
		errs = append(errs, errors.New("inference.url (INFERENCE_URL) required"))
	}
	switch c.Artifacts.Backend {
	case "file":
		if c.Artifacts.Dir == "" {
			errs = append(errs, errors.New("artifacts.dir required for file backend"))
		}
	case "s3":
		if c.Artifacts.Bucket == "" {
			errs = append(errs, errors.New("artifacts.bucket required for s3 backend"))
		}
	case "redis":
		if c.Artifacts.RedisAddr == "" {
			errs = append(errs, errors.New("artifacts.redis_addr required for redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("artifacts.backend %q must be file, s3 or redis", c.Artifacts.Backend))
	}
	if c.Pipeline.MinHistory < 1 {
		errs = append(errs, errors.New("pipeline.min_history must be >= 1"))
	}
	if c.Pipeline.MaxSequenceLength <= c.Pipeline.MinHistory {
		errs = append(errs, errors.New("pipeline.max_sequence_length must exceed pipeline.min_history"))
	}
	if c.Stream.InputTopic == "" || c.Stream.FraudTopic == "" {
		errs = append(errs, errors.New("stream.input_topic and stream.fraud_topic required"))
	}
	return errors.Join(errs...)
}

// ParseAPIKeys reads "client:key,client:key" into apiKey -> client.
// An empty string yields the local dev key so the service runs out-of-the-box.
func ParseAPIKeys(raw string) (map[string]string, error) {
	apiKeys := map[string]string{}

	for _, p := range strings.Split(strings.TrimSpace(raw), ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		parts := strings.SplitN(p, ":", 2)
		if len(parts) != 2 {
			return nil, errors.New(`API_KEYS must be "client:key,client:key"`)
		}
		client := strings.TrimSpace(parts[0])
		key := strings.TrimSpace(parts[1])
		if client == "" || key == "" {
			return nil, errors.New(`API_KEYS must be "client:key,client:key"`)
		}
		apiKeys[key] = client
	}

	if len(apiKeys) == 0 {
		apiKeys["dev-key-123"] = "local"
	}
	return apiKeys, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range defaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envTransform maps ATO_SECTION__FIELD_NAME to section.field_name.
func envTransform(key string) string {
	key = strings.TrimPrefix(key, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(key), "__", ".")
}

// legacyTransform keeps only the names listed in legacyEnv; koanf skips the
// rest because the callback returns "".
func legacyTransform(key string) string {
	return legacyEnv[key]
}

// splitSliceKeys turns comma-separated env values into slices.
func splitSliceKeys(k *koanf.Koanf) error {
	for _, path := range sliceKeys {
		s, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		var out []string
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		if err := k.Set(path, out); err != nil {
			return fmt.Errorf("set %s: %w", path, err)
		}
	}
	return nil
}
