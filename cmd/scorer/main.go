package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/PratikDhanave/ato-scoring-service/internal/artifacts"
	"github.com/PratikDhanave/ato-scoring-service/internal/config"
	"github.com/PratikDhanave/ato-scoring-service/internal/httpserver"
	"github.com/PratikDhanave/ato-scoring-service/internal/inference"
	"github.com/PratikDhanave/ato-scoring-service/internal/logging"
	"github.com/PratikDhanave/ato-scoring-service/internal/pipeline"
	"github.com/PratikDhanave/ato-scoring-service/internal/store"
	"github.com/PratikDhanave/ato-scoring-service/internal/stream"
	"github.com/PratikDhanave/ato-scoring-service/internal/supervisor"
)

// main boots one scoring worker: config → artifacts → DB → NATS → pipeline
// → supervised router and HTTP server.
func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("invalid configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	if err := run(cfg); err != nil {
		logging.Fatal().Err(err).Msg("scoring worker failed")
	}
	logging.Info().Msg("scoring worker stopped")
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Artifacts are loaded once per worker and never reloaded.
	cache, err := loadArtifacts(ctx, cfg.Artifacts)
	if err != nil {
		return err
	}

	db, err := store.NewPostgresStore(cfg.Database.URL, cfg.Database.HistoryTable)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer db.Close()

	if err := db.EnsureSchema(ctx, cfg.Database.ResultsTable); err != nil {
		return err
	}

	slogLogger := logging.NewSlogLogger()
	wmLogger := watermill.NewSlogLogger(slogLogger)

	natsPub, err := stream.NewNATSPublisher(cfg.Stream, wmLogger)
	if err != nil {
		return err
	}
	defer natsPub.Close()

	natsSub, err := stream.NewNATSSubscriber(cfg.Stream, wmLogger)
	if err != nil {
		return err
	}
	defer natsSub.Close()

	alerts := stream.NewPublisher(natsPub, "alerts", stream.DefaultBreakerConfig())
	ingest := stream.NewPublisher(natsPub, "ingest", stream.DefaultBreakerConfig())

	var deadLetters pipeline.DeadLetterSink
	if cfg.Stream.DeadLetterTopic != "" {
		deadLetters = stream.NewDeadLetterPublisher(
			stream.NewPublisher(natsPub, "dead-letter", stream.DefaultBreakerConfig()),
			cfg.Stream.DeadLetterTopic,
		)
	}

	inferenceClient := inference.NewClient(cfg.Inference)

	scoring, err := pipeline.New(pipeline.Deps{
		History:     db,
		Inference:   inferenceClient,
		Analytics:   db,
		Alerts:      alerts,
		DeadLetters: deadLetters,
		Artifacts:   cache,
	}, pipeline.ConfigFrom(cfg))
	if err != nil {
		return fmt.Errorf("build scoring pipeline: %w", err)
	}

	router, err := stream.NewRouter(stream.RouterConfigFrom(cfg.Stream), natsPub, wmLogger)
	if err != nil {
		return err
	}
	router.AddScoringHandler(cfg.Stream.InputTopic, natsSub, scoring)

	handler := httpserver.NewRouter(cfg, httpserver.Deps{
		Store:         db,
		Publisher:     ingest,
		Artifacts:     cache,
		StreamRunning: router.IsRunning,
		Breakers: map[string]func() string{
			"inference": inferenceClient.BreakerState,
			"alerts":    alerts.BreakerState,
		},
	})

	tree := supervisor.NewTree(slogLogger, supervisor.DefaultTreeConfig())
	tree.AddStreamService(supervisor.NewRouterService(router))
	tree.AddAPIService(supervisor.NewHTTPServerService(httpserver.NewServer(cfg.Server.Addr, handler), 10*time.Second))

	logging.Info().
		Str("addr", cfg.Server.Addr).
		Str("input_topic", cfg.Stream.InputTopic).
		Str("fraud_topic", cfg.Stream.FraudTopic).
		Int("features", len(cache.FeatureOrder())).
		Float64("threshold", cache.Threshold()).
		Msg("scoring worker started")

	var treeErr error
	for err := range tree.ServeBackground(ctx) {
		if err != nil && !errors.Is(err, context.Canceled) {
			treeErr = fmt.Errorf("supervisor tree: %w", err)
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("service failed to stop within timeout")
	}
	return treeErr
}

func loadArtifacts(ctx context.Context, cfg config.ArtifactsConfig) (*artifacts.Cache, error) {
	timeout := cfg.LoadTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	loadCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	blobs, closeBlobs, err := artifacts.Open(loadCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s artifact store: %w", cfg.Backend, err)
	}
	defer func() { _ = closeBlobs() }()

	return artifacts.Load(loadCtx, blobs, artifacts.Paths{
		Scaler:    cfg.ScalerPath,
		Threshold: cfg.ThresholdPath,
	})
}
