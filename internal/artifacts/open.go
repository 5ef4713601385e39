package artifacts

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/PratikDhanave/ato-scoring-service/internal/config"
)

// Open builds the BlobStore selected by cfg.Backend. The returned close
// function releases backend connections and is never nil.
func Open(ctx context.Context, cfg config.ArtifactsConfig) (BlobStore, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Backend {
	case "file":
		return FileStore{Dir: cfg.Dir}, noop, nil
	case "s3":
		st, err := NewS3StoreFromEnv(ctx, cfg.Bucket, cfg.Region)
		if err != nil {
			return nil, noop, err
		}
		return st, noop, nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, noop, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
		}
		return NewRedisStore(client, cfg.RedisPrefix), client.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown artifact backend %q", cfg.Backend)
	}
}
