package infrastructure

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"svc-steward.io/steward/internal/config"
	"svc-steward.io/steward/internal/pkg/logger"
)

// NewRedisClient connects to the configuration read cache (ADR-0005).
// Returns nil without error when the cache is disabled; callers treat a nil
// client as cache-off and read straight from PostgreSQL.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	logger.Info("Redis cache connected", zap.String("addr", cfg.Addr))
	return client, nil
}
