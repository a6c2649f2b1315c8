package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fartech2025/SDR-Juridico-sub003/internal/config"
	"github.com/fartech2025/SDR-Juridico-sub003/pkg/logger"
)

const redisDialTimeout = 5 * time.Second

// newRedisClient connects to cfg and pings it once. A redis-backed store that
// cannot reach redis at startup is a configuration error.
func newRedisClient(ctx context.Context, cfg config.RedisConfig) (redis.UniversalClient, error) {
	addr := cfg.Address
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: redisDialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, redisDialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	logger.Info("redis connected",
		logger.String("addr", addr),
		logger.String("prefix", cfg.KeyPrefix),
	)
	return client, nil
}
