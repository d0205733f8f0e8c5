package redis

import (
	"context"
	"fmt"
	"time"

	"deskbridge/pkg/retry"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type ClientConfig struct {
	Address        string
	Password       string
	DB             int
	PoolSize       int
	ConnectRetries int
}

// NewRedisClient creates a pooled client and pings it, retrying with
// backoff so the service can start alongside a Redis that is still booting.
func NewRedisClient(ctx context.Context, cfg ClientConfig, logger *zap.SugaredLogger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = cfg.ConnectRetries
	retryCfg.InitialDelay = 500 * time.Millisecond
	retryCfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.Warnw("Redis not reachable, retrying",
			"address", cfg.Address,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
	}

	err := retry.Retry(ctx, retryCfg, func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return client.Ping(pingCtx).Err()
	})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Infow("connected to Redis",
		"address", cfg.Address,
		"db", cfg.DB,
		"pool_size", cfg.PoolSize,
	)

	return client, nil
}

// CloseRedisClient closes the Redis client connection
func CloseRedisClient(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
