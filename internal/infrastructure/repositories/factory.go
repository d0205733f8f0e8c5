package repositories

import (
	"context"

	"deskbridge/internal/core/ports"
	"deskbridge/internal/infrastructure/reliability"
	"deskbridge/internal/infrastructure/repositories/memory"
	redisrepo "deskbridge/internal/infrastructure/repositories/redis"
	"deskbridge/pkg/circuitbreaker"
	"deskbridge/pkg/config"
	"deskbridge/pkg/retry"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory creates repositories with fallback support
type RepositoryFactory struct {
	useRedis    bool
	redisClient *redis.Client
	retry       retry.Config
	breaker     circuitbreaker.Config
	logger      *zap.SugaredLogger
}

// NewRepositoryFactory connects to Redis when enabled and falls back to
// memory storage if it stays unreachable.
func NewRepositoryFactory(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) *RepositoryFactory {
	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = cfg.Redis.CallRetries
	breakerCfg := circuitbreaker.DefaultConfig()
	breakerCfg.FailureThreshold = cfg.Redis.BreakerThreshold
	breakerCfg.Timeout = cfg.Redis.BreakerTimeout

	factory := &RepositoryFactory{
		useRedis: cfg.Redis.Enabled,
		retry:    retryCfg,
		breaker:  breakerCfg,
		logger:   logger,
	}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(ctx, redisrepo.ClientConfig{
			Address:        cfg.Redis.Address,
			Password:       cfg.Redis.Password,
			DB:             cfg.Redis.DB,
			PoolSize:       cfg.Redis.PoolSize,
			ConnectRetries: cfg.Redis.ConnectRetries,
		}, logger)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory repositories",
				"error", err,
			)
			factory.useRedis = false
		} else {
			factory.redisClient = client
			logger.Info("using Redis repositories")
		}
	}

	if !factory.useRedis {
		logger.Info("using memory repositories")
	}

	return factory
}

// CreateConnectionRepository creates the connection inventory store (Redis or memory with fallback)
func (f *RepositoryFactory) CreateConnectionRepository() ports.ConnectionRepository {
	if f.useRedis && f.redisClient != nil {
		return reliability.NewConnectionRepository(
			redisrepo.NewRedisConnectionRepository(f.redisClient),
			f.retry,
			f.breaker,
			f.logger,
		)
	}
	return memory.NewMemoryConnectionRepository()
}

// RedisClient returns the shared client, or nil when running on memory storage.
func (f *RepositoryFactory) RedisClient() *redis.Client {
	if !f.useRedis {
		return nil
	}
	return f.redisClient
}

// Close closes Redis connection if used
func (f *RepositoryFactory) Close() error {
	if f.redisClient != nil {
		return redisrepo.CloseRedisClient(f.redisClient)
	}
	return nil
}

// HealthCheck checks Redis connection health
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.useRedis && f.redisClient != nil {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}
