package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"deskbridge/internal/core/domain"
	"deskbridge/internal/core/ports"
	"deskbridge/pkg/distributed"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "deskbridge:connections:"

const (
	lockTTL  = 5 * time.Second
	lockWait = 2 * time.Second
)

// RedisConnectionRepository stores each record as JSON in a hash keyed by
// connection id and keeps insertion order in a list of ids. Update and
// Remove take a per-id lease so instances sharing the store cannot
// resurrect an entry another one just removed.
type RedisConnectionRepository struct {
	client *redis.Client
	prefix string
	locks  *distributed.Locker
}

func NewRedisConnectionRepository(client *redis.Client) ports.ConnectionRepository {
	return newRepository(client, defaultPrefix)
}

func newRepository(client *redis.Client, prefix string) *RedisConnectionRepository {
	return &RedisConnectionRepository{
		client: client,
		prefix: prefix,
		locks:  distributed.NewLocker(client, prefix+"lock:", lockTTL, lockWait),
	}
}

func (r *RedisConnectionRepository) recordsKey() string {
	return r.prefix + "records"
}

func (r *RedisConnectionRepository) orderKey() string {
	return r.prefix + "order"
}

func marshalConnection(conn domain.RemoteConnection) ([]byte, error) {
	data, err := json.Marshal(domain.RecordOf(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal connection: %w", err)
	}
	return data, nil
}

func unmarshalConnection(data string) (domain.RemoteConnection, error) {
	var rec domain.ConnectionRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal connection: %w", err)
	}
	return rec.Connection()
}

// Add is a no-op when an entry with the same id already exists.
func (r *RedisConnectionRepository) Add(ctx context.Context, conn domain.RemoteConnection) error {
	data, err := marshalConnection(conn)
	if err != nil {
		return err
	}

	created, err := r.client.HSetNX(ctx, r.recordsKey(), conn.ID(), data).Result()
	if err != nil {
		return fmt.Errorf("failed to store connection in Redis: %w", err)
	}
	if !created {
		return nil
	}

	if err := r.client.RPush(ctx, r.orderKey(), conn.ID()).Err(); err != nil {
		return fmt.Errorf("failed to append connection to order list: %w", err)
	}
	return nil
}

func (r *RedisConnectionRepository) Get(ctx context.Context, id string) (domain.RemoteConnection, error) {
	data, err := r.client.HGet(ctx, r.recordsKey(), id).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", domain.ErrConnectionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connection from Redis: %w", err)
	}
	return unmarshalConnection(data)
}

func (r *RedisConnectionRepository) List(ctx context.Context) ([]domain.RemoteConnection, error) {
	ids, err := r.client.LRange(ctx, r.orderKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list connection ids: %w", err)
	}
	if len(ids) == 0 {
		return []domain.RemoteConnection{}, nil
	}

	values, err := r.client.HMGet(ctx, r.recordsKey(), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load connections: %w", err)
	}

	result := make([]domain.RemoteConnection, 0, len(values))
	for _, v := range values {
		data, ok := v.(string)
		if !ok {
			// removed between LRANGE and HMGET
			continue
		}
		conn, err := unmarshalConnection(data)
		if err != nil {
			return nil, err
		}
		result = append(result, conn)
	}
	return result, nil
}

func (r *RedisConnectionRepository) Update(ctx context.Context, conn domain.RemoteConnection) error {
	return r.locks.WithLock(ctx, conn.ID(), func() error {
		return r.update(ctx, conn)
	})
}

func (r *RedisConnectionRepository) update(ctx context.Context, conn domain.RemoteConnection) error {
	exists, err := r.client.HExists(ctx, r.recordsKey(), conn.ID()).Result()
	if err != nil {
		return fmt.Errorf("failed to check connection in Redis: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", domain.ErrConnectionNotFound, conn.ID())
	}

	data, err := marshalConnection(conn)
	if err != nil {
		return err
	}
	if err := r.client.HSet(ctx, r.recordsKey(), conn.ID(), data).Err(); err != nil {
		return fmt.Errorf("failed to update connection in Redis: %w", err)
	}
	return nil
}

func (r *RedisConnectionRepository) Remove(ctx context.Context, id string) error {
	return r.locks.WithLock(ctx, id, func() error {
		return r.remove(ctx, id)
	})
}

func (r *RedisConnectionRepository) remove(ctx context.Context, id string) error {
	var deleted *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		deleted = pipe.HDel(ctx, r.recordsKey(), id)
		pipe.LRem(ctx, r.orderKey(), 0, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to remove connection from Redis: %w", err)
	}
	if deleted.Val() == 0 {
		return fmt.Errorf("%w: %s", domain.ErrConnectionNotFound, id)
	}
	return nil
}
