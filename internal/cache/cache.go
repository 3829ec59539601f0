package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Cache is the caching interface. It carries the transient raw-payload cache
// (keyed by job id, purged on terminal job states) and a job-state mirror for
// cheap polling. Implementations must be safe for concurrent use.
type Cache interface {
	Ping(ctx context.Context) error

	SetPayload(ctx context.Context, jobID uuid.UUID, payload []byte, ttl time.Duration) error
	GetPayload(ctx context.Context, jobID uuid.UUID) ([]byte, bool, error)
	DeletePayload(ctx context.Context, jobID uuid.UUID) error

	SetJobState(ctx context.Context, jobID uuid.UUID, state string, ttl time.Duration) error
	GetJobState(ctx context.Context, jobID uuid.UUID) (string, bool, error)

	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)
}

// RedisCache implements the Cache interface using go-redis/v9. Keeping the
// payload in Redis rather than process memory means a job submitted before a
// restart can still be dispatched afterwards.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new RedisCache from a Redis URL.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) SetPayload(ctx context.Context, jobID uuid.UUID, payload []byte, ttl time.Duration) error {
	return c.client.Set(ctx, PayloadKey(jobID), payload, ttl).Err()
}

func (c *RedisCache) GetPayload(ctx context.Context, jobID uuid.UUID) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, PayloadKey(jobID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (c *RedisCache) DeletePayload(ctx context.Context, jobID uuid.UUID) error {
	return c.client.Del(ctx, PayloadKey(jobID)).Err()
}

func (c *RedisCache) SetJobState(ctx context.Context, jobID uuid.UUID, state string, ttl time.Duration) error {
	return c.client.Set(ctx, JobStateKey(jobID), state, ttl).Err()
}

func (c *RedisCache) GetJobState(ctx context.Context, jobID uuid.UUID) (string, bool, error) {
	val, err := c.client.Get(ctx, JobStateKey(jobID)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (c *RedisCache) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
