package database

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"realtimechat/backend"
	"realtimechat/errs"
)

// RedisCache satisfies backend.Cache with a go-redis client.
type RedisCache struct {
	client *redis.Client
}

var _ backend.Cache = (*RedisCache)(nil)

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (r *RedisCache) Get(ctx context.Context, key string) (string, error) {
	res, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", backend.ErrCacheMiss
	}
	if err != nil {
		return "", errs.Unavailable(err)
	}
	return res, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return errs.Unavailable(r.client.Set(ctx, key, value, ttl).Err())
}

func (r *RedisCache) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return errs.Unavailable(r.client.Del(ctx, keys...).Err())
}

// Take reads and deletes key with GETDEL, so only one caller sees the value.
func (r *RedisCache) Take(ctx context.Context, key string) (string, error) {
	res, err := r.client.GetDel(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", backend.ErrCacheMiss
	}
	if err != nil {
		return "", errs.Unavailable(err)
	}
	return res, nil
}
