package repository

import (
	"context"
	"errors"

	"stem_progress_backend/internal/util"

	"github.com/go-redis/redis/v8"
)

type RedisKVRepository struct {
	Client *redis.Client
	Prefix string
}

func NewRedisKVRepository(rdb *redis.Client, prefix string) *RedisKVRepository {
	return &RedisKVRepository{Client: rdb, Prefix: prefix}
}

func (r *RedisKVRepository) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.Client.Get(ctx, r.Prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, util.ErrKeyNotFound
	}
	return data, err
}

func (r *RedisKVRepository) Set(ctx context.Context, key string, value []byte) error {
	return r.Client.Set(ctx, r.Prefix+key, value, 0).Err()
}

func (r *RedisKVRepository) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.Prefix + k
	}
	return r.Client.Del(ctx, full...).Err()
}

func (r *RedisKVRepository) Ping(ctx context.Context) error {
	return r.Client.Ping(ctx).Err()
}
