package cachestore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisStore struct {
	Client *redis.Client
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(redisURL string) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	// check redis connection
	_, err = rdb.Ping(context.TODO()).Result()
	if err != nil {
		return nil, err
	}
	return &RedisStore{Client: rdb}, nil
}

func (s *RedisStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	// increment and refresh expiry in a single round-trip
	multi := s.Client.TxPipeline()
	incr := multi.Incr(ctx, key)
	if ttl > 0 {
		multi.Expire(ctx, key, ttl)
	}
	if _, err := multi.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	v, err := s.Client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return v, err
}

func (s *RedisStore) Set(ctx context.Context, key, val string, ttl time.Duration) error {
	return s.Client.Set(ctx, key, val, ttl).Err()
}

func (s *RedisStore) SetNX(ctx context.Context, key, val string, ttl time.Duration) (bool, error) {
	return s.Client.SetNX(ctx, key, val, ttl).Result()
}

func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	return s.Client.TTL(ctx, key).Result()
}

func (s *RedisStore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.Client.Del(ctx, keys...).Err()
}

func (s *RedisStore) SAdd(ctx context.Context, key, member string) error {
	return s.Client.SAdd(ctx, key, member).Err()
}

func (s *RedisStore) SMembers(ctx context.Context, key string) ([]string, error) {
	return s.Client.SMembers(ctx, key).Result()
}

func (s *RedisStore) LPushTrim(ctx context.Context, key, val string, maxLen int64) (int64, error) {
	multi := s.Client.TxPipeline()
	multi.LPush(ctx, key, val)
	if maxLen > 0 {
		multi.LTrim(ctx, key, 0, maxLen-1)
	}
	size := multi.LLen(ctx, key)
	if _, err := multi.Exec(ctx); err != nil {
		return 0, err
	}
	return size.Val(), nil
}

func (s *RedisStore) LRange(ctx context.Context, key string, limit int64) ([]string, error) {
	return s.Client.LRange(ctx, key, 0, limit-1).Result()
}

func (s *RedisStore) LLen(ctx context.Context, key string) (int64, error) {
	return s.Client.LLen(ctx, key).Result()
}

func (s *RedisStore) RPop(ctx context.Context, key string) (string, error) {
	v, err := s.Client.RPop(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return v, err
}

func (s *RedisStore) Close() error {
	return s.Client.Close()
}
