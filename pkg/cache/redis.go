package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aletheia-kb/aletheia/pkg/apperr"
	"github.com/aletheia-kb/aletheia/pkg/config"
)

// keyPrefix namespaces every key this package writes, so Reset and
// TotalKeys can scan just Aletheia's own keys in a shared Redis instance.
const keyPrefix = "aletheia:"

// RedisStore implements Store over a single Redis instance.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore dials Redis per cfg and verifies connectivity with a Ping.
func NewRedisStore(ctx context.Context, cfg config.CacheConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, apperr.RemoteUnavailable("cache", "NewRedisStore", err)
	}
	return &RedisStore{client: client}, nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.client.Get(ctx, keyPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperr.RemoteUnavailable("cache", "Get", err)
	}
	return val, true, nil
}

// Set implements Store.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, keyPrefix+key, value, ttl).Err(); err != nil {
		return apperr.RemoteUnavailable("cache", "Set", err)
	}
	return nil
}

// Allow implements Store using INCR + a first-increment EXPIRE, so the
// counter resets on a fixed window starting from the first request in it.
func (s *RedisStore) Allow(ctx context.Context, identifier string, limit int, window time.Duration) (bool, int, error) {
	key := keyPrefix + RateLimitKey(identifier)

	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, apperr.RemoteUnavailable("cache", "Allow", err)
	}
	if count == 1 {
		if err := s.client.Expire(ctx, key, window).Err(); err != nil {
			return false, 0, apperr.RemoteUnavailable("cache", "Allow", err)
		}
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return count <= int64(limit), remaining, nil
}

// Reset implements Store, deleting every key under keyPrefix.
func (s *RedisStore) Reset(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, keyPrefix+"*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return apperr.RemoteUnavailable("cache", "Reset", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return apperr.RemoteUnavailable("cache", "Reset", err)
	}
	return nil
}

// TotalKeys implements Store by scanning keys under keyPrefix.
func (s *RedisStore) TotalKeys(ctx context.Context) (int, error) {
	iter := s.client.Scan(ctx, 0, keyPrefix+"*", 0).Iterator()
	count := 0
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, apperr.RemoteUnavailable("cache", "TotalKeys", err)
	}
	return count, nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
