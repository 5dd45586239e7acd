package resultcache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares entries between processes. Entries are JSON encoded, so a
// hit returns a copy rather than the object that was set.
type RedisStore[T any] struct {
	client redis.UniversalClient
	prefix string
	grace  time.Duration
}

var _ Store[int] = (*RedisStore[int])(nil)

// NewRedisStore stores keys as prefix+key. Redis expires keys a grace period
// after ExpiresAt; freshness itself is still decided by Cache.
func NewRedisStore[T any](client redis.UniversalClient, prefix string) *RedisStore[T] {
	return &RedisStore[T]{client: client, prefix: prefix, grace: time.Hour}
}

// NewRedisClient parses a redis:// URL.
func NewRedisClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("[resultcache NewRedisClient] invalid redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

func (r *RedisStore[T]) key(k string) string {
	return r.prefix + k
}

func (r *RedisStore[T]) Get(ctx context.Context, key string) (Entry[T], bool, error) {
	raw, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err == redis.Nil {
		return Entry[T]{}, false, nil
	}
	if err != nil {
		return Entry[T]{}, false, err
	}
	var entry Entry[T]
	if err := json.Unmarshal(raw, &entry); err != nil {
		return Entry[T]{}, false, fmt.Errorf("[RedisStore Get] corrupt entry %s: %w", key, err)
	}
	return entry, true, nil
}

func (r *RedisStore[T]) Set(ctx context.Context, key string, entry Entry[T]) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("[RedisStore Set] failed to encode %s: %w", key, err)
	}
	ttl := time.Until(entry.ExpiresAt) + r.grace
	if ttl <= 0 {
		ttl = r.grace
	}
	return r.client.Set(ctx, r.key(key), raw, ttl).Err()
}

func (r *RedisStore[T]) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.key(key)).Err()
}
