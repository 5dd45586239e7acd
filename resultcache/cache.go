// Package resultcache keeps computed results for a fixed time. An entry is
// either fresh or treated as absent; there is no stale-while-revalidate state.
package resultcache

import (
	"context"
	"time"

	"github.com/jrsteele09/tenant-insights/internal/logging"
	"github.com/jrsteele09/tenant-insights/internal/metrics"
	"github.com/rs/zerolog"
)

// Entry is a cached value and the instant it stops being fresh.
type Entry[T any] struct {
	Value     T         `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store is a cache backend. Get reports found=false for absent keys.
type Store[T any] interface {
	Get(ctx context.Context, key string) (Entry[T], bool, error)
	Set(ctx context.Context, key string, entry Entry[T]) error
	Delete(ctx context.Context, key string) error
}

type Cache[T any] struct {
	name    string
	store   Store[T]
	ttl     time.Duration
	nowFunc func() time.Time
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

type Option[T any] func(*Cache[T])

func WithNowFunc[T any](now func() time.Time) Option[T] {
	return func(c *Cache[T]) {
		c.nowFunc = now
	}
}

func WithMetrics[T any](m *metrics.Metrics) Option[T] {
	return func(c *Cache[T]) {
		c.metrics = m
	}
}

func WithLogger[T any](l zerolog.Logger) Option[T] {
	return func(c *Cache[T]) {
		c.logger = l
	}
}

// New returns a cache named name (used in logs and metrics) over store.
func New[T any](name string, store Store[T], ttl time.Duration, options ...Option[T]) *Cache[T] {
	c := &Cache[T]{
		name:    name,
		store:   store,
		ttl:     ttl,
		nowFunc: time.Now,
		logger:  logging.Component("resultcache"),
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

func (c *Cache[T]) TTL() time.Duration { return c.ttl }

// Get returns the value for key if it is still fresh. Backend errors count as a miss.
func (c *Cache[T]) Get(ctx context.Context, key string) (T, bool) {
	var zero T
	entry, found, err := c.store.Get(ctx, key)
	if err != nil {
		c.metrics.CacheLookup(c.name, "error")
		c.logger.Warn().Err(err).Str("cache", c.name).Str("key", key).Msg("cache read failed")
		return zero, false
	}
	if !found || !c.nowFunc().Before(entry.ExpiresAt) {
		c.metrics.CacheLookup(c.name, "miss")
		c.logger.Debug().Str("cache", c.name).Str("key", key).Msg("cache miss")
		return zero, false
	}
	c.metrics.CacheLookup(c.name, "hit")
	return entry.Value, true
}

// Set stores value under key, replacing any previous entry.
func (c *Cache[T]) Set(ctx context.Context, key string, value T) {
	entry := Entry[T]{Value: value, ExpiresAt: c.nowFunc().Add(c.ttl)}
	if err := c.store.Set(ctx, key, entry); err != nil {
		c.logger.Warn().Err(err).Str("cache", c.name).Str("key", key).Msg("cache write failed")
	}
}

func (c *Cache[T]) Invalidate(ctx context.Context, key string) {
	if err := c.store.Delete(ctx, key); err != nil {
		c.logger.Warn().Err(err).Str("cache", c.name).Str("key", key).Msg("cache invalidate failed")
	}
}
