package resultcache

import (
	"context"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryStore keeps entries in process. Values are stored as-is, so a hit
// returns the same object that was set.
type MemoryStore[T any] struct {
	c *gocache.Cache
}

var _ Store[int] = (*MemoryStore[int])(nil)

func NewMemoryStore[T any]() *MemoryStore[T] {
	// Keys are bounded (tenant ids or a global key) and freshness is decided by
	// Cache against its own clock, so go-cache never expires entries itself.
	return &MemoryStore[T]{c: gocache.New(gocache.NoExpiration, 0)}
}

func (m *MemoryStore[T]) Get(_ context.Context, key string) (Entry[T], bool, error) {
	v, ok := m.c.Get(key)
	if !ok {
		return Entry[T]{}, false, nil
	}
	entry, ok := v.(Entry[T])
	return entry, ok, nil
}

func (m *MemoryStore[T]) Set(_ context.Context, key string, entry Entry[T]) error {
	m.c.Set(key, entry, gocache.NoExpiration)
	return nil
}

func (m *MemoryStore[T]) Delete(_ context.Context, key string) error {
	m.c.Delete(key)
	return nil
}
