package tokenstore

import (
	"context"
	"time"

	"github.com/p-blackswan/discovery-engine/lru"
)

// DefaultCapacity bounds the number of cached tokens.
const DefaultCapacity = 64

// MemoryStore is an in-process token cache backed by a bounded LRU.
// Expired tokens stay readable (as ErrTokenExpired) until evicted so callers
// can tell a stale token from a missing one.
type MemoryStore struct {
	cache *lru.Cache[string, Token]
	now   func() time.Time
}

// NewMemoryStore creates a new in-memory token store.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithCapacity(DefaultCapacity)
}

// NewMemoryStoreWithCapacity creates a store holding at most capacity tokens.
func NewMemoryStoreWithCapacity(capacity int) *MemoryStore {
	return &MemoryStore{
		cache: lru.New[string, Token](capacity),
		now:   time.Now,
	}
}

func (m *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.cache.Put(key, Token{
		Key:       key,
		Value:     value,
		ExpiresAt: m.now().Add(ttl),
	})
	return nil
}

func (m *MemoryStore) Get(_ context.Context, key string) (*Token, error) {
	tok, ok := m.cache.Get(key)
	if !ok {
		return nil, ErrTokenNotFound
	}
	if tok.ExpiredAt(m.now()) {
		return nil, ErrTokenExpired
	}
	return &tok, nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.cache.Delete(key)
	return nil
}
