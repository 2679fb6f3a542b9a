package metadata

import (
	"context"
	"sync"
	"time"

	"github.com/teia-market/marketd/internal/app/domain/metadata"
)

// Cache stores resolved metadata documents keyed by token id. Implementations
// are best-effort: a cache error degrades to a fresh fetch, never to a failed
// resolution.
type Cache interface {
	Get(ctx context.Context, tokenID uint64) (metadata.Resolved, bool)
	Set(ctx context.Context, resolved metadata.Resolved)
}

type memoryEntry struct {
	resolved  metadata.Resolved
	expiresAt time.Time
}

// MemoryCache is an in-process TTL cache.
type MemoryCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[uint64]memoryEntry
}

var _ Cache = (*MemoryCache)(nil)

// NewMemoryCache creates a cache with the given TTL; zero means 10 minutes.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &MemoryCache{
		ttl:     ttl,
		entries: make(map[uint64]memoryEntry),
	}
}

func (c *MemoryCache) Get(_ context.Context, tokenID uint64) (metadata.Resolved, bool) {
	c.mu.RLock()
	entry, ok := c.entries[tokenID]
	c.mu.RUnlock()

	if !ok {
		return metadata.Resolved{}, false
	}
	if time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, tokenID)
		c.mu.Unlock()
		return metadata.Resolved{}, false
	}
	return entry.resolved, true
}

func (c *MemoryCache) Set(_ context.Context, resolved metadata.Resolved) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[resolved.TokenID] = memoryEntry{
		resolved:  resolved,
		expiresAt: time.Now().Add(c.ttl),
	}
}
