package store

import (
	"context"
	"sync"

	"breakout/internal/domain"
)

var _ BarCache = (*MemoryCache)(nil)

// MemoryCache is a process-local BarCache. Callers always receive copies.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[CacheKey][]domain.Bar
}

// NewMemoryCache returns an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[CacheKey][]domain.Bar)}
}

// Get returns a copy of the cached series.
func (c *MemoryCache) Get(_ context.Context, key CacheKey) ([]domain.Bar, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	bars, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	return cloneBars(bars), true, nil
}

// Put stores a copy of bars if key is not yet populated.
func (c *MemoryCache) Put(_ context.Context, key CacheKey, bars []domain.Bar) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		return nil
	}
	c.entries[key] = cloneBars(bars)
	return nil
}

// Len returns the number of populated keys.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
