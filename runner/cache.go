package runner

import (
	"sync"
	"time"

	"github.com/liamcoop/checkers/store"
)

// CheckersCache holds the active checker list between scheduler ticks. The
// rule of a checker is still read from the store on every cycle.
type CheckersCache interface {
	// Get returns the cached checkers, or nil on a miss or after expiry
	Get() []*store.Checker

	// Set stores checkers
	Set(checkers []*store.Checker)

	// Invalidate forces a reload on the next tick
	Invalidate()

	// IsValid reports whether Get would hit
	IsValid() bool
}

// CacheConfig configures cache expiry
type CacheConfig struct {
	// TTL of the cached list. Zero means manual invalidation only.
	TTL time.Duration
}

// DefaultCacheConfig expires the list after a minute
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{TTL: time.Minute}
}

// InMemoryCheckersCache is a CheckersCache safe for concurrent use
type InMemoryCheckersCache struct {
	checkers []*store.Checker
	cachedAt time.Time
	config   CacheConfig
	mu       sync.RWMutex
	isValid  bool
}

// NewInMemoryCheckersCache creates an empty cache
func NewInMemoryCheckersCache(config CacheConfig) *InMemoryCheckersCache {
	return &InMemoryCheckersCache{config: config}
}

func (c *InMemoryCheckersCache) Get() []*store.Checker {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.fresh() {
		return nil
	}
	out := make([]*store.Checker, len(c.checkers))
	copy(out, c.checkers)
	return out
}

func (c *InMemoryCheckersCache) Set(checkers []*store.Checker) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.checkers = make([]*store.Checker, len(checkers))
	copy(c.checkers, checkers)
	c.cachedAt = time.Now()
	c.isValid = true
}

func (c *InMemoryCheckersCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.isValid = false
	c.checkers = nil
}

func (c *InMemoryCheckersCache) IsValid() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fresh()
}

// fresh must be called with mu held
func (c *InMemoryCheckersCache) fresh() bool {
	if !c.isValid {
		return false
	}
	if c.config.TTL > 0 {
		return time.Since(c.cachedAt) <= c.config.TTL
	}
	return true
}
