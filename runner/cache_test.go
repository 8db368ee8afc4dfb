package runner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/liamcoop/checkers/store"
)

func TestInMemoryCheckersCache(t *testing.T) {
	cache := NewInMemoryCheckersCache(CacheConfig{})
	assert.False(t, cache.IsValid())
	assert.Nil(t, cache.Get())

	checkers := []*store.Checker{{ID: "a"}, {ID: "b"}}
	cache.Set(checkers)
	assert.True(t, cache.IsValid())

	got := cache.Get()
	assert.Len(t, got, 2)

	// the cached slice is a copy
	checkers[0] = &store.Checker{ID: "z"}
	assert.Equal(t, "a", cache.Get()[0].ID)

	cache.Invalidate()
	assert.False(t, cache.IsValid())
	assert.Nil(t, cache.Get())
}

func TestInMemoryCheckersCache_TTL(t *testing.T) {
	cache := NewInMemoryCheckersCache(CacheConfig{TTL: 20 * time.Millisecond})
	cache.Set([]*store.Checker{{ID: "a"}})
	assert.True(t, cache.IsValid())

	time.Sleep(40 * time.Millisecond)
	assert.False(t, cache.IsValid())
	assert.Nil(t, cache.Get())
}

func TestInMemoryCheckersCache_EmptyListIsAHit(t *testing.T) {
	cache := NewInMemoryCheckersCache(CacheConfig{})
	cache.Set(nil)
	assert.True(t, cache.IsValid())
	assert.NotNil(t, cache.Get())
	assert.Empty(t, cache.Get())
}
