package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time { return f.t }

func newTestCache(maxSize int, ttl time.Duration) (*LocalCache[string], *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewLocalCache[string](maxSize, ttl)
	c.now = clock.now
	return c, clock
}

func TestLocalCache(t *testing.T) {
	t.Run("读写与过期", func(t *testing.T) {
		c, clock := newTestCache(10, time.Minute)
		c.Set("k", "v")

		v, ok := c.Get("k")
		require.True(t, ok)
		assert.Equal(t, "v", v)

		clock.t = clock.t.Add(time.Minute)
		_, ok = c.Get("k")
		assert.False(t, ok)
	})

	t.Run("容量满时淘汰最早条目", func(t *testing.T) {
		c, clock := newTestCache(2, time.Minute)
		c.Set("a", "1")
		clock.t = clock.t.Add(time.Second)
		c.Set("b", "2")
		clock.t = clock.t.Add(time.Second)
		c.Set("c", "3")

		assert.Equal(t, 2, c.Len())
		_, ok := c.Get("a")
		assert.False(t, ok)
		_, ok = c.Get("c")
		assert.True(t, ok)
	})

	t.Run("覆盖已有键不淘汰", func(t *testing.T) {
		c, _ := newTestCache(2, time.Minute)
		c.Set("a", "1")
		c.Set("b", "2")
		c.Set("a", "3")

		assert.Equal(t, 2, c.Len())
		v, _ := c.Get("a")
		assert.Equal(t, "3", v)
	})

	t.Run("删除", func(t *testing.T) {
		c, _ := newTestCache(2, time.Minute)
		c.Set("a", "1")
		c.Delete("a")

		_, ok := c.Get("a")
		assert.False(t, ok)
	})
}

func TestLocalCacheRunStops(t *testing.T) {
	c := NewLocalCache[int](1, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NoError(t, c.Run(ctx))
}
