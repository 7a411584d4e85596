package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryClient_SetGet(t *testing.T) {
	c := NewMemoryClient(16)
	defer c.Close()
	ctx := context.Background()

	_, err := c.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "k", []byte("value"), time.Minute))
	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), got)
}

func TestMemoryClient_TTLExpiry(t *testing.T) {
	c := NewMemoryClient(16)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "short", []byte("x"), 10*time.Millisecond))
	require.NoError(t, c.Set(ctx, "forever", []byte("y"), 0))

	time.Sleep(30 * time.Millisecond)

	_, err := c.Get(ctx, "short")
	assert.ErrorIs(t, err, ErrCacheMiss)

	got, err := c.Get(ctx, "forever")
	require.NoError(t, err)
	assert.Equal(t, []byte("y"), got)
}

func TestMemoryClient_DeleteByPrefix(t *testing.T) {
	c := NewMemoryClient(16)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "result:a:1", []byte("1"), time.Minute))
	require.NoError(t, c.Set(ctx, "result:b:1", []byte("2"), time.Minute))
	require.NoError(t, c.Set(ctx, "run:c", []byte("3"), time.Minute))

	require.NoError(t, c.DeleteByPrefix(ctx, "result:"))

	_, err := c.Get(ctx, "result:a:1")
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = c.Get(ctx, "result:b:1")
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = c.Get(ctx, "run:c")
	assert.NoError(t, err)
}

func TestMemoryClient_EvictsAtCapacity(t *testing.T) {
	c := NewMemoryClient(4)
	defer c.Close()
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		require.NoError(t, c.Set(ctx, fmt.Sprintf("k%d", i), []byte("v"), time.Minute))
	}

	c.mu.RLock()
	size := len(c.data)
	c.mu.RUnlock()
	assert.LessOrEqual(t, size, 4)
}

func TestMemoryClient_OverwriteDoesNotEvict(t *testing.T) {
	c := NewMemoryClient(2)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), time.Minute))
	require.NoError(t, c.Set(ctx, "a", []byte("3"), time.Minute))

	got, err := c.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), got)
	got, err = c.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("3"), got)
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, "result:abc:def", CacheKey("result", "abc", "def"))
	assert.Equal(t, "result:sha256:fp", ResultKey("sha256", "fp"))
}
