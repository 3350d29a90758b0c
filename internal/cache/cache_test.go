package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestMemoryCache() (*MemoryCache, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 10, 16, 18, 0, 0, 0, time.UTC)}
	return NewMemoryCache(WithClock(clock.Now)), clock
}

// ============================================
// MemoryCache
// ============================================

func TestMemoryCache_PutGet(t *testing.T) {
	c, _ := newTestMemoryCache()
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "k", []byte("v1"), time.Minute))

	val, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v1"), val)
}

func TestMemoryCache_Miss(t *testing.T) {
	c, _ := newTestMemoryCache()

	val, ok, err := c.Get(context.Background(), "absent")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, val)
}

func TestMemoryCache_ExpiresExactlyAtTTL(t *testing.T) {
	c, clock := newTestMemoryCache()
	ctx := context.Background()
	require.NoError(t, c.Put(ctx, "k", []byte("v"), 60*time.Second))

	clock.Advance(59 * time.Second)
	_, ok, _ := c.Get(ctx, "k")
	assert.True(t, ok)

	clock.Advance(time.Second)
	_, ok, _ = c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestMemoryCache_PutResetsWindow(t *testing.T) {
	c, clock := newTestMemoryCache()
	ctx := context.Background()
	require.NoError(t, c.Put(ctx, "k", []byte("old"), 10*time.Second))

	clock.Advance(8 * time.Second)
	require.NoError(t, c.Put(ctx, "k", []byte("new"), 10*time.Second))

	clock.Advance(8 * time.Second)
	val, ok, _ := c.Get(ctx, "k")
	assert.True(t, ok)
	assert.Equal(t, []byte("new"), val)
}

func TestMemoryCache_NonPositiveTTLNotStored(t *testing.T) {
	c, _ := newTestMemoryCache()
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "k", []byte("v"), 0))

	_, ok, _ := c.Get(ctx, "k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestMemoryCache_StoresCopy(t *testing.T) {
	c, _ := newTestMemoryCache()
	ctx := context.Background()

	buf := []byte("abc")
	require.NoError(t, c.Put(ctx, "k", buf, time.Minute))
	buf[0] = 'x'

	val, _, _ := c.Get(ctx, "k")
	assert.Equal(t, []byte("abc"), val)
}

func TestMemoryCache_GetReturnsCopy(t *testing.T) {
	c, _ := newTestMemoryCache()
	ctx := context.Background()
	require.NoError(t, c.Put(ctx, "k", []byte("abc"), time.Minute))

	val, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	val[0] = 'x'

	again, _, _ := c.Get(ctx, "k")
	assert.Equal(t, []byte("abc"), again)
}

func TestMemoryCache_Sweep(t *testing.T) {
	c, clock := newTestMemoryCache()
	ctx := context.Background()
	require.NoError(t, c.Put(ctx, "short", []byte("1"), time.Second))
	require.NoError(t, c.Put(ctx, "long", []byte("2"), time.Hour))

	clock.Advance(2 * time.Second)
	c.Sweep()

	assert.Equal(t, 1, c.Len())
	_, ok, _ := c.Get(ctx, "long")
	assert.True(t, ok)
}

func TestMemoryCache_CloseIsIdempotent(t *testing.T) {
	c := NewMemoryCache()
	c.StartJanitor(time.Millisecond)
	c.Close()
	c.Close()
}

// ============================================
// RedisCache
// ============================================

func newTestRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisCache(rdb), mr
}

func TestRedisCache_PutGet(t *testing.T) {
	c, mr := newTestRedisCache(t)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "threatfeed:regional:current_feed", []byte(`{"hasData":true}`), time.Minute))

	val, ok, err := c.Get(ctx, "threatfeed:regional:current_feed")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"hasData":true}`, string(val))
	assert.Equal(t, time.Minute, mr.TTL("threatfeed:regional:current_feed"))
}

func TestRedisCache_Expiry(t *testing.T) {
	c, mr := newTestRedisCache(t)
	ctx := context.Background()
	require.NoError(t, c.Put(ctx, "k", []byte("v"), time.Minute))

	mr.FastForward(61 * time.Second)

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCache_ErrorWhenUnavailable(t *testing.T) {
	c, mr := newTestRedisCache(t)
	mr.Close()

	_, ok, err := c.Get(context.Background(), "k")
	assert.Error(t, err)
	assert.False(t, ok)
}
