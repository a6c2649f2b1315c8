package ratelimit

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fartech2025/SDR-Juridico-sub003/internal/config"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// ===== MemoryLimiter Tests =====

func TestMemoryLimiter_Check_AllowsUpToMax(t *testing.T) {
	l := NewMemoryLimiter(time.Minute, 3, 0, 0)
	ctx := context.Background()

	for i, want := range []int{2, 1, 0} {
		res, err := l.Check(ctx, "u1:10.0.0.1", t0.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, want, res.Remaining)
		assert.Equal(t, 3, res.Limit)
	}

	res, err := l.Check(ctx, "u1:10.0.0.1", t0.Add(3*time.Second))
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
}

func TestMemoryLimiter_Check_DeniedRequestsAreNotCounted(t *testing.T) {
	l := NewMemoryLimiter(time.Minute, 1, 0, 0)
	ctx := context.Background()

	res, _ := l.Check(ctx, "k", t0)
	require.True(t, res.Allowed)

	for i := 1; i <= 5; i++ {
		res, _ = l.Check(ctx, "k", t0.Add(time.Duration(i)*time.Second))
		assert.False(t, res.Allowed)
	}

	// Only the single admitted request occupies the window.
	res, _ = l.Check(ctx, "k", t0.Add(time.Minute))
	assert.True(t, res.Allowed)
}

func TestMemoryLimiter_Check_WindowBoundary(t *testing.T) {
	l := NewMemoryLimiter(time.Minute, 1, 0, 0)
	ctx := context.Background()

	res, _ := l.Check(ctx, "k", t0)
	require.True(t, res.Allowed)

	res, _ = l.Check(ctx, "k", t0.Add(time.Minute-time.Nanosecond))
	assert.False(t, res.Allowed, "stamp still inside the window")

	res, _ = l.Check(ctx, "k", t0.Add(time.Minute))
	assert.True(t, res.Allowed, "stamp exactly one window old is pruned")
}

func TestMemoryLimiter_Check_KeysAreIndependent(t *testing.T) {
	l := NewMemoryLimiter(time.Minute, 1, 0, 0)
	ctx := context.Background()

	res, _ := l.Check(ctx, "alice:1.1.1.1", t0)
	assert.True(t, res.Allowed)
	res, _ = l.Check(ctx, "bob:1.1.1.1", t0)
	assert.True(t, res.Allowed)
	res, _ = l.Check(ctx, "alice:2.2.2.2", t0)
	assert.True(t, res.Allowed)
	res, _ = l.Check(ctx, "alice:1.1.1.1", t0)
	assert.False(t, res.Allowed)

	assert.Equal(t, 3, l.Len())
}

func TestMemoryLimiter_Check_ConcurrentNeverExceedsMax(t *testing.T) {
	const max = 50
	l := NewMemoryLimiter(time.Minute, max, 0, 0)
	ctx := context.Background()

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := l.Check(ctx, "shared", t0)
			if err == nil && res.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(max), allowed.Load())
}

func TestMemoryLimiter_IdleTTLClampedToWindow(t *testing.T) {
	l := NewMemoryLimiter(time.Hour, 1, time.Second, 10)
	res, _ := l.Check(context.Background(), "k", t0)
	assert.True(t, res.Allowed)
	assert.Equal(t, 1, l.Len())
}

func TestMemoryLimiter_Check_FullCacheKeepsLiveWindows(t *testing.T) {
	l := NewMemoryLimiter(time.Minute, 2, time.Minute, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := l.Check(ctx, "victim", t0)
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}
	res, _ := l.Check(ctx, "victim", t0)
	require.False(t, res.Allowed)

	res, _ = l.Check(ctx, "other-1", t0.Add(time.Second))
	assert.True(t, res.Allowed)

	// Both tracked windows are live, so a third key cannot displace one.
	res, err := l.Check(ctx, "other-2", t0.Add(2*time.Second))
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 2, l.Len())

	res, _ = l.Check(ctx, "victim", t0.Add(3*time.Second))
	assert.False(t, res.Allowed, "a full cache must not reset a live window")
	assert.Equal(t, 0, res.Remaining)
}

func TestMemoryLimiter_Check_FullCacheEvictsIdleWindow(t *testing.T) {
	l := NewMemoryLimiter(time.Minute, 1, time.Hour, 2)
	ctx := context.Background()

	res, _ := l.Check(ctx, "a", t0)
	require.True(t, res.Allowed)
	res, _ = l.Check(ctx, "b", t0.Add(30*time.Second))
	require.True(t, res.Allowed)

	// "a" has no timestamps left in the window; "b" still does.
	res, _ = l.Check(ctx, "c", t0.Add(61*time.Second))
	assert.True(t, res.Allowed)
	assert.Equal(t, 2, l.Len())

	res, _ = l.Check(ctx, "b", t0.Add(62*time.Second))
	assert.False(t, res.Allowed)
}

func TestMemoryLimiter_Check_FullCacheConcurrentNewKeys(t *testing.T) {
	l := NewMemoryLimiter(time.Minute, 1, time.Minute, 4)
	ctx := context.Background()

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := l.Check(ctx, fmt.Sprintf("k%d", i), t0)
			if err == nil && res.Allowed {
				allowed.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(4), allowed.Load())
	assert.Equal(t, 4, l.Len())
}

// ===== Factory Tests =====

func TestNew_DefaultsToMemory(t *testing.T) {
	l := New(config.RateLimitConfig{Window: time.Minute, MaxRequests: 10, Store: "redis"}, nil, "secgate:")
	_, ok := l.(*MemoryLimiter)
	assert.True(t, ok, "redis store without a client falls back to memory")
}

// ===== RedisLimiter Tests =====

func TestRedisLimiter_Check(t *testing.T) {
	addr := os.Getenv("SECGATE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("SECGATE_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	ctx := context.Background()
	key := "test:" + time.Now().Format(time.RFC3339Nano)
	l := NewRedisLimiter(client, "secgate:ratelimit:", time.Minute, 2)
	defer client.Del(ctx, "secgate:ratelimit:"+key)

	res, err := l.Check(ctx, key, t0)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 1, res.Remaining)

	res, err = l.Check(ctx, key, t0.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)

	res, err = l.Check(ctx, key, t0.Add(2*time.Second))
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	res, err = l.Check(ctx, key, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}
