package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestMemoryStore() (*MemoryStore, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)}
	s := NewMemoryStore()
	s.now = clock.Now
	return s, clock
}

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewRedisStore(rdb, WithKeyPrefix("test:rl:")), mr
}

// limiterCases runs the same boundary scenarios against every implementation.
func limiterCases(t *testing.T, newLimiter func(t *testing.T) Limiter) {
	ctx := context.Background()
	policy := Policy{Limit: 3, Window: time.Minute}

	t.Run("exactly limit requests succeed", func(t *testing.T) {
		l := newLimiter(t)

		for i := range 3 {
			d, err := l.Allow(ctx, "products:203.0.113.5", policy)
			require.NoError(t, err)
			assert.True(t, d.Allowed, "request %d should pass", i+1)
			assert.Equal(t, 3-(i+1), d.Remaining)
			assert.Equal(t, 3, d.Limit)
		}

		d, err := l.Allow(ctx, "products:203.0.113.5", policy)
		require.NoError(t, err)
		assert.False(t, d.Allowed)
		assert.Equal(t, 0, d.Remaining)
		assert.False(t, d.Reset.IsZero())
	})

	t.Run("different keys are independent", func(t *testing.T) {
		l := newLimiter(t)

		for range 3 {
			_, err := l.Allow(ctx, "products:10.0.0.1", policy)
			require.NoError(t, err)
		}
		d, err := l.Allow(ctx, "products:10.0.0.1", policy)
		require.NoError(t, err)
		require.False(t, d.Allowed)

		d, err = l.Allow(ctx, "products:10.0.0.2", policy)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	})

	t.Run("bucket prefixes do not share quota", func(t *testing.T) {
		l := newLimiter(t)
		one := Policy{Limit: 1, Window: time.Minute}

		d, err := l.Allow(ctx, "cart:read:10.0.0.1", one)
		require.NoError(t, err)
		require.True(t, d.Allowed)

		d, err = l.Allow(ctx, "cart:write:10.0.0.1", one)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	})
}

func TestMemoryStore(t *testing.T) {
	limiterCases(t, func(*testing.T) Limiter {
		s, _ := newTestMemoryStore()
		return s
	})
}

func TestRedisStore(t *testing.T) {
	limiterCases(t, func(t *testing.T) Limiter {
		s, _ := newTestRedisStore(t)
		return s
	})
}

func TestMemoryStore_WindowReset(t *testing.T) {
	s, clock := newTestMemoryStore()
	policy := Policy{Limit: 2, Window: time.Minute}
	ctx := context.Background()

	first, err := s.Allow(ctx, "k", policy)
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(time.Minute), first.Reset)

	_, _ = s.Allow(ctx, "k", policy)
	d, _ := s.Allow(ctx, "k", policy)
	require.False(t, d.Allowed)

	// Still inside the window at exactly resetAt.
	clock.Advance(time.Minute)
	d, _ = s.Allow(ctx, "k", policy)
	assert.False(t, d.Allowed)

	clock.Advance(time.Millisecond)
	d, _ = s.Allow(ctx, "k", policy)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Remaining)
	assert.Equal(t, clock.Now().Add(time.Minute), d.Reset)
}

func TestMemoryStore_RejectionDoesNotMutate(t *testing.T) {
	s, _ := newTestMemoryStore()
	policy := Policy{Limit: 1, Window: time.Minute}
	ctx := context.Background()

	_, _ = s.Allow(ctx, "k", policy)
	for range 5 {
		d, _ := s.Allow(ctx, "k", policy)
		require.False(t, d.Allowed)
	}
	assert.Equal(t, 1, s.entries["k"].count)
}

func TestMemoryStore_Sweep(t *testing.T) {
	s, clock := newTestMemoryStore()
	ctx := context.Background()

	_, _ = s.Allow(ctx, "short", Policy{Limit: 5, Window: time.Second})
	_, _ = s.Allow(ctx, "long", Policy{Limit: 5, Window: time.Hour})
	require.Equal(t, 2, s.Len())

	clock.Advance(2 * time.Second)
	removed := s.Sweep(clock.Now())

	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, s.Len())
	_, ok := s.entries["long"]
	assert.True(t, ok)
}

func TestRedisStore_WindowExpires(t *testing.T) {
	s, mr := newTestRedisStore(t)
	policy := Policy{Limit: 1, Window: time.Minute}
	ctx := context.Background()

	d, err := s.Allow(ctx, "contact:10.0.0.1", policy)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	d, err = s.Allow(ctx, "contact:10.0.0.1", policy)
	require.NoError(t, err)
	require.False(t, d.Allowed)

	mr.FastForward(time.Minute + time.Second)

	d, err = s.Allow(ctx, "contact:10.0.0.1", policy)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.True(t, mr.Exists("test:rl:contact:10.0.0.1"))
}

func TestRedisStore_Unavailable(t *testing.T) {
	s, mr := newTestRedisStore(t)
	mr.Close()

	_, err := s.Allow(context.Background(), "k", Policy{Limit: 1, Window: time.Minute})
	require.Error(t, err)
}

func TestDecision_RetryAfter(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	d := Decision{Reset: now.Add(30 * time.Second)}
	assert.Equal(t, 30*time.Second, d.RetryAfter(now))

	d = Decision{Reset: now.Add(-time.Second)}
	assert.Equal(t, time.Duration(0), d.RetryAfter(now))
}
