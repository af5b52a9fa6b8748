package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/optchain/pkg/config"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 10, 6, 13, 30, 0, 0, time.UTC)}
}

func TestBucketBurstThenRefill(t *testing.T) {
	tests := []struct {
		name      string
		perMinute float64
		burst     int
	}{
		{"60 per minute", 60, 5},
		{"30 per minute", 30, 3},
		{"120 per minute", 120, 40},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := newFakeClock()
			b := NewBucket(tt.perMinute, tt.burst, clk.Now)

			for i := 0; i < tt.burst; i++ {
				require.True(t, b.TryAcquire(), "acquire %d", i)
			}
			assert.False(t, b.TryAcquire(), "burst+1 must fail")

			clk.Advance(time.Duration(60 / tt.perMinute * float64(time.Second)))
			assert.True(t, b.TryAcquire(), "one token after 60/R seconds")
			assert.False(t, b.TryAcquire(), "only one token refilled")
		})
	}
}

func TestBucketRefillClampedToCapacity(t *testing.T) {
	clk := newFakeClock()
	b := NewBucket(60, 2, clk.Now)

	require.True(t, b.TryAcquire())
	require.True(t, b.TryAcquire())

	clk.Advance(time.Hour)
	assert.InDelta(t, 2.0, b.Tokens(), 1e-9)
}

func TestBucketUnlimited(t *testing.T) {
	b := NewBucket(0, 0, nil)
	for i := 0; i < 1000; i++ {
		require.True(t, b.TryAcquire())
	}
}

func TestAcquireNonBlocking(t *testing.T) {
	clk := newFakeClock()
	b := NewBucket(1, 1, clk.Now)

	require.NoError(t, b.Acquire(context.Background(), true))
	assert.ErrorIs(t, b.Acquire(context.Background(), true), ErrExhausted)
}

func TestWaitHonoursContext(t *testing.T) {
	clk := newFakeClock()
	b := NewBucket(1, 1, clk.Now)
	require.True(t, b.TryAcquire())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLimiterClasses(t *testing.T) {
	clk := newFakeClock()
	l := New(config.RateLimitsConfig{
		Discovery:  config.RateLimitClass{PerMinute: 60, Burst: 1},
		Snapshot:   config.RateLimitClass{PerMinute: 60, Burst: 2},
		Historical: config.RateLimitClass{PerMinute: 0, Burst: 0},
	}, clk.Now)

	assert.True(t, l.TryAcquire(ClassDiscovery))
	assert.False(t, l.TryAcquire(ClassDiscovery))

	// 클래스 간 버킷은 독립
	assert.True(t, l.TryAcquire(ClassSnapshot))
	assert.True(t, l.TryAcquire(ClassSnapshot))
	assert.False(t, l.TryAcquire(ClassSnapshot))

	for i := 0; i < 10; i++ {
		assert.True(t, l.TryAcquire(ClassHistorical))
	}
	assert.Equal(t, 2, l.Bucket(ClassSnapshot).Capacity())
}
