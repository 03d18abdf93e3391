package limiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDisabledAllowsEverything(t *testing.T) {
	l := New(Config{})
	for i := 0; i < 100; i++ {
		assert.NoError(t, l.Allow(context.Background(), "10.0.0.1"))
	}

	var nilLimiter *Limiter
	assert.NoError(t, nilLimiter.Allow(context.Background(), "10.0.0.1"))
}

func TestLocalBucketPerClient(t *testing.T) {
	l := New(Config{Enabled: true, RequestsPerSecond: 1, Burst: 2})
	frozen := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return frozen }
	ctx := context.Background()

	assert.NoError(t, l.Allow(ctx, "a"))
	assert.NoError(t, l.Allow(ctx, "a"))
	assert.ErrorIs(t, l.Allow(ctx, "a"), ErrRateLimited)

	assert.NoError(t, l.Allow(ctx, "b"), "clients have separate buckets")

	frozen = frozen.Add(time.Second)
	assert.NoError(t, l.Allow(ctx, "a"), "bucket refills over time")
}

func TestDefaultBurst(t *testing.T) {
	l := New(Config{Enabled: true, RequestsPerSecond: 0.2})
	assert.Equal(t, 1, l.burst)
	assert.Equal(t, time.Minute, l.window)
}

func TestIdleBucketsEvicted(t *testing.T) {
	l := New(Config{Enabled: true, RequestsPerSecond: 1, Burst: 2, Window: time.Minute})
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	assert.NoError(t, l.Allow(ctx, "a"))
	assert.NoError(t, l.Allow(ctx, "b"))
	assert.Len(t, l.buckets, 2)

	now = now.Add(30 * time.Second)
	assert.NoError(t, l.Allow(ctx, "b"))

	now = now.Add(45 * time.Second)
	assert.NoError(t, l.Allow(ctx, "c"))
	assert.NotContains(t, l.buckets, "a")
	assert.Contains(t, l.buckets, "b")
	assert.Contains(t, l.buckets, "c")
}
