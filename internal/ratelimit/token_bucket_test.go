package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBucket(t *testing.T, capacity int, refill float64) (*TokenBucket, *time.Time) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	bucket := NewTokenBucket(client, "rl:upload:", capacity, refill, time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	bucket.now = func() time.Time { return now }
	return bucket, &now
}

func TestTokenBucket(t *testing.T) {
	ctx := context.Background()
	bucket, _ := newTestBucket(t, 2, 1)

	d, err := bucket.Allow(ctx, "tenant")
	if err != nil || !d.Allowed {
		t.Fatalf("expected first token allowed got allowed=%v err=%v", d.Allowed, err)
	}
	d, _ = bucket.Allow(ctx, "tenant")
	if !d.Allowed {
		t.Fatalf("expected second token allowed")
	}
	d, _ = bucket.Allow(ctx, "tenant")
	if d.Allowed {
		t.Fatalf("expected third token to be rejected")
	}
	if d.RetryAfter <= 0 || d.RetryAfter > time.Second {
		t.Fatalf("unexpected retry-after %s", d.RetryAfter)
	}
}

func TestTokenBucketRefills(t *testing.T) {
	ctx := context.Background()
	bucket, now := newTestBucket(t, 1, 2)

	d, err := bucket.Allow(ctx, "tenant")
	require.NoError(t, err)
	require.True(t, d.Allowed)
	d, err = bucket.Allow(ctx, "tenant")
	require.NoError(t, err)
	require.False(t, d.Allowed)
	assert.Equal(t, 500*time.Millisecond, d.RetryAfter)

	*now = now.Add(250 * time.Millisecond)
	d, err = bucket.Allow(ctx, "tenant")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.InDelta(t, 0.5, d.Remaining, 1e-9)

	*now = now.Add(250 * time.Millisecond)
	d, err = bucket.Allow(ctx, "tenant")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestTokenBucketKeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	bucket, _ := newTestBucket(t, 1, 0)

	d, err := bucket.Allow(ctx, "a")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	d, err = bucket.Allow(ctx, "a")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Zero(t, d.RetryAfter, "no refill means no retry hint")

	d, err = bucket.Allow(ctx, "b")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}
