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

func TestActorBucketCapacity(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	bucket := NewActorBucket(client, 2, 1, time.Minute)

	allowed, _, err := bucket.Allow(ctx, "u-1")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, _, err = bucket.Allow(ctx, "u-1")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, retryAfter, err := bucket.Allow(ctx, "u-1")
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Greater(t, retryAfter, time.Duration(0))

	// A different actor has its own bucket.
	allowed, _, err = bucket.Allow(ctx, "u-2")
	require.NoError(t, err)
	assert.True(t, allowed)

	// Refill cannot be tested with miniredis.FastForward: the Lua script takes
	// its clock from Go's time.Now, not from Redis.
}
