package ratelimit

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/voicemeter/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestIngestLimiterDisabled(t *testing.T) {
	assert.Nil(t, NewIngestLimiter(config.Config{}, newRedis(t)))
	assert.Nil(t, NewIngestLimiter(config.Config{RateLimit: config.RateLimitConfig{VoiceIngestRate: 1, VoiceIngestBurst: 1}}, nil))

	var limiter *IngestLimiter
	res, err := limiter.Allow(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestIngestLimiterExhaustsBurst(t *testing.T) {
	cfg := config.Config{RateLimit: config.RateLimitConfig{VoiceIngestRate: 0.001, VoiceIngestBurst: 2}}
	limiter := NewIngestLimiter(cfg, newRedis(t))
	require.True(t, limiter.Enabled())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := limiter.Allow(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}

	res, err := limiter.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 2, res.Limit)
	assert.GreaterOrEqual(t, res.RetryAfter.Seconds(), float64(1))

	other, err := limiter.Allow(ctx, "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, other.Allowed, "buckets are per source")
}

func TestTokenBucketRejectsInvalidLimits(t *testing.T) {
	bucket := NewTokenBucket(newRedis(t))
	_, err := bucket.Allow(context.Background(), "k", 0, 1)
	assert.ErrorIs(t, err, ErrInvalidLimit)

	var missing *TokenBucket
	_, err = missing.Allow(context.Background(), "k", 1, 1)
	assert.ErrorIs(t, err, ErrNotConfigured)
}
