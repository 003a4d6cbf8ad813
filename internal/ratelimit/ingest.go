package ratelimit

import (
	"context"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/voicemeter/internal/config"
)

const keyVoiceIngest = "voicemeter:ratelimit:voice:"

// IngestLimiter throttles voice telemetry deliveries per source. A nil
// limiter allows everything.
type IngestLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewIngestLimiter(cfg config.Config, client *redis.Client) *IngestLimiter {
	limits := cfg.RateLimit
	if client == nil || limits.VoiceIngestRate <= 0 || limits.VoiceIngestBurst <= 0 {
		return nil
	}
	return &IngestLimiter{
		bucket: NewTokenBucket(client),
		rate:   limits.VoiceIngestRate,
		burst:  limits.VoiceIngestBurst,
	}
}

func (l *IngestLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *IngestLimiter) Allow(ctx context.Context, source string) (Result, error) {
	if !l.Enabled() {
		return Result{Allowed: true}, nil
	}
	source = strings.TrimSpace(source)
	if source == "" {
		source = "unknown"
	}
	return l.bucket.Allow(ctx, keyVoiceIngest+source, l.rate, l.burst)
}
