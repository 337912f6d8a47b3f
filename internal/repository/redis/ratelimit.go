package redis

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Sliding window over a sorted set of hit timestamps.
// KEYS[1] = key
// ARGV[1] = now_ms
// ARGV[2] = window_ms
// ARGV[3] = limit
// ARGV[4] = member (unique)
const luaSlidingWindow = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
redis.call('ZADD', key, 'NX', now, member)
local count = redis.call('ZCARD', key)
redis.call('PEXPIRE', key, window)

if count > limit then
  local earliest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
  local earliestScore = tonumber(earliest[2]) or (now - window)
  local retry_ms = window - (now - earliestScore)
  if retry_ms < 0 then retry_ms = 0 end
  return {0, count, retry_ms}
end
return {1, count, 0}
`

// RateDecision is the outcome of one limiter hit.
type RateDecision struct {
	Allowed    bool
	Current    int64
	RetryAfter time.Duration
}

type SlidingWindowLimiter struct {
	rdb    *redis.Client
	scope  string
	limit  int
	window time.Duration
	script *redis.Script
}

func NewSlidingWindowLimiter(
	rdb *redis.Client,
	scope string,
	limit int,
	window time.Duration,
) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		rdb:    rdb,
		scope:  scope,
		limit:  limit,
		window: window,
		script: redis.NewScript(luaSlidingWindow),
	}
}

// Allow records a hit for id and reports whether it fits in the window.
func (l *SlidingWindowLimiter) Allow(ctx context.Context, id string) (RateDecision, error) {
	res, err := l.script.Run(
		ctx,
		l.rdb,
		[]string{KeyRateLimit(l.scope, id)},
		time.Now().UnixMilli(), l.window.Milliseconds(), l.limit, randomHex(12),
	).Result()
	if err != nil {
		return RateDecision{}, err
	}

	arr, ok := res.([]any)
	if !ok || len(arr) != 3 {
		return RateDecision{}, fmt.Errorf("bad script result: %v", res)
	}

	return RateDecision{
		Allowed:    toInt(arr[0]) == 1,
		Current:    toInt(arr[1]),
		RetryAfter: time.Duration(toInt(arr[2])) * time.Millisecond,
	}, nil
}

func toInt(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		var x int64
		fmt.Sscan(t, &x)
		return x
	default:
		return 0
	}
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
