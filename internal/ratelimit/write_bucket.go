package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// KEYS[1] bucket hash; ARGV rate (tokens/s), burst, ttl (ms).
// Returns {allowed, remaining tokens as string, wait in ms}.
const writeBucketScript = `
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local clock = redis.call("TIME")
local now = (clock[1] * 1000) + math.floor(clock[2] / 1000)

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1]) or burst
local last = tonumber(state[2]) or now
if now > last then
  tokens = math.min(burst, tokens + ((now - last) / 1000) * rate)
end

local allowed = 0
local wait = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
else
  wait = math.ceil(((1 - tokens) / rate) * 1000)
end

redis.call("HSET", KEYS[1], "tokens", tostring(tokens), "ts", now)
redis.call("PEXPIRE", KEYS[1], ttl)

return {allowed, tostring(tokens), wait}
`

var errBucketReply = errors.New("unexpected write bucket reply")

// RateLimitResult is the outcome of one write attempt against a client bucket.
type RateLimitResult struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

type writeBucket struct {
	client redis.Scripter
	script *redis.Script
	rate   float64
	burst  int
	ttl    time.Duration
}

func newWriteBucket(client redis.Scripter, rate float64, burst int) (*writeBucket, error) {
	if client == nil {
		return nil, errors.New("write bucket requires a redis client")
	}
	if rate <= 0 || burst <= 0 {
		return nil, errors.New("document write rate limit must be positive")
	}
	return &writeBucket{
		client: client,
		script: redis.NewScript(writeBucketScript),
		rate:   rate,
		burst:  burst,
		ttl:    bucketTTL(rate, burst),
	}, nil
}

func (b *writeBucket) take(ctx context.Context, key string) (*RateLimitResult, error) {
	reply, err := b.script.Run(ctx, b.client, []string{key}, b.rate, b.burst, b.ttl.Milliseconds()).Slice()
	if err != nil {
		return nil, fmt.Errorf("write bucket %s: %w", key, err)
	}
	return parseBucketReply(reply, b.burst)
}

func parseBucketReply(reply []any, burst int) (*RateLimitResult, error) {
	if len(reply) != 3 {
		return nil, errBucketReply
	}
	allowed, ok := replyInt(reply[0])
	if !ok {
		return nil, errBucketReply
	}
	tokens, ok := replyFloat(reply[1])
	if !ok {
		return nil, errBucketReply
	}
	waitMillis, ok := replyInt(reply[2])
	if !ok {
		return nil, errBucketReply
	}

	res := &RateLimitResult{
		Allowed:   allowed == 1,
		Limit:     burst,
		Remaining: int(math.Floor(math.Max(0, tokens))),
	}
	if !res.Allowed && waitMillis > 0 {
		res.RetryAfter = time.Duration(waitMillis) * time.Millisecond
	}
	return res, nil
}

// bucketTTL keeps an idle bucket for twice its full refill time.
func bucketTTL(rate float64, burst int) time.Duration {
	if rate <= 0 || burst <= 0 {
		return time.Second
	}
	refill := time.Duration(float64(burst) / rate * float64(time.Second))
	if ttl := 2 * refill; ttl > time.Second {
		return ttl.Round(time.Second)
	}
	return time.Second
}

func replyInt(v any) (int64, bool) {
	switch val := v.(type) {
	case int64:
		return val, true
	case string:
		n, err := strconv.ParseInt(val, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func replyFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case int64:
		return float64(val), true
	case string:
		f, err := strconv.ParseFloat(val, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
