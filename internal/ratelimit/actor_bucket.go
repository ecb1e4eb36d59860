package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ActorBucket rate-limits mutating requests per acting user with a token
// bucket kept in Redis, so the limit holds across API replicas.
type ActorBucket struct {
	client   *redis.Client
	capacity int
	refill   float64 // tokens per second
	ttl      time.Duration
}

func NewActorBucket(client *redis.Client, capacity int, refillPerSecond float64, ttl time.Duration) *ActorBucket {
	return &ActorBucket{
		client:   client,
		capacity: capacity,
		refill:   refillPerSecond,
		ttl:      ttl,
	}
}

// Allow consumes one token for the actor if available. When rejected it also
// reports how long until the next token accrues.
func (b *ActorBucket) Allow(ctx context.Context, actorID string) (bool, time.Duration, error) {
	now := time.Now().UnixMilli()
	key := "rl:actor:" + actorID
	res, err := bucketScript.Run(ctx, b.client, []string{key}, b.capacity, b.refill, now, b.ttl.Milliseconds()).Result()
	if err != nil {
		return false, 0, fmt.Errorf("run bucket script: %w", err)
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) < 2 {
		return false, 0, fmt.Errorf("unexpected bucket script reply: %#v", res)
	}
	allowed := arr[0].(int64) == 1
	if allowed {
		return true, 0, nil
	}
	var tokens float64
	switch v := arr[1].(type) {
	case string:
		tokens, _ = strconv.ParseFloat(v, 64)
	case int64:
		tokens = float64(v)
	case float64:
		tokens = v
	}
	retryAfter := time.Duration(0)
	if b.refill > 0 && tokens < 1 {
		retryAfter = time.Duration((1 - tokens) / b.refill * float64(time.Second))
	}
	return false, retryAfter, nil
}

var bucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2]) -- tokens per second
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local data = redis.call('HMGET', key, 'tokens', 'last_ms')
local tokens = tonumber(data[1])
local last = tonumber(data[2])
if tokens == nil then tokens = capacity end
if last == nil then last = now end

local delta = math.max(0, now - last)
tokens = math.min(capacity, tokens + delta / 1000 * refill)

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call('HMSET', key, 'tokens', tokens, 'last_ms', now)
if ttl > 0 then redis.call('PEXPIRE', key, ttl) end
return {allowed, tostring(tokens)}
`)
