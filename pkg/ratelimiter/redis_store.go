package ratelimiter

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript refills and consumes atomically server-side so that
// multiple instances share one bucket per key.
//
// KEYS[1] bucket hash
// ARGV[1] capacity
// ARGV[2] refill rate
// ARGV[3] refill interval (ms)
// ARGV[4] tokens to consume
// ARGV[5] now (unix ms)
//
// Returns {remaining, last_refill_ms}; remaining is -1 when denied, with the
// stored token count left untouched.
var tokenBucketScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local interval = tonumber(ARGV[3])
local consume = tonumber(ARGV[4])
local now = tonumber(ARGV[5])

local state = redis.call('HMGET', KEYS[1], 'tokens', 'last_refill')
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if tokens == nil then
	tokens = capacity
	last_refill = now
end

local intervals = math.floor((now - last_refill) / interval)
local max_intervals = math.floor(capacity / rate) + 1
if intervals > max_intervals then
	intervals = max_intervals
end
if intervals > 0 then
	tokens = math.min(tokens + intervals * rate, capacity)
	last_refill = now
end

local allowed = tokens >= consume
if allowed then
	tokens = tokens - consume
end

redis.call('HSET', KEYS[1], 'tokens', tokens, 'last_refill', last_refill)
redis.call('PEXPIRE', KEYS[1], interval * (max_intervals + 1))

if allowed then
	return {tokens, last_refill}
end
return {-1, last_refill}
`)

// RedisStore shares bucket state across instances via Redis.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisStore creates a Redis-backed store. Keys are namespaced with
// prefix, defaulting to "ratelimit".
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisStore{client: client, keyPrefix: prefix}
}

func (rs *RedisStore) ConsumeTokens(ctx context.Context, key string, tokens int, cfg Config) (int, time.Time, error) {
	now := time.Now()
	res, err := tokenBucketScript.Run(ctx, rs.client, []string{rs.key(key)},
		cfg.Capacity,
		cfg.RefillRate,
		cfg.RefillInterval.Milliseconds(),
		tokens,
		now.UnixMilli(),
	).Int64Slice()
	if err != nil {
		return 0, time.Time{}, errors.Join(ErrStoreUnavailable, err)
	}
	if len(res) != 2 {
		return 0, time.Time{}, ErrStoreUnavailable
	}

	remaining := int(res[0])
	resetAt := time.UnixMilli(res[1]).Add(cfg.RefillInterval)
	return remaining, resetAt, nil
}

func (rs *RedisStore) Reset(ctx context.Context, key string) error {
	if err := rs.client.Del(ctx, rs.key(key)).Err(); err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}
	return nil
}

func (rs *RedisStore) key(key string) string {
	return rs.keyPrefix + ":" + key
}
