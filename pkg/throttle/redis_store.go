package throttle

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisBucketScript runs the penalty-scaled token bucket atomically.
// KEYS[1] = bucket key (e.g. "aegis:throttle:agent-7")
// ARGV[1] = refill rate (tokens per second, before multiplier)
// ARGV[2] = capacity (max tokens)
// ARGV[3] = cost (tokens to consume)
// ARGV[4] = current unix timestamp (seconds, fractional)
var redisBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "last_refill", "multiplier")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])
local multiplier = tonumber(state[3])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end
if not multiplier then
    multiplier = 1.0
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = tokens + elapsed * rate * multiplier
    if tokens > capacity then
        tokens = capacity
    end
    last_refill = now
end

local allowed = 0
if tokens >= cost then
    tokens = tokens - cost
    allowed = 1
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill, "multiplier", multiplier)
redis.call("EXPIRE", key, 3600)

return {allowed, tostring(tokens)}
`)

// RedisStore implements Store on Redis so every replica enforcing the
// hot path sees the same bucket.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a store backed by Redis.
func NewRedisStore(addr, password string, db int) *RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisStore{client: rdb}
}

func bucketKey(agentID string) string {
	return fmt.Sprintf("aegis:throttle:%s", agentID)
}

// Allow executes the Lua script to check and update the bucket.
func (s *RedisStore) Allow(ctx context.Context, agentID string, policy Policy, cost int) (bool, error) {
	now := float64(time.Now().UnixMicro()) / 1e6

	res, err := redisBucketScript.Run(ctx, s.client, []string{bucketKey(agentID)},
		policy.RefillRate, policy.Capacity, cost, now).Result()
	if err != nil {
		return false, fmt.Errorf("redis throttle error: %w", err)
	}

	results, ok := res.([]interface{})
	if !ok || len(results) != 2 {
		return false, fmt.Errorf("invalid response from lua script")
	}

	allowedVal, _ := results[0].(int64)
	return allowedVal == 1, nil
}

// ApplyPenalty writes the multiplier into bucket state. The script reads
// it back on every Allow, so the scaling takes effect atomically.
func (s *RedisStore) ApplyPenalty(ctx context.Context, agentID string, policy Policy, severity int) error {
	if severity < 1 {
		severity = 1
	}
	m := 1.0 - float64(severity-1)*policy.Step
	if m < policy.Floor {
		m = policy.Floor
	}
	if err := s.client.HSet(ctx, bucketKey(agentID), "multiplier", m).Err(); err != nil {
		return fmt.Errorf("redis throttle penalty: %w", err)
	}
	return nil
}

// Reset deletes the bucket; the next Allow recreates it full and unpenalized.
func (s *RedisStore) Reset(ctx context.Context, agentID string) error {
	if err := s.client.Del(ctx, bucketKey(agentID)).Err(); err != nil {
		return fmt.Errorf("redis throttle reset: %w", err)
	}
	return nil
}
