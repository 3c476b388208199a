// Package ratelimit implements the per-key token-bucket rate limiter
// (spec.md §4.2). State lives in Redis under key "rl:<key_id>" and is
// mutated by a single Lua script so the check-and-decrement is atomic
// server-side — a naive GET/compute/SET round trip is explicitly
// disallowed by spec.md §9.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shoreline-labs/llmgate/internal/telemetry"
)

// tokenBucketScript is the exact algorithm from spec.md §4.2: refill by
// elapsed time, allow if tokens >= 1, store back with a TTL that outlives
// one full refill cycle.
const tokenBucketScript = `
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local rps = tonumber(ARGV[2])
local burst = tonumber(ARGV[3])
local ttl_ms = tonumber(ARGV[4])

local state = redis.call('HMGET', key, 'tokens', 'ts')
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil then tokens = burst end
if ts == nil then ts = now_ms end

local delta_ms = math.max(0, now_ms - ts)
local refill = (delta_ms / 1000.0) * rps
tokens = math.min(burst, tokens + refill)

local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end

redis.call('HMSET', key, 'tokens', tokens, 'ts', now_ms)
redis.call('PEXPIRE', key, ttl_ms)

return {allowed, tostring(tokens)}
`

// Limiter is a Redis-backed token-bucket rate limiter with a fail-open
// fallback: if Redis is unreachable the request is allowed (spec.md §4.2).
type Limiter struct {
	redis  *redis.Client
	rps    float64
	burst  int
	logger *slog.Logger
	script *redis.Script
}

// New creates a Limiter with the given default rate (tokens/second) and
// burst capacity, applied to every key.
func New(rdb *redis.Client, rps float64, burst int, logger *slog.Logger) *Limiter {
	return &Limiter{
		redis:  rdb,
		rps:    rps,
		burst:  burst,
		logger: logger,
		script: redis.NewScript(tokenBucketScript),
	}
}

// Allow evaluates the token bucket for keyID. On any Redis error it fails
// open (allows the request) and logs the error — availability takes
// precedence over strict rate-limit accuracy, per spec.md §4.2.
func (l *Limiter) Allow(ctx context.Context, keyID string) bool {
	if l.redis == nil {
		return true
	}

	nowMs := time.Now().UnixMilli()
	ttlMs := int64(2000)
	if l.rps > 0 {
		if computed := int64(2000 + 1000*float64(l.burst)/l.rps); computed > ttlMs {
			ttlMs = computed
		}
	}

	res, err := l.script.Run(ctx, l.redis, []string{fmt.Sprintf("rl:%s", keyID)}, nowMs, l.rps, l.burst, ttlMs).Result()
	if err != nil {
		l.logger.Warn("rate limiter: redis unavailable, failing open", "error", err)
		return true
	}

	vals, ok := res.([]any)
	if !ok || len(vals) < 1 {
		l.logger.Warn("rate limiter: unexpected script result, failing open", "result", res)
		return true
	}

	allowed, ok := vals[0].(int64)
	if !ok {
		l.logger.Warn("rate limiter: unexpected allowed type, failing open", "result", res)
		return true
	}

	if allowed != 1 {
		telemetry.RateLimitExceededTotal.Inc()
		return false
	}
	return true
}
