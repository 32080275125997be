// redis.go -- go-redis client, the failure-counting rate limiter and the
// state nonce ledger.
//
// Counts failed callback signatures per source IP and locks the source out
// once it crosses the configured threshold. Redis is optional: without it
// NoopRateLimiter allows everything and no nonce ledger is kept.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key prefixes. The caller supplies the rest of the key (e.g. "oauth_hmac_fail:203.0.113.4").
const (
	rateCountPrefix = "rl:count:"
	rateLockPrefix  = "rl:lock:"
	stateUsedPrefix = "oauth_state_used:"
)

// allowScript records one attempt and reports whether the caller is still allowed.
// Returns 1 when allowed, 0 when locked out. Lockout clears the counter so the
// window restarts once the lock expires.
//
// KEYS[1] = counter key, KEYS[2] = lock key
// ARGV[1] = max attempts, ARGV[2] = window ms, ARGV[3] = lockout ms
var allowScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 1 then
	return 0
end
local n = redis.call('INCR', KEYS[1])
if n == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
if n >= tonumber(ARGV[1]) then
	redis.call('SET', KEYS[2], '1', 'PX', ARGV[3])
	redis.call('DEL', KEYS[1])
	return 0
end
return 1
`)

// NewRedisClient parses redisURL, connects, and pings before returning.
// Call once at startup from main.go; the client is shared by the rate limiter and mail queue.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return rdb, nil
}

// RedisRateLimiter implements fixed-window attempt counting with lockout.
type RedisRateLimiter struct {
	rdb *redis.Client
}

// NewRedisRateLimiter wraps an existing client.
func NewRedisRateLimiter(rdb *redis.Client) *RedisRateLimiter {
	return &RedisRateLimiter{rdb: rdb}
}

// Allow records an attempt for key under policy.
// Returns ErrRateLimitExceeded once the key is locked out; any other error is a Redis failure.
// A policy with MaxAttempts <= 0 never limits.
func (l *RedisRateLimiter) Allow(ctx context.Context, key string, policy RateLimit) error {
	if policy.MaxAttempts <= 0 {
		return nil
	}
	ok, err := allowScript.Run(ctx, l.rdb,
		[]string{rateCountPrefix + key, rateLockPrefix + key},
		policy.MaxAttempts, policy.Window.Milliseconds(), policy.LockoutTTL.Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("rate limit %s: %w", key, err)
	}
	if ok == 0 {
		return ErrRateLimitExceeded
	}
	return nil
}

// Locked reports whether key is currently locked out, without recording an attempt.
func (l *RedisRateLimiter) Locked(ctx context.Context, key string) (bool, error) {
	n, err := l.rdb.Exists(ctx, rateLockPrefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("rate limit lookup %s: %w", key, err)
	}
	return n == 1, nil
}

// CheckHealth pings Redis.
func (l *RedisRateLimiter) CheckHealth(ctx context.Context) error {
	return l.rdb.Ping(ctx).Err()
}

// NoopRateLimiter is used when REDIS_URL is unset. It never limits.
type NoopRateLimiter struct{}

// Allow always permits.
func (NoopRateLimiter) Allow(context.Context, string, RateLimit) error { return nil }

// Locked always reports false.
func (NoopRateLimiter) Locked(context.Context, string) (bool, error) { return false, nil }

// CheckHealth reports ErrCacheDisabled so /health can show "disabled" rather than "error".
func (NoopRateLimiter) CheckHealth(context.Context) error { return ErrCacheDisabled }

// RedisNonceLedger remembers claimed OAuth state nonces until their token expires.
type RedisNonceLedger struct {
	rdb *redis.Client
}

// NewRedisNonceLedger wraps an existing client.
func NewRedisNonceLedger(rdb *redis.Client) *RedisNonceLedger {
	return &RedisNonceLedger{rdb: rdb}
}

// Claim records nonce with SET NX for ttl.
// Returns true on first claim, false when the nonce was already used.
func (l *RedisNonceLedger) Claim(ctx context.Context, nonce string, ttl time.Duration) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, stateUsedPrefix+nonce, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim state nonce: %w", err)
	}
	return ok, nil
}
