package app

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var redeemRateLimitScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// RedisRedeemRateLimiter implements distributed rate limiting of the public
// redemption endpoint using Redis. Limiting per network origin slows token
// enumeration without affecting legitimate buyers on other origins.
type RedisRedeemRateLimiter struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisRedeemRateLimiter(client redis.UniversalClient, prefix string) *RedisRedeemRateLimiter {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "kitestore:rate_limit"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")

	return &RedisRedeemRateLimiter{
		client: client,
		prefix: trimmedPrefix,
	}
}

// ConsumeRateLimit counts one request for the subject inside the window and
// returns the running count plus a retry-after hint once the limit is hit.
// A nil limiter or client disables limiting entirely.
func (r *RedisRedeemRateLimiter) ConsumeRateLimit(
	ctx context.Context,
	scope string,
	subject string,
	limit int,
	window time.Duration,
) (count int, retryAfterSeconds int, err error) {
	if r == nil || r.client == nil || limit <= 0 || window <= 0 {
		return 0, 0, nil
	}

	normalizedScope := strings.TrimSpace(scope)
	normalizedSubject := strings.TrimSpace(subject)
	if normalizedScope == "" || normalizedSubject == "" {
		return 0, 0, nil
	}

	key := fmt.Sprintf("%s:%s:%s", r.prefix, normalizedScope, normalizedSubject)
	res, err := redeemRateLimitScript.Run(ctx, r.client, []string{key}, window.Milliseconds()).Result()
	if err != nil {
		return 0, 0, err
	}

	values, ok := res.([]interface{})
	if !ok || len(values) != 2 {
		return 0, 0, fmt.Errorf("unexpected rate limit script result: %v", res)
	}

	current, ok := values[0].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("unexpected rate limit count type: %T", values[0])
	}
	ttlMillis, ok := values[1].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("unexpected rate limit ttl type: %T", values[1])
	}

	retryAfter := int(math.Ceil(float64(ttlMillis) / 1000.0))
	if retryAfter < 1 {
		retryAfter = 1
	}
	return int(current), retryAfter, nil
}
