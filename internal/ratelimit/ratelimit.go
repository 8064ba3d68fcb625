// internal/ratelimit/ratelimit.go
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// checkScript purges entries older than the window, counts the rest and
// records the new entry only when under the limit. Running it as a script
// keeps check-and-increment atomic per key against concurrent callers.
var checkScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window_start = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])
redis.call('ZREMRANGEBYSCORE', key, 0, window_start)
local count = redis.call('ZCARD', key)
if count < limit then
    redis.call('ZADD', key, now, ARGV[5])
    redis.call('EXPIRE', key, ttl)
    return {1, limit - count - 1}
end
return {0, 0}
`)

// Limiter is a Redis-backed sliding-window rate limiter. Keys are
// caller-defined, e.g. "ratelimit:tenant:<id>:sms".
type Limiter struct {
	rdb redis.Cmdable
	now func() time.Time
}

func NewLimiter(rdb redis.Cmdable) *Limiter {
	return &Limiter{rdb: rdb, now: time.Now}
}

// Check reports whether another attempt is allowed for key within the
// rolling window, recording it when allowed. Returns the remaining slots.
func (l *Limiter) Check(ctx context.Context, key string, limit int, window time.Duration) (bool, int, error) {
	now := l.now()
	nowSec := float64(now.UnixNano()) / float64(time.Second)
	windowStart := nowSec - window.Seconds()
	member := fmt.Sprintf("%d", now.UnixNano())

	res, err := checkScript.Run(ctx, l.rdb, []string{key},
		nowSec, windowStart, limit, int(window.Seconds()), member).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit check failed for %s: %w", key, err)
	}

	return res[0] == 1, int(res[1]), nil
}

// Remaining reports how many attempts are left in the current window
// without consuming one.
func (l *Limiter) Remaining(ctx context.Context, key string, limit int, window time.Duration) (int, error) {
	nowSec := float64(l.now().UnixNano()) / float64(time.Second)
	windowStart := nowSec - window.Seconds()

	pipe := l.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%f", windowStart))
	card := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}

	remaining := limit - int(card.Val())
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Reset clears the window for a key.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	return l.rdb.Del(ctx, key).Err()
}

// Key builds the conventional (tenant, channel) rate limit key.
func Key(tenantID, channel string) string {
	return fmt.Sprintf("ratelimit:tenant:%s:%s", tenantID, channel)
}
