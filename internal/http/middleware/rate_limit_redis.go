package middleware

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// formCounterScript returns {hits, ttl_ms}. The first hit opens the window
// and the key expires with it.
var formCounterScript = redis.NewScript(`
local hits = redis.call("INCR", KEYS[1])
local ttl = redis.call("PTTL", KEYS[1])
if hits == 1 or ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {hits, ttl}
`)

var errNoRedisClient = errors.New("rate limit: redis client is nil")

// RedisFixedWindowLimiter shares form-post limits across instances. It is
// used when submissions are stored in Redis.
type RedisFixedWindowLimiter struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisFixedWindowLimiter(client redis.UniversalClient, prefix string) *RedisFixedWindowLimiter {
	if prefix == "" {
		prefix = "rl"
	}
	return &RedisFixedWindowLimiter{client: client, prefix: prefix}
}

func (l *RedisFixedWindowLimiter) Allow(ctx context.Context, key string, limit int, size time.Duration) (bool, time.Duration, error) {
	if l.client == nil {
		return false, 0, errNoRedisClient
	}
	if key == "" {
		key = "unknown"
	}
	limit = max(limit, 1)
	windowMS := size.Milliseconds()
	if windowMS <= 0 {
		windowMS = 1000
	}

	res, err := formCounterScript.Run(ctx, l.client, []string{l.prefix + ":" + key}, windowMS).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit %s: %w", key, err)
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("rate limit %s: unexpected script reply %v", key, res)
	}
	hits, ttlMS := res[0], res[1]
	if hits <= int64(limit) {
		return true, 0, nil
	}
	return false, time.Duration(max(ttlMS, 1)) * time.Millisecond, nil
}
