package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrWindow bumps a counter and arms its expiry on the first hit, in one
// round trip so a crash cannot leave a counter without a TTL.
var incrWindow = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// releaseOwned deletes KEYS[1] only while it still holds ARGV[1].
var releaseOwned = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// FixedWindowAllow counts one hit against scope and reports whether the
// window's total is still within limit.
func (c *Client) FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error) {
	if c == nil || c.rdb == nil {
		return false, 0, errNotInitialized
	}
	count, err := incrWindow.Run(ctx, c.rdb, []string{c.RateLimitKey(scope)}, window.Milliseconds()).Int64()
	if err != nil {
		return false, 0, err
	}
	return count <= limit, count, nil
}

// ReleaseIfOwner deletes key when its value equals owner. It reports whether
// a delete happened.
func (c *Client) ReleaseIfOwner(ctx context.Context, key, owner string) (bool, error) {
	if c == nil || c.rdb == nil {
		return false, errNotInitialized
	}
	deleted, err := releaseOwned.Run(ctx, c.rdb, []string{key}, owner).Int64()
	if err != nil {
		return false, err
	}
	return deleted == 1, nil
}
