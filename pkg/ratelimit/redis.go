package ratelimit

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

var _ Limiter = (*RedisStore)(nil)

// fixedWindowScript returns {count, pttl, allowed}. A rejected call does not
// touch the counter.
var fixedWindowScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if current and tonumber(current) >= tonumber(ARGV[1]) then
  return {tonumber(current), redis.call("PTTL", KEYS[1]), 0}
end
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return {n, redis.call("PTTL", KEYS[1]), 1}
`)

// RedisStore is a fixed window limiter shared by every replica talking to the
// same Redis. Keys expire with their window, so no sweeping is needed.
type RedisStore struct {
	rdb    redis.Scripter
	prefix string
	now    func() time.Time
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix namespaces every key written by the store.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

// NewRedisStore returns a RedisStore backed by rdb.
func NewRedisStore(rdb redis.Scripter, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		rdb:    rdb,
		prefix: "kart:rl",
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Allow implements Limiter.
func (s *RedisStore) Allow(ctx context.Context, key string, p Policy) (Decision, error) {
	now := s.now()
	fullKey := s.prefix + ":" + key

	res, err := fixedWindowScript.Run(ctx, s.rdb, []string{fullKey}, p.Limit, p.Window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, errors.Wrapf(err, "rate limit %q", key)
	}
	if len(res) != 3 {
		return Decision{}, errors.Errorf("rate limit %q: unexpected script reply %v", key, res)
	}

	count, pttl, allowed := int(res[0]), res[1], res[2] == 1

	// A key without a TTL (-1) or one that expired between calls (-2) is
	// reported as resetting a full window from now.
	reset := now.Add(p.Window)
	if pttl > 0 {
		reset = now.Add(time.Duration(pttl) * time.Millisecond)
	}

	d := Decision{
		Allowed: allowed,
		Limit:   p.Limit,
		Reset:   reset,
	}
	if allowed {
		d.Remaining = max(p.Limit-count, 0)
	}
	return d, nil
}
