package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"haven/cmd/internal/ids"

	"github.com/go-redis/redis/v8"
)

// slidingWindowScript prunes, checks and appends in one round trip so
// concurrent connections and processes cannot overshoot the cap.
//
// KEYS[1] window key; ARGV: now_ms, window_ms, max, ttl_ms, member.
// Returns {allowed, retry_after_ms, count}.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

redis.call('ZREMRANGEBYSCORE', key, '-inf', '(' .. (now - window))
local count = redis.call('ZCARD', key)
if count >= max then
  local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
  local retry = window - (now - tonumber(oldest[2]))
  if retry < 1 then
    retry = 1
  end
  return {0, retry, count}
end
redis.call('ZADD', key, now, ARGV[5])
redis.call('PEXPIRE', key, ttl)
return {1, 0, count + 1}
`)

// RedisStore shares windows across processes using one sorted set per key.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// RedisOption configures RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix sets the key namespace (default "haven:rl:").
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		prefix = strings.TrimSpace(prefix)
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// NewRedisStore constructs a Redis-backed Store. The caller owns the client.
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("ratelimit: nil redis client")
	}
	s := &RedisStore{client: client, prefix: "haven:rl:"}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Hit evaluates the sliding window for key atomically on the server.
func (s *RedisStore) Hit(ctx context.Context, key string, now time.Time, p Policy) (Decision, error) {
	member, err := ids.NewULID(now)
	if err != nil {
		return Decision{}, err
	}

	res, err := slidingWindowScript.Run(ctx, s.client,
		[]string{s.prefix + key},
		now.UnixMilli(),
		p.Window.Milliseconds(),
		p.Max,
		p.ttl().Milliseconds(),
		member,
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: redis script: %w", err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("ratelimit: unexpected script reply len=%d", len(res))
	}

	return Decision{
		Allowed:    res[0] == 1,
		RetryAfter: time.Duration(res[1]) * time.Millisecond,
		Count:      int(res[2]),
	}, nil
}
