package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sosbrian/microsoft-teams-apps-company-communicator-sub002/internal/throttle"
)

const defaultThrottleKey = "throttle:send"

// extendScript stores ARGV[1] (unix millis) unless a later deadline is already stored,
// and expires the key ARGV[2] milliseconds from now.
var extendScript = goredis.NewScript(`
local current = redis.call("GET", KEYS[1])
if current and tonumber(current) >= tonumber(ARGV[1]) then
  return 0
end
redis.call("SET", KEYS[1], ARGV[1])
redis.call("PEXPIRE", KEYS[1], ARGV[2])
return 1
`)

var _ throttle.Store = (*RedisThrottleStore)(nil)

// RedisThrottleStore keeps the shared throttle deadline in a single Redis key.
type RedisThrottleStore struct {
	client *goredis.Client
	key    string
	now    func() time.Time
	script *goredis.Script
}

func NewRedisThrottleStore(client *goredis.Client) (*RedisThrottleStore, error) {
	return newRedisThrottleStore(client, defaultThrottleKey, time.Now)
}

func newRedisThrottleStore(client *goredis.Client, key string, nowFn func() time.Time) (*RedisThrottleStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if key == "" {
		key = defaultThrottleKey
	}
	if nowFn == nil {
		nowFn = time.Now
	}

	return &RedisThrottleStore{
		client: client,
		key:    key,
		now:    nowFn,
		script: extendScript,
	}, nil
}

func (s *RedisThrottleStore) ThrottledUntil(ctx context.Context) (time.Time, bool, error) {
	if s == nil || s.client == nil {
		return time.Time{}, false, fmt.Errorf("throttle store is not initialized")
	}

	raw, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, goredis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read throttle state: %w", err)
	}

	millis, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("invalid throttle state %q: %w", raw, err)
	}

	return time.UnixMilli(millis).UTC(), true, nil
}

func (s *RedisThrottleStore) ExtendThrottledUntil(ctx context.Context, until time.Time) error {
	if s == nil || s.client == nil || s.script == nil {
		return fmt.Errorf("throttle store is not initialized")
	}

	ttl := until.Sub(s.now())
	if ttl <= 0 {
		return nil
	}

	err := s.script.Run(ctx, s.client, []string{s.key}, until.UnixMilli(), ttl.Milliseconds()).Err()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("failed to extend throttle state: %w", err)
	}
	return nil
}
