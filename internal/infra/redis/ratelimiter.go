package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kursadbilgin/push-engine/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultLimitPerSec = 100
	rateWindow         = time.Second
	// minWindowWait keeps Wait from spinning on Redis right at a window edge.
	minWindowWait = 5 * time.Millisecond
)

// KEYS[1] is the counter for one kind and one window; ARGV[1] is the limit
// and ARGV[2] the window length in milliseconds. Returns the slot number
// taken, or 0 when the window is full.
var takeSlotScript = goredis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
if n > tonumber(ARGV[1]) then
  return 0
end
return n
`)

var _ ratelimit.RateLimiter = (*RedisRateLimiter)(nil)

// RedisRateLimiter caps gateway calls per notification kind across all
// replicas using one fixed one-second window per kind.
type RedisRateLimiter struct {
	client goredis.Scripter
	limit  int
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewRedisRateLimiter(client goredis.Scripter, limitPerSec int) (*RedisRateLimiter, error) {
	return newRedisRateLimiter(client, limitPerSec, time.Now, sleepWithContext)
}

func newRedisRateLimiter(
	client goredis.Scripter,
	limitPerSec int,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if limitPerSec <= 0 {
		limitPerSec = defaultLimitPerSec
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}

	return &RedisRateLimiter{
		client: client,
		limit:  limitPerSec,
		now:    nowFn,
		sleep:  sleepFn,
	}, nil
}

// Wait takes a slot for kind, sleeping until the next window each time the
// current one is full. It returns early on ctx cancellation or a Redis error.
func (r *RedisRateLimiter) Wait(ctx context.Context, kind string) error {
	for {
		ok, retryIn, err := r.take(ctx, kind)
		if err != nil || ok {
			return err
		}
		if err := r.sleep(ctx, retryIn); err != nil {
			return err
		}
	}
}

// take reports whether a slot was granted and, if not, how long until the
// window rolls over.
func (r *RedisRateLimiter) take(ctx context.Context, kind string) (bool, time.Duration, error) {
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind == "" {
		return false, 0, fmt.Errorf("kind is required")
	}

	now := r.now().UTC()
	window := now.Truncate(rateWindow)
	slotKey := rateLimitKey(kind, window)

	slot, err := takeSlotScript.Run(ctx, r.client, []string{slotKey}, r.limit, rateWindow.Milliseconds()).Int()
	if err != nil {
		return false, 0, fmt.Errorf("failed to evaluate rate limit for %s: %w", kind, err)
	}
	if slot > 0 {
		return true, 0, nil
	}

	return false, max(window.Add(rateWindow).Sub(now), minWindowWait), nil
}

func rateLimitKey(kind string, window time.Time) string {
	return key("ratelimit", kind, strconv.FormatInt(window.Unix(), 10))
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
