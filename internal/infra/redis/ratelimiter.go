package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kursadbilgin/accountability-dispatch/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultPerSecond int64 = 100
	rateKeyPrefix          = "calls:ratelimit:"
	// maxPause bounds one wait so a waiter re-checks well inside a window.
	maxPause = 50 * time.Millisecond
)

// admitScript counts a request against KEYS[1], the bucket's counter for the
// current second, and answers 1 while the count stays within ARGV[1].
var admitScript = goredis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
if n <= tonumber(ARGV[1]) then
  return 1
end
return 0
`)

var _ ratelimit.RateLimiter = (*RedisRateLimiter)(nil)

// RedisRateLimiter caps push and media calls per second across every
// instance. Each bucket gets one counter per wall-clock second.
type RedisRateLimiter struct {
	client    *goredis.Client
	perSecond int64
	clock     func() time.Time
	pause     func(ctx context.Context, d time.Duration) error
}

func NewRedisRateLimiter(client *goredis.Client, perSecond int) (*RedisRateLimiter, error) {
	return newRateLimiter(client, int64(perSecond), nil, nil)
}

func newRateLimiter(
	client *goredis.Client,
	perSecond int64,
	clock func() time.Time,
	pause func(ctx context.Context, d time.Duration) error,
) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if perSecond <= 0 {
		perSecond = defaultPerSecond
	}
	if clock == nil {
		clock = time.Now
	}
	if pause == nil {
		pause = pauseContext
	}

	return &RedisRateLimiter{
		client:    client,
		perSecond: perSecond,
		clock:     clock,
		pause:     pause,
	}, nil
}

// Allow admits one request to bucket if its current second has room left.
func (l *RedisRateLimiter) Allow(ctx context.Context, bucket string) (bool, error) {
	if l == nil || l.client == nil {
		return false, fmt.Errorf("rate limiter is not initialized")
	}

	key, err := windowKey(bucket, l.clock())
	if err != nil {
		return false, err
	}

	admitted, err := admitScript.Run(ctx, l.client, []string{key}, l.perSecond, time.Second.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to count %s request: %w", bucket, err)
	}
	return admitted == 1, nil
}

// Wait blocks until bucket admits one request. Between attempts it pauses
// until the next second starts, at most maxPause at a time.
func (l *RedisRateLimiter) Wait(ctx context.Context, bucket string) error {
	for {
		admitted, err := l.Allow(ctx, bucket)
		if err != nil {
			return err
		}
		if admitted {
			return nil
		}

		now := l.clock()
		untilNext := now.Truncate(time.Second).Add(time.Second).Sub(now)
		if err := l.pause(ctx, min(untilNext, maxPause)); err != nil {
			return err
		}
	}
}

func windowKey(bucket string, at time.Time) (string, error) {
	bucket = strings.ToLower(strings.TrimSpace(bucket))
	if bucket == "" {
		return "", fmt.Errorf("bucket is required")
	}
	return rateKeyPrefix + bucket + ":" + strconv.FormatInt(at.Unix(), 10), nil
}

func pauseContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
