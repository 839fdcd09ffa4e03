package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const defaultLockTTL = time.Minute

var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// TickLock serializes periodic jobs across instances with SET NX PX.
type TickLock struct {
	client *goredis.Client
	token  func() string
}

func NewTickLock(client *goredis.Client) (*TickLock, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &TickLock{
		client: client,
		token:  uuid.NewString,
	}, nil
}

// TryAcquire takes the lock for job and returns a release func. It reports
// false when another instance holds the lock. The ttl bounds how long a
// crashed holder can block the job.
func (l *TickLock) TryAcquire(ctx context.Context, job string, ttl time.Duration) (func(context.Context) error, bool, error) {
	job = strings.TrimSpace(job)
	if job == "" {
		return nil, false, fmt.Errorf("job is required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}

	key := "calls:ticklock:" + job
	token := l.token()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire tick lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
			return fmt.Errorf("failed to release tick lock: %w", err)
		}
		return nil
	}
	return release, true, nil
}
