// Package joblock provides a Redis run-lock so a periodic job executes on at
// most one evaluator replica at a time.
package joblock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// release deletes the key only while this owner still holds it
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// refresh extends the key only while this owner still holds it
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Locker hands out named run-locks
type Locker struct {
	redis *redis.Client
	owner string
	log   zerolog.Logger
}

// NewLocker creates a locker with a unique owner token for this process
func NewLocker(redisClient *redis.Client, log zerolog.Logger) *Locker {
	return &Locker{
		redis: redisClient,
		owner: uuid.NewString(),
		log:   log.With().Str("component", "joblock").Logger(),
	}
}

// Key returns the Redis key guarding job
func Key(job string) string {
	return fmt.Sprintf("job_lock:%s", job)
}

// Acquire takes the lock for job. The lock expires after ttl even if never
// released. ok is false when another owner holds it.
func (l *Locker) Acquire(ctx context.Context, job string, ttl time.Duration) (release func(), ok bool, err error) {
	key := Key(job)

	ok, err = l.redis.SetNX(ctx, key, l.owner, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	release = func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.redis, []string{key}, l.owner).Err(); err != nil {
			l.log.Warn().Err(err).Str("key", key).Msg("failed to release job lock")
		}
	}
	return release, true, nil
}

// Refresh pushes the expiry of a held lock ttl into the future. It reports
// false when the lock is no longer ours.
func (l *Locker) Refresh(ctx context.Context, job string, ttl time.Duration) (bool, error) {
	n, err := refreshScript.Run(ctx, l.redis, []string{Key(job)}, l.owner, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to refresh lock %s: %w", Key(job), err)
	}
	return n == 1, nil
}

// Holder returns the owner token currently holding the lock, empty if free
func (l *Locker) Holder(ctx context.Context, job string) (string, error) {
	owner, err := l.redis.Get(ctx, Key(job)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read lock %s: %w", Key(job), err)
	}
	return owner, nil
}

// Ping checks the Redis connection
func (l *Locker) Ping(ctx context.Context) error {
	return l.redis.Ping(ctx).Err()
}
