package redlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("date slot lock not acquired")
)

// Ladder provisioning holds the key for a few milliseconds, so a short
// bounded wait usually outlasts the current holder.
const (
	acquireAttempts = 4
	acquireBackoff  = 50 * time.Millisecond
)

// Locker serializes critical sections per date slot. Two different date
// slots never contend with each other, so locking is sharded by key.
type Locker interface {
	WithDateSlotLock(ctx context.Context, dateSlotID uuid.UUID, fn func(ctx context.Context) error) error
}

type redisDateSlotLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewDateSlotLocker creates a locker that uses a per date-slot Redis key
func NewDateSlotLocker(client *redis.Client, ttl time.Duration) Locker {
	return &redisDateSlotLocker{
		client: client,
		ttl:    ttl,
	}
}

func (l *redisDateSlotLocker) WithDateSlotLock(ctx context.Context, dateSlotID uuid.UUID, fn func(ctx context.Context) error) error {
	key := fmt.Sprintf("lock:dateslot:%s", dateSlotID.String())
	token := uuid.NewString()

	if err := l.acquire(ctx, key, token); err != nil {
		return err
	}

	defer func() {
		_ = l.release(ctx, key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

func (l *redisDateSlotLocker) acquire(ctx context.Context, key, token string) error {
	for attempt := 0; attempt < acquireAttempts; attempt++ {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire date slot lock: %w", err)
		}
		if ok {
			return nil
		}
		if attempt == acquireAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(acquireBackoff):
		}
	}
	return ErrLockNotAcquired
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisDateSlotLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release date slot lock: %w", err)
	}
	return nil
}
