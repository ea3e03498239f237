package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("practitioner lock not acquired")
)

// Locker is used by appointment reservation to serialise writes to one
// practitioner's calendar.
type Locker interface {
	WithPractitionerLock(ctx context.Context, clinicID, practitionerID string, fn func(ctx context.Context) error) error
}

type redisPractitionerLocker struct {
	client  *redis.Client
	ttl     time.Duration
	wait    time.Duration
	backoff time.Duration
}

// NewRedisPractitionerLocker creates a locker keyed per clinic and
// practitioner. Acquisition is retried for up to wait before giving up.
func NewRedisPractitionerLocker(client *redis.Client, ttl, wait time.Duration) Locker {
	return &redisPractitionerLocker{
		client:  client,
		ttl:     ttl,
		wait:    wait,
		backoff: 25 * time.Millisecond,
	}
}

func lockKey(clinicID, practitionerID string) string {
	return fmt.Sprintf("lock:practitioner:%s:%s", clinicID, practitionerID)
}

func (l *redisPractitionerLocker) WithPractitionerLock(ctx context.Context, clinicID, practitionerID string, fn func(ctx context.Context) error) error {
	key := lockKey(clinicID, practitionerID)
	token := uuid.NewString()

	if err := l.acquire(ctx, key, token); err != nil {
		return err
	}

	defer func() {
		// release even if ctx was cancelled inside fn
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		_ = l.release(relCtx, key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

func (l *redisPractitionerLocker) acquire(ctx context.Context, key, token string) error {
	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire practitioner lock: %w", err)
		}
		if ok {
			return nil
		}
		if !time.Now().Add(l.backoff).Before(deadline) {
			return ErrLockNotAcquired
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.backoff):
		}
	}
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisPractitionerLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release practitioner lock: %w", err)
	}
	return nil
}
