package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/gridsession/pkg/ports"
	"github.com/google/uuid"
	backend "github.com/redis/go-redis/v9"
)

// DefaultLockRetryInterval is how often a blocked Lock retries.
const DefaultLockRetryInterval = 50 * time.Millisecond

var (
	// ErrLockAcquire is returned when the lock cannot be acquired.
	ErrLockAcquire = errors.New("failed to acquire distributed lock")
)

// unlockScript deletes the lock only if it still holds the caller's token,
// so a holder whose lock expired cannot release someone else's.
var unlockScript = backend.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// Locker implements ports.DistributedLocker using Redis.
type Locker struct {
	client backend.UniversalClient
	prefix string
	retry  time.Duration
}

// NewLocker creates a new Redis locker. Lock keys are prefix + "lock:" + key.
func NewLocker(client backend.UniversalClient, prefix string) *Locker {
	return &Locker{
		client: client,
		prefix: prefix,
		retry:  DefaultLockRetryInterval,
	}
}

// WithRetryInterval returns a copy of l polling at the given interval.
func (l *Locker) WithRetryInterval(d time.Duration) *Locker {
	c := *l
	c.retry = d
	return &c
}

// Lock acquires a distributed lock for the given key using Redis SET NX PX.
func (l *Locker) Lock(ctx context.Context, key string, ttl time.Duration) (ports.UnlockFunc, error) {
	lockKey := l.prefix + "lock:" + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()

	for {
		success, err := l.client.SetNX(ctx, lockKey, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrLockAcquire, err)
		}
		if success {
			return func(ctx context.Context) error {
				return l.release(ctx, lockKey, token)
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// release deletes lockKey if it still holds token. Servers that refuse
// scripts get the same compare-and-delete through WATCH/MULTI.
func (l *Locker) release(ctx context.Context, lockKey, token string) error {
	err := unlockScript.Run(ctx, l.client, []string{lockKey}, token).Err()
	if !scriptingUnavailable(err) {
		return err
	}

	err = l.client.Watch(ctx, func(tx *backend.Tx) error {
		held, err := tx.Get(ctx, lockKey).Result()
		if errors.Is(err, backend.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		if held != token {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
			pipe.Del(ctx, lockKey)
			return nil
		})
		return err
	}, lockKey)
	// The key changed after GET: the lock expired and belongs to someone else.
	if errors.Is(err, backend.TxFailedErr) {
		return nil
	}
	return err
}
