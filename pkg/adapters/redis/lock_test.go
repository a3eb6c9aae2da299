package redis_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/gridsession/pkg/adapters/redis"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisLocker_LockUnlock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{
		Addr: mr.Addr(),
	})
	locker := redis.NewLocker(client, "test:")
	ctx := context.Background()

	// 1. Acquire Lock
	unlock, err := locker.Lock(ctx, "resource1", 5*time.Second)
	require.NoError(t, err)
	require.NotNil(t, unlock)

	assert.True(t, mr.Exists("test:lock:resource1"), "Lock key should be set in Redis")

	// 2. Release Lock
	require.NoError(t, unlock(ctx))
	assert.False(t, mr.Exists("test:lock:resource1"), "Lock key should be removed after unlock")
}

func TestRedisLocker_Contention(t *testing.T) {
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{
		Addr: mr.Addr(),
	})
	locker1 := redis.NewLocker(client, "test:")
	locker2 := redis.NewLocker(client, "test:") // Same prefix -> contention
	ctx := context.Background()
	key := "shared-resource"

	// 1. Client 1 acquires lock
	unlock1, err := locker1.Lock(ctx, key, 5*time.Second)
	require.NoError(t, err)

	// 2. Client 2 blocks until its context expires.
	ctxTimeout, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = locker2.Lock(ctxTimeout, key, 5*time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.WithinDuration(t, start.Add(300*time.Millisecond), time.Now(), 150*time.Millisecond, "Should block until timeout")

	// 3. Client 1 unlocks
	require.NoError(t, unlock1(ctx))

	// 4. Client 2 tries again (should succeed)
	unlock2, err := locker2.Lock(ctx, key, 5*time.Second)
	require.NoError(t, err)
	defer unlock2(ctx)

	assert.True(t, mr.Exists("test:lock:shared-resource"))
}

func TestRedisLocker_StaleHolderCannotRelease(t *testing.T) {
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{
		Addr: mr.Addr(),
	})
	locker := redis.NewLocker(client, "test:").WithRetryInterval(10 * time.Millisecond)
	ctx := context.Background()

	unlockStale, err := locker.Lock(ctx, "k", time.Second)
	require.NoError(t, err)

	// The first holder's lock expires and a second holder takes over.
	mr.FastForward(2 * time.Second)
	_, err = locker.Lock(ctx, "k", time.Minute)
	require.NoError(t, err)

	require.NoError(t, unlockStale(ctx))
	assert.True(t, mr.Exists("test:lock:k"), "releasing an expired lock must not free the new holder's lock")
}

// denyScripting rejects script commands the way a Redis ACL without
// @scripting does.
type denyScripting struct{}

func isScriptCommand(cmd backend.Cmder) bool {
	switch strings.ToLower(cmd.Name()) {
	case "eval", "evalsha", "eval_ro", "evalsha_ro", "script", "fcall":
		return true
	}
	return false
}

func scriptDenied(cmd backend.Cmder) error {
	err := errors.New("NOPERM this user has no permissions to run the '" + cmd.Name() + "' command")
	cmd.SetErr(err)
	return err
}

func (denyScripting) DialHook(next backend.DialHook) backend.DialHook { return next }

func (denyScripting) ProcessHook(next backend.ProcessHook) backend.ProcessHook {
	return func(ctx context.Context, cmd backend.Cmder) error {
		if isScriptCommand(cmd) {
			return scriptDenied(cmd)
		}
		return next(ctx, cmd)
	}
}

func (denyScripting) ProcessPipelineHook(next backend.ProcessPipelineHook) backend.ProcessPipelineHook {
	return func(ctx context.Context, cmds []backend.Cmder) error {
		for _, cmd := range cmds {
			if isScriptCommand(cmd) {
				return scriptDenied(cmd)
			}
		}
		return next(ctx, cmds)
	}
}

func TestRedisLocker_ReleaseWithoutScripting(t *testing.T) {
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	client.AddHook(denyScripting{})
	t.Cleanup(func() { _ = client.Close() })

	locker := redis.NewLocker(client, "test:").WithRetryInterval(10 * time.Millisecond)
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "k", 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, unlock(ctx))
	assert.False(t, mr.Exists("test:lock:k"), "lock must be freed without scripting")

	// A second holder gets the lock at once instead of waiting for the TTL.
	ctxTimeout, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	unlock, err = locker.Lock(ctxTimeout, "k", 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, unlock(ctx))
}

func TestRedisLocker_StaleReleaseWithoutScripting(t *testing.T) {
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	client.AddHook(denyScripting{})
	t.Cleanup(func() { _ = client.Close() })

	locker := redis.NewLocker(client, "test:").WithRetryInterval(10 * time.Millisecond)
	ctx := context.Background()

	unlockStale, err := locker.Lock(ctx, "k", time.Second)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)
	_, err = locker.Lock(ctx, "k", time.Minute)
	require.NoError(t, err)

	require.NoError(t, unlockStale(ctx))
	assert.True(t, mr.Exists("test:lock:k"))
}
