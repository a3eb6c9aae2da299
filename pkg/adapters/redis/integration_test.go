//go:build integration

package redis_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/aretw0/gridsession/pkg/adapters/redis"
	"github.com/aretw0/gridsession/pkg/domain"
	"github.com/aretw0/gridsession/pkg/ports"
	"github.com/aretw0/gridsession/pkg/session"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// redisAddr starts a Redis container or uses REDIS_ADDR when set.
func redisAddr(t *testing.T) string {
	t.Helper()
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		return addr
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)
	return fmt.Sprintf("%s:%s", host, port.Port())
}

func TestIntegration_Contract(t *testing.T) {
	addr := redisAddr(t)
	store, err := redis.New(addr, "", 0, redis.WithMapName(fmt.Sprintf("it:%d", time.Now().UnixNano())))
	require.NoError(t, err)
	defer store.Close()

	ports.RunSessionStoreContract(t, store)
}

// A user denied @scripting drives the store down its fallback paths.
func TestIntegration_WithoutScripting(t *testing.T) {
	addr := redisAddr(t)
	ctx := context.Background()

	admin := backend.NewClient(&backend.Options{Addr: addr})
	defer admin.Close()
	require.NoError(t, admin.Do(ctx, "ACL", "SETUSER", "noscript", "on", ">secret", "~*", "&*", "+@all", "-@scripting").Err())

	client := backend.NewClient(&backend.Options{Addr: addr, Username: "noscript", Password: "secret"})
	store, err := redis.NewFromClient(client, redis.WithMapName(fmt.Sprintf("it-noscript:%d", time.Now().UnixNano())))
	require.NoError(t, err)
	defer store.Close()

	ok, err := store.SupportsServerSideUpdates(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	rec := domain.NewRecord("s1", time.Now().Add(-2*time.Minute))
	rec.MaxInactiveInterval = time.Minute
	require.NoError(t, store.Insert(ctx, rec))

	_, err = store.Update(ctx, "s1", &domain.Delta{PrincipalChanged: true, PrincipalName: "x"})
	assert.ErrorIs(t, err, domain.ErrServerSideUpdateUnsupported)

	n, err := store.Sweep(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = store.Load(ctx, "s1")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	// Locked saves release their lock, so a later save does not wait on it.
	repo, err := session.NewRepository(store,
		session.WithServerSideUpdates(session.ServerSideOn),
		session.WithLocker(store.Locker()),
	)
	require.NoError(t, err)

	saveCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	s, err := repo.CreateSession(saveCtx)
	require.NoError(t, err)
	require.NoError(t, repo.Save(saveCtx, s))
	for i := 1; i <= 2; i++ {
		loaded, err := repo.FindByID(saveCtx, s.ID())
		require.NoError(t, err)
		require.NoError(t, loaded.SetAttribute("step", i))
		require.NoError(t, repo.Save(saveCtx, loaded))

		exists, err := client.Exists(ctx, store.MapName()+":lock:"+s.ID()).Result()
		require.NoError(t, err)
		assert.Zero(t, exists)
	}
}
