package session_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/gridsession/pkg/adapters/redis"
	"github.com/aretw0/gridsession/pkg/domain"
	"github.com/aretw0/gridsession/pkg/session"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) *redis.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store, err := redis.NewFromClient(client)
	require.NoError(t, err)
	return store
}

// The scripted and the locked update paths must leave identical records behind.
func TestRedisRepository_UpdatePathsAgree(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()

	prefixed := func(prefix string) idFunc {
		n := 0
		return func() string { n++; return fmt.Sprintf("%s-%d", prefix, n) }
	}

	scripted, err := session.NewRepository(store,
		session.WithServerSideUpdates(session.ServerSideOn),
		session.WithIDGenerator(prefixed("scripted")),
	)
	require.NoError(t, err)
	locked, err := session.NewRepository(store,
		session.WithServerSideUpdates(session.ServerSideOff),
		session.WithLocker(store.Locker()),
		session.WithIDGenerator(prefixed("locked")),
	)
	require.NoError(t, err)

	accessed := time.Now().Add(-time.Minute)
	records := make(map[string]*domain.Record)
	for name, repo := range map[string]*session.Repository{"scripted": scripted, "locked": locked} {
		s, err := repo.CreateSession(ctx)
		require.NoError(t, err)
		require.NoError(t, s.SetAttribute("keep", "x"))
		require.NoError(t, s.SetAttribute("drop", "y"))
		require.NoError(t, repo.Save(ctx, s))

		loaded, err := repo.FindByID(ctx, s.ID())
		require.NoError(t, err)
		require.NoError(t, loaded.SetAttribute("new", map[string]int{"a": 1}))
		require.NoError(t, loaded.RemoveAttribute("drop"))
		require.NoError(t, loaded.SetAttribute(domain.SecurityContextAttribute, domain.SecurityContext{Principal: "pat"}))
		require.NoError(t, loaded.SetMaxInactiveInterval(2*time.Hour))
		require.NoError(t, loaded.SetLastAccessedTime(accessed))
		require.NoError(t, repo.Save(ctx, loaded))

		rec, err := store.Load(ctx, s.ID())
		require.NoError(t, err)
		records[name] = rec
	}

	a, b := records["scripted"], records["locked"]
	assert.Equal(t, a.LastAccessedTime, b.LastAccessedTime)
	assert.Equal(t, a.MaxInactiveInterval, b.MaxInactiveInterval)
	assert.Equal(t, "pat", a.PrincipalName())
	assert.Equal(t, a.PrincipalName(), b.PrincipalName())
	assert.Equal(t, a.AttributeNames(), b.AttributeNames())
	for _, name := range a.AttributeNames() {
		assert.Equal(t, a.Attribute(name).Raw(), b.Attribute(name).Raw(), name)
	}
	assert.Nil(t, a.Attribute("drop"))

	found, err := scripted.FindByPrincipalName(ctx, "pat")
	require.NoError(t, err)
	assert.Len(t, found, 2)
}

func TestRedisRepository_EventsAcrossReplicas(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()

	events := make(chan *domain.SessionEvent, 8)
	listener, err := session.NewRepository(store,
		session.WithEventPublisher(domain.LifecycleHooks{
			OnSessionCreated: func(_ context.Context, e *domain.SessionEvent) { events <- e },
			OnSessionDeleted: func(_ context.Context, e *domain.SessionEvent) { events <- e },
		}),
		session.WithSweepInterval(0),
	)
	require.NoError(t, err)
	require.NoError(t, listener.Start(ctx))
	defer listener.Close()

	writer, err := session.NewRepository(store)
	require.NoError(t, err)

	s, err := writer.CreateSession(ctx)
	require.NoError(t, err)
	require.NoError(t, s.SetAttribute("greeting", "hi"))
	require.NoError(t, writer.Save(ctx, s))
	require.NoError(t, writer.DeleteByID(ctx, s.ID()))

	for _, want := range []domain.EventType{domain.EventSessionCreated, domain.EventSessionDeleted} {
		select {
		case e := <-events:
			assert.Equal(t, want, e.Type)
			assert.Equal(t, s.ID(), e.SessionID)
			require.NotNil(t, e.Record)
			assert.Equal(t, []byte(`"hi"`), e.Record.Attribute("greeting").Raw())
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s event", want)
		}
	}
}
