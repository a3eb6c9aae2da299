package session_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/gridsession/pkg/adapters/memory"
	"github.com/aretw0/gridsession/pkg/domain"
	"github.com/aretw0/gridsession/pkg/ports"
	"github.com/aretw0/gridsession/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noScriptStore refuses server-side updates, like a grid without the update code deployed.
type noScriptStore struct {
	*memory.Store
	mu      sync.Mutex
	updates int
}

func (s *noScriptStore) Update(ctx context.Context, id string, delta *domain.Delta) (bool, error) {
	s.mu.Lock()
	s.updates++
	s.mu.Unlock()
	return false, domain.ErrServerSideUpdateUnsupported
}

type saveRecord struct {
	path string
	err  error
}

type recordingObserver struct {
	mu    sync.Mutex
	saves []saveRecord
}

func (o *recordingObserver) ObserveSave(path string, elapsed time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.saves = append(o.saves, saveRecord{path: path, err: err})
}

func (o *recordingObserver) paths() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []string
	for _, s := range o.saves {
		out = append(out, s.path)
	}
	return out
}

type recordingLocker struct {
	mu       sync.Mutex
	locked   []string
	released int
}

func (l *recordingLocker) Lock(ctx context.Context, key string, ttl time.Duration) (ports.UnlockFunc, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.locked = append(l.locked, key)
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.released++
		return nil
	}, nil
}

type cart struct {
	Items []string `json:"items"`
	Total int      `json:"total"`
}

func newRepo(t *testing.T, opts ...session.Option) (*session.Repository, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	repo, err := session.NewRepository(store, opts...)
	require.NoError(t, err)
	return repo, store
}

func TestRepository_CreateAndSave(t *testing.T) {
	repo, _ := newRepo(t)
	ctx := context.Background()

	s, err := repo.CreateSession(ctx)
	require.NoError(t, err)
	assert.True(t, s.IsNew())
	assert.NotEmpty(t, s.ID())
	assert.Equal(t, domain.DefaultMaxInactiveInterval, s.MaxInactiveInterval())

	_, err = repo.FindByID(ctx, s.ID())
	assert.ErrorIs(t, err, domain.ErrSessionNotFound, "on_save flush mode must not write before Save")

	require.NoError(t, s.SetAttribute("cart", cart{Items: []string{"book"}, Total: 12}))
	require.NoError(t, repo.Save(ctx, s))
	assert.False(t, s.IsNew())

	loaded, err := repo.FindByID(ctx, s.ID())
	require.NoError(t, err)
	assert.Equal(t, s.CreationTime(), loaded.CreationTime())

	c, ok, err := session.AttributeAs[cart](loaded, "cart")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, cart{Items: []string{"book"}, Total: 12}, c)

	raw, err := loaded.Attribute("cart")
	require.NoError(t, err)
	assert.IsType(t, map[string]any{}, raw)

	_, ok, err = session.AttributeAs[cart](loaded, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRepository_DefaultIntervalAndIDGenerator(t *testing.T) {
	n := 0
	gen := idFunc(func() string { n++; return fmt.Sprintf("id-%d", n) })
	repo, _ := newRepo(t,
		session.WithDefaultMaxInactiveInterval(-1),
		session.WithIDGenerator(gen),
	)
	ctx := context.Background()

	s, err := repo.CreateSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "id-1", s.ID())
	require.NoError(t, repo.Save(ctx, s))

	loaded, err := repo.FindByID(ctx, "id-1")
	require.NoError(t, err)
	assert.False(t, loaded.IsExpired())
	assert.Equal(t, time.Duration(-1), loaded.MaxInactiveInterval())

	assert.Equal(t, "id-2", loaded.ChangeSessionID())
}

type idFunc func() string

func (f idFunc) Generate() string { return f() }

func TestRepository_ImmediateFlush(t *testing.T) {
	repo, store := newRepo(t, session.WithFlushMode(domain.FlushImmediate))
	ctx := context.Background()

	s, err := repo.CreateSession(ctx)
	require.NoError(t, err)
	assert.False(t, s.IsNew())

	_, err = store.Load(ctx, s.ID())
	require.NoError(t, err, "immediate flush mode stores new sessions right away")

	require.NoError(t, s.SetAttribute("k", "v"))
	rec, err := store.Load(ctx, s.ID())
	require.NoError(t, err)
	assert.Equal(t, []byte(`"v"`), rec.Attribute("k").Raw())

	require.NoError(t, s.SetMaxInactiveInterval(time.Hour))
	rec, err = store.Load(ctx, s.ID())
	require.NoError(t, err)
	assert.Equal(t, time.Hour, rec.MaxInactiveInterval)
}

func TestRepository_PrincipalFromSecurityContext(t *testing.T) {
	repo, _ := newRepo(t)
	ctx := context.Background()

	s, err := repo.CreateSession(ctx)
	require.NoError(t, err)
	require.NoError(t, s.SetAttribute(domain.SecurityContextAttribute, domain.SecurityContext{Principal: "alice", Authorities: []string{"user"}}))
	assert.Equal(t, "alice", s.PrincipalName())
	require.NoError(t, repo.Save(ctx, s))

	found, err := repo.FindByPrincipalName(ctx, "alice")
	require.NoError(t, err)
	require.Contains(t, found, s.ID())

	name, err := found[s.ID()].Attribute(domain.PrincipalNameAttribute)
	require.NoError(t, err)
	assert.Equal(t, "alice", name)

	// Logout on a reloaded session clears the index.
	loaded, err := repo.FindByID(ctx, s.ID())
	require.NoError(t, err)
	require.NoError(t, loaded.RemoveAttribute(domain.SecurityContextAttribute))
	assert.Empty(t, loaded.PrincipalName())
	require.NoError(t, repo.Save(ctx, loaded))

	found, err = repo.FindByPrincipalName(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, found)

	reloaded, err := repo.FindByID(ctx, s.ID())
	require.NoError(t, err)
	assert.Empty(t, reloaded.PrincipalName())
	assert.NotContains(t, reloaded.AttributeNames(), domain.PrincipalNameAttribute)
}

func TestRepository_PrincipalAttribute(t *testing.T) {
	repo, _ := newRepo(t)
	ctx := context.Background()

	s, err := repo.CreateSession(ctx)
	require.NoError(t, err)

	err = s.SetAttribute(domain.PrincipalNameAttribute, 42)
	assert.ErrorIs(t, err, domain.ErrInvalidPrincipal)

	require.NoError(t, s.SetAttribute(domain.PrincipalNameAttribute, "bob"))
	require.NoError(t, repo.Save(ctx, s))

	found, err := repo.FindByIndexNameAndIndexValue(ctx, domain.PrincipalNameIndexName, "bob")
	require.NoError(t, err)
	assert.Len(t, found, 1)

	other, err := repo.FindByIndexNameAndIndexValue(ctx, "department", "bob")
	require.NoError(t, err)
	assert.Empty(t, other)

	loaded, err := repo.FindByID(ctx, s.ID())
	require.NoError(t, err)
	require.NoError(t, loaded.SetAttribute(domain.PrincipalNameIndexName, "carol"))
	require.NoError(t, repo.Save(ctx, loaded))

	found, err = repo.FindByPrincipalName(ctx, "carol")
	require.NoError(t, err)
	assert.Len(t, found, 1)
	found, err = repo.FindByPrincipalName(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestRepository_ChangeSessionID(t *testing.T) {
	repo, _ := newRepo(t)
	ctx := context.Background()

	s, err := repo.CreateSession(ctx)
	require.NoError(t, err)
	require.NoError(t, s.SetAttribute("k", "v"))
	require.NoError(t, s.SetAttribute(domain.SecurityContextAttribute, domain.SecurityContext{Principal: "dan"}))
	require.NoError(t, repo.Save(ctx, s))
	oldID := s.ID()

	loaded, err := repo.FindByID(ctx, oldID)
	require.NoError(t, err)
	newID := loaded.ChangeSessionID()
	assert.NotEqual(t, oldID, newID)
	require.NoError(t, loaded.SetAttribute("after", true))
	require.NoError(t, repo.Save(ctx, loaded))

	_, err = repo.FindByID(ctx, oldID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	renamed, err := repo.FindByID(ctx, newID)
	require.NoError(t, err)
	v, err := renamed.Attribute("k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)
	after, err := renamed.Attribute("after")
	require.NoError(t, err)
	assert.Equal(t, true, after)

	found, err := repo.FindByPrincipalName(ctx, "dan")
	require.NoError(t, err)
	assert.Len(t, found, 1)
	assert.Contains(t, found, newID)
}

func TestRepository_FindByIDDeletesExpired(t *testing.T) {
	repo, store := newRepo(t)
	ctx := context.Background()

	rec := domain.NewRecord("stale", time.Now().Add(-time.Hour))
	rec.MaxInactiveInterval = time.Minute
	require.NoError(t, store.Insert(ctx, rec))

	_, err := repo.FindByID(ctx, "stale")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	_, err = store.Load(ctx, "stale")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound, "expired sessions are removed when found")
}

func TestRepository_DeleteByID(t *testing.T) {
	repo, _ := newRepo(t)
	ctx := context.Background()

	s, err := repo.CreateSession(ctx)
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, s))

	require.NoError(t, repo.DeleteByID(ctx, s.ID()))
	require.NoError(t, repo.DeleteByID(ctx, s.ID()), "deleting twice is not an error")

	_, err = repo.FindByID(ctx, s.ID())
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestRepository_SaveDoesNotRecreateDeletedSession(t *testing.T) {
	for _, mode := range []session.ServerSideUpdates{session.ServerSideOn, session.ServerSideOff} {
		t.Run(mode.String(), func(t *testing.T) {
			repo, store := newRepo(t, session.WithServerSideUpdates(mode))
			ctx := context.Background()

			s, err := repo.CreateSession(ctx)
			require.NoError(t, err)
			require.NoError(t, repo.Save(ctx, s))

			loaded, err := repo.FindByID(ctx, s.ID())
			require.NoError(t, err)
			require.NoError(t, repo.DeleteByID(ctx, s.ID()))

			require.NoError(t, loaded.SetAttribute("k", "v"))
			require.NoError(t, repo.Save(ctx, loaded))

			_, err = store.Load(ctx, s.ID())
			assert.ErrorIs(t, err, domain.ErrSessionNotFound)
		})
	}
}

func TestRepository_FallsBackWhenServerSideUpdatesUnsupported(t *testing.T) {
	store := &noScriptStore{Store: memory.NewStore()}
	observer := &recordingObserver{}
	locker := &recordingLocker{}
	repo, err := session.NewRepository(store,
		session.WithServerSideUpdates(session.ServerSideOn),
		session.WithSaveObserver(observer),
		session.WithLocker(locker),
	)
	require.NoError(t, err)
	ctx := context.Background()

	s, err := repo.CreateSession(ctx)
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, s))
	assert.True(t, repo.ServerSideUpdatesEnabled())

	require.NoError(t, s.SetAttribute("k", "v1"))
	require.NoError(t, repo.Save(ctx, s))
	assert.False(t, repo.ServerSideUpdatesEnabled(), "an unsupported update disables server-side updates")

	require.NoError(t, s.SetAttribute("k", "v2"))
	require.NoError(t, repo.Save(ctx, s))

	assert.Equal(t, 1, store.updates, "server-side updates are not retried once unsupported")
	assert.Equal(t, []string{session.PathInsert, session.PathUpdateLocked, session.PathUpdateLocked}, observer.paths())
	assert.Equal(t, []string{s.ID(), s.ID()}, locker.locked)
	assert.Equal(t, 2, locker.released)

	rec, err := store.Load(ctx, s.ID())
	require.NoError(t, err)
	assert.Equal(t, []byte(`"v2"`), rec.Attribute("k").Raw())
}

func TestRepository_AutoModeProbesStore(t *testing.T) {
	repo, _ := newRepo(t, session.WithSweepInterval(0))
	require.NoError(t, repo.Start(context.Background()))
	defer repo.Close()
	assert.True(t, repo.ServerSideUpdatesEnabled())

	assert.Error(t, repo.Start(context.Background()), "starting twice is rejected")
}

func TestRepository_NoChangesNoWrite(t *testing.T) {
	observer := &recordingObserver{}
	repo, _ := newRepo(t, session.WithSaveObserver(observer))
	ctx := context.Background()

	s, err := repo.CreateSession(ctx)
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, s))
	require.NoError(t, repo.Save(ctx, s))

	assert.Equal(t, []string{session.PathInsert}, observer.paths())
}

// Concurrent fallback saves touching different attributes must not lose each other's writes.
func TestRepository_LockedUpdatesSerialize(t *testing.T) {
	repo, _ := newRepo(t, session.WithServerSideUpdates(session.ServerSideOff))
	ctx := context.Background()

	s, err := repo.CreateSession(ctx)
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, s))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			loaded, err := repo.FindByID(ctx, s.ID())
			if !assert.NoError(t, err) {
				return
			}
			assert.NoError(t, loaded.SetAttribute(fmt.Sprintf("attr-%d", i), i))
			assert.NoError(t, repo.Save(ctx, loaded))
		}(i)
	}
	wg.Wait()

	loaded, err := repo.FindByID(ctx, s.ID())
	require.NoError(t, err)
	assert.Len(t, loaded.AttributeNames(), 10)
}

func TestRepository_SaveModes(t *testing.T) {
	tests := []struct {
		mode domain.SaveMode
		want string
	}{
		// Only set attributes are written: the concurrent write to "shared" survives.
		{domain.SaveOnSetAttribute, "from-b"},
		// Attributes read by A are written back and overwrite B's change.
		{domain.SaveOnGetAttribute, "initial"},
		{domain.SaveAlways, "initial"},
	}

	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			repo, _ := newRepo(t, session.WithSaveMode(tt.mode))
			ctx := context.Background()

			s, err := repo.CreateSession(ctx)
			require.NoError(t, err)
			require.NoError(t, s.SetAttribute("shared", "initial"))
			require.NoError(t, repo.Save(ctx, s))

			a, err := repo.FindByID(ctx, s.ID())
			require.NoError(t, err)
			b, err := repo.FindByID(ctx, s.ID())
			require.NoError(t, err)

			_, err = a.Attribute("shared")
			require.NoError(t, err)
			require.NoError(t, a.SetAttribute("own", "a"))

			require.NoError(t, b.SetAttribute("shared", "from-b"))
			require.NoError(t, repo.Save(ctx, b))
			require.NoError(t, repo.Save(ctx, a))

			final, err := repo.FindByID(ctx, s.ID())
			require.NoError(t, err)
			v, err := final.Attribute("shared")
			require.NoError(t, err)
			assert.Equal(t, tt.want, v)
		})
	}
}

func TestRepository_StartForwardsEventsAndSweeps(t *testing.T) {
	var (
		mu     sync.Mutex
		events []domain.EventType
	)
	record := func(_ context.Context, e *domain.SessionEvent) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e.Type)
	}
	hooks := domain.LifecycleHooks{
		OnSessionCreated: record,
		OnSessionDeleted: record,
		OnSessionExpired: record,
	}

	repo, store := newRepo(t,
		session.WithEventPublisher(hooks),
		session.WithSweepInterval(10*time.Millisecond),
	)
	ctx := context.Background()
	require.NoError(t, repo.Start(ctx))
	defer repo.Close()

	s, err := repo.CreateSession(ctx)
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, s))
	require.NoError(t, repo.DeleteByID(ctx, s.ID()))

	stale := domain.NewRecord("stale", time.Now().Add(-time.Hour))
	stale.MaxInactiveInterval = time.Minute
	require.NoError(t, store.Insert(ctx, stale))

	want := []domain.EventType{
		domain.EventSessionCreated,
		domain.EventSessionDeleted,
		domain.EventSessionCreated,
		domain.EventSessionExpired,
	}
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == len(want)
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, want, events)
	mu.Unlock()

	require.NoError(t, repo.Close())
}

func TestRepository_InvalidOptions(t *testing.T) {
	_, err := session.NewRepository(nil)
	assert.Error(t, err)

	_, err = session.NewRepository(memory.NewStore(), session.WithLockTTL(0))
	assert.Error(t, err)

	_, err = session.NewRepository(memory.NewStore(), session.WithCodec(nil))
	assert.Error(t, err)
}

func TestParseServerSideUpdates(t *testing.T) {
	for in, want := range map[string]session.ServerSideUpdates{
		"":     session.ServerSideAuto,
		"AUTO": session.ServerSideAuto,
		"on":   session.ServerSideOn,
		"off":  session.ServerSideOff,
	} {
		got, err := session.ParseServerSideUpdates(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := session.ParseServerSideUpdates("sometimes")
	assert.True(t, errors.Is(err, domain.ErrInvalidMode))
}
