package ports

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aretw0/gridsession/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunSessionStoreContract runs a suite of tests to verify that a SessionStore implementation
// adheres to the defined interface contract. Event and sweep checks run when the
// store also implements EventSource or Sweeper.
func RunSessionStoreContract(t *testing.T, store SessionStore) {
	ctx := context.Background()
	prefix := "contract-" + time.Now().Format("20060102150405.000")

	newRecord := func(id string) *domain.Record {
		rec := domain.NewRecord(id, time.Now())
		rec.RestoreAttribute("cart", []byte(`{"items":2}`))
		return rec
	}

	t.Run("Insert and Load", func(t *testing.T) {
		rec := newRecord(prefix + "-load")
		rec.MaxInactiveInterval = 45 * time.Minute
		rec.SetPrincipalName("alice")
		require.NoError(t, store.Insert(ctx, rec))

		loaded, err := store.Load(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, rec.ID, loaded.ID)
		assert.True(t, rec.CreationTime.Equal(loaded.CreationTime))
		assert.True(t, rec.LastAccessedTime.Equal(loaded.LastAccessedTime))
		assert.Equal(t, 45*time.Minute, loaded.MaxInactiveInterval)
		assert.Equal(t, "alice", loaded.PrincipalName())
		require.NotNil(t, loaded.Attribute("cart"))
		assert.JSONEq(t, `{"items":2}`, string(loaded.Attribute("cart").Raw()))
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, prefix+"-missing")
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("Never Expiring", func(t *testing.T) {
		rec := newRecord(prefix + "-forever")
		rec.MaxInactiveInterval = -1 * time.Second
		require.NoError(t, store.Insert(ctx, rec))

		loaded, err := store.Load(ctx, rec.ID)
		require.NoError(t, err)
		assert.Negative(t, loaded.MaxInactiveInterval)
		assert.False(t, loaded.IsExpired(time.Now().Add(10000*time.Hour)))

		// Below one millisecond a negative interval still never expires.
		tiny := newRecord(prefix + "-forever-tiny")
		tiny.MaxInactiveInterval = -1
		require.NoError(t, store.Insert(ctx, tiny))
		loaded, err = store.Load(ctx, tiny.ID)
		require.NoError(t, err)
		assert.Negative(t, loaded.MaxInactiveInterval)
		assert.False(t, loaded.IsExpired(time.Now().Add(10000*time.Hour)))

		never := time.Duration(-1)
		applied, err := store.Update(ctx, rec.ID, &domain.Delta{MaxInactiveInterval: &never})
		if errors.Is(err, domain.ErrServerSideUpdateUnsupported) {
			return
		}
		require.NoError(t, err)
		assert.True(t, applied)
		loaded, err = store.Load(ctx, rec.ID)
		require.NoError(t, err)
		assert.Negative(t, loaded.MaxInactiveInterval)
		assert.False(t, loaded.IsExpired(time.Now().Add(10000*time.Hour)))
	})

	t.Run("Update", func(t *testing.T) {
		rec := newRecord(prefix + "-update")
		rec.SetPrincipalName("carol")
		require.NoError(t, store.Insert(ctx, rec))

		accessed := rec.LastAccessedTime.Add(time.Minute)
		interval := 2 * time.Hour
		delta := &domain.Delta{
			LastAccessedTime:    &accessed,
			MaxInactiveInterval: &interval,
			Attributes: map[string][]byte{
				"cart":  nil,
				"theme": []byte(`"dark"`),
			},
			PrincipalChanged: true,
			PrincipalName:    "dave",
		}
		applied, err := store.Update(ctx, rec.ID, delta)
		if errors.Is(err, domain.ErrServerSideUpdateUnsupported) {
			t.Skip("store does not support server-side updates")
		}
		require.NoError(t, err)
		assert.True(t, applied)

		loaded, err := store.Load(ctx, rec.ID)
		require.NoError(t, err)
		assert.True(t, accessed.Equal(loaded.LastAccessedTime))
		assert.Equal(t, interval, loaded.MaxInactiveInterval)
		assert.Nil(t, loaded.Attribute("cart"))
		assert.Equal(t, `"dark"`, string(loaded.Attribute("theme").Raw()))
		assert.Equal(t, "dave", loaded.PrincipalName())

		assertPrincipal(t, store, "carol", rec.ID, false)
		assertPrincipal(t, store, "dave", rec.ID, true)

		applied, err = store.Update(ctx, prefix+"-gone", delta)
		require.NoError(t, err)
		assert.False(t, applied, "update must not resurrect a missing session")
		_, err = store.Load(ctx, prefix+"-gone")
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("Replace", func(t *testing.T) {
		rec := newRecord(prefix + "-old")
		rec.SetPrincipalName("erin")
		require.NoError(t, store.Insert(ctx, rec))

		renamed := rec.Clone()
		renamed.ID = prefix + "-new"
		require.NoError(t, store.Replace(ctx, rec.ID, renamed))

		_, err := store.Load(ctx, rec.ID)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
		loaded, err := store.Load(ctx, renamed.ID)
		require.NoError(t, err)
		assert.Equal(t, "erin", loaded.PrincipalName())

		assertPrincipal(t, store, "erin", rec.ID, false)
		assertPrincipal(t, store, "erin", renamed.ID, true)

		// Same ID overwrites in place.
		renamed.RemoveAttribute("cart")
		require.NoError(t, store.Replace(ctx, renamed.ID, renamed))
		loaded, err = store.Load(ctx, renamed.ID)
		require.NoError(t, err)
		assert.Nil(t, loaded.Attribute("cart"))
	})

	t.Run("Delete", func(t *testing.T) {
		rec := newRecord(prefix + "-delete")
		rec.SetPrincipalName("frank")
		require.NoError(t, store.Insert(ctx, rec))

		removed, err := store.Delete(ctx, rec.ID)
		require.NoError(t, err)
		require.NotNil(t, removed)
		assert.Equal(t, rec.ID, removed.ID)

		_, err = store.Load(ctx, rec.ID)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
		assertPrincipal(t, store, "frank", rec.ID, false)

		removed, err = store.Delete(ctx, rec.ID)
		require.NoError(t, err)
		assert.Nil(t, removed)
	})

	t.Run("List", func(t *testing.T) {
		id1, id2 := prefix+"-list-1", prefix+"-list-2"
		require.NoError(t, store.Insert(ctx, newRecord(id1)))
		require.NoError(t, store.Insert(ctx, newRecord(id2)))
		defer func() {
			_, _ = store.Delete(ctx, id1)
			_, _ = store.Delete(ctx, id2)
		}()

		ids, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids, id1)
		assert.Contains(t, ids, id2)
	})

	if source, ok := store.(EventSource); ok {
		t.Run("Events", func(t *testing.T) {
			watchCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			events, err := source.Watch(watchCtx)
			require.NoError(t, err)

			rec := newRecord(prefix + "-events")
			require.NoError(t, store.Insert(ctx, rec))
			e := nextEvent(t, events)
			assert.Equal(t, domain.EventSessionCreated, e.Type)
			assert.Equal(t, rec.ID, e.SessionID)

			renamed := rec.Clone()
			renamed.ID = prefix + "-events-renamed"
			require.NoError(t, store.Replace(ctx, rec.ID, renamed))

			_, err = store.Delete(ctx, renamed.ID)
			require.NoError(t, err)
			e = nextEvent(t, events)
			assert.Equal(t, domain.EventSessionDeleted, e.Type, "a rename must not emit events")
			assert.Equal(t, renamed.ID, e.SessionID)
			require.NotNil(t, e.Record)
			assert.NotNil(t, e.Record.Attribute("cart"))
		})
	}

	if sweeper, ok := store.(Sweeper); ok {
		t.Run("Sweep", func(t *testing.T) {
			now := time.Now()
			stale := domain.NewRecord(prefix+"-stale", now.Add(-2*time.Minute))
			stale.MaxInactiveInterval = time.Minute
			fresh := newRecord(prefix + "-fresh")
			require.NoError(t, store.Insert(ctx, stale))
			require.NoError(t, store.Insert(ctx, fresh))

			var events <-chan *domain.SessionEvent
			if source, ok := store.(EventSource); ok {
				watchCtx, cancel := context.WithCancel(ctx)
				defer cancel()
				var err error
				events, err = source.Watch(watchCtx)
				require.NoError(t, err)
			}

			n, err := sweeper.Sweep(ctx, now)
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			_, err = store.Load(ctx, stale.ID)
			assert.ErrorIs(t, err, domain.ErrSessionNotFound)
			_, err = store.Load(ctx, fresh.ID)
			assert.NoError(t, err)

			if events != nil {
				e := nextEvent(t, events)
				assert.Equal(t, domain.EventSessionExpired, e.Type)
				assert.Equal(t, stale.ID, e.SessionID)
			}

			n, err = sweeper.Sweep(ctx, now)
			require.NoError(t, err)
			assert.Zero(t, n, "an expired session is reported once")
		})
	}
}

func assertPrincipal(t *testing.T, store SessionStore, principal, id string, present bool) {
	t.Helper()
	recs, err := store.FindByPrincipal(context.Background(), principal)
	require.NoError(t, err)
	found := false
	for _, r := range recs {
		if r.ID == id {
			found = true
		}
	}
	assert.Equal(t, present, found, "session %s indexed under %q", id, principal)
}

func nextEvent(t *testing.T, events <-chan *domain.SessionEvent) *domain.SessionEvent {
	t.Helper()
	select {
	case e, ok := <-events:
		require.True(t, ok, "event channel closed")
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session event")
		return nil
	}
}
