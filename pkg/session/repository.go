package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aretw0/gridsession/internal/logging"
	"github.com/aretw0/gridsession/pkg/codec"
	"github.com/aretw0/gridsession/pkg/domain"
	"github.com/aretw0/gridsession/pkg/ports"
)

// Write paths reported to the SaveObserver.
const (
	PathInsert       = "insert"
	PathReplace      = "replace"
	PathUpdateScript = "update_script"
	PathUpdateLocked = "update_locked"
)

// Repository orchestrates session access on top of a SessionStore.
// It is safe for concurrent use.
type Repository struct {
	store ports.SessionStore

	publisher       ports.EventPublisher
	observer        ports.SaveObserver
	indexResolver   ports.IndexResolver
	ids             ports.IDGenerator
	codec           codec.Codec
	locker          ports.DistributedLocker // Optional distributed locker
	logger          *slog.Logger
	defaultInterval time.Duration
	flushMode       domain.FlushMode
	saveMode        domain.SaveMode
	updates         ServerSideUpdates
	lockTTL         time.Duration
	sweepInterval   time.Duration

	serverSide atomic.Bool
	locks      *keyedMutex

	mu      sync.Mutex
	cancel  context.CancelFunc
	running sync.WaitGroup
}

// NewRepository creates a repository over store.
func NewRepository(store ports.SessionStore, opts ...Option) (*Repository, error) {
	if store == nil {
		return nil, errors.New("session store must not be nil")
	}
	r := &Repository{
		store:           store,
		indexResolver:   PrincipalNameIndexResolver{},
		ids:             UUIDGenerator{},
		codec:           codec.JSON,
		logger:          logging.NewNop(), // Default to no-op
		defaultInterval: domain.DefaultMaxInactiveInterval,
		lockTTL:         DefaultLockTTL,
		sweepInterval:   DefaultSweepInterval,
		locks:           newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.indexResolver == nil || r.ids == nil || r.codec == nil {
		return nil, errors.New("index resolver, ID generator and codec must not be nil")
	}
	if r.lockTTL <= 0 {
		return nil, errors.New("lock TTL must be positive")
	}
	if r.sweepInterval < 0 {
		return nil, errors.New("sweep interval must not be negative")
	}
	r.serverSide.Store(r.updates != ServerSideOff)
	return r, nil
}

// Store returns the underlying session store.
func (r *Repository) Store() ports.SessionStore {
	return r.store
}

// ServerSideUpdatesEnabled reports whether Save currently uses the store's atomic Update.
func (r *Repository) ServerSideUpdatesEnabled() bool {
	return r.serverSide.Load()
}

// Start probes the store's update support in auto mode, forwards store events
// to the publisher and runs the sweeper. It returns once the event
// subscription is established; background work stops on Close or when ctx is done.
func (r *Repository) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return errors.New("repository already started")
	}

	if r.updates == ServerSideAuto {
		if prober, ok := r.store.(ports.CapabilityProber); ok {
			supported, err := prober.SupportsServerSideUpdates(ctx)
			if err != nil {
				// Keep trying server-side updates; Save falls back if they fail.
				r.logger.Warn("Could not probe server-side update support", "err", err)
			} else {
				r.serverSide.Store(supported)
				r.logger.Info("Server-side updates probed", "supported", supported)
			}
		}
	}

	ctx, cancel := context.WithCancel(ctx)

	if source, ok := r.store.(ports.EventSource); ok {
		events, err := source.Watch(ctx)
		if err != nil {
			cancel()
			return fmt.Errorf("failed to watch session events: %w", err)
		}
		r.running.Add(1)
		go r.listen(ctx, events)
	}

	if sweeper, ok := r.store.(ports.Sweeper); ok && r.sweepInterval > 0 {
		r.running.Add(1)
		go r.sweep(ctx, sweeper)
	}

	r.cancel = cancel
	return nil
}

// Close stops the background work started by Start.
func (r *Repository) Close() error {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.running.Wait()
	return nil
}

func (r *Repository) listen(ctx context.Context, events <-chan *domain.SessionEvent) {
	defer r.running.Done()
	for e := range events {
		r.logger.Debug("Session event", "type", e.Type, "session_id", e.SessionID)
		if r.publisher != nil {
			r.publisher.Publish(ctx, e)
		}
	}
}

func (r *Repository) sweep(ctx context.Context, sweeper ports.Sweeper) {
	defer r.running.Done()
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sweeper.Sweep(ctx, time.Now())
			if err != nil {
				if ctx.Err() == nil {
					r.logger.Warn("Session sweep failed", "err", err)
				}
				continue
			}
			if n > 0 {
				r.logger.Debug("Expired sessions swept", "count", n)
			}
		}
	}
}

// CreateSession returns a new unsaved session with a generated ID.
// In immediate flush mode it is saved before being returned.
func (r *Repository) CreateSession(ctx context.Context) (*Session, error) {
	rec := domain.NewRecord(r.ids.Generate(), time.Now())
	rec.MaxInactiveInterval = r.defaultInterval

	s := newSession(ctx, r, rec, true)
	if err := s.flushImmediateIfNecessary(); err != nil {
		return nil, err
	}
	return s, nil
}

// Save writes the changes of s. New sessions are inserted, sessions whose ID
// changed replace their previous entry, and other sessions get their delta
// applied. Saving a session that was deleted meanwhile does not recreate it.
// On error the pending changes are kept so Save can be retried.
func (r *Repository) Save(ctx context.Context, s *Session) error {
	start := time.Now()
	path, err := r.save(ctx, s)
	if path != "" && r.observer != nil {
		r.observer.ObserveSave(path, time.Since(start), err)
	}
	if err != nil {
		return err
	}
	s.clearChangeFlags()
	return nil
}

func (r *Repository) save(ctx context.Context, s *Session) (string, error) {
	switch {
	case s.isNew:
		if err := r.store.Insert(ctx, s.rec.Clone()); err != nil {
			return PathInsert, fmt.Errorf("failed to insert session: %w", err)
		}
		return PathInsert, nil

	case s.idChanged:
		if err := r.store.Replace(ctx, s.originalID, s.rec.Clone()); err != nil {
			return PathReplace, fmt.Errorf("failed to rename session %s: %w", s.originalID, err)
		}
		return PathReplace, nil

	case s.hasChanges():
		delta := s.buildDelta()
		if r.serverSide.Load() {
			_, err := r.store.Update(ctx, s.rec.ID, delta)
			if !errors.Is(err, domain.ErrServerSideUpdateUnsupported) {
				if err != nil {
					return PathUpdateScript, fmt.Errorf("failed to update session: %w", err)
				}
				return PathUpdateScript, nil
			}
			r.serverSide.Store(false)
			r.logger.Warn("Server-side updates unsupported by the store, falling back to locked updates", "err", err)
		}
		if err := r.updateLocked(ctx, s.rec.ID, delta); err != nil {
			return PathUpdateLocked, fmt.Errorf("failed to update session: %w", err)
		}
		return PathUpdateLocked, nil
	}
	return "", nil
}

// updateLocked applies delta by load, patch and replace while holding the session's locks.
func (r *Repository) updateLocked(ctx context.Context, id string, delta *domain.Delta) error {
	return r.withLock(ctx, id, func(ctx context.Context) error {
		rec, err := r.store.Load(ctx, id)
		if errors.Is(err, domain.ErrSessionNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		delta.Apply(rec)
		return r.store.Replace(ctx, id, rec)
	})
}

// withLock executes a function while holding the lock for the session.
func (r *Repository) withLock(ctx context.Context, sessionID string, fn func(context.Context) error) error {
	unlock := r.locks.Lock(sessionID)
	defer unlock()

	// Distributed Locking
	if r.locker != nil {
		release, err := r.locker.Lock(ctx, sessionID, r.lockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer func() {
			if err := release(ctx); err != nil {
				r.logger.Warn("Failed to release distributed lock (will expire via TTL)",
					"session_id", sessionID,
					"err", err,
				)
			}
		}()
	}

	return fn(ctx)
}

// FindByID loads a session. Missing sessions and sessions found expired
// return domain.ErrSessionNotFound; expired ones are deleted on the way.
func (r *Repository) FindByID(ctx context.Context, id string) (*Session, error) {
	rec, err := r.store.Load(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}
	if rec.IsExpired(time.Now()) {
		if err := r.DeleteByID(ctx, id); err != nil {
			r.logger.Warn("Failed to delete expired session", "session_id", id, "err", err)
		}
		return nil, domain.ErrSessionNotFound
	}
	return newSession(ctx, r, rec, false), nil
}

// DeleteByID removes a session. Deleting a missing session is not an error.
func (r *Repository) DeleteByID(ctx context.Context, id string) error {
	if _, err := r.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	return nil
}

// FindByIndexNameAndIndexValue returns the live sessions indexed under value, keyed by ID.
// Only domain.PrincipalNameIndexName is indexed; other index names yield an empty map.
func (r *Repository) FindByIndexNameAndIndexValue(ctx context.Context, indexName, indexValue string) (map[string]*Session, error) {
	found := make(map[string]*Session)
	if indexName != domain.PrincipalNameIndexName || indexValue == "" {
		return found, nil
	}

	recs, err := r.store.FindByPrincipal(ctx, indexValue)
	if err != nil {
		return nil, fmt.Errorf("failed to find sessions of %s: %w", indexValue, err)
	}
	now := time.Now()
	for _, rec := range recs {
		if rec.IsExpired(now) {
			continue
		}
		found[rec.ID] = newSession(ctx, r, rec, false)
	}
	return found, nil
}

// FindByPrincipalName returns the live sessions of a principal, keyed by ID.
func (r *Repository) FindByPrincipalName(ctx context.Context, principal string) (map[string]*Session, error) {
	return r.FindByIndexNameAndIndexValue(ctx, domain.PrincipalNameIndexName, principal)
}
