package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aretw0/gridsession/pkg/domain"
)

// DefaultWatchBuffer is the number of events buffered per watcher before new ones are dropped.
const DefaultWatchBuffer = 64

// Store implements ports.SessionStore in memory.
// It plays the role of an embedded grid member: a single process owns the data
// and every repository sharing the Store sees the same sessions and events.
// Safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	data     map[string]*domain.Record
	watchers map[chan *domain.SessionEvent]struct{}
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		data:     make(map[string]*domain.Record),
		watchers: make(map[chan *domain.SessionEvent]struct{}),
	}
}

// Load retrieves a copy of the record, so callers can't mutate store state directly by pointer.
func (s *Store) Load(ctx context.Context, id string) (*domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.data[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return rec.Clone(), nil
}

// Insert stores a copy of rec and emits a created event.
func (s *Store) Insert(ctx context.Context, rec *domain.Record) error {
	s.mu.Lock()
	s.data[rec.ID] = rec.Clone()
	s.mu.Unlock()

	s.emit(domain.EventSessionCreated, rec.ID, rec.Clone())
	return nil
}

// Replace overwrites previousID with rec.
func (s *Store) Replace(ctx context.Context, previousID string, rec *domain.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, previousID)
	s.data[rec.ID] = rec.Clone()
	return nil
}

// Update applies delta under the store lock.
func (s *Store) Update(ctx context.Context, id string, delta *domain.Delta) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.data[id]
	if !ok {
		return false, nil
	}
	delta.Apply(rec)
	return true, nil
}

// Delete removes the session and emits a deleted event when it existed.
func (s *Store) Delete(ctx context.Context, id string) (*domain.Record, error) {
	s.mu.Lock()
	rec, ok := s.data[id]
	delete(s.data, id)
	s.mu.Unlock()

	if !ok {
		return nil, nil
	}
	s.emit(domain.EventSessionDeleted, id, rec.Clone())
	return rec, nil
}

// FindByPrincipal scans all sessions; the embedded store keeps no secondary index.
func (s *Store) FindByPrincipal(ctx context.Context, principal string) ([]*domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Record
	for _, rec := range s.data {
		if principal != "" && rec.PrincipalName() == principal {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

// List returns active sessions in lexical order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]string, 0, len(s.data))
	for id := range s.data {
		sessions = append(sessions, id)
	}
	sort.Strings(sessions)
	return sessions, nil
}

// Sweep removes sessions expired at now.
func (s *Store) Sweep(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	var expired []*domain.Record
	for id, rec := range s.data {
		if rec.IsExpired(now) {
			expired = append(expired, rec)
			delete(s.data, id)
		}
	}
	s.mu.Unlock()

	for _, rec := range expired {
		s.emit(domain.EventSessionExpired, rec.ID, rec)
	}
	return len(expired), nil
}

// Watch registers a watcher until ctx is done.
// A watcher that falls DefaultWatchBuffer events behind loses the newest events.
func (s *Store) Watch(ctx context.Context) (<-chan *domain.SessionEvent, error) {
	ch := make(chan *domain.SessionEvent, DefaultWatchBuffer)

	s.mu.Lock()
	s.watchers[ch] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.watchers, ch)
		close(ch)
		s.mu.Unlock()
	}()
	return ch, nil
}

// SupportsServerSideUpdates always reports true: Update runs under the store lock.
func (s *Store) SupportsServerSideUpdates(ctx context.Context) (bool, error) {
	return true, nil
}

func (s *Store) emit(t domain.EventType, id string, rec *domain.Record) {
	e := &domain.SessionEvent{
		Type:      t,
		SessionID: id,
		Timestamp: time.Now(),
		Record:    rec,
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for ch := range s.watchers {
		select {
		case ch <- e:
		default:
		}
	}
}
