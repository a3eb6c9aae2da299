package ports

import (
	"context"
	"time"

	"github.com/aretw0/gridsession/pkg/domain"
)

// SessionStore defines how session records are persisted.
type SessionStore interface {
	// Load retrieves the record for a session ID.
	// Returns domain.ErrSessionNotFound if the session does not exist.
	// Expired records that the store has not reclaimed yet may still be returned.
	Load(ctx context.Context, id string) (*domain.Record, error)

	// Insert writes a new session. Stores emitting events report it as created.
	Insert(ctx context.Context, rec *domain.Record) error

	// Replace overwrites the session stored under previousID with rec.
	// When the IDs differ the old entry is removed. No created event is emitted.
	Replace(ctx context.Context, previousID string, rec *domain.Record) error

	// Update applies delta atomically to the stored session.
	// It returns false if the session no longer exists, and
	// domain.ErrServerSideUpdateUnsupported if the store cannot run the update itself.
	Update(ctx context.Context, id string, delta *domain.Delta) (bool, error)

	// Delete removes a session and returns the removed record, or nil if there was none.
	Delete(ctx context.Context, id string) (*domain.Record, error)

	// FindByPrincipal returns the sessions indexed under a principal name.
	FindByPrincipal(ctx context.Context, principal string) ([]*domain.Record, error)

	// List returns the IDs of the sessions currently stored.
	List(ctx context.Context) ([]string, error)
}

// EventSource is implemented by stores that report lifecycle events.
type EventSource interface {
	// Watch returns a channel of events that is closed when ctx is done.
	// Events raised by any replica sharing the store are delivered.
	Watch(ctx context.Context) (<-chan *domain.SessionEvent, error)
}

// Sweeper is implemented by stores that expire sessions on request.
type Sweeper interface {
	// Sweep removes sessions expired at now, emits an expired event for each and
	// returns how many were removed. Concurrent sweeps never report the same session twice.
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// CapabilityProber is implemented by stores whose Update support depends on the server.
type CapabilityProber interface {
	SupportsServerSideUpdates(ctx context.Context) (bool, error)
}
