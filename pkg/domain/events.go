package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventSessionCreated EventType = "created"
	EventSessionDeleted EventType = "deleted"
	EventSessionExpired EventType = "expired"
)

// SessionEvent reports a lifecycle change observed in the store.
// Record is a snapshot of the session; it may be nil when the store could not
// read the session before it disappeared.
type SessionEvent struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
	Record    *Record   `json:"-"`
}

// LifecycleHooks defines callbacks for session lifecycle events.
// Nil callbacks are skipped.
type LifecycleHooks struct {
	OnSessionCreated func(context.Context, *SessionEvent)
	OnSessionDeleted func(context.Context, *SessionEvent)
	OnSessionExpired func(context.Context, *SessionEvent)
}

// Publish dispatches e to the matching callback.
func (h LifecycleHooks) Publish(ctx context.Context, e *SessionEvent) {
	var fn func(context.Context, *SessionEvent)
	switch e.Type {
	case EventSessionCreated:
		fn = h.OnSessionCreated
	case EventSessionDeleted:
		fn = h.OnSessionDeleted
	case EventSessionExpired:
		fn = h.OnSessionExpired
	}
	if fn != nil {
		fn(ctx, e)
	}
}
