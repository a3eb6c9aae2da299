package ports

import (
	"context"
	"time"

	"github.com/aretw0/gridsession/pkg/domain"
)

// EventPublisher receives session events. Publish must not block for long:
// it runs on the goroutine draining the store's event stream.
type EventPublisher interface {
	Publish(ctx context.Context, e *domain.SessionEvent)
}

// SaveObserver is notified after every write the repository performs.
type SaveObserver interface {
	ObserveSave(path string, elapsed time.Duration, err error)
}

// AttributeReader exposes decoded session attributes to index resolvers.
type AttributeReader interface {
	Attribute(name string) (any, error)
}

// IndexResolver derives index values (such as the principal name) from a session.
type IndexResolver interface {
	ResolveIndexes(session AttributeReader) map[string]string
}

// IDGenerator produces session identifiers. They must be unguessable.
type IDGenerator interface {
	Generate() string
}
