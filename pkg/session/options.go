package session

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aretw0/gridsession/pkg/codec"
	"github.com/aretw0/gridsession/pkg/domain"
	"github.com/aretw0/gridsession/pkg/ports"
)

const (
	// DefaultLockTTL bounds how long a crashed replica can hold a session's update lock.
	DefaultLockTTL = 30 * time.Second

	// DefaultSweepInterval is how often a started repository sweeps expired sessions.
	DefaultSweepInterval = 30 * time.Second
)

// ServerSideUpdates selects how Save writes the changes of existing sessions.
type ServerSideUpdates int

const (
	// ServerSideAuto probes the store on Start.
	ServerSideAuto ServerSideUpdates = iota
	// ServerSideOn uses the store's atomic Update until the store reports it unsupported.
	ServerSideOn
	// ServerSideOff always loads, patches and replaces under lock.
	ServerSideOff
)

func (m ServerSideUpdates) String() string {
	switch m {
	case ServerSideOn:
		return "on"
	case ServerSideOff:
		return "off"
	default:
		return "auto"
	}
}

// ParseServerSideUpdates parses "auto", "on" or "off".
func ParseServerSideUpdates(s string) (ServerSideUpdates, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return ServerSideAuto, nil
	case "on", "true":
		return ServerSideOn, nil
	case "off", "false":
		return ServerSideOff, nil
	}
	return ServerSideAuto, fmt.Errorf("%w: server-side updates %q", domain.ErrInvalidMode, s)
}

// Option configures the Repository.
type Option func(*Repository)

// WithEventPublisher receives the store's lifecycle events once the repository is started.
func WithEventPublisher(p ports.EventPublisher) Option {
	return func(r *Repository) {
		r.publisher = p
	}
}

// WithDefaultMaxInactiveInterval sets the timeout of new sessions.
// A negative interval creates sessions that never expire.
func WithDefaultMaxInactiveInterval(d time.Duration) Option {
	return func(r *Repository) {
		r.defaultInterval = d
	}
}

// WithIndexResolver sets how the principal is derived when the security context changes.
func WithIndexResolver(resolver ports.IndexResolver) Option {
	return func(r *Repository) {
		r.indexResolver = resolver
	}
}

// WithFlushMode sets when session changes are written.
func WithFlushMode(mode domain.FlushMode) Option {
	return func(r *Repository) {
		r.flushMode = mode
	}
}

// WithSaveMode sets which attributes Save writes.
func WithSaveMode(mode domain.SaveMode) Option {
	return func(r *Repository) {
		r.saveMode = mode
	}
}

// WithServerSideUpdates sets the update strategy.
func WithServerSideUpdates(mode ServerSideUpdates) Option {
	return func(r *Repository) {
		r.updates = mode
	}
}

// WithIDGenerator sets how session IDs are generated.
func WithIDGenerator(g ports.IDGenerator) Option {
	return func(r *Repository) {
		r.ids = g
	}
}

// WithCodec sets how attribute values are serialized.
func WithCodec(c codec.Codec) Option {
	return func(r *Repository) {
		r.codec = c
	}
}

// WithLocker enables distributed locking on the fallback update path.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(r *Repository) {
		r.locker = locker
	}
}

// WithLockTTL sets the lifetime of the distributed update lock.
func WithLockTTL(ttl time.Duration) Option {
	return func(r *Repository) {
		r.lockTTL = ttl
	}
}

// WithLogger configures a logger for the Repository.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Repository) {
		r.logger = logger
	}
}

// WithSweepInterval sets how often Start sweeps expired sessions. Zero disables sweeping.
func WithSweepInterval(d time.Duration) Option {
	return func(r *Repository) {
		r.sweepInterval = d
	}
}

// WithSaveObserver is told the write path, duration and outcome of every write.
func WithSaveObserver(o ports.SaveObserver) Option {
	return func(r *Repository) {
		r.observer = o
	}
}

func (m ServerSideUpdates) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *ServerSideUpdates) UnmarshalText(b []byte) error {
	v, err := ParseServerSideUpdates(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}
