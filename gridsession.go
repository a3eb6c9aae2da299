package gridsession

import (
	"fmt"

	"github.com/aretw0/gridsession/pkg/adapters/redis"
	"github.com/aretw0/gridsession/pkg/session"
	backend "github.com/redis/go-redis/v9"
)

// Option defines a functional option for New.
type Option func(*builder)

type builder struct {
	storeOpts       []redis.Option
	repoOpts        []session.Option
	distributedLock bool
}

// WithStoreOptions configures the Redis store (map name, sweep grace, logger).
func WithStoreOptions(opts ...redis.Option) Option {
	return func(b *builder) {
		b.storeOpts = append(b.storeOpts, opts...)
	}
}

// WithRepositoryOptions configures the repository (modes, interval, publisher).
func WithRepositoryOptions(opts ...session.Option) Option {
	return func(b *builder) {
		b.repoOpts = append(b.repoOpts, opts...)
	}
}

// WithoutDistributedLock keeps fallback updates serialized only within this process.
// Use it when a single replica talks to the store.
func WithoutDistributedLock() Option {
	return func(b *builder) {
		b.distributedLock = false
	}
}

// New wires a session Repository on top of a Redis client.
//
// By default the repository locks fallback updates with a Redis lock under the
// same map name, so replicas sharing the map never interleave a load and replace.
// The caller still owns Start and Close of the returned repository, and the client.
func New(client backend.UniversalClient, opts ...Option) (*session.Repository, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	b := &builder{distributedLock: true}
	for _, opt := range opts {
		opt(b)
	}

	store, err := redis.NewFromClient(client, b.storeOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	var repoOpts []session.Option
	if b.distributedLock {
		repoOpts = append(repoOpts, session.WithLocker(store.Locker()))
	}
	// User options come last so they can replace the locker.
	repoOpts = append(repoOpts, b.repoOpts...)

	return session.NewRepository(store, repoOpts...)
}
