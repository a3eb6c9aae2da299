// Package cli wires configuration into the stores, repository and servers used by the gridsession command.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sessionhttp "github.com/aretw0/gridsession/pkg/adapters/http"
	"github.com/aretw0/gridsession/pkg/adapters/memory"
	"github.com/aretw0/gridsession/pkg/adapters/redis"
	"github.com/aretw0/gridsession/pkg/codec"
	"github.com/aretw0/gridsession/pkg/config"
	"github.com/aretw0/gridsession/pkg/observability"
	"github.com/aretw0/gridsession/pkg/persistence/middleware"
	"github.com/aretw0/gridsession/pkg/ports"
	"github.com/aretw0/gridsession/pkg/session"
	"github.com/prometheus/client_golang/prometheus"
	backend "github.com/redis/go-redis/v9"
)

// App holds everything built from a Config.
type App struct {
	Config     *config.Config
	Logger     *slog.Logger
	Client     backend.UniversalClient // nil for the memory store
	Store      ports.SessionStore
	Repository *session.Repository
	Metrics    *observability.Metrics
	Registry   *prometheus.Registry
	Streams    *sessionhttp.StreamManager
}

// AppOption customizes NewApp.
type AppOption func(*appOptions)

type appOptions struct {
	client backend.UniversalClient
}

// WithClient uses an existing Redis client instead of dialing cfg.Redis.Address.
// The App does not close it.
func WithClient(client backend.UniversalClient) AppOption {
	return func(o *appOptions) {
		o.client = client
	}
}

// NewApp builds the store, repository and observability stack described by cfg.
// The repository is not started.
func NewApp(cfg *config.Config, logger *slog.Logger, opts ...AppOption) (*App, error) {
	var o appOptions
	for _, opt := range opts {
		opt(&o)
	}

	app := &App{
		Config:   cfg,
		Logger:   logger,
		Registry: prometheus.NewRegistry(),
		Streams:  sessionhttp.NewStreamManager(logger),
	}
	app.Metrics = observability.NewMetrics(app.Registry)

	var locker ports.DistributedLocker
	switch cfg.Session.Store {
	case "memory":
		app.Store = memory.NewStore()
	case "redis":
		client := o.client
		if client == nil {
			client = backend.NewClient(&backend.Options{
				Addr:     cfg.Redis.Address,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			app.Client = client
		}
		store, err := redis.NewFromClient(client,
			redis.WithMapName(cfg.Redis.MapName),
			redis.WithSweepGrace(cfg.Redis.SweepGrace),
			redis.WithSweepBatch(cfg.Redis.SweepBatch),
			redis.WithLogger(logger),
		)
		if err != nil {
			_ = app.closeClient()
			return nil, fmt.Errorf("failed to create redis store: %w", err)
		}
		app.Store = store
		if cfg.Session.DistributedLock {
			locker = store.Locker()
		}
	default:
		return nil, fmt.Errorf("unknown session store %q", cfg.Session.Store)
	}

	c, err := attributeCodec(cfg.Encryption)
	if err != nil {
		_ = app.closeClient()
		return nil, err
	}

	repoOpts := []session.Option{
		session.WithDefaultMaxInactiveInterval(cfg.Session.MaxInactiveInterval),
		session.WithFlushMode(cfg.Session.FlushMode),
		session.WithSaveMode(cfg.Session.SaveMode),
		session.WithServerSideUpdates(cfg.Session.ServerSideUpdates),
		session.WithLockTTL(cfg.Session.LockTTL),
		session.WithSweepInterval(cfg.Session.SweepInterval),
		session.WithCodec(c),
		session.WithLogger(logger),
		session.WithSaveObserver(app.Metrics),
		session.WithEventPublisher(observability.Fanout{
			observability.LoggingPublisher{Logger: logger, Level: slog.LevelDebug},
			app.Metrics,
			app.Streams,
		}),
	}
	if locker != nil {
		repoOpts = append(repoOpts, session.WithLocker(locker))
	}

	app.Repository, err = session.NewRepository(app.Store, repoOpts...)
	if err != nil {
		_ = app.closeClient()
		return nil, fmt.Errorf("failed to create repository: %w", err)
	}
	return app, nil
}

// attributeCodec returns the JSON codec, encrypted when keys are configured.
func attributeCodec(cfg config.EncryptionConfig) (codec.Codec, error) {
	keys, err := cfg.Keys()
	if err != nil {
		return nil, err
	}
	if keys == nil {
		return codec.JSON, nil
	}
	return middleware.Chain(codec.JSON, middleware.NewEncryptionMiddleware(*keys)), nil
}

// Ping checks that the store is reachable.
func (a *App) Ping(ctx context.Context) error {
	if rs, ok := a.Store.(*redis.Store); ok {
		return rs.Client().Ping(ctx).Err()
	}
	return nil
}

// Capabilities reports whether the store accepts server-side updates.
func (a *App) Capabilities(ctx context.Context) (bool, error) {
	prober, ok := a.Store.(ports.CapabilityProber)
	if !ok {
		return false, nil
	}
	return prober.SupportsServerSideUpdates(ctx)
}

// Close stops the repository and releases the Redis client the App created.
func (a *App) Close() error {
	var errs []error
	if a.Repository != nil {
		errs = append(errs, a.Repository.Close())
	}
	errs = append(errs, a.closeClient())
	return errors.Join(errs...)
}

func (a *App) closeClient() error {
	if a.Client == nil {
		return nil
	}
	err := a.Client.Close()
	a.Client = nil
	return err
}

// pingTimeout bounds the connectivity checks of short-lived commands.
const pingTimeout = 5 * time.Second

// Connect builds the App and verifies the store answers, for commands that
// talk to an existing deployment.
func Connect(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...AppOption) (*App, error) {
	app, err := NewApp(cfg, logger, opts...)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := app.Ping(pingCtx); err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("store %s unreachable: %w", cfg.Redis.Address, err)
	}
	return app, nil
}
