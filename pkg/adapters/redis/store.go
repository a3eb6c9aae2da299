package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/aretw0/gridsession/internal/logging"
	"github.com/aretw0/gridsession/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

const (
	// DefaultSweepGrace keeps an expired session readable long enough for the
	// sweeper to publish it with its expired event.
	DefaultSweepGrace = 5 * time.Minute

	// DefaultSweepBatch bounds how many due sessions one sweep round examines.
	DefaultSweepBatch = 500
)

// Store implements ports.SessionStore using Redis.
//
// Keys live under the map name N:
//
//	N:session:<id>        hash holding the session
//	N:expirations         zset of session IDs scored by expiry (unix ms)
//	N:principal:<name>    zset of session IDs indexed by principal, scored by expiry
//	N:lock:<id>           fallback update lock
//	N:events              Pub/Sub channel carrying session events
//
// All keys of a map must live on the same node; Redis Cluster is not supported.
type Store struct {
	client     backend.UniversalClient
	mapName    string
	sweepGrace time.Duration
	sweepBatch int64
	logger     *slog.Logger
}

type Option func(*Store)

// WithMapName sets the namespace sessions are stored under.
func WithMapName(name string) Option {
	return func(s *Store) {
		s.mapName = name
	}
}

// WithSweepGrace sets how long expired sessions outlive their expiry in Redis.
// Sessions not swept within the grace period are reclaimed by Redis without an event.
func WithSweepGrace(grace time.Duration) Option {
	return func(s *Store) {
		s.sweepGrace = grace
	}
}

// WithSweepBatch sets how many due sessions a sweep round reads at once.
func WithSweepBatch(n int) Option {
	return func(s *Store) {
		s.sweepBatch = int64(n)
	}
}

// WithLogger configures a logger for background failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a new Redis store with options.
func New(address, password string, db int, opts ...Option) (*Store, error) {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a new Redis store from an existing client.
func NewFromClient(client backend.UniversalClient, opts ...Option) (*Store, error) {
	store := &Store{
		client:     client,
		mapName:    domain.DefaultMapName,
		sweepGrace: DefaultSweepGrace,
		sweepBatch: DefaultSweepBatch,
		logger:     logging.NewNop(),
	}

	for _, opt := range opts {
		opt(store)
	}

	if strings.TrimSpace(store.mapName) == "" {
		return nil, errors.New("map name must not be empty")
	}
	if store.sweepGrace < 0 {
		return nil, errors.New("sweep grace must not be negative")
	}
	if store.sweepBatch <= 0 {
		return nil, errors.New("sweep batch must be positive")
	}
	return store, nil
}

// Client returns the underlying Redis client.
func (s *Store) Client() backend.UniversalClient {
	return s.client
}

// MapName returns the namespace of the store.
func (s *Store) MapName() string {
	return s.mapName
}

// Locker returns a distributed locker sharing the store's namespace.
func (s *Store) Locker() *Locker {
	return NewLocker(s.client, s.mapName+":")
}

func (s *Store) key(id string) string {
	return s.mapName + ":session:" + id
}

func (s *Store) expirationsKey() string {
	return s.mapName + ":expirations"
}

func (s *Store) principalPrefix() string {
	return s.mapName + ":principal:"
}

func (s *Store) principalKey(name string) string {
	return s.principalPrefix() + name
}

func (s *Store) eventsChannel() string {
	return s.mapName + ":events"
}

// Load retrieves the session from Redis.
func (s *Store) Load(ctx context.Context, id string) (*domain.Record, error) {
	fields, err := s.client.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}
	if len(fields) == 0 {
		return nil, domain.ErrSessionNotFound
	}

	rec, err := decodeRecord(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", id, err)
	}
	return rec, nil
}

// Insert writes a new session and publishes a created event.
func (s *Store) Insert(ctx context.Context, rec *domain.Record) error {
	payload, err := encodeEvent(domain.EventSessionCreated, rec.ID, rec)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
		pipe.Del(ctx, s.key(rec.ID))
		s.writeRecord(ctx, pipe, rec)
		pipe.Publish(ctx, s.eventsChannel(), payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save to redis: %w", err)
	}
	return nil
}

// Replace removes previousID and writes rec in one transaction.
func (s *Store) Replace(ctx context.Context, previousID string, rec *domain.Record) error {
	oldPrincipal, err := s.client.HGet(ctx, s.key(previousID), fieldPrincipalName).Result()
	if err != nil && !errors.Is(err, backend.Nil) {
		return fmt.Errorf("failed to read session %s: %w", previousID, err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
		pipe.Del(ctx, s.key(previousID))
		pipe.ZRem(ctx, s.expirationsKey(), previousID)
		if oldPrincipal != "" {
			pipe.ZRem(ctx, s.principalKey(oldPrincipal), previousID)
		}
		if previousID != rec.ID {
			pipe.Del(ctx, s.key(rec.ID))
		}
		s.writeRecord(ctx, pipe, rec)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to replace session in redis: %w", err)
	}
	return nil
}

// writeRecord queues the commands storing rec with its expiry bookkeeping.
// The caller must have removed any previous hash under the same key.
func (s *Store) writeRecord(ctx context.Context, pipe backend.Pipeliner, rec *domain.Record) {
	key := s.key(rec.ID)
	pipe.HSet(ctx, key, encodeRecord(rec))

	principal := rec.PrincipalName()
	expiresAt, expires := rec.ExpiresAt()
	if !expires {
		pipe.ZRem(ctx, s.expirationsKey(), rec.ID)
		if principal != "" {
			pipe.ZAdd(ctx, s.principalKey(principal), backend.Z{Score: inf, Member: rec.ID})
		}
		return
	}

	score := float64(expiresAt.UnixMilli())
	pipe.PExpire(ctx, key, s.keyTTL(expiresAt))
	pipe.ZAdd(ctx, s.expirationsKey(), backend.Z{Score: score, Member: rec.ID})
	if principal != "" {
		pipe.ZAdd(ctx, s.principalKey(principal), backend.Z{Score: score, Member: rec.ID})
	}
}

// keyTTL is the Redis lifetime of a session expiring at expiresAt.
func (s *Store) keyTTL(expiresAt time.Time) time.Duration {
	ttl := time.Until(expiresAt) + s.sweepGrace
	if ttl < time.Millisecond {
		return time.Millisecond
	}
	return ttl
}

// Update runs updateScript. It returns domain.ErrServerSideUpdateUnsupported
// when the server does not allow scripting.
func (s *Store) Update(ctx context.Context, id string, delta *domain.Delta) (bool, error) {
	args := []any{
		id,
		time.Now().UnixMilli(),
		s.sweepGrace.Milliseconds(),
		s.principalPrefix(),
	}
	args = append(args, deltaArgs(delta)...)

	applied, err := updateScript.Run(ctx, s.client, []string{s.key(id), s.expirationsKey()}, args...).Int()
	if err != nil {
		return false, fmt.Errorf("failed to update session %s: %w", id, wrapScriptError(err))
	}
	return applied == 1, nil
}

// Delete removes the session. The deleted event is published only by the caller
// that actually removed the hash.
func (s *Store) Delete(ctx context.Context, id string) (*domain.Record, error) {
	rec, err := s.Load(ctx, id)
	if errors.Is(err, domain.ErrSessionNotFound) {
		rec = nil
	} else if err != nil {
		return nil, err
	}

	var del *backend.IntCmd
	_, err = s.client.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
		del = pipe.Del(ctx, s.key(id))
		pipe.ZRem(ctx, s.expirationsKey(), id)
		if rec != nil && rec.PrincipalName() != "" {
			pipe.ZRem(ctx, s.principalKey(rec.PrincipalName()), id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	if rec == nil || del.Val() == 0 {
		return nil, nil
	}

	s.publish(ctx, domain.EventSessionDeleted, id, rec)
	return rec, nil
}

// FindByPrincipal reads the principal index, lazily dropping stale entries.
func (s *Store) FindByPrincipal(ctx context.Context, principal string) ([]*domain.Record, error) {
	if principal == "" {
		return nil, nil
	}
	idx := s.principalKey(principal)

	// Lazy Cleanup: Remove expired sessions from the index.
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	if err := s.client.ZRemRangeByScore(ctx, idx, "-inf", "("+now).Err(); err != nil {
		return nil, fmt.Errorf("failed to prune principal index: %w", err)
	}

	ids, err := s.client.ZRange(ctx, idx, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read principal index: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*backend.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to load sessions for principal: %w", err)
	}

	var out []*domain.Record
	var stale []any
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 || fields[fieldPrincipalName] != principal {
			stale = append(stale, ids[i])
			continue
		}
		rec, err := decodeRecord(fields)
		if err != nil {
			s.logger.Warn("Skipping undecodable session", "session_id", ids[i], "err", err)
			continue
		}
		out = append(out, rec)
	}
	if len(stale) > 0 {
		if err := s.client.ZRem(ctx, idx, stale...).Err(); err != nil {
			s.logger.Warn("Failed to prune principal index", "principal", principal, "err", err)
		}
	}
	return out, nil
}

// List returns the IDs of stored sessions by scanning the keyspace.
func (s *Store) List(ctx context.Context) ([]string, error) {
	prefix := s.key("")
	var ids []string
	iter := s.client.Scan(ctx, 0, escapeGlob(prefix)+"*", 200).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, strings.TrimPrefix(iter.Val(), prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return ids, nil
}

// SupportsServerSideUpdates reports whether the server accepts the update script.
func (s *Store) SupportsServerSideUpdates(ctx context.Context) (bool, error) {
	err := updateScript.Load(ctx, s.client).Err()
	if err == nil {
		return true, nil
	}
	if scriptingUnavailable(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to probe scripting support: %w", err)
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}

var inf = math.Inf(1)

func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
