package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aretw0/gridsession/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

// Sweep expires due sessions and publishes an expired event for each.
// Removal happens inside expireScript, so concurrent sweepers on other replicas
// never report the same session twice.
func (s *Store) Sweep(ctx context.Context, now time.Time) (int, error) {
	upTo := strconv.FormatInt(now.UnixMilli(), 10)
	swept := 0
	for {
		ids, err := s.client.ZRangeByScore(ctx, s.expirationsKey(), &backend.ZRangeBy{
			Min:   "-inf",
			Max:   upTo,
			Count: s.sweepBatch,
		}).Result()
		if err != nil {
			return swept, fmt.Errorf("failed to read expirations: %w", err)
		}

		for _, id := range ids {
			rec, err := s.expireOne(ctx, id, now)
			if err != nil {
				return swept, err
			}
			if rec == nil {
				continue
			}
			swept++
			s.publish(ctx, domain.EventSessionExpired, id, rec)
		}

		if int64(len(ids)) < s.sweepBatch {
			return swept, nil
		}
	}
}

// expireOne removes id if it is expired at now and returns the removed record.
func (s *Store) expireOne(ctx context.Context, id string, now time.Time) (*domain.Record, error) {
	keys := []string{s.key(id), s.expirationsKey()}
	res, err := expireScript.Run(ctx, s.client, keys, id, now.UnixMilli(), s.principalPrefix()).StringSlice()
	if errors.Is(err, backend.Nil) {
		return nil, nil
	}
	if scriptingUnavailable(err) {
		return s.expireOneWithoutScript(ctx, id, now)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to expire session %s: %w", id, err)
	}

	fields := make(map[string]string, len(res)/2)
	for i := 0; i+1 < len(res); i += 2 {
		fields[res[i]] = res[i+1]
	}
	rec, err := decodeRecord(fields)
	if err != nil {
		s.logger.Warn("Expired session could not be decoded", "session_id", id, "err", err)
		return domain.NewRecord(id, now), nil
	}
	return rec, nil
}

// expireOneWithoutScript claims id by removing it from the expirations set;
// only the sweeper whose ZREM succeeds goes on to delete the session.
func (s *Store) expireOneWithoutScript(ctx context.Context, id string, now time.Time) (*domain.Record, error) {
	claimed, err := s.client.ZRem(ctx, s.expirationsKey(), id).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to claim expired session %s: %w", id, err)
	}
	if claimed == 0 {
		return nil, nil
	}

	rec, err := s.Load(ctx, id)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !rec.IsExpired(now) {
		at, _ := rec.ExpiresAt()
		err := s.client.ZAdd(ctx, s.expirationsKey(), backend.Z{Score: float64(at.UnixMilli()), Member: id}).Err()
		return nil, err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
		pipe.Del(ctx, s.key(id))
		if p := rec.PrincipalName(); p != "" {
			pipe.ZRem(ctx, s.principalKey(p), id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to delete expired session %s: %w", id, err)
	}
	return rec, nil
}
